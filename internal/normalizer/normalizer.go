// Package normalizer turns provider webhook payloads into model.CallEvent.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callrelay.app/relay/common"
	"callrelay.app/relay/internal/model"
)

// ErrUnsupportedEvent marks a well-formed delivery whose event kind the pipeline does not consume.
// Receivers acknowledge and drop it.
var ErrUnsupportedEvent = errors.New("unsupported event")

// ErrMalformed marks a payload that could not be decoded or lacks a call id.
var ErrMalformed = errors.New("malformed payload")

// CallNormalizer maps one provider's raw webhook body to a CallEvent.
type CallNormalizer interface {
	Provider() model.Provider
	Normalize(ctx context.Context, raw []byte) (*model.CallEvent, error)
}

// Options tune normalization shared by every provider.
type Options struct {
	TranscriptCap int
}

func (o Options) cap() int {
	if o.TranscriptCap <= 0 {
		return model.DefaultTranscriptCap
	}
	return o.TranscriptCap
}

// Registry resolves a normalizer by provider.
type Registry struct {
	byProvider map[model.Provider]CallNormalizer
}

func NewRegistry(normalizers ...CallNormalizer) *Registry {
	r := &Registry{byProvider: make(map[model.Provider]CallNormalizer, len(normalizers))}
	for _, n := range normalizers {
		r.byProvider[n.Provider()] = n
	}
	return r
}

// Default returns a registry with the Retell and Vapi normalizers.
func Default(opts Options) *Registry {
	return NewRegistry(NewRetell(opts), NewVapi(opts))
}

func (r *Registry) Get(provider model.Provider) (CallNormalizer, error) {
	n, ok := r.byProvider[provider]
	if !ok {
		return nil, fmt.Errorf("no normalizer for provider %q", provider)
	}
	return n, nil
}

func malformed(provider model.Provider, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, ErrMalformed, err)
}

func phonePtr(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	p := common.PhoneOrRaw(raw)
	return &p
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func capped(s string, limit int) *string {
	if s == "" {
		return nil
	}
	c := model.CapTranscript(s, limit)
	return &c
}

// inferDirection applies the default for unlabeled calls: a call with a
// known callee is an outbound dial.
func inferDirection(explicit model.Direction, to *string) *model.Direction {
	if explicit != "" {
		return &explicit
	}
	if to != nil {
		d := model.DirectionOutbound
		return &d
	}
	return nil
}

func durationBetween(start, end *time.Time) *int {
	if start == nil || end == nil || end.Before(*start) {
		return nil
	}
	secs := int(end.Sub(*start).Round(time.Second) / time.Second)
	return &secs
}

func statusPtr(s model.CallStatus) *model.CallStatus {
	return &s
}
