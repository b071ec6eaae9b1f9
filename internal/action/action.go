// Package action executes the side effects configured on a workflow.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/model"
)

// Request is everything a handler may read while executing one action.
type Request struct {
	Spec        model.ActionSpec
	Call        *model.Call
	AgentName   string
	Credentials *credential.Set
	Vars        map[string]string
}

// NewRequest builds a request whose template variables are derived from call.
func NewRequest(spec model.ActionSpec, call *model.Call, agentName string, creds *credential.Set) Request {
	return Request{
		Spec:        spec,
		Call:        call,
		AgentName:   agentName,
		Credentials: creds,
		Vars:        Variables(call, agentName),
	}
}

// Render substitutes template variables in s.
func (r Request) Render(s string) string {
	return Render(s, r.Vars)
}

// ContactPhone is the number of the caller on inbound calls and of the callee on outbound calls.
func (r Request) ContactPhone() string {
	if r.Call == nil {
		return ""
	}
	return r.Call.ContactNumber()
}

// Credential resolves the integration for provider, mapping a missing
// integration to a terminal credential_missing error.
func (r Request) Credential(ctx context.Context, provider model.Provider) (*credential.Credential, error) {
	cred, err := r.Credentials.Get(ctx, provider)
	if err != nil {
		return nil, CredentialError(provider, err)
	}
	return cred, nil
}

// Result is the outcome of a single attempt.
type Result struct {
	Success bool
	Error   error
	Output  map[string]any
}

func OK(output map[string]any) Result {
	return Result{Success: true, Output: output}
}

func Fail(err error) Result {
	return Result{Error: err}
}

// Handler performs one action type. Execute must not panic and must report
// failures through Result rather than a Go error.
type Handler interface {
	Validate(config json.RawMessage) error
	Execute(ctx context.Context, req Request) Result
}

// ParseConfig decodes an action's config into its typed form.
func ParseConfig[T any](spec model.ActionSpec) (T, error) {
	var cfg T
	raw := spec.Config
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, ConfigError("parsing %s config: %v", spec.Type, err)
	}
	return cfg, nil
}

// validator is implemented by config types that check their own fields.
type validator interface {
	Validate() error
}

// decodeAndValidate is the common Validate implementation for handlers whose config type knows its own rules.
func decodeAndValidate[T any](actionType string, raw json.RawMessage) (T, error) {
	cfg, err := ParseConfig[T](model.ActionSpec{Type: actionType, Config: raw})
	if err != nil {
		return cfg, err
	}
	if v, ok := any(&cfg).(validator); ok {
		if err := v.Validate(); err != nil {
			return cfg, ConfigError("%s: %v", actionType, err)
		}
	}
	return cfg, nil
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%s is required", fields[i])
		}
	}
	return nil
}
