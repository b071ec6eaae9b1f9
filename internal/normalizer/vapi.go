package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"callrelay.app/relay/internal/model"
)

type vapiEnvelope struct {
	Message vapiMessage `json:"message"`
}

type vapiMessage struct {
	Type            string         `json:"type"`
	Status          string         `json:"status"`
	EndedReason     string         `json:"endedReason"`
	Call            vapiCall       `json:"call"`
	Assistant       *vapiAssistant `json:"assistant"`
	Transcript      string         `json:"transcript"`
	TranscriptType  string         `json:"transcriptType"`
	Role            string         `json:"role"`
	RecordingURL    string         `json:"recordingUrl"`
	Summary         string         `json:"summary"`
	Analysis        *vapiAnalysis  `json:"analysis"`
	Artifact        *vapiArtifact  `json:"artifact"`
	Cost            *float64       `json:"cost"`
	DurationSeconds *float64       `json:"durationSeconds"`
	StartedAt       *time.Time     `json:"startedAt"`
	EndedAt         *time.Time     `json:"endedAt"`
}

type vapiCall struct {
	ID          string         `json:"id"`
	AssistantID string         `json:"assistantId"`
	Type        string         `json:"type"`
	Customer    *vapiNumber    `json:"customer"`
	PhoneNumber *vapiNumber    `json:"phoneNumber"`
	StartedAt   *time.Time     `json:"startedAt"`
	EndedAt     *time.Time     `json:"endedAt"`
	Metadata    map[string]any `json:"metadata"`
}

type vapiNumber struct {
	Number string `json:"number"`
}

type vapiAssistant struct {
	ID string `json:"id"`
}

type vapiAnalysis struct {
	Summary           string         `json:"summary"`
	SuccessEvaluation any            `json:"successEvaluation"`
	StructuredData    map[string]any `json:"structuredData"`
}

type vapiArtifact struct {
	Transcript   string `json:"transcript"`
	RecordingURL string `json:"recordingUrl"`
}

type Vapi struct {
	opts Options
}

func NewVapi(opts Options) *Vapi {
	return &Vapi{opts: opts}
}

func (n *Vapi) Provider() model.Provider {
	return model.ProviderVapi
}

func (n *Vapi) Normalize(ctx context.Context, raw []byte) (*model.CallEvent, error) {
	var env vapiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(model.ProviderVapi, err)
	}
	m := env.Message
	if m.Call.ID == "" {
		return nil, malformed(model.ProviderVapi, errors.New("missing message.call.id"))
	}

	event := &model.CallEvent{
		Provider:        model.ProviderVapi,
		ExternalID:      m.Call.ID,
		ExternalAgentID: m.Call.AssistantID,
	}
	if event.ExternalAgentID == "" && m.Assistant != nil {
		event.ExternalAgentID = m.Assistant.ID
	}

	switch m.Type {
	case "status-update":
		switch m.Status {
		case "in-progress":
			event.Kind = model.EventKindCallStarted
			event.Fields = n.baseFields(m)
			event.Fields.Status = statusPtr(model.CallStatusInProgress)
		case "ended":
			event.Kind = model.EventKindCallEnded
			event.Fields = n.baseFields(m)
			event.Fields.Status = statusPtr(endedStatus(m.EndedReason))
			if event.Fields.EndedAt == nil {
				now := time.Now().UTC()
				event.Fields.EndedAt = &now
			}
			event.Preliminary = true
		default:
			return nil, ErrUnsupportedEvent
		}
	case "end-of-call-report":
		event.Kind = model.EventKindCallEnded
		event.Fields = n.endFields(m)
	case "transcript":
		text := strings.TrimSpace(m.Transcript)
		if m.TranscriptType != "final" || text == "" {
			return nil, ErrUnsupportedEvent
		}
		event.Kind = model.EventKindTranscriptDelta
		event.TranscriptLine = speaker(m.Role) + ": " + text
	default:
		return nil, ErrUnsupportedEvent
	}
	return event, nil
}

func (n *Vapi) baseFields(m vapiMessage) model.CallFields {
	var customer, business string
	if m.Call.Customer != nil {
		customer = m.Call.Customer.Number
	}
	if m.Call.PhoneNumber != nil {
		business = m.Call.PhoneNumber.Number
	}

	var f model.CallFields
	direction := vapiDirection(m.Call.Type)
	if direction == model.DirectionInbound {
		f.FromNumber = phonePtr(customer)
		f.ToNumber = phonePtr(business)
	} else {
		f.FromNumber = phonePtr(business)
		f.ToNumber = phonePtr(customer)
	}
	f.Direction = inferDirection(direction, f.ToNumber)

	f.StartedAt = firstTime(m.StartedAt, m.Call.StartedAt)
	f.EndedAt = firstTime(m.EndedAt, m.Call.EndedAt)

	if len(m.Call.Metadata) > 0 {
		f.Metadata = map[string]any{}
		for k, v := range m.Call.Metadata {
			f.Metadata[k] = v
		}
		f.ExperimentID = metadataID(m.Call.Metadata, "experiment_id")
		f.VariantID = metadataID(m.Call.Metadata, "variant_id")
	}
	return f
}

func (n *Vapi) endFields(m vapiMessage) model.CallFields {
	f := n.baseFields(m)
	f.Status = statusPtr(endedStatus(m.EndedReason))

	if m.DurationSeconds != nil {
		secs := int(math.Round(*m.DurationSeconds))
		f.DurationSeconds = &secs
	} else {
		f.DurationSeconds = durationBetween(f.StartedAt, f.EndedAt)
	}
	if m.Cost != nil {
		f.CostCents = dollarsToCents(*m.Cost)
	}

	transcript := m.Transcript
	recording := m.RecordingURL
	if m.Artifact != nil {
		if transcript == "" {
			transcript = m.Artifact.Transcript
		}
		if recording == "" {
			recording = m.Artifact.RecordingURL
		}
	}
	f.Transcript = capped(transcript, n.opts.cap())
	f.RecordingURL = stringPtr(recording)

	summary := m.Summary
	if m.Analysis != nil && summary == "" {
		summary = m.Analysis.Summary
	}
	f.Summary = stringPtr(summary)

	if f.Transcript != nil {
		s := InferSentiment(*f.Transcript)
		f.Sentiment = &s
	}

	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	if m.EndedReason != "" {
		f.Metadata["ended_reason"] = m.EndedReason
	}
	if m.Analysis != nil {
		if m.Analysis.SuccessEvaluation != nil {
			f.Metadata["success_evaluation"] = m.Analysis.SuccessEvaluation
		}
		if len(m.Analysis.StructuredData) > 0 {
			f.Metadata["structured_data"] = m.Analysis.StructuredData
		}
	}
	return f
}

func vapiDirection(callType string) model.Direction {
	switch callType {
	case "inboundPhoneCall":
		return model.DirectionInbound
	case "outboundPhoneCall":
		return model.DirectionOutbound
	}
	return ""
}

// endedStatus maps Vapi's endedReason to a terminal status. Reasons are dash
// separated codes; anything reporting an error or failure is a failed call.
func endedStatus(reason string) model.CallStatus {
	r := strings.ToLower(reason)
	if strings.Contains(r, "error") || strings.Contains(r, "failed") {
		return model.CallStatusFailed
	}
	return model.CallStatusCompleted
}

// dollarsToCents rounds half away from zero.
func dollarsToCents(dollars float64) *int {
	cents := int(math.Round(dollars * 100))
	return &cents
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil && !t.IsZero() {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
