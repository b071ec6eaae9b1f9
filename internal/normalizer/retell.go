package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"callrelay.app/relay/internal/model"
)

type retellEnvelope struct {
	Event string     `json:"event"`
	Call  retellCall `json:"call"`
}

type retellCall struct {
	CallID              string              `json:"call_id"`
	AgentID             string              `json:"agent_id"`
	CallStatus          string              `json:"call_status"`
	Direction           string              `json:"direction"`
	FromNumber          string              `json:"from_number"`
	ToNumber            string              `json:"to_number"`
	StartTimestamp      *int64              `json:"start_timestamp"`
	EndTimestamp        *int64              `json:"end_timestamp"`
	Transcript          string              `json:"transcript"`
	TranscriptObject    []retellUtterance   `json:"transcript_object"`
	RecordingURL        string              `json:"recording_url"`
	DisconnectionReason string              `json:"disconnection_reason"`
	CallCost            *retellCost         `json:"call_cost"`
	CallAnalysis        *retellCallAnalysis `json:"call_analysis"`
	Metadata            map[string]any      `json:"metadata"`
	DynamicVariables    map[string]any      `json:"retell_llm_dynamic_variables"`
}

type retellUtterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type retellCost struct {
	// Already in cents.
	CombinedCost *float64 `json:"combined_cost"`
}

type retellCallAnalysis struct {
	CallSummary        string         `json:"call_summary"`
	UserSentiment      string         `json:"user_sentiment"`
	CallSuccessful     *bool          `json:"call_successful"`
	CustomAnalysisData map[string]any `json:"custom_analysis_data"`
}

type Retell struct {
	opts Options
}

func NewRetell(opts Options) *Retell {
	return &Retell{opts: opts}
}

func (n *Retell) Provider() model.Provider {
	return model.ProviderRetell
}

func (n *Retell) Normalize(ctx context.Context, raw []byte) (*model.CallEvent, error) {
	var env retellEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed(model.ProviderRetell, err)
	}
	if env.Call.CallID == "" {
		return nil, malformed(model.ProviderRetell, errors.New("missing call.call_id"))
	}

	c := env.Call
	event := &model.CallEvent{
		Provider:        model.ProviderRetell,
		ExternalID:      c.CallID,
		ExternalAgentID: c.AgentID,
	}

	switch env.Event {
	case "call_started":
		event.Kind = model.EventKindCallStarted
		event.Fields = n.baseFields(c)
		event.Fields.Status = statusPtr(model.CallStatusInProgress)
	case "call_ended", "call_analyzed":
		event.Kind = model.EventKindCallEnded
		event.Fields = n.endFields(c)
		// call_analysis only arrives with call_analyzed
		event.Preliminary = env.Event == "call_ended"
	case "transcript_updated":
		line := lastRetellLine(c)
		if line == "" {
			return nil, ErrUnsupportedEvent
		}
		event.Kind = model.EventKindTranscriptDelta
		event.TranscriptLine = line
	default:
		return nil, ErrUnsupportedEvent
	}
	return event, nil
}

func (n *Retell) baseFields(c retellCall) model.CallFields {
	f := model.CallFields{
		FromNumber: phonePtr(c.FromNumber),
		ToNumber:   phonePtr(c.ToNumber),
		StartedAt:  msTime(c.StartTimestamp),
	}
	f.Direction = inferDirection(retellDirection(c.Direction), f.ToNumber)

	metadata := map[string]any{}
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	if len(c.DynamicVariables) > 0 {
		metadata["dynamic_variables"] = c.DynamicVariables
	}
	if len(metadata) > 0 {
		f.Metadata = metadata
	}
	f.ExperimentID = metadataID(c.Metadata, "experiment_id")
	f.VariantID = metadataID(c.Metadata, "variant_id")
	return f
}

func (n *Retell) endFields(c retellCall) model.CallFields {
	f := n.baseFields(c)
	f.EndedAt = msTime(c.EndTimestamp)
	f.DurationSeconds = durationBetween(f.StartedAt, f.EndedAt)
	f.Transcript = capped(c.Transcript, n.opts.cap())
	f.RecordingURL = stringPtr(c.RecordingURL)

	status := model.CallStatusCompleted
	if c.CallStatus == "error" {
		status = model.CallStatusFailed
	}
	f.Status = &status

	if c.CallCost != nil && c.CallCost.CombinedCost != nil {
		cents := int(math.Round(*c.CallCost.CombinedCost))
		f.CostCents = &cents
	}

	if a := c.CallAnalysis; a != nil {
		f.Summary = stringPtr(a.CallSummary)
		if s := strings.ToLower(strings.TrimSpace(a.UserSentiment)); s != "" {
			f.Sentiment = &s
		}
		if f.Metadata == nil {
			f.Metadata = map[string]any{}
		}
		if a.CallSuccessful != nil {
			f.Metadata["call_successful"] = *a.CallSuccessful
		}
		if len(a.CustomAnalysisData) > 0 {
			f.Metadata["custom_analysis"] = a.CustomAnalysisData
		}
	}
	if c.DisconnectionReason != "" {
		if f.Metadata == nil {
			f.Metadata = map[string]any{}
		}
		f.Metadata["disconnection_reason"] = c.DisconnectionReason
	}
	return f
}

func retellDirection(d string) model.Direction {
	switch strings.ToLower(d) {
	case "inbound":
		return model.DirectionInbound
	case "outbound":
		return model.DirectionOutbound
	}
	return ""
}

func lastRetellLine(c retellCall) string {
	for i := len(c.TranscriptObject) - 1; i >= 0; i-- {
		u := c.TranscriptObject[i]
		if content := strings.TrimSpace(u.Content); content != "" {
			return speaker(u.Role) + ": " + content
		}
	}
	lines := strings.Split(strings.TrimSpace(c.Transcript), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func speaker(role string) string {
	switch strings.ToLower(role) {
	case "agent", "assistant", "bot":
		return "Agent"
	case "user", "customer":
		return "User"
	}
	if role == "" {
		return "Unknown"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

func msTime(ms *int64) *time.Time {
	if ms == nil || *ms <= 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

// metadataID reads an integer id that callers may have placed in call metadata
// as a JSON number or a numeric string.
func metadataID(metadata map[string]any, key string) *int64 {
	switch v := metadata[key].(type) {
	case float64:
		id := int64(v)
		return &id
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &id
		}
	}
	return nil
}
