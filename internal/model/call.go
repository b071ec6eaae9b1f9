package model

import "time"

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DefaultTranscriptCap is the maximum stored transcript length in characters.
const DefaultTranscriptCap = 500000

type Call struct {
	ID              int64          `json:"id"`
	ExternalID      string         `json:"external_id"`
	Provider        Provider       `json:"provider"`
	AgencyID        *int64         `json:"agency_id,omitempty"`
	AgentID         *int64         `json:"agent_id,omitempty"`
	ClientID        *int64         `json:"client_id,omitempty"`
	Status          CallStatus     `json:"status"`
	Direction       Direction      `json:"direction,omitempty"`
	FromNumber      string         `json:"from_number,omitempty"`
	ToNumber        string         `json:"to_number,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	CostCents       *int           `json:"cost_cents,omitempty"`
	Transcript      string         `json:"transcript"`
	RecordingURL    *string        `json:"recording_url,omitempty"`
	Summary         *string        `json:"summary,omitempty"`
	Sentiment       *string        `json:"sentiment,omitempty"`
	CallScore       *int           `json:"call_score,omitempty"`
	ExperimentID    *int64         `json:"experiment_id,omitempty"`
	VariantID       *int64         `json:"variant_id,omitempty"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ContactNumber is the number of the party on the other end of the agent:
// the caller for inbound calls, the callee for outbound calls.
func (c *Call) ContactNumber() string {
	if c.Direction == DirectionInbound {
		return c.FromNumber
	}
	return c.ToNumber
}

// CallFields is a partial Call produced by a normalizer. Nil fields are left untouched on upsert.
type CallFields struct {
	Status          *CallStatus
	Direction       *Direction
	FromNumber      *string
	ToNumber        *string
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	CostCents       *int
	Transcript      *string
	RecordingURL    *string
	Summary         *string
	Sentiment       *string
	CallScore       *int
	ExperimentID    *int64
	VariantID       *int64
	Metadata        map[string]any
}

// CapTranscript truncates s to at most limit characters (runes).
func CapTranscript(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultTranscriptCap
	}
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
