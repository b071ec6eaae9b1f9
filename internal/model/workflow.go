package model

import (
	"encoding/json"
	"time"
)

type Trigger string

const (
	TriggerCallStarted        Trigger = "call_started"
	TriggerCallEnded          Trigger = "call_ended"
	TriggerInboundCallStarted Trigger = "inbound_call_started"
	TriggerInboundCallEnded   Trigger = "inbound_call_ended"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerCallStarted, TriggerCallEnded, TriggerInboundCallStarted, TriggerInboundCallEnded:
		return true
	}
	return false
}

// Condition is a single field/operator/value predicate. A workflow's conditions AND-combine.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ActionSpec is one configured action: a type tag plus its type-specific config.
type ActionSpec struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

type Workflow struct {
	ID         int64        `json:"id"`
	AgencyID   int64        `json:"agency_id"`
	AgentID    *int64       `json:"agent_id,omitempty"`
	Name       string       `json:"name"`
	Trigger    Trigger      `json:"trigger"`
	Conditions []Condition  `json:"conditions"`
	Actions    []ActionSpec `json:"actions"`
	IsActive   bool         `json:"is_active"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
