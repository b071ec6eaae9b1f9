package model

import "time"

type ExecutionStatus string

const (
	ExecutionStatusRunning        ExecutionStatus = "running"
	ExecutionStatusCompleted      ExecutionStatus = "completed"
	ExecutionStatusPartialFailure ExecutionStatus = "partial_failure"
	ExecutionStatusFailed         ExecutionStatus = "failed"
	ExecutionStatusSkipped        ExecutionStatus = "skipped"
)

type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailed  ActionStatus = "failed"
)

// ActionResult records one action attempt sequence inside an execution.
type ActionResult struct {
	ActionIndex int            `json:"action_index"`
	ActionType  string         `json:"action_type"`
	Status      ActionStatus   `json:"status"`
	Attempts    int            `json:"attempts"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMS  int64          `json:"duration_ms"`
	Error       *string        `json:"error,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
}

// WorkflowExecutionLog is the audit record of one workflow run for one triggering call.
type WorkflowExecutionLog struct {
	ID               int64           `json:"id"`
	WorkflowID       int64           `json:"workflow_id"`
	CallID           int64           `json:"call_id"`
	AgencyID         int64           `json:"agency_id"`
	Trigger          Trigger         `json:"trigger"`
	Status           ExecutionStatus `json:"status"`
	ActionsTotal     int             `json:"actions_total"`
	ActionsSucceeded int             `json:"actions_succeeded"`
	ActionsFailed    int             `json:"actions_failed"`
	ActionResults    []ActionResult  `json:"action_results"`
	ErrorSummary     *string         `json:"error_summary,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// FinalStatus derives the closing status from the action tallies.
// A run with no failures is completed, a run with no successes is failed.
func FinalStatus(succeeded, failed int) ExecutionStatus {
	switch {
	case failed == 0:
		return ExecutionStatusCompleted
	case succeeded == 0:
		return ExecutionStatusFailed
	default:
		return ExecutionStatusPartialFailure
	}
}
