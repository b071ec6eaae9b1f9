package dto

import (
	"time"

	"callrelay.app/relay/internal/model"
)

type CreateWorkflowRequest struct {
	AgencyID   int64              `json:"agency_id" binding:"required"`
	AgentID    *int64             `json:"agent_id,omitempty"`
	Name       string             `json:"name" binding:"required"`
	Trigger    string             `json:"trigger" binding:"required"`
	Conditions []model.Condition  `json:"conditions"`
	Actions    []model.ActionSpec `json:"actions"`
	IsActive   *bool              `json:"is_active,omitempty"`
}

type WorkflowResponse struct {
	ID         int64              `json:"id"`
	AgencyID   int64              `json:"agency_id"`
	AgentID    *int64             `json:"agent_id,omitempty"`
	Name       string             `json:"name"`
	Trigger    string             `json:"trigger"`
	Conditions []model.Condition  `json:"conditions"`
	Actions    []model.ActionSpec `json:"actions"`
	IsActive   bool               `json:"is_active"`
	CreatedAt  time.Time          `json:"created_at"`
}

type ValidationErrorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems"`
}

type ExecutionLogResponse struct {
	ID               int64                `json:"id"`
	WorkflowID       int64                `json:"workflow_id"`
	Trigger          string               `json:"trigger"`
	Status           string               `json:"status"`
	ActionsTotal     int                  `json:"actions_total"`
	ActionsSucceeded int                  `json:"actions_succeeded"`
	ActionsFailed    int                  `json:"actions_failed"`
	ActionResults    []model.ActionResult `json:"action_results"`
	ErrorSummary     *string              `json:"error_summary,omitempty"`
	StartedAt        time.Time            `json:"started_at"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
}

type ActionTypesResponse struct {
	Types []string `json:"types"`
}
