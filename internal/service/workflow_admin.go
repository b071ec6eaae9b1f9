package service

import (
	"context"
	"fmt"
	"strings"

	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/store"
	"callrelay.app/relay/internal/workflow"
)

type CreateWorkflowParams struct {
	AgencyID   int64
	AgentID    *int64
	Name       string
	Trigger    model.Trigger
	Conditions []model.Condition
	Actions    []model.ActionSpec
	IsActive   bool
}

// ValidationError lists every problem found in a workflow definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow: " + strings.Join(e.Problems, "; ")
}

type WorkflowService interface {
	Validate(params CreateWorkflowParams) error
	Create(ctx context.Context, params CreateWorkflowParams) (*model.Workflow, error)
	// ListExecutions returns the audit trail of a call in the order the runs started.
	ListExecutions(ctx context.Context, externalCallID string) ([]model.WorkflowExecutionLog, error)
}

type workflowService struct {
	workflows store.WorkflowStore
	logs      store.ExecutionLogStore
	calls     store.CallStore
	actions   *action.Registry
}

func NewWorkflowService(workflows store.WorkflowStore, logs store.ExecutionLogStore, calls store.CallStore, actions *action.Registry) WorkflowService {
	return &workflowService{workflows: workflows, logs: logs, calls: calls, actions: actions}
}

func (s *workflowService) Validate(params CreateWorkflowParams) error {
	var problems []string
	if params.AgencyID <= 0 {
		problems = append(problems, "agency_id is required")
	}
	if strings.TrimSpace(params.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !params.Trigger.Valid() {
		problems = append(problems, fmt.Sprintf("unknown trigger %q", params.Trigger))
	}
	if err := workflow.ValidateConditions(params.Conditions); err != nil {
		problems = append(problems, err.Error())
	}
	for i, spec := range params.Actions {
		if err := s.actions.Validate(spec); err != nil {
			problems = append(problems, fmt.Sprintf("action %d (%s): %v", i, spec.Type, err))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (s *workflowService) Create(ctx context.Context, params CreateWorkflowParams) (*model.Workflow, error) {
	if err := s.Validate(params); err != nil {
		return nil, err
	}
	wf := &model.Workflow{
		AgencyID:   params.AgencyID,
		AgentID:    params.AgentID,
		Name:       strings.TrimSpace(params.Name),
		Trigger:    params.Trigger,
		Conditions: params.Conditions,
		Actions:    params.Actions,
		IsActive:   params.IsActive,
	}
	if wf.Conditions == nil {
		wf.Conditions = []model.Condition{}
	}
	if wf.Actions == nil {
		wf.Actions = []model.ActionSpec{}
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}
	return wf, nil
}

func (s *workflowService) ListExecutions(ctx context.Context, externalCallID string) ([]model.WorkflowExecutionLog, error) {
	call, err := s.calls.GetByExternalID(ctx, externalCallID)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByCall(ctx, call.ID)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return logs, nil
}
