package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"callrelay.app/relay/common/logger"
	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/store"
)

const maxErrorSummary = 2000

// ExecutionLogger writes the audit trail of workflow runs.
type ExecutionLogger struct {
	logs store.ExecutionLogStore
	now  func() time.Time
}

func NewExecutionLogger(logs store.ExecutionLogStore) *ExecutionLogger {
	return &ExecutionLogger{logs: logs, now: time.Now}
}

// Open persists a running execution log for wf triggered by call.
func (l *ExecutionLogger) Open(ctx context.Context, wf model.Workflow, call *model.Call, trigger model.Trigger) (*model.WorkflowExecutionLog, error) {
	log := &model.WorkflowExecutionLog{
		WorkflowID:    wf.ID,
		CallID:        call.ID,
		AgencyID:      wf.AgencyID,
		Trigger:       trigger,
		Status:        model.ExecutionStatusRunning,
		ActionsTotal:  len(wf.Actions),
		ActionResults: []model.ActionResult{},
		StartedAt:     l.now(),
	}
	if err := l.logs.Create(ctx, log); err != nil {
		log.ID = 0
		return log, fmt.Errorf("open execution log: %w", err)
	}
	return log, nil
}

// Skip closes log without attempting any action.
func (l *ExecutionLogger) Skip(ctx context.Context, log *model.WorkflowExecutionLog) error {
	log.Status = model.ExecutionStatusSkipped
	log.ActionsTotal = 0
	log.ActionsSucceeded = 0
	log.ActionsFailed = 0
	return l.finish(ctx, log)
}

// Record appends the outcome of one action.
func (l *ExecutionLogger) Record(log *model.WorkflowExecutionLog, index int, spec model.ActionSpec, started time.Time, out action.Outcome) model.ActionResult {
	completed := l.now()
	res := model.ActionResult{
		ActionIndex: index,
		ActionType:  spec.Type,
		Status:      model.ActionStatusSuccess,
		Attempts:    out.Attempts,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
		Output:      out.Output,
	}
	if out.Success {
		log.ActionsSucceeded++
	} else {
		res.Status = model.ActionStatusFailed
		if out.Error != nil {
			res.Error = logger.Ptr(out.Error.Error())
		}
		log.ActionsFailed++
	}
	log.ActionResults = append(log.ActionResults, res)
	return res
}

// Finish derives the final status from the recorded actions and closes log.
func (l *ExecutionLogger) Finish(ctx context.Context, log *model.WorkflowExecutionLog) error {
	log.Status = model.FinalStatus(log.ActionsSucceeded, log.ActionsFailed)
	if summary := errorSummary(log.ActionResults); summary != "" {
		log.ErrorSummary = &summary
	}
	return l.finish(ctx, log)
}

func (l *ExecutionLogger) finish(ctx context.Context, log *model.WorkflowExecutionLog) error {
	log.CompletedAt = logger.Ptr(l.now())
	if log.ID == 0 {
		// never persisted; nothing to close
		return nil
	}
	if err := l.logs.Finish(ctx, log); err != nil {
		return fmt.Errorf("finish execution log: %w", err)
	}
	return nil
}

func errorSummary(results []model.ActionResult) string {
	var parts []string
	for _, r := range results {
		if r.Status != model.ActionStatusFailed {
			continue
		}
		msg := "failed"
		if r.Error != nil {
			msg = *r.Error
		}
		parts = append(parts, fmt.Sprintf("#%d %s: %s", r.ActionIndex, r.ActionType, msg))
	}
	return logger.Truncate(strings.Join(parts, "; "), maxErrorSummary)
}
