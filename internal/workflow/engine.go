package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"callrelay.app/relay/common/logger"
	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/dedupe"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/store"
)

// CredentialResolver loads the integrations available to a call's actions.
type CredentialResolver interface {
	Resolve(ctx context.Context, agencyID int64, clientID *int64) (*credential.Set, error)
}

// Engine matches workflows to a call event and executes them.
type Engine struct {
	workflows   store.WorkflowStore
	logs        *ExecutionLogger
	dispatcher  *action.Dispatcher
	credentials CredentialResolver
	claims      dedupe.Claimer
	now         func() time.Time
}

type EngineOption func(*Engine)

// WithClaimer deduplicates runs per (workflow, call, trigger). The default claims in process memory.
func WithClaimer(c dedupe.Claimer) EngineOption {
	return func(e *Engine) { e.claims = c }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
		e.logs.now = now
	}
}

func NewEngine(
	workflows store.WorkflowStore,
	logs store.ExecutionLogStore,
	dispatcher *action.Dispatcher,
	credentials CredentialResolver,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		workflows:   workflows,
		logs:        NewExecutionLogger(logs),
		dispatcher:  dispatcher,
		credentials: credentials,
		claims:      dedupe.NewMemory(dedupe.DefaultTTL),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every active workflow matching the event. Workflows run
// concurrently; the actions of one workflow run in order and a failed action
// never stops the ones after it. Run returns the closed execution logs.
func (e *Engine) Run(ctx context.Context, call *model.Call, kind model.EventKind, agentName string) ([]*model.WorkflowExecutionLog, error) {
	if call == nil || call.AgencyID == nil {
		return nil, nil
	}
	triggers := TriggersFor(kind, call.Direction)
	if len(triggers) == 0 {
		return nil, nil
	}

	sc := logger.StartSpan(ctx, "workflow.engine.run")
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		CallID:    logger.Ptr(call.ID),
		AgencyID:  call.AgencyID,
		EventKind: logger.Ptr(string(kind)),
		Component: "relay.workflow.engine",
	})

	matched, err := e.workflows.ListActiveByTriggers(ctx, *call.AgencyID, triggers, call.AgentID)
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	if len(matched) == 0 {
		slog.DebugContext(ctx, "no workflows matched", "triggers", triggers)
		return nil, nil
	}

	// One credential set per event, shared by every workflow so OAuth refreshes happen once.
	creds := sync.OnceValue(func() *credential.Set {
		set, err := e.credentials.Resolve(ctx, *call.AgencyID, call.ClientID)
		if err != nil {
			slog.WarnContext(ctx, "resolving credentials failed, provider actions will fail", "error", err)
			return nil
		}
		return set
	})

	view := NewCallView(call, agentName)
	logs := make([]*model.WorkflowExecutionLog, len(matched))

	var wg sync.WaitGroup
	for i := range matched {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logs[i] = e.runWorkflow(ctx, matched[i], call, agentName, view, creds)
		}(i)
	}
	wg.Wait()

	out := logs[:0]
	for _, l := range logs {
		if l != nil {
			out = append(out, l)
		}
	}
	slog.InfoContext(ctx, "workflows processed", "matched", len(matched), "executed", len(out))
	return out, nil
}

func (e *Engine) runWorkflow(
	ctx context.Context,
	wf model.Workflow,
	call *model.Call,
	agentName string,
	view CallView,
	creds func() *credential.Set,
) (log *model.WorkflowExecutionLog) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{WorkflowID: logger.Ptr(wf.ID)})

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "workflow run panicked",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	claimed, err := e.claims.Claim(ctx, dedupe.Key("workflow", wf.ID, call.ID, wf.Trigger))
	if err != nil {
		slog.WarnContext(ctx, "workflow claim failed, running anyway", "error", err)
		claimed = true
	}
	if !claimed {
		slog.InfoContext(ctx, "workflow already ran for this call, skipping duplicate trigger",
			"trigger", wf.Trigger)
		return nil
	}

	log, err = e.logs.Open(ctx, wf, call, wf.Trigger)
	if err != nil {
		// the audit row is lost but the automation still runs
		slog.ErrorContext(ctx, "could not open execution log", "error", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ExecutionLogID: logger.Ptr(log.ID)})

	if !Evaluate(wf.Conditions, view) {
		if err := e.logs.Skip(ctx, log); err != nil {
			slog.ErrorContext(ctx, "could not close skipped execution log", "error", err)
		}
		slog.DebugContext(ctx, "workflow conditions not met", "workflow", wf.Name)
		return log
	}

	var set *credential.Set
	if len(wf.Actions) > 0 {
		set = creds()
	}
	for i, spec := range wf.Actions {
		started := e.now()
		out := e.dispatcher.ExecuteWithRetry(ctx, action.NewRequest(spec, call, agentName, set))
		res := e.logs.Record(log, i, spec, started, out)
		if res.Status == model.ActionStatusFailed {
			slog.WarnContext(ctx, "workflow action failed",
				"action_index", i,
				"action_type", spec.Type,
				"attempts", out.Attempts,
				"error_kind", action.KindOf(out.Error),
				"error", out.Error)
		}
	}

	if err := e.logs.Finish(ctx, log); err != nil {
		slog.ErrorContext(ctx, "could not close execution log", "error", err)
	}
	slog.InfoContext(ctx, "workflow executed",
		"workflow", wf.Name,
		"status", log.Status,
		"succeeded", log.ActionsSucceeded,
		"failed", log.ActionsFailed)
	return log
}
