package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Enrich the context once at the boundary (webhook receiver, deferred task, workflow run)
// and every slog call below it carries the call and workflow identifiers.
type LogFields struct {
	CallID         *int64  // Internal call ID
	ExternalCallID *string // Provider-assigned call ID (idempotency key)
	AgencyID       *int64  // Agency that owns the call
	WorkflowID     *int64  // Workflow being executed
	ExecutionLogID *int64  // Workflow execution log row
	Provider       *string // Voice provider (e.g., "retell", "vapi")
	EventKind      *string // Normalized event kind (e.g., "call_ended")
	ActionType     *string // Workflow action type being dispatched
	Component      string  // Component name (OTel semantic convention style, e.g., "relay.workflow.engine")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.CallID != nil {
		result.CallID = new.CallID
	}
	if new.ExternalCallID != nil {
		result.ExternalCallID = new.ExternalCallID
	}
	if new.AgencyID != nil {
		result.AgencyID = new.AgencyID
	}
	if new.WorkflowID != nil {
		result.WorkflowID = new.WorkflowID
	}
	if new.ExecutionLogID != nil {
		result.ExecutionLogID = new.ExecutionLogID
	}
	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.EventKind != nil {
		result.EventKind = new.EventKind
	}
	if new.ActionType != nil {
		result.ActionType = new.ActionType
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{CallID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Useful for logging transcripts and response bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
