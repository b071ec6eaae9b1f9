package logger

import (
	"context"
	"log/slog"
	"os"

	"callrelay.app/relay/core/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

func Setup(cfg config.Config) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel, cfg.IsDevelopment()),
	}

	if cfg.IsProduction() && cfg.OTel.Enabled() {
		handler = otelslog.NewHandler(
			cfg.OTel.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)
	} else if cfg.IsProduction() {
		handler = NewTraceHandler(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		handler = NewTraceHandler(slog.NewTextHandler(os.Stdout, opts))
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string, development bool) slog.Level {
	var l slog.Level
	if level != "" && l.UnmarshalText([]byte(level)) == nil {
		return l
	}
	if development {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	// Add OTel trace/span IDs from context
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	// Add structured fields from context (automatic enrichment)
	r.AddAttrs(fieldAttrs(GetLogFields(ctx))...)

	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

func fieldAttrs(fields LogFields) []slog.Attr {
	attrs := make([]slog.Attr, 0, 9)
	if fields.CallID != nil {
		attrs = append(attrs, slog.Int64("call_id", *fields.CallID))
	}
	if fields.ExternalCallID != nil {
		attrs = append(attrs, slog.String("external_call_id", *fields.ExternalCallID))
	}
	if fields.AgencyID != nil {
		attrs = append(attrs, slog.Int64("agency_id", *fields.AgencyID))
	}
	if fields.WorkflowID != nil {
		attrs = append(attrs, slog.Int64("workflow_id", *fields.WorkflowID))
	}
	if fields.ExecutionLogID != nil {
		attrs = append(attrs, slog.Int64("execution_log_id", *fields.ExecutionLogID))
	}
	if fields.Provider != nil {
		attrs = append(attrs, slog.String("provider", *fields.Provider))
	}
	if fields.EventKind != nil {
		attrs = append(attrs, slog.String("event_kind", *fields.EventKind))
	}
	if fields.ActionType != nil {
		attrs = append(attrs, slog.String("action_type", *fields.ActionType))
	}
	if fields.Component != "" {
		attrs = append(attrs, slog.String("component", fields.Component))
	}
	return attrs
}
