package action

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "callrelay.app/relay/internal/action"

// dispatchMetrics records one point per attempt. Instruments come from the
// global MeterProvider, which is a no-op until the process installs one.
type dispatchMetrics struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func newDispatchMetrics(provider metric.MeterProvider) dispatchMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	// Instrument constructors only fail on invalid names; both are constant.
	attempts, _ := meter.Int64Counter("relay.action.attempts",
		metric.WithDescription("Workflow action attempts by type and outcome"))
	duration, _ := meter.Float64Histogram("relay.action.duration",
		metric.WithDescription("Duration of one workflow action attempt"),
		metric.WithUnit("s"))
	return dispatchMetrics{attempts: attempts, duration: duration}
}

func (m dispatchMetrics) record(ctx context.Context, actionType string, result Result, elapsed time.Duration) {
	outcome := "success"
	if !result.Success {
		outcome = string(KindOf(result.Error))
	}
	attrs := metric.WithAttributes(
		attribute.String("action.type", actionType),
		attribute.String("action.outcome", outcome),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}
