package action

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/metric"

	"callrelay.app/relay/common/logger"
)

const DefaultTimeout = 15 * time.Second

// RetryPolicy bounds re-attempts of retryable failures. Attempt n (from 1)
// waits BaseDelay * 2^(n-1) before running again.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, BaseDelay: time.Second}

func (p RetryPolicy) delay(retry int) time.Duration {
	return p.BaseDelay << retry
}

// Outcome is the result of an action after retries.
type Outcome struct {
	Result
	Attempts int
}

type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	policy   RetryPolicy
	sleep    func(ctx context.Context, d time.Duration) error
	meters   metric.MeterProvider
	metrics  dispatchMetrics
}

type DispatcherOption func(*Dispatcher)

func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.timeout = d }
}

func WithRetryPolicy(p RetryPolicy) DispatcherOption {
	return func(disp *Dispatcher) { disp.policy = p }
}

func WithMeterProvider(p metric.MeterProvider) DispatcherOption {
	return func(disp *Dispatcher) { disp.meters = p }
}

// WithSleep replaces the backoff wait. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) DispatcherOption {
	return func(disp *Dispatcher) { disp.sleep = fn }
}

func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultTimeout,
		policy:   DefaultRetryPolicy,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.metrics = newDispatchMetrics(d.meters)
	return d
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute runs one attempt of req under the outbound timeout. A panicking
// handler is reported as a failed attempt.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (result Result) {
	h, ok := d.registry.Get(req.Spec.Type)
	if !ok {
		return Fail(ConfigError("unknown action type %q", req.Spec.Type))
	}
	if err := h.Validate(req.Spec.Config); err != nil {
		return Fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "action handler panicked",
				"action_type", req.Spec.Type,
				"panic", r,
				"stack", string(debug.Stack()))
			result = Fail(&Error{Kind: KindNonRetryableClient, Message: fmt.Sprintf("handler panic: %v", r)})
		}
	}()

	result = h.Execute(ctx, req)
	if !result.Success && result.Error == nil {
		result.Error = ClientError("action reported failure without an error")
	}
	return result
}

// ExecuteWithRetry runs req and re-attempts retryable failures with
// exponential backoff. Terminal failures return immediately.
func (d *Dispatcher) ExecuteWithRetry(ctx context.Context, req Request) Outcome {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ActionType: logger.Ptr(req.Spec.Type)})

	var out Outcome
	for attempt := 0; ; attempt++ {
		started := time.Now()
		out.Result = d.Execute(ctx, req)
		d.metrics.record(ctx, req.Spec.Type, out.Result, time.Since(started))
		out.Attempts = attempt + 1
		if out.Success {
			return out
		}
		if attempt >= d.policy.MaxRetries || !IsRetryable(out.Error) {
			return out
		}

		wait := d.policy.delay(attempt)
		slog.WarnContext(ctx, "action failed, retrying",
			"attempt", out.Attempts,
			"backoff", wait,
			"error", out.Error)
		if err := d.sleep(ctx, wait); err != nil {
			return out
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
