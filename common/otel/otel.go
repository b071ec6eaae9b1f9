package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callrelay.app/relay/core/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Telemetry owns the installed providers. Shutdown flushes all of them.
type Telemetry struct {
	shutdowns []func(context.Context) error
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	// reverse order: metrics and logs flush before traces close
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup installs global trace, metric and log providers exporting over
// OTLP/HTTP. Returns nil Telemetry when no endpoint is configured, in which
// case the otel globals stay no-op.
func Setup(ctx context.Context, cfg config.OTelConfig, env string) (*Telemetry, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exp := exporterConfig{endpoint: strings.TrimRight(cfg.Endpoint, "/"), headers: parseHeaders(cfg.Headers)}
	t := &Telemetry{}

	for _, install := range []func(context.Context, exporterConfig, *resource.Resource) (func(context.Context) error, error){
		installTracing(cfg.SampleRatio),
		installMetrics(cfg.MetricInterval),
		installLogging,
	} {
		shutdown, err := install(ctx, exp, res)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		t.shutdowns = append(t.shutdowns, shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

type exporterConfig struct {
	endpoint string
	headers  map[string]string
}

func installTracing(ratio float64) func(context.Context, exporterConfig, *resource.Resource) (func(context.Context) error, error) {
	return func(ctx context.Context, exp exporterConfig, res *resource.Resource) (func(context.Context) error, error) {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(exp.endpoint+"/v1/traces"),
			otlptracehttp.WithHeaders(exp.headers),
		)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler(ratio)),
		)
		otel.SetTracerProvider(provider)
		return wrapShutdown("tracer", provider.Shutdown), nil
	}
}

func installMetrics(interval time.Duration) func(context.Context, exporterConfig, *resource.Resource) (func(context.Context) error, error) {
	return func(ctx context.Context, exp exporterConfig, res *resource.Resource) (func(context.Context) error, error) {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(exp.endpoint+"/v1/metrics"),
			otlpmetrichttp.WithHeaders(exp.headers),
		)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}

		var readerOpts []sdkmetric.PeriodicReaderOption
		if interval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(interval))
		}

		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(provider)
		return wrapShutdown("meter", provider.Shutdown), nil
	}
}

func installLogging(ctx context.Context, exp exporterConfig, res *resource.Resource) (func(context.Context) error, error) {
	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(exp.endpoint+"/v1/logs"),
		otlploghttp.WithHeaders(exp.headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(provider)
	return wrapShutdown("logger", provider.Shutdown), nil
}

func wrapShutdown(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		return nil
	}
}

// sampler keeps webhook traces parent-based so a sampled provider request
// keeps its deferred workflow spans.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// parseHeaders reads the OTEL_EXPORTER_OTLP_HEADERS format: k=v pairs
// separated by commas. Malformed pairs are skipped.
func parseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			headers[k] = strings.TrimSpace(v)
		}
	}
	return headers
}
