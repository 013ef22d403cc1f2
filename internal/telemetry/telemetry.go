// Package telemetry initializes OpenTelemetry tracing and metrics exporters
// and defines the instruments recorded for model-search runs.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Scope is the instrumentation scope name used for tracers and meters.
const Scope = "github.com/neurogenx/neurogenx"

// Shutdown flushes and stops the exporters.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers.
// If endpoint is empty, OTEL is disabled and no-op providers are used.
// Returns a shutdown function that must be called during graceful shutdown.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// W3C Trace Context and Baggage, so traces started by API callers
	// continue through the run goroutine.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second)),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// RunMetrics holds the instruments recorded by the orchestrator. The zero
// value is not usable; call NewRunMetrics.
type RunMetrics struct {
	RunsStarted   metric.Int64Counter
	RunsFinished  metric.Int64Counter
	ActiveRuns    metric.Int64UpDownCounter
	Trials        metric.Int64Counter
	TrialScore    metric.Float64Histogram
	StageDuration metric.Float64Histogram
}

// NewRunMetrics creates the run instruments on m.
func NewRunMetrics(m metric.Meter) (*RunMetrics, error) {
	var rm RunMetrics
	var err error
	if rm.RunsStarted, err = m.Int64Counter("neurogenx.runs.started",
		metric.WithDescription("Runs accepted by the orchestrator")); err != nil {
		return nil, fmt.Errorf("telemetry: runs.started: %w", err)
	}
	if rm.RunsFinished, err = m.Int64Counter("neurogenx.runs.finished",
		metric.WithDescription("Runs that reached a terminal status, by status")); err != nil {
		return nil, fmt.Errorf("telemetry: runs.finished: %w", err)
	}
	if rm.ActiveRuns, err = m.Int64UpDownCounter("neurogenx.runs.active",
		metric.WithDescription("Runs not yet terminal")); err != nil {
		return nil, fmt.Errorf("telemetry: runs.active: %w", err)
	}
	if rm.Trials, err = m.Int64Counter("neurogenx.trials",
		metric.WithDescription("Search trials evaluated, by status")); err != nil {
		return nil, fmt.Errorf("telemetry: trials: %w", err)
	}
	if rm.TrialScore, err = m.Float64Histogram("neurogenx.trial.score",
		metric.WithDescription("Cross-validated ROC AUC of completed trials"),
		metric.WithExplicitBucketBoundaries(0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 0.99)); err != nil {
		return nil, fmt.Errorf("telemetry: trial.score: %w", err)
	}
	if rm.StageDuration, err = m.Float64Histogram("neurogenx.stage.duration",
		metric.WithDescription("Stage execution time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: stage.duration: %w", err)
	}
	return &rm, nil
}
