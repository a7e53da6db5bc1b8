// Package telemetry wraps OpenTelemetry spans and instruments for worker
// invocations and pipeline phases. Without a configured provider the
// global no-op implementations are used.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mtzanidakis/conclave"

func StartInvokeSpan(ctx context.Context, label, model, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "worker.invoke",
		trace.WithAttributes(
			attribute.String("task.label", label),
			attribute.String("task.model", model),
			attribute.String("task.session_id", sessionID),
		),
	)
}

func StartPhaseSpan(ctx context.Context, runID, phase, mode string, tasks int) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "pipeline.phase",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("phase.name", phase),
			attribute.String("phase.mode", mode),
			attribute.Int("phase.tasks", tasks),
		),
	)
}

// End closes span, marking it failed when errMsg is non-empty.
func End(span trace.Span, errMsg string) {
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type Metrics struct {
	Invocations metric.Int64Counter
	Failures    metric.Int64Counter
	Duration    metric.Float64Histogram
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.Invocations, err = meter.Int64Counter("conclave.worker.invocations",
		metric.WithDescription("Number of worker invocations"))
	if err != nil {
		return nil, err
	}

	m.Failures, err = meter.Int64Counter("conclave.worker.failures",
		metric.WithDescription("Number of failed worker invocations"))
	if err != nil {
		return nil, err
	}

	m.Duration, err = meter.Float64Histogram("conclave.worker.duration_seconds",
		metric.WithDescription("Worker invocation duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordInvocation is safe to call on a nil *Metrics.
func (m *Metrics) RecordInvocation(ctx context.Context, model string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.Invocations.Add(ctx, 1, attrs)
	if !ok {
		m.Failures.Add(ctx, 1, attrs)
	}
	m.Duration.Record(ctx, elapsed.Seconds(), attrs)
}
