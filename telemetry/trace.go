package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer opens spans for outbound operations of one package and records
// how long each one took.
type Tracer struct {
	pkg     string
	tracer  trace.Tracer
	latency metric.Float64Histogram
}

// NewTracer binds a tracer and latency histogram to pkg.
func NewTracer(pkg string, options ...trace.TracerOption) *Tracer {
	return &Tracer{
		pkg:     pkg,
		tracer:  otel.Tracer(pkg, options...),
		latency: LatencyMeasure(pkg),
	}
}

// Span is one traced operation. End must be called exactly once.
type Span struct {
	trace.Span

	owner     *Tracer
	operation string
	started   time.Time
}

// Start opens a span named after operation.
//
//nolint:spancheck // the span is ended through Span.End
func (t *Tracer) Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	attrs = append(attrs, AttrMethodKey.String(operation))
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	return ctx, &Span{Span: span, owner: t, operation: operation, started: time.Now()}
}

// End closes the span, marking it failed when err is set, and records the
// operation latency tagged with Outcome(err).
func (s *Span) End(ctx context.Context, err error) {
	elapsed := time.Since(s.started)

	if err != nil {
		s.SetAttributes(AttrErrorKey.String(err.Error()))
		s.RecordError(err)
		s.SetStatus(codes.Error, err.Error())
		s.Span.End(trace.WithStackTrace(true))
	} else {
		s.SetStatus(codes.Ok, "")
		s.Span.End()
	}

	s.owner.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(
			AttrStatusKey.String(Outcome(err)),
			AttrMethodKey.String(s.owner.pkg+"/"+s.operation),
		))
}

// Outcome names the result of an operation for metric labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
