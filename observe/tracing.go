package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tobbstr/pipeline"
)

// Tracer records a span per pipeline call with a child span per step.
//
// Observers cannot replace the context handed to steps, so open spans are
// tracked by run and matched up again when the call or step completes.
type Tracer struct {
	tracer trace.Tracer
	spans  sync.Map // spanKey -> trace.Span
}

var _ pipeline.Observer = (*Tracer)(nil)

type spanKey struct {
	pipeline string
	runID    pipeline.RunID
	step     pipeline.StepName
}

// NewTracer creates a Tracer. If tracer is nil, the global tracer provider is used.
func NewTracer(tracer trace.Tracer) *Tracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("pipeline")
	}
	return &Tracer{tracer: tracer}
}

func runKey(run pipeline.RunInfo) spanKey {
	return spanKey{pipeline: run.Pipeline, runID: run.RunID}
}

func stepKey(run pipeline.RunInfo, step pipeline.StepName) spanKey {
	return spanKey{pipeline: run.Pipeline, runID: run.RunID, step: step}
}

func (t *Tracer) end(key spanKey, res pipeline.Result[any]) {
	v, ok := t.spans.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	if res.IsFailure() {
		span.SetAttributes(attribute.String("pipeline.failure.reason", fmt.Sprint(res.Reason())))
		span.SetStatus(codes.Error, fmt.Sprint(res.Reason()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (t *Tracer) OnPipelineStart(ctx context.Context, run pipeline.RunInfo) {
	_, span := t.tracer.Start(ctx, "pipeline.call",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", run.Pipeline),
			attribute.String("pipeline.run_id", string(run.RunID)),
		),
	)
	t.spans.Store(runKey(run), span)
}

func (t *Tracer) OnPipelineComplete(ctx context.Context, run pipeline.RunInfo, duration time.Duration, res pipeline.Result[any]) {
	t.end(runKey(run), res)
}

func (t *Tracer) OnStepStart(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName) {
	if parent, ok := t.spans.Load(runKey(run)); ok {
		ctx = trace.ContextWithSpan(ctx, parent.(trace.Span))
	}
	_, span := t.tracer.Start(ctx, "pipeline.step."+string(step),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", run.Pipeline),
			attribute.String("pipeline.step.name", string(step)),
		),
	)
	t.spans.Store(stepKey(run, step), span)
}

func (t *Tracer) OnStepComplete(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName, duration time.Duration, res pipeline.Result[any]) {
	t.end(stepKey(run, step), res)
}

func (t *Tracer) OnStepSkipped(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName) {
	if v, ok := t.spans.Load(runKey(run)); ok {
		v.(trace.Span).AddEvent("step skipped", trace.WithAttributes(attribute.String("pipeline.step.name", string(step))))
	}
}

func (t *Tracer) OnFailureAllowed(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName, reason any) {
	if v, ok := t.spans.Load(stepKey(run, step)); ok {
		v.(trace.Span).AddEvent("failure allowed", trace.WithAttributes(attribute.String("pipeline.failure.reason", fmt.Sprint(reason))))
	}
}

// OnRollback records a separate span, since the call span has already ended
// when the transaction is rolled back.
func (t *Tracer) OnRollback(ctx context.Context, run pipeline.RunInfo, reason any) {
	_, span := t.tracer.Start(ctx, "pipeline.rollback",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", run.Pipeline),
			attribute.String("pipeline.run_id", string(run.RunID)),
			attribute.String("pipeline.failure.reason", fmt.Sprint(reason)),
		),
	)
	span.End()
}
