package pipeline

import (
	"context"
	"time"
)

// RunInfo identifies the pipeline call an event belongs to.
type RunInfo struct {
	Pipeline string
	RunID    RunID
}

type runKey struct{}

func withRun(ctx context.Context, run RunInfo) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

// RunFromContext returns the RunInfo of the pipeline call running the current step.
func RunFromContext(ctx context.Context) (RunInfo, bool) {
	run, ok := ctx.Value(runKey{}).(RunInfo)
	return run, ok
}

// Observer provides hooks for monitoring pipeline and step execution.
// Implement this interface to add custom metrics, logging, or tracing.
// The observe package ships slog, Prometheus and OpenTelemetry observers.
//
// Example:
//
//	type metricsObserver struct {
//		pipeline.NoopObserver
//		metrics MetricsClient
//	}
//
//	func (m *metricsObserver) OnStepComplete(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName, d time.Duration, res pipeline.Result[any]) {
//		tags := map[string]string{"step": string(step)}
//		if res.IsFailure() {
//			tags["status"] = "failure"
//		} else {
//			tags["status"] = "success"
//		}
//		m.metrics.Timing("pipeline.step.duration", d, tags)
//	}
type Observer interface {
	// OnPipelineStart is called when a pipeline call begins.
	OnPipelineStart(ctx context.Context, run RunInfo)

	// OnPipelineComplete is called when a pipeline call completes (success or failure).
	OnPipelineComplete(ctx context.Context, run RunInfo, duration time.Duration, res Result[any])

	// OnStepStart is called when a step begins execution.
	OnStepStart(ctx context.Context, run RunInfo, step StepName)

	// OnStepComplete is called when a step completes (success or failure).
	OnStepComplete(ctx context.Context, run RunInfo, step StepName, duration time.Duration, res Result[any])

	// OnStepSkipped is called for every step not run because an earlier step failed.
	OnStepSkipped(ctx context.Context, run RunInfo, step StepName)

	// OnFailureAllowed is called when a step failure is bypassed using AllowFailure.
	OnFailureAllowed(ctx context.Context, run RunInfo, step StepName, reason any)

	// OnRollback is called before the transaction of a failed call is rolled back.
	OnRollback(ctx context.Context, run RunInfo, reason any)
}

// NoopObserver is a default implementation of Observer that does nothing.
// Use this as a base for implementing partial observers.
type NoopObserver struct{}

// OnPipelineStart implements Observer.
func (n *NoopObserver) OnPipelineStart(ctx context.Context, run RunInfo) {}

// OnPipelineComplete implements Observer.
func (n *NoopObserver) OnPipelineComplete(ctx context.Context, run RunInfo, duration time.Duration, res Result[any]) {
}

// OnStepStart implements Observer.
func (n *NoopObserver) OnStepStart(ctx context.Context, run RunInfo, step StepName) {}

// OnStepComplete implements Observer.
func (n *NoopObserver) OnStepComplete(ctx context.Context, run RunInfo, step StepName, duration time.Duration, res Result[any]) {
}

// OnStepSkipped implements Observer.
func (n *NoopObserver) OnStepSkipped(ctx context.Context, run RunInfo, step StepName) {}

// OnFailureAllowed implements Observer.
func (n *NoopObserver) OnFailureAllowed(ctx context.Context, run RunInfo, step StepName, reason any) {}

// OnRollback implements Observer.
func (n *NoopObserver) OnRollback(ctx context.Context, run RunInfo, reason any) {}

// notify calls fn for every observer. Observer panics are logged and never
// break the pipeline.
func (r *registry) notify(event string, fn func(Observer)) {
	for _, obs := range r.observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log().Warn("Observer panicked", "pipeline", r.name, "event", event, "panic", rec)
				}
			}()
			fn(obs)
		}()
	}
}

func (r *registry) notifyPipelineStart(ctx context.Context, run RunInfo) {
	r.notify("pipeline_start", func(obs Observer) {
		obs.OnPipelineStart(ctx, run)
	})
}

func (r *registry) notifyPipelineComplete(ctx context.Context, run RunInfo, duration time.Duration, res Result[any]) {
	r.notify("pipeline_complete", func(obs Observer) {
		obs.OnPipelineComplete(ctx, run, duration, res)
	})
}

func (r *registry) notifyStepStart(ctx context.Context, run RunInfo, step StepName) {
	r.notify("step_start", func(obs Observer) {
		obs.OnStepStart(ctx, run, step)
	})
}

func (r *registry) notifyStepComplete(ctx context.Context, run RunInfo, step StepName, duration time.Duration, res Result[any]) {
	r.notify("step_complete", func(obs Observer) {
		obs.OnStepComplete(ctx, run, step, duration, res)
	})
}

func (r *registry) notifyStepSkipped(ctx context.Context, run RunInfo, step StepName) {
	r.notify("step_skipped", func(obs Observer) {
		obs.OnStepSkipped(ctx, run, step)
	})
}

func (r *registry) notifyFailureAllowed(ctx context.Context, run RunInfo, step StepName, reason any) {
	r.notify("failure_allowed", func(obs Observer) {
		obs.OnFailureAllowed(ctx, run, step, reason)
	})
}

func (r *registry) notifyRollback(ctx context.Context, run RunInfo, reason any) {
	r.notify("rollback", func(obs Observer) {
		obs.OnRollback(ctx, run, reason)
	})
}
