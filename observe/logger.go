// Package observe provides pipeline.Observer implementations for structured
// logging, Prometheus metrics and OpenTelemetry tracing.
package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/tobbstr/pipeline"
)

// Logger logs the pipeline lifecycle with slog.
type Logger struct {
	logger *slog.Logger
}

var _ pipeline.Observer = (*Logger)(nil)

// NewLogger returns a Logger writing to logger, or to slog.Default() if logger is nil.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}

func (l *Logger) OnPipelineStart(ctx context.Context, run pipeline.RunInfo) {
	l.log().InfoContext(ctx, "Pipeline started", "pipeline", run.Pipeline, "run_id", run.RunID)
}

func (l *Logger) OnPipelineComplete(ctx context.Context, run pipeline.RunInfo, duration time.Duration, res pipeline.Result[any]) {
	if res.IsFailure() {
		l.log().InfoContext(ctx, "Pipeline failed", "pipeline", run.Pipeline, "run_id", run.RunID, "reason", res.Reason(), "elapsed", duration)
		return
	}
	l.log().InfoContext(ctx, "Pipeline completed", "pipeline", run.Pipeline, "run_id", run.RunID, "elapsed", duration)
}

func (l *Logger) OnStepStart(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName) {
	l.log().DebugContext(ctx, "Step started", "pipeline", run.Pipeline, "run_id", run.RunID, "step", step)
}

func (l *Logger) OnStepComplete(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName, duration time.Duration, res pipeline.Result[any]) {
	if res.IsFailure() {
		l.log().InfoContext(ctx, "Step failed", "pipeline", run.Pipeline, "run_id", run.RunID, "step", step, "reason", res.Reason(), "elapsed", duration)
		return
	}
	l.log().DebugContext(ctx, "Step completed", "pipeline", run.Pipeline, "run_id", run.RunID, "step", step, "elapsed", duration)
}

func (l *Logger) OnStepSkipped(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName) {
	l.log().DebugContext(ctx, "Step skipped", "pipeline", run.Pipeline, "run_id", run.RunID, "step", step)
}

func (l *Logger) OnFailureAllowed(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName, reason any) {
	l.log().WarnContext(ctx, "Step failure allowed", "pipeline", run.Pipeline, "run_id", run.RunID, "step", step, "reason", reason)
}

func (l *Logger) OnRollback(ctx context.Context, run pipeline.RunInfo, reason any) {
	l.log().WarnContext(ctx, "Rolling back transaction", "pipeline", run.Pipeline, "run_id", run.RunID, "reason", reason)
}
