package observe

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobbstr/pipeline"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// MetricsConfig holds the naming of the collected metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// DefaultMetricsConfig returns the default configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "pipeline"}
}

// Metrics records pipeline and step outcomes in Prometheus collectors.
// Register it on a registry with Register, or use NewMetrics which creates its own.
type Metrics struct {
	registry *prometheus.Registry

	Runs         *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	Steps        *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepsSkipped *prometheus.CounterVec
	Allowed      *prometheus.CounterVec
	Rollbacks    *prometheus.CounterVec
}

var _ pipeline.Observer = (*Metrics)(nil)

// NewMetrics creates Metrics with the default configuration and its own registry.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(DefaultMetricsConfig())
}

// NewMetricsWithConfig creates Metrics with the given config and its own registry.
func NewMetricsWithConfig(cfg MetricsConfig) *Metrics {
	ns, sub := cfg.Namespace, cfg.Subsystem
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "runs_total",
			Help:      "Total number of pipeline calls",
		}, []string{"pipeline", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "steps_total",
			Help:      "Total number of executed steps",
		}, []string{"pipeline", "step", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "step_duration_seconds",
			Help:      "Duration of steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline", "step"}),
		StepsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "steps_skipped_total",
			Help:      "Total number of steps skipped after a failure",
		}, []string{"pipeline", "step"}),
		Allowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "failures_allowed_total",
			Help:      "Total number of step failures replaced by a fallback",
		}, []string{"pipeline", "step"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "rollbacks_total",
			Help:      "Total number of rolled back transactions",
		}, []string{"pipeline"}),
	}
	m.Register(m.registry)
	return m
}

// Register registers all collectors on reg. It panics if any is already registered.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.Runs, m.RunDuration, m.Steps, m.StepDuration, m.StepsSkipped, m.Allowed, m.Rollbacks)
}

// Registry returns the registry created by NewMetrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(res pipeline.Result[any]) string {
	if res.IsFailure() {
		return statusFailure
	}
	return statusSuccess
}

func (m *Metrics) OnPipelineStart(ctx context.Context, run pipeline.RunInfo) {}

func (m *Metrics) OnPipelineComplete(ctx context.Context, run pipeline.RunInfo, duration time.Duration, res pipeline.Result[any]) {
	m.Runs.WithLabelValues(run.Pipeline, status(res)).Inc()
	m.RunDuration.WithLabelValues(run.Pipeline).Observe(duration.Seconds())
}

func (m *Metrics) OnStepStart(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName) {}

func (m *Metrics) OnStepComplete(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName, duration time.Duration, res pipeline.Result[any]) {
	m.Steps.WithLabelValues(run.Pipeline, string(step), status(res)).Inc()
	m.StepDuration.WithLabelValues(run.Pipeline, string(step)).Observe(duration.Seconds())
}

func (m *Metrics) OnStepSkipped(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName) {
	m.StepsSkipped.WithLabelValues(run.Pipeline, string(step)).Inc()
}

func (m *Metrics) OnFailureAllowed(ctx context.Context, run pipeline.RunInfo, step pipeline.StepName, reason any) {
	m.Allowed.WithLabelValues(run.Pipeline, string(step)).Inc()
}

func (m *Metrics) OnRollback(ctx context.Context, run pipeline.RunInfo, reason any) {
	m.Rollbacks.WithLabelValues(run.Pipeline).Inc()
}
