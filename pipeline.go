package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Instance is a single invocation of a pipeline definition, holding its
// validated input. Instances are cheap and must not be shared between calls.
type Instance[In, Out any] struct {
	def   *Definition[In, Out]
	input In
	runID RunID
	tx    Transactor
}

// callConfig holds the per-instance options.
type callConfig struct {
	runID RunID
	tx    Transactor
}

// Option is a functional option for configuring an Instance.
type Option func(*callConfig)

// WithTransactor runs the call inside a transaction opened by tx.
// Without a transactor the steps run directly.
//
// Example:
//
//	res, err := def.New(input, pipeline.WithTransactor(txsql.New(db))).Call(ctx)
func WithTransactor(tx Transactor) Option {
	return func(c *callConfig) {
		c.tx = tx
	}
}

// WithRunID sets the run ID reported to observers.
// If not set, a unique ID is generated.
func WithRunID(id RunID) Option {
	return func(c *callConfig) {
		c.runID = id
	}
}

// New creates an instance from already validated input.
// Panics with a *ContractError if d was never built.
func (d *Definition[In, Out]) New(input In, opts ...Option) *Instance[In, Out] {
	d.mustBeBuilt()

	config := &callConfig{}
	for _, opt := range opts {
		opt(config)
	}
	if config.runID == "" {
		config.runID = RunID(uuid.NewString())
	}

	return &Instance[In, Out]{
		def:   d,
		input: input,
		runID: config.runID,
		tx:    config.tx,
	}
}

// Construct validates raw input with the definition's input schema and
// creates an instance from the result. A rejected input returns a
// *ValidationError and no instance; the pipeline never runs.
//
// Example:
//
//	inst, err := signup.Construct(map[string]any{"email": "a@b.c"})
//	if err != nil {
//		return fmt.Errorf("constructing signup: %w", err)
//	}
//	res, err := inst.Call(ctx)
func (d *Definition[In, Out]) Construct(raw map[string]any, opts ...Option) (*Instance[In, Out], error) {
	d.mustBeBuilt()

	if d.schema == nil {
		return nil, fmt.Errorf("pipeline %q: %w", d.reg.name, ErrNoInputSchema)
	}

	input, err := d.schema.Validate(raw)
	if err != nil {
		return nil, &ValidationError{Pipeline: d.reg.name, Err: err}
	}

	return d.New(input, opts...), nil
}

// Input returns the validated input of the instance.
func (i *Instance[In, Out]) Input() In {
	return i.input
}

// RunID returns the run ID of the instance.
func (i *Instance[In, Out]) RunID() RunID {
	return i.runID
}

// Call runs the pipeline and returns its final Result.
//
// Business failures are returned as a Failure result, never as an error.
// The error is non-nil only when the transactor fails to begin, commit or
// roll back. When a transactor is set and the result is a Failure, the
// transaction is rolled back and the Failure is still returned unchanged.
//
// Example:
//
//	res, err := def.New(input).Call(ctx)
//	if err != nil {
//		return fmt.Errorf("running pipeline: %w", err)
//	}
//	if res.IsFailure() {
//		return res.Err()
//	}
func (i *Instance[In, Out]) Call(ctx context.Context) (Result[Out], error) {
	reg := i.def.reg
	run := RunInfo{Pipeline: reg.name, RunID: i.runID}

	var res Result[any]
	if i.tx == nil {
		res = reg.execute(ctx, run, i.input)
	} else {
		err := i.tx.InTransaction(ctx, func(ctx context.Context) error {
			res = reg.execute(ctx, run, i.input)
			if res.IsFailure() {
				reg.notifyRollback(ctx, run, res.reason)
				return ErrRollback
			}
			return nil
		})
		if err != nil && !(errors.Is(err, ErrRollback) && res.IsFailure()) {
			return Result[Out]{}, fmt.Errorf("pipeline %q: transaction: %w", reg.name, err)
		}
	}

	if !res.valid() {
		panic(&ContractError{Pipeline: reg.name, Err: ErrInvalidResult, Detail: "transactor did not run the pipeline"})
	}

	out, ok := narrow[Out](res)
	if !ok {
		panic(&ContractError{
			Pipeline: reg.name,
			Err:      ErrInvalidResult,
			Detail:   fmt.Sprintf("final value is %T, want %v", res.value, typeOf[Out]()),
		})
	}
	return out, nil
}

// execute runs the steps and notifies observers of the pipeline lifecycle.
func (r *registry) execute(ctx context.Context, run RunInfo, input any) Result[any] {
	ctx = withRun(ctx, run)

	startTime := time.Now()
	r.notifyPipelineStart(ctx, run)

	res := r.run(ctx, run, input)

	r.notifyPipelineComplete(ctx, run, time.Since(startTime), res)
	return res
}

// run threads the state through the steps in registration order.
// The first Failure short-circuits: remaining steps are never invoked.
func (r *registry) run(ctx context.Context, run RunInfo, input any) Result[any] {
	acc := Success[any](input)

	for i, ds := range r.steps {
		if acc.IsFailure() {
			for _, skipped := range r.steps[i:] {
				r.notifyStepSkipped(ctx, run, skipped.name)
			}
			break
		}

		stepStartTime := time.Now()
		r.notifyStepStart(ctx, run, ds.name)

		out := ds.step.Apply(ctx, acc.value)
		r.check(ds, out)

		if out.IsFailure() && ds.allow != nil && ds.allow.match(out.reason) {
			r.notifyFailureAllowed(ctx, run, ds.name, out.reason)
			out = ds.allow.fallback(ctx, acc.value, out.reason)
		}

		r.notifyStepComplete(ctx, run, ds.name, time.Since(stepStartTime), out)
		acc = out
	}

	return acc
}

// check panics when a step broke the Result contract.
func (r *registry) check(ds *definedStep, out Result[any]) {
	if !out.valid() {
		panic(&ContractError{
			Pipeline: r.name,
			Step:     ds.name,
			Err:      ErrInvalidResult,
			Detail:   "result is neither a success nor a failure",
		})
	}
	if !out.IsSuccess() {
		return
	}

	want := ds.step.OutputType()
	if out.value == nil {
		if !nillable(want) {
			panic(&ContractError{Pipeline: r.name, Step: ds.name, Err: ErrInvalidResult, Detail: fmt.Sprintf("nil value, want %v", want)})
		}
		return
	}
	if got := reflect.TypeOf(out.value); !accepts(want, got) {
		panic(&ContractError{Pipeline: r.name, Step: ds.name, Err: ErrInvalidResult, Detail: fmt.Sprintf("value is %v, want %v", got, want)})
	}
}

func (r *registry) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}
