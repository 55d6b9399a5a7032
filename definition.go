package pipeline

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
)

// definedStep wraps a Step with its configured name and failure policy.
type definedStep struct {
	step  Step
	name  StepName
	allow *allowance
}

// registry is the frozen, type-erased step list shared by every instance of a definition.
type registry struct {
	name      string
	steps     []*definedStep
	input     reflect.Type
	output    reflect.Type
	observers []Observer
	logger    *slog.Logger
}

// Builder registers the steps of a pipeline definition.
// It is used once, at definition time, and then frozen with Build.
//
// Example:
//
//	var signup = pipeline.Define[SignupInput, User]("signup").
//		WithSchema(signupSchema).
//		Step("validate", pipeline.TypedStep(validateInput)).
//		Step("create_user", pipeline.TypedStep(createUser)).
//		Build()
type Builder[In, Out any] struct {
	name      string
	steps     []*definedStep
	output    reflect.Type
	observers []Observer
	logger    *slog.Logger
	schema    InputSchema[In]
}

// Define starts a new pipeline definition with the given name.
// Every definition owns an independent registry; nothing is inherited unless
// Extend is used.
func Define[In, Out any](name string) *Builder[In, Out] {
	return &Builder[In, Out]{
		name:   name,
		steps:  make([]*definedStep, 0),
		output: typeOf[In](),
	}
}

// Step appends a step to the definition. Steps run in registration order.
// If name is Auto, the step's default name from Step.Name() is used.
// Panics if step is nil, if name is Auto and the step has no default name,
// or if the step's input type doesn't accept the previous step's output type.
//
// Example:
//
//	// Explicit naming
//	b.Step("validate", pipeline.TypedStep(validateFn))
//
//	// Auto: inherit from step's default name
//	namedStep := pipeline.NamedTypedStep("process", processFn)
//	b.Step(pipeline.Auto, namedStep) // Uses "process"
func (b *Builder[In, Out]) Step(name StepName, step Step, opts ...StepOption) *Builder[In, Out] {
	if step == nil {
		panic(fmt.Errorf("%w: step %q in pipeline %q", ErrMissingLogic, name, b.name))
	}

	actualName := name
	if name == Auto {
		if step.Name() == "" {
			panic(fmt.Errorf("%w: step has no default name", ErrInvalidStepName))
		}
		actualName = step.Name()
	}

	if !accepts(step.InputType(), b.output) {
		panic(&TypeMismatchError{
			Expected: step.InputType(),
			Got:      b.output,
			Context:  fmt.Sprintf("step '%s' input type", actualName),
		})
	}

	config := &stepConfig{}
	for _, opt := range opts {
		opt(config)
	}
	if config.allow != nil {
		config.allow.check(actualName, step)
	}

	b.output = step.OutputType()
	b.steps = append(b.steps, &definedStep{
		step:  step,
		name:  actualName,
		allow: config.allow,
	})

	return b
}

// Extend copies the steps of a parent definition into this one.
// Parent steps run before the steps registered on this builder, so Extend
// must be called before the first Step.
//
// Example:
//
//	var base = pipeline.Define[Order, Order]("base").
//		Step("authorize", pipeline.TypedStep(authorize)).
//		Build()
//
//	var refund = pipeline.Define[Order, Receipt]("refund").
//		Extend(base).
//		Step("refund", pipeline.TypedStep(refundOrder)).
//		Build()
func (b *Builder[In, Out]) Extend(parent Parent) *Builder[In, Out] {
	if len(b.steps) > 0 {
		panic(fmt.Errorf("%w: pipeline %q", ErrExtendAfterSteps, b.name))
	}
	reg := parent.frozen()
	if reg == nil {
		panic(&ContractError{Pipeline: b.name, Err: ErrAbstractPipeline, Detail: "cannot extend an unbuilt definition"})
	}
	if !accepts(reg.input, b.output) {
		panic(&TypeMismatchError{
			Expected: reg.input,
			Got:      b.output,
			Context:  fmt.Sprintf("parent pipeline %q input type", reg.name),
		})
	}

	b.steps = append(b.steps, reg.steps...)
	b.output = reg.output
	return b
}

// WithObserver adds an observer to the definition.
// Multiple observers can be added and all will be notified of events.
//
// Example:
//
//	b := pipeline.Define[In, Out]("checkout").
//		WithObserver(observe.NewLogger(logger)).
//		WithObserver(metrics)
func (b *Builder[In, Out]) WithObserver(observer Observer) *Builder[In, Out] {
	b.observers = append(b.observers, observer)
	return b
}

// WithLogger sets the logger used to report observer panics.
// Defaults to slog.Default() at call time.
func (b *Builder[In, Out]) WithLogger(logger *slog.Logger) *Builder[In, Out] {
	b.logger = logger
	return b
}

// WithSchema sets the input schema used by Definition.Construct.
func (b *Builder[In, Out]) WithSchema(schema InputSchema[In]) *Builder[In, Out] {
	b.schema = schema
	return b
}

// Build freezes the registered steps into a Definition.
// Later calls to the builder do not affect definitions already built.
// Panics if the last step's output type (or In, for an empty definition)
// is not assignable to Out.
func (b *Builder[In, Out]) Build() *Definition[In, Out] {
	if !accepts(typeOf[Out](), b.output) {
		panic(&TypeMismatchError{
			Expected: typeOf[Out](),
			Got:      b.output,
			Context:  fmt.Sprintf("pipeline '%s' output type", b.name),
		})
	}

	return &Definition[In, Out]{
		reg: &registry{
			name:      b.name,
			steps:     slices.Clone(b.steps),
			input:     typeOf[In](),
			output:    b.output,
			observers: slices.Clone(b.observers),
			logger:    b.logger,
		},
		schema: b.schema,
	}
}

// Parent is implemented by every Definition and can be passed to Builder.Extend.
type Parent interface {
	frozen() *registry
}

// Definition is a built, immutable pipeline definition. It is safe for
// concurrent use; every call runs on its own Instance.
//
// The zero Definition was never built and cannot be instantiated.
type Definition[In, Out any] struct {
	reg    *registry
	schema InputSchema[In]
}

func (d *Definition[In, Out]) frozen() *registry {
	if d == nil {
		return nil
	}
	return d.reg
}

// Name returns the definition name.
func (d *Definition[In, Out]) Name() string {
	d.mustBeBuilt()
	return d.reg.name
}

// Steps returns the step names in execution order.
func (d *Definition[In, Out]) Steps() []StepName {
	d.mustBeBuilt()
	names := make([]StepName, len(d.reg.steps))
	for i, ds := range d.reg.steps {
		names[i] = ds.name
	}
	return names
}

func (d *Definition[In, Out]) mustBeBuilt() {
	if d == nil || d.reg == nil {
		panic(&ContractError{
			Err:    ErrAbstractPipeline,
			Detail: fmt.Sprintf("%T must be created with Define(...).Build()", d),
		})
	}
}

// stepConfig holds configuration options for a step.
type stepConfig struct {
	allow *allowance
}

// StepOption is a functional option for configuring step behavior.
type StepOption func(*stepConfig)
