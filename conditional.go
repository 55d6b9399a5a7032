package pipeline

import (
	"context"
	"fmt"
	"reflect"
)

// conditionalStep executes either thenStep or elseStep based on a condition.
type conditionalStep[In, Out any] struct {
	condition func(In) bool
	thenStep  Step
	elseStep  Step
}

// Name returns an empty string (conditional steps don't have default names).
func (s *conditionalStep[In, Out]) Name() StepName {
	return ""
}

// Apply evaluates the condition and executes the appropriate branch.
func (s *conditionalStep[In, Out]) Apply(ctx context.Context, state any) Result[any] {
	typedInput, ok := cast[In](state)
	if !ok {
		panic(&TypeMismatchError{
			Expected: typeOf[In](),
			Got:      reflect.TypeOf(state),
			Context:  "conditional step input",
		})
	}

	if s.condition(typedInput) {
		return s.thenStep.Apply(ctx, state)
	}
	return s.elseStep.Apply(ctx, state)
}

// InputType returns the reflect.Type of the input.
func (s *conditionalStep[In, Out]) InputType() reflect.Type {
	return typeOf[In]()
}

// OutputType returns the reflect.Type of the output.
func (s *conditionalStep[In, Out]) OutputType() reflect.Type {
	return typeOf[Out]()
}

// If creates a step that executes thenStep or elseStep based on a condition.
// Both branches must accept In and produce Out.
//
// Example:
//
//	b.Step("route", pipeline.If[CheckRequest, ProcessingResult](
//		func(r CheckRequest) bool { return r.IsPremium },
//		pipeline.TypedStep(processPremiumUser),
//		pipeline.TypedStep(processStandardUser),
//	))
func If[In, Out any](
	condition func(In) bool,
	thenStep Step,
	elseStep Step,
) Step {
	if condition == nil || thenStep == nil || elseStep == nil {
		panic(fmt.Errorf("%w: If needs a condition and both branches", ErrMissingLogic))
	}

	expectedInputType := typeOf[In]()
	expectedOutputType := typeOf[Out]()

	branches := []struct {
		label string
		step  Step
	}{
		{"thenStep", thenStep},
		{"elseStep", elseStep},
	}
	for _, b := range branches {
		if !accepts(b.step.InputType(), expectedInputType) {
			panic(&TypeMismatchError{
				Expected: expectedInputType,
				Got:      b.step.InputType(),
				Context:  fmt.Sprintf("If %s input type", b.label),
			})
		}
		if !accepts(expectedOutputType, b.step.OutputType()) {
			panic(&TypeMismatchError{
				Expected: expectedOutputType,
				Got:      b.step.OutputType(),
				Context:  fmt.Sprintf("If %s output type", b.label),
			})
		}
	}

	return &conditionalStep[In, Out]{
		condition: condition,
		thenStep:  thenStep,
		elseStep:  elseStep,
	}
}
