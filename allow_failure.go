package pipeline

import (
	"context"
	"fmt"
	"reflect"
)

// allowance replaces selected failures of a step with a fallback success.
type allowance struct {
	match    func(reason any) bool
	fallback func(ctx context.Context, state any, reason any) Result[any]
	input    reflect.Type
	output   reflect.Type
}

// check panics if the fallback does not fit the step it is attached to.
func (a *allowance) check(name StepName, step Step) {
	if !accepts(a.input, step.InputType()) {
		panic(&TypeMismatchError{
			Expected: a.input,
			Got:      step.InputType(),
			Context:  fmt.Sprintf("AllowFailure input type of step '%s'", name),
		})
	}
	if !accepts(step.OutputType(), a.output) {
		panic(&TypeMismatchError{
			Expected: step.OutputType(),
			Got:      a.output,
			Context:  fmt.Sprintf("AllowFailure output type of step '%s'", name),
		})
	}
}

// AllowFailure returns a StepOption that bypasses matching failures of a step.
// When the step fails and match reports true, fallback is called with the
// step's input and the failure reason, and its value is used as the step's
// success output. Non-matching failures short-circuit as usual.
// Panics with ErrMissingLogic if match or fallback is nil.
//
// Example:
//
//	b.Step("transition", pipeline.TypedStep(transition),
//		pipeline.AllowFailure(
//			func(reason any) bool { return reason == ErrTransitionRejected },
//			func(ctx context.Context, in Order, reason any) Order { return in },
//		))
func AllowFailure[In, Out any](match func(reason any) bool, fallback func(ctx context.Context, input In, reason any) Out) StepOption {
	if match == nil || fallback == nil {
		panic(fmt.Errorf("%w: AllowFailure needs a matcher and a fallback", ErrMissingLogic))
	}

	a := &allowance{
		match: match,
		fallback: func(ctx context.Context, state any, reason any) Result[any] {
			in, _ := cast[In](state)
			return Success[any](fallback(ctx, in, reason))
		},
		input:  typeOf[In](),
		output: typeOf[Out](),
	}
	return func(sc *stepConfig) {
		sc.allow = a
	}
}
