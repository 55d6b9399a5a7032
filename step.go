package pipeline

import (
	"context"
	"fmt"
	"reflect"
)

// Step represents a single step in a pipeline with typed inputs and outputs.
// Steps can be created using TypedStep or NamedTypedStep functions, or by
// implementing the interface directly.
//
// Example:
//
//	step := pipeline.TypedStep(func(ctx context.Context, input string) pipeline.Result[int] {
//		return pipeline.Success(len(input))
//	})
type Step interface {
	// Name returns the step's default name, or "" if the step has no default name.
	Name() StepName

	// Apply runs the step against the current pipeline state.
	// The only way for a step to fail is to return a Failure.
	Apply(ctx context.Context, state any) Result[any]

	// InputType returns the reflect.Type of the step's input.
	InputType() reflect.Type

	// OutputType returns the reflect.Type of the step's output.
	OutputType() reflect.Type
}

// typedStep is an implementation of Step that wraps a typed function.
type typedStep[In, Out any] struct {
	name StepName
	fn   func(context.Context, In) Result[Out]
}

// Name returns the step's default name.
func (s *typedStep[In, Out]) Name() StepName {
	return s.name
}

// Apply runs the step function with type-safe conversion.
func (s *typedStep[In, Out]) Apply(ctx context.Context, state any) Result[any] {
	typedInput, ok := cast[In](state)
	if !ok {
		panic(&TypeMismatchError{
			Expected: typeOf[In](),
			Got:      reflect.TypeOf(state),
			Context:  fmt.Sprintf("step %q input", s.name),
		})
	}

	return erase(s.fn(ctx, typedInput))
}

// InputType returns the reflect.Type of the input.
func (s *typedStep[In, Out]) InputType() reflect.Type {
	return typeOf[In]()
}

// OutputType returns the reflect.Type of the output.
func (s *typedStep[In, Out]) OutputType() reflect.Type {
	return typeOf[Out]()
}

// TypedStep creates an unnamed step from a typed function.
// The step's Name() method will return "".
// Panics with ErrMissingLogic if fn is nil.
//
// Example:
//
//	validateStep := pipeline.TypedStep(func(ctx context.Context, input string) pipeline.Result[string] {
//		if input == "" {
//			return pipeline.Failure[string]("input required")
//		}
//		return pipeline.Success(input)
//	})
//
//	b := pipeline.Define[string, string]("signup").
//		Step("validate", validateStep)
func TypedStep[In, Out any](fn func(context.Context, In) Result[Out]) Step {
	return NamedTypedStep(Auto, fn)
}

// NamedTypedStep creates a step with a default name from a typed function.
// The step's Name() method will return the provided name.
// Panics with ErrMissingLogic if fn is nil.
//
// Example:
//
//	authStep := pipeline.NamedTypedStep("authenticate", func(ctx context.Context, token string) pipeline.Result[User] {
//		// Authentication logic
//		return pipeline.Success(user)
//	})
//
//	// Use with Auto to inherit the default name
//	b.Step(pipeline.Auto, authStep) // Uses "authenticate"
//
//	// Or override with a custom name
//	b.Step("custom_auth", authStep) // Uses "custom_auth"
func NamedTypedStep[In, Out any](name StepName, fn func(context.Context, In) Result[Out]) Step {
	if fn == nil {
		panic(fmt.Errorf("%w: step %q", ErrMissingLogic, name))
	}
	return &typedStep[In, Out]{
		name: name,
		fn:   fn,
	}
}

// typeOf returns the static type T, including interface types.
func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// cast converts v to T. A nil v converts to the zero T only when T can hold nil.
func cast[T any](v any) (T, bool) {
	if v == nil {
		var zero T
		return zero, nillable(typeOf[T]())
	}
	t, ok := v.(T)
	return t, ok
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

// accepts reports whether a value of type from can be handed to a step expecting to.
func accepts(to, from reflect.Type) bool {
	return from.AssignableTo(to)
}
