package pipeline

import "fmt"

type variant uint8

const (
	unset variant = iota
	succeeded
	failed
)

// Result is the outcome of a step or of a whole pipeline: either Success
// carrying a value, or Failure carrying a reason.
//
// The zero Result holds neither variant. Steps must never return it.
//
// Example:
//
//	func rejectNegative(ctx context.Context, x int) pipeline.Result[int] {
//		if x < 0 {
//			return pipeline.Failure[int]("negative")
//		}
//		return pipeline.Success(x)
//	}
type Result[T any] struct {
	value   T
	reason  any
	variant variant
}

// Success returns a successful Result holding value.
func Success[T any](value T) Result[T] {
	return Result[T]{value: value, variant: succeeded}
}

// Failure returns a failed Result holding reason.
// The reason is handed back to the caller unchanged.
func Failure[T any](reason any) Result[T] {
	return Result[T]{reason: reason, variant: failed}
}

// IsSuccess reports whether r is a Success.
func (r Result[T]) IsSuccess() bool {
	return r.variant == succeeded
}

// IsFailure reports whether r is a Failure.
func (r Result[T]) IsFailure() bool {
	return r.variant == failed
}

// Value returns the success value, or the zero value of T if r is not a Success.
func (r Result[T]) Value() T {
	return r.value
}

// Reason returns the failure reason, or nil if r is not a Failure.
func (r Result[T]) Reason() any {
	return r.reason
}

// Get returns the success value and true, or the zero value and false.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.variant == succeeded
}

// Err returns the failure as an error, or nil for a Success.
// Reasons that already are errors are wrapped, so errors.Is still matches them.
func (r Result[T]) Err() error {
	if r.variant != failed {
		return nil
	}
	return &FailureError{Reason: r.reason}
}

// String implements fmt.Stringer.
func (r Result[T]) String() string {
	switch r.variant {
	case succeeded:
		return fmt.Sprintf("Success(%v)", r.value)
	case failed:
		return fmt.Sprintf("Failure(%v)", r.reason)
	default:
		return "Result(<unset>)"
	}
}

func (r Result[T]) valid() bool {
	return r.variant != unset
}

// FailureAs returns the failure reason of r as an E.
// It returns false if r is not a Failure or the reason is not an E.
//
// Example:
//
//	if reason, ok := pipeline.FailureAs[string](res); ok {
//		log.Printf("rejected: %s", reason)
//	}
func FailureAs[E any, T any](r Result[T]) (E, bool) {
	var zero E
	if !r.IsFailure() {
		return zero, false
	}
	e, ok := r.reason.(E)
	if !ok {
		return zero, false
	}
	return e, true
}

// erase converts a typed Result into the untyped form threaded through the executor.
func erase[T any](r Result[T]) Result[any] {
	return Result[any]{value: r.value, reason: r.reason, variant: r.variant}
}

// narrow converts an untyped Result back into a typed one.
// The second return value is false when a Success value is not a T.
func narrow[T any](r Result[any]) (Result[T], bool) {
	out := Result[T]{reason: r.reason, variant: r.variant}
	if r.variant != succeeded {
		return out, true
	}
	v, ok := cast[T](r.value)
	if !ok {
		return out, false
	}
	out.value = v
	return out, true
}
