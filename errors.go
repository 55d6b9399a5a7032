package pipeline

import (
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrMissingLogic is raised when a step is registered without logic.
	ErrMissingLogic = errors.New("step has no logic")

	// ErrInvalidStepName is raised when attempting to use Auto with an unnamed step.
	ErrInvalidStepName = errors.New("cannot use Auto with unnamed step")

	// ErrExtendAfterSteps is raised when Extend is called after steps were registered.
	ErrExtendAfterSteps = errors.New("parent definition must be extended before registering steps")

	// ErrAbstractPipeline is raised when an instance is constructed from a
	// definition that was never built with Define(...).Build().
	ErrAbstractPipeline = errors.New("pipeline definition was not built")

	// ErrInvalidResult is raised when a step returns a Result with no variant,
	// or a Success whose value does not match the step's output type.
	ErrInvalidResult = errors.New("step returned an invalid result")

	// ErrNoInputSchema is returned by Construct when the definition has no input schema.
	ErrNoInputSchema = errors.New("pipeline definition has no input schema")

	// ErrRollback is returned from the function run inside a Transactor to request
	// a rollback. Transactors must roll back and return nil for it.
	ErrRollback = errors.New("rollback requested")
)

// TypeMismatchError is raised when there's a type mismatch between pipeline steps.
type TypeMismatchError struct {
	Expected reflect.Type
	Got      reflect.Type
	Context  string
}

// Error returns the error message.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected type %v, got %v", e.Context, e.Expected, e.Got)
}

// ContractError reports a programming error detected while constructing or
// running a pipeline. It is always raised with panic, never returned as a
// Failure, so a bug cannot be mistaken for a business outcome.
type ContractError struct {
	Pipeline string
	Step     StepName
	Err      error
	Detail   string
}

// Error returns the error message.
func (e *ContractError) Error() string {
	msg := fmt.Sprintf("pipeline %q", e.Pipeline)
	if e.Step != "" {
		msg += fmt.Sprintf(" step %q", e.Step)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the underlying sentinel.
func (e *ContractError) Unwrap() error {
	return e.Err
}

// ValidationError is returned when raw input is rejected by a definition's input schema.
type ValidationError struct {
	Pipeline string
	Err      error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline %q: invalid input: %v", e.Pipeline, e.Err)
}

// Unwrap returns the schema error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// GRPCStatus maps a validation error to codes.InvalidArgument.
func (e *ValidationError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

// FailureError presents the reason of a Failure result as an error.
type FailureError struct {
	Reason any
}

// Error returns the error message.
func (e *FailureError) Error() string {
	if err, ok := e.Reason.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Reason)
}

// Unwrap returns the reason if it is itself an error.
func (e *FailureError) Unwrap() error {
	err, _ := e.Reason.(error)
	return err
}

// GRPCStatus keeps the status of reasons that carry one and maps every
// other business failure to codes.FailedPrecondition.
func (e *FailureError) GRPCStatus() *status.Status {
	if err, ok := e.Reason.(error); ok {
		if st, ok := status.FromError(err); ok {
			return st
		}
	}
	return status.New(codes.FailedPrecondition, e.Error())
}

// StatusOf maps a pipeline outcome to a gRPC status, for endpoint handlers
// that return pipeline results directly.
//
// Example:
//
//	res, err := def.New(req).Call(ctx)
//	if err != nil {
//		return nil, status.Error(codes.Internal, err.Error())
//	}
//	if err := pipeline.StatusOf(res).Err(); err != nil {
//		return nil, err
//	}
func StatusOf[T any](r Result[T]) *status.Status {
	if r.IsSuccess() {
		return status.New(codes.OK, "")
	}
	if !r.IsFailure() {
		return status.New(codes.Internal, ErrInvalidResult.Error())
	}
	var fe *FailureError
	errors.As(r.Err(), &fe)
	return fe.GRPCStatus()
}
