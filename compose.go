package pipeline

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// compositeStep executes a sequence of steps in order.
type compositeStep struct {
	steps      []Step
	inputType  reflect.Type
	outputType reflect.Type
}

// Name returns an empty string (composite steps don't have default names).
func (s *compositeStep) Name() StepName {
	return ""
}

// Apply runs all steps in sequence and stops at the first failure,
// which is returned unchanged.
func (s *compositeStep) Apply(ctx context.Context, state any) Result[any] {
	current := Success(state)
	for i, step := range s.steps {
		current = step.Apply(ctx, current.value)
		if !current.valid() {
			panic(&ContractError{
				Step:   StepName(fmt.Sprintf("compose[%d]", i)),
				Err:    ErrInvalidResult,
				Detail: "result is neither a success nor a failure",
			})
		}
		if current.IsFailure() {
			return current
		}
	}

	return current
}

// InputType returns the reflect.Type of the input.
func (s *compositeStep) InputType() reflect.Type {
	return s.inputType
}

// OutputType returns the reflect.Type of the output.
func (s *compositeStep) OutputType() reflect.Type {
	return s.outputType
}

// Compose creates a step from a sequence of steps.
// Useful for inline composition of simple branches in conditionals.
// Type compatibility is validated at construction time.
//
// Example:
//
//	// Compose multiple steps into a single step
//	complexStep := pipeline.Compose[Input, Output](
//		pipeline.TypedStep(step1),
//		pipeline.TypedStep(step2),
//		pipeline.TypedStep(step3),
//	)
//
//	// Use in conditional
//	pipeline.If[Input, Output](
//		condition,
//		pipeline.Compose[Input, Output](thenStep1, thenStep2),
//		pipeline.Compose[Input, Output](elseStep1, elseStep2),
//	)
func Compose[In, Out any](steps ...Step) Step {
	if len(steps) == 0 {
		panic(fmt.Errorf("%w: Compose requires at least one step", ErrMissingLogic))
	}

	expectedInputType := typeOf[In]()
	expectedOutputType := typeOf[Out]()

	for i, step := range steps {
		if step == nil {
			panic(fmt.Errorf("%w: Compose step %d is nil", ErrMissingLogic, i))
		}
	}

	// Validate first step input type
	if !accepts(steps[0].InputType(), expectedInputType) {
		panic(&TypeMismatchError{
			Expected: expectedInputType,
			Got:      steps[0].InputType(),
			Context:  "Compose first step input type",
		})
	}

	// Validate sequential type compatibility
	for i := 0; i < len(steps)-1; i++ {
		currentOutput := steps[i].OutputType()
		nextInput := steps[i+1].InputType()

		if !accepts(nextInput, currentOutput) {
			panic(&TypeMismatchError{
				Expected: nextInput,
				Got:      currentOutput,
				Context:  fmt.Sprintf("Compose step %d output to step %d input", i, i+1),
			})
		}
	}

	// Validate last step output type
	if !accepts(expectedOutputType, steps[len(steps)-1].OutputType()) {
		panic(&TypeMismatchError{
			Expected: expectedOutputType,
			Got:      steps[len(steps)-1].OutputType(),
			Context:  "Compose last step output type",
		})
	}

	return &compositeStep{
		steps:      steps,
		inputType:  expectedInputType,
		outputType: expectedOutputType,
	}
}

// definitionAsStep represents a definition wrapped as a step.
type definitionAsStep struct {
	reg *registry
}

// Name returns the definition name as the default step name.
func (s *definitionAsStep) Name() StepName {
	return StepName(s.reg.name)
}

// Apply runs the nested pipeline within the caller's context, and so within
// the caller's transaction if there is one.
func (s *definitionAsStep) Apply(ctx context.Context, state any) Result[any] {
	run := RunInfo{Pipeline: s.reg.name}
	if parent, ok := RunFromContext(ctx); ok {
		run.RunID = parent.RunID
	} else {
		run.RunID = RunID(uuid.NewString())
	}
	return s.reg.execute(ctx, run, state)
}

// InputType returns the definition's input type.
func (s *definitionAsStep) InputType() reflect.Type {
	return s.reg.input
}

// OutputType returns the output type of the definition's last step.
func (s *definitionAsStep) OutputType() reflect.Type {
	return s.reg.output
}

// AsStep converts a definition into a Step that can be used in other definitions.
// The definition name is used as the default step name. The nested steps
// notify the nested definition's observers under the caller's run ID.
//
// Example:
//
//	// Define reusable sub-pipeline
//	var authenticate = pipeline.Define[Request, Request]("authentication").
//		Step("validate_token", pipeline.TypedStep(validateToken)).
//		Step("load_user", pipeline.TypedStep(loadUser)).
//		Build()
//
//	// Use as step in main pipeline
//	var handle = pipeline.Define[Request, Response]("handle").
//		Step(pipeline.Auto, authenticate.AsStep()). // Uses "authentication"
//		Step("process", pipeline.TypedStep(processRequest)).
//		Build()
func (d *Definition[In, Out]) AsStep() Step {
	d.mustBeBuilt()

	return &definitionAsStep{
		reg: d.reg,
	}
}
