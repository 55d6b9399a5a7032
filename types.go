// Package pipeline provides a declarative pipeline executor for service objects.
//
// A pipeline definition declares an ordered list of named steps once, at load
// time. Every step returns a Result: a Success value that is handed to the
// next step, or a Failure that short-circuits all remaining steps. A call can
// optionally run inside a transaction supplied by the caller, which is rolled
// back whenever the pipeline ends in a Failure.
//
// Example usage:
//
//	var adjust = pipeline.Define[int, int]("adjust").
//		Step("double", pipeline.TypedStep(double)).
//		Step("reject negative", pipeline.TypedStep(rejectNegative)).
//		Step("increment", pipeline.TypedStep(increment)).
//		Build()
//
//	res, err := adjust.New(5, pipeline.WithTransactor(tx)).Call(ctx)
package pipeline

// RunID identifies a single call of a pipeline for observability purposes.
// A fresh ID is generated for every instance unless set with WithRunID.
type RunID string

// StepName identifies a step within a pipeline definition.
// Steps can have optional default names via Step.Name(), with explicit control via the builder.
//
// Example:
//
//	// Explicit naming
//	b.Step("validate", pipeline.TypedStep(validateFn))
//
//	// Auto: inherit from step's default name
//	b.Step(pipeline.Auto, namedStep)
type StepName string

const (
	// Auto uses the step's default name from Step.Name().
	// Panics if the step has no default name.
	//
	// Example:
	//
	//	authStep := pipeline.NamedTypedStep("authenticate", authFn)
	//	b.Step(pipeline.Auto, authStep) // Uses "authenticate"
	Auto StepName = ""
)
