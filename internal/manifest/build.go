package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tobbstr/pipeline"
	"github.com/tobbstr/pipeline/schema"
	"github.com/tobbstr/pipeline/txsql"
)

// AnyReason in allow_failure matches every rejection.
const AnyReason = "*"

// Rejection is the failure reason of a fail_if step.
type Rejection struct {
	Step   string
	Reason string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Step, r.Reason)
}

// Env holds what a manifest needs from its host to be built.
type Env struct {
	// DB backs exec steps. Within a transactional call the statements run
	// on the call's transaction.
	DB        *sql.DB
	Logger    *slog.Logger
	Observers []pipeline.Observer
}

type compiledStep struct {
	cfg    StepConfig
	when   *vm.Program
	keys   []string
	set    map[string]*vm.Program
	failIf *vm.Program
	args   []*vm.Program
}

func compile(step, field, src string) (*vm.Program, error) {
	p, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("step %q: %s: %w", step, field, err)
	}
	return p, nil
}

func compileStep(sc StepConfig) (*compiledStep, error) {
	kinds := 0
	for _, set := range []bool{len(sc.Set) > 0, sc.FailIf != "", sc.Exec != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, fmt.Errorf("step %q: exactly one of set, fail_if and exec is required", sc.Name)
	}
	if len(sc.Args) > 0 && sc.Exec == "" {
		return nil, fmt.Errorf("step %q: args require exec", sc.Name)
	}

	cs := &compiledStep{cfg: sc}
	var err error
	if sc.When != "" {
		if cs.when, err = compile(sc.Name, "when", sc.When); err != nil {
			return nil, err
		}
	}
	if sc.FailIf != "" {
		if cs.failIf, err = compile(sc.Name, "fail_if", sc.FailIf); err != nil {
			return nil, err
		}
	}
	if len(sc.Set) > 0 {
		cs.keys = slices.Sorted(maps.Keys(sc.Set))
		cs.set = make(map[string]*vm.Program, len(sc.Set))
		for _, k := range cs.keys {
			if cs.set[k], err = compile(sc.Name, "set "+k, sc.Set[k]); err != nil {
				return nil, err
			}
		}
	}
	for i, a := range sc.Args {
		p, err := compile(sc.Name, fmt.Sprintf("args[%d]", i), a)
		if err != nil {
			return nil, err
		}
		cs.args = append(cs.args, p)
	}
	return cs, nil
}

// apply runs the step against state. It never modifies state.
func (cs *compiledStep) apply(ctx context.Context, db *sql.DB, state State) pipeline.Result[State] {
	switch {
	case cs.set != nil:
		next := maps.Clone(state)
		if next == nil {
			next = State{}
		}
		for _, k := range cs.keys {
			v, err := expr.Run(cs.set[k], state)
			if err != nil {
				return pipeline.Failure[State](fmt.Errorf("step %q: set %s: %w", cs.cfg.Name, k, err))
			}
			next[k] = v
		}
		return pipeline.Success(next)

	case cs.failIf != nil:
		v, err := expr.Run(cs.failIf, state)
		if err != nil {
			return pipeline.Failure[State](fmt.Errorf("step %q: fail_if: %w", cs.cfg.Name, err))
		}
		fail, ok := v.(bool)
		if !ok {
			return pipeline.Failure[State](fmt.Errorf("step %q: fail_if returned %T, want bool", cs.cfg.Name, v))
		}
		if fail {
			return pipeline.Failure[State](Rejection{Step: cs.cfg.Name, Reason: cs.cfg.Reason})
		}
		return pipeline.Success(state)

	default:
		args := make([]any, len(cs.args))
		for i, p := range cs.args {
			v, err := expr.Run(p, state)
			if err != nil {
				return pipeline.Failure[State](fmt.Errorf("step %q: args[%d]: %w", cs.cfg.Name, i, err))
			}
			args[i] = v
		}
		if _, err := txsql.Executor(ctx, db).ExecContext(ctx, cs.cfg.Exec, args...); err != nil {
			return pipeline.Failure[State](fmt.Errorf("step %q: exec: %w", cs.cfg.Name, err))
		}
		return pipeline.Success(state)
	}
}

// step turns the compiled step into a pipeline step. A when expression that
// is false, or cannot be evaluated, skips the step and keeps the state.
func (cs *compiledStep) step(db *sql.DB) pipeline.Step {
	run := pipeline.NamedTypedStep(pipeline.StepName(cs.cfg.Name), func(ctx context.Context, state State) pipeline.Result[State] {
		return cs.apply(ctx, db, state)
	})
	if cs.when == nil {
		return run
	}

	keep := pipeline.TypedStep(func(ctx context.Context, state State) pipeline.Result[State] {
		return pipeline.Success(state)
	})
	return pipeline.If[State, State](func(state State) bool {
		v, err := expr.Run(cs.when, state)
		if err != nil {
			return false
		}
		b, _ := v.(bool)
		return b
	}, run, keep)
}

// options returns the step options of the step. allow_failure lets the
// listed rejection reasons through and keeps the state.
func (cs *compiledStep) options() []pipeline.StepOption {
	if len(cs.cfg.AllowFailure) == 0 {
		return nil
	}
	allowed := cs.cfg.AllowFailure
	return []pipeline.StepOption{
		pipeline.AllowFailure(
			func(reason any) bool {
				rej, ok := reason.(Rejection)
				if !ok {
					return false
				}
				return slices.Contains(allowed, AnyReason) || slices.Contains(allowed, rej.Reason)
			},
			func(ctx context.Context, state State, reason any) State {
				return state
			},
		),
	}
}

func (m *Manifest) inputSchema() (*schema.Schema[State], error) {
	src, err := m.schemaJSON()
	if err != nil {
		return nil, err
	}
	s, err := schema.Compile[State](m.Name, src)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: input schema: %w", m.Name, err)
	}
	return s, nil
}

// Build validates the manifest and builds its pipeline definition.
func (m *Manifest) Build(env Env) (*pipeline.Definition[State, State], error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	b := pipeline.Define[State, State](m.Name).WithLogger(env.Logger)
	for _, obs := range env.Observers {
		b.WithObserver(obs)
	}
	if m.Input != nil {
		s, err := m.inputSchema()
		if err != nil {
			return nil, err
		}
		b.WithSchema(s)
	}

	for _, sc := range m.Steps {
		cs, err := compileStep(sc)
		if err != nil {
			return nil, err
		}
		if sc.Exec != "" && env.DB == nil {
			return nil, fmt.Errorf("step %q: exec requires a database", sc.Name)
		}
		b.Step(pipeline.StepName(sc.Name), cs.step(env.DB), cs.options()...)
	}
	return b.Build(), nil
}
