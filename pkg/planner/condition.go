package planner

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/coordinator/pkg/definition"
)

// ConditionEvaluator compiles and caches CEL programs for transition
// conditions, keyed by expression text so repeated firings of the same
// transition across tokens never recompile.
//
// Variables exposed to the expression are {input, state, output} — the
// snapshot's three namespaces addressed directly by name, rather than the
// generic {output, ctx} pair a single-stage task evaluator needs, since a
// transition condition can reference any part of the run's context.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
	env   *cel.Env
}

// NewConditionEvaluator builds the shared CEL environment once.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.DynType),
		cel.Variable("state", cel.DynType),
		cel.Variable("output", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("condition: create CEL env: %w", err)
	}
	return &ConditionEvaluator{
		cache: make(map[string]cel.Program),
		env:   env,
	}, nil
}

// Eval evaluates cond against context (the composite {input,state,output}
// map produced by contextstore.Store.Snapshot). A nil cond always matches.
func (e *ConditionEvaluator) Eval(cond *definition.Condition, context map[string]any) (bool, error) {
	if cond == nil {
		return true, nil
	}

	prg, err := e.program(cond.Expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"input":  context["input"],
		"state":  context["state"],
		"output": context["output"],
	})
	if err != nil {
		return false, fmt.Errorf("condition: eval %q: %w", cond.Expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition: expression %q did not return a bool, got %T", cond.Expression, out.Value())
	}
	return result, nil
}

func (e *ConditionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition: compile %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition: build program %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
