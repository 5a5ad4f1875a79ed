package mapping

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator decides whether a mapping rule applies to a payload.
type ConditionEvaluator interface {
	EvaluateBool(expression string, env map[string]any) (bool, error)
}

// ExprConditionEvaluator evaluates rule conditions with expr-lang.
// Compiled programs are cached by expression string; the cache is safe for
// concurrent use since the engine runs from multiple requests at once.
type ExprConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprConditionEvaluator creates an evaluator with an empty program cache.
func NewExprConditionEvaluator() *ExprConditionEvaluator {
	return &ExprConditionEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// EvaluateBool compiles (or reuses) the expression and runs it against env.
// Top-level payload keys are visible as identifiers; the full flat map is
// also available as `payload` for keys containing dots.
func (e *ExprConditionEvaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	e.mu.RLock()
	prog, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(expression, expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition: %w", err)
		}
		e.mu.Lock()
		e.cache[expression] = prog
		e.mu.Unlock()
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	isTrue, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return bool")
	}
	return isTrue, nil
}

// CompileCondition checks an expression without running it. Used at
// configuration time so bad conditions fail fast instead of at ingest.
func CompileCondition(expression string) error {
	_, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile condition: %w", err)
	}
	return nil
}
