// Package cel provides the optional per-rule CEL condition evaluator
// (spec §9, "Messenger adapter" sibling enrichment beyond spec.md's bare
// pattern/action/description rule). It implements
// permission.ConditionEvaluator.
package cel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// maxExpressionLength bounds the size of a rule's condition expression.
const maxExpressionLength = 1024

// maxCostBudget caps the CEL runtime cost, guarding against expensive or
// adversarial expressions in an operator-supplied policy document.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket nesting in a condition.
const maxNestingDepth = 50

// evalTimeout bounds a single condition evaluation. The engine's transport
// safety invariant (no network I/O during policy evaluation) holds
// regardless — this timeout guards against runaway comprehensions, not I/O.
const evalTimeout = 5 * time.Second

const interruptCheckFreq = 100

// Evaluator compiles and caches CEL programs for rule conditions, exposing
// just the two variables a permission rule's condition needs: tool and
// args.
type Evaluator struct {
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEvaluator builds an Evaluator with the tool/args CEL environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newConditionEnvironment()
	if err != nil {
		return nil, fmt.Errorf("build CEL environment: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func newConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					v, ok2 := value.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// ValidateExpression checks that expr is syntactically valid, within the
// size/nesting limits, and compiles cleanly. Call this when loading a
// policy document so a malformed condition is a startup ConfigError
// instead of a runtime surprise.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if depth := nestingDepth(expr); depth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", depth, maxNestingDepth)
	}
	_, err := e.compile(expr)
	return err
}

func nestingDepth(expr string) int {
	var depth, max int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > max {
				max = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	return max
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build condition program: %w", err)
	}
	e.programs[expr] = prg
	return prg, nil
}

// Evaluate implements permission.ConditionEvaluator: compiles expr (cached
// by expression text) and runs it against tool/args, returning whether the
// condition holds.
func (e *Evaluator) Evaluate(expr string, toolName string, args map[string]any) (bool, error) {
	prg, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	if args == nil {
		args = map[string]any{}
	}
	activation := map[string]any{"tool": toolName, "args": args}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}
