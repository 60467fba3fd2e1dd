package permission

import (
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
	"github.com/TorbenWetter/agent-gate/internal/domain/signature"
	"github.com/TorbenWetter/agent-gate/internal/domain/validation"
)

// ConditionEvaluator evaluates a rule's optional CEL condition over a
// (tool, args) activation. Implementations live in an outbound adapter so
// this package has no direct CEL dependency.
type ConditionEvaluator interface {
	Evaluate(expr string, toolName string, args map[string]any) (bool, error)
}

// ruleIndex buckets one action's rules into an exact-match table, keyed by
// an xxhash of the pattern, and a residual wildcard slice checked via
// filepath.Match. Patterns with no glob metacharacters land in the exact
// table for O(1) lookup; the rest fall through to the linear scan.
type ruleIndex struct {
	exact    map[uint64][]Rule
	wildcard []Rule
}

func buildIndex(rules []Rule, action Action) ruleIndex {
	idx := ruleIndex{exact: make(map[uint64][]Rule)}
	for _, r := range rules {
		if r.Action != action {
			continue
		}
		if isLiteral(r.Pattern) {
			h := xxhash.Sum64String(r.Pattern)
			idx.exact[h] = append(idx.exact[h], r)
		} else {
			idx.wildcard = append(idx.wildcard, r)
		}
	}
	return idx
}

func isLiteral(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return false
		}
	}
	return true
}

// match reports whether any rule in the index matches sig, evaluating each
// candidate's optional CEL condition (if a ConditionEvaluator is supplied)
// after the glob match succeeds.
func (idx ruleIndex) match(sig, toolName string, args map[string]any, eval ConditionEvaluator) (Rule, bool, error) {
	if candidates, ok := idx.exact[xxhash.Sum64String(sig)]; ok {
		for _, r := range candidates {
			if r.Pattern == sig {
				ok, err := conditionHolds(r, toolName, args, eval)
				if err != nil {
					return Rule{}, false, err
				}
				if ok {
					return r, true, nil
				}
			}
		}
	}
	for _, r := range idx.wildcard {
		matched, err := filepath.Match(r.Pattern, sig)
		if err != nil || !matched {
			continue
		}
		ok, err := conditionHolds(r, toolName, args, eval)
		if err != nil {
			return Rule{}, false, err
		}
		if ok {
			return r, true, nil
		}
	}
	return Rule{}, false, nil
}

func conditionHolds(r Rule, toolName string, args map[string]any, eval ConditionEvaluator) (bool, error) {
	if r.Condition == "" || eval == nil {
		return true, nil
	}
	return eval.Evaluate(r.Condition, toolName, args)
}

// Engine evaluates tool requests against a compiled Permissions document.
// Evaluate is O(N) in the number of rules: one pass per action in the
// three-pass scan, plus one ordered pass over defaults.
type Engine struct {
	permissions Permissions
	deny        ruleIndex
	allow       ruleIndex
	ask         ruleIndex
	validator   *validation.ArgumentValidator
	builder     *signature.Builder
	conditions  ConditionEvaluator
}

// NewEngine compiles permissions into an Engine. conditions may be nil, in
// which case rules with a non-empty Condition match unconditionally (the
// same as if the condition were absent) — callers that want CEL
// enrichment must supply an evaluator.
func NewEngine(permissions Permissions, conditions ConditionEvaluator) *Engine {
	return &Engine{
		permissions: permissions,
		deny:        buildIndex(permissions.Rules, ActionDeny),
		allow:       buildIndex(permissions.Rules, ActionAllow),
		ask:         buildIndex(permissions.Rules, ActionAsk),
		validator:   validation.NewArgumentValidator(),
		builder:     signature.NewBuilder(),
		conditions:  conditions,
	}
}

// Result is the engine's verdict plus the signature it computed, which the
// caller needs for audit entries and (on ASK) the approval prompt.
type Result struct {
	Decision  gateway.Decision
	Signature string
}

// Evaluate runs the full algorithm from spec §4.D: validate, build
// signature, three-pass rule scan (deny, allow, ask), defaults pass,
// fallback to ASK. Evaluate never performs network I/O — the CEL
// evaluator, if any, is a pure in-process function.
func (e *Engine) Evaluate(toolName string, args map[string]any) (Result, error) {
	if err := e.validator.Validate(toolName, args); err != nil {
		return Result{}, err
	}

	sig := e.builder.Build(toolName, args)

	if r, ok, err := e.deny.match(sig, toolName, args, e.conditions); err != nil {
		return Result{}, err
	} else if ok {
		_ = r
		return Result{Decision: gateway.DecisionDeny, Signature: sig}, nil
	}

	if r, ok, err := e.allow.match(sig, toolName, args, e.conditions); err != nil {
		return Result{}, err
	} else if ok {
		_ = r
		return Result{Decision: gateway.DecisionAllow, Signature: sig}, nil
	}

	if r, ok, err := e.ask.match(sig, toolName, args, e.conditions); err != nil {
		return Result{}, err
	} else if ok {
		_ = r
		return Result{Decision: gateway.DecisionAsk, Signature: sig}, nil
	}

	for _, d := range e.permissions.Defaults {
		matched, err := filepath.Match(d.Pattern, sig)
		if err != nil {
			continue
		}
		if matched {
			ok, err := conditionHolds(d, toolName, args, e.conditions)
			if err != nil {
				return Result{}, err
			}
			if ok {
				return Result{Decision: d.Action.Decision(), Signature: sig}, nil
			}
		}
	}

	return Result{Decision: gateway.DecisionAsk, Signature: sig}, nil
}
