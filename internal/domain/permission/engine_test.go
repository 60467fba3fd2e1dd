package permission

import (
	"testing"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
)

func TestEngine_DenyAlwaysWins(t *testing.T) {
	p := Permissions{
		Rules: []Rule{
			{Pattern: "ha_call_service(lock.*)", Action: ActionDeny},
			{Pattern: "ha_call_service(lock.front_door)", Action: ActionAllow},
		},
	}
	e := NewEngine(p, nil)

	result, err := e.Evaluate("ha_call_service", map[string]any{
		"domain": "lock", "service": "unlock", "entity_id": "lock.front_door",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != gateway.DecisionDeny {
		t.Errorf("expected DENY to win over a more specific ALLOW, got %s", result.Decision)
	}
}

func TestEngine_PolicyDenyExample(t *testing.T) {
	p := Permissions{Rules: []Rule{{Pattern: "ha_call_service(lock.*)", Action: ActionDeny}}}
	e := NewEngine(p, nil)

	result, err := e.Evaluate("ha_call_service", map[string]any{
		"domain": "lock", "service": "unlock", "entity_id": "lock.front_door",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != gateway.DecisionDeny {
		t.Errorf("expected DENY, got %s", result.Decision)
	}
}

func TestEngine_AutoAllowViaDefaults(t *testing.T) {
	p := Permissions{Defaults: []Rule{{Pattern: "ha_get_*", Action: ActionAllow}}}
	e := NewEngine(p, nil)

	result, err := e.Evaluate("ha_get_state", map[string]any{"entity_id": "sensor.temp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != gateway.DecisionAllow {
		t.Errorf("expected ALLOW, got %s", result.Decision)
	}
	if result.Signature != "ha_get_state(sensor.temp)" {
		t.Errorf("unexpected signature: %s", result.Signature)
	}
}

func TestEngine_FallbackToAsk(t *testing.T) {
	e := NewEngine(Permissions{}, nil)
	result, err := e.Evaluate("ha_get_states", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != gateway.DecisionAsk {
		t.Errorf("expected fallback ASK, got %s", result.Decision)
	}
	if result.Signature != "ha_get_states" {
		t.Errorf("expected bare signature, got %q", result.Signature)
	}
}

func TestEngine_AskRule(t *testing.T) {
	p := Permissions{Rules: []Rule{{Pattern: "ha_call_service(light.*)", Action: ActionAsk}}}
	e := NewEngine(p, nil)
	result, err := e.Evaluate("ha_call_service", map[string]any{
		"domain": "light", "service": "turn_on", "entity_id": "light.bedroom",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != gateway.DecisionAsk {
		t.Errorf("expected ASK, got %s", result.Decision)
	}
	if result.Signature != "ha_call_service(light.turn_on, light.bedroom)" {
		t.Errorf("unexpected signature: %s", result.Signature)
	}
}

func TestEngine_InjectionAttemptRejectedBeforeEvaluation(t *testing.T) {
	e := NewEngine(Permissions{Rules: []Rule{{Pattern: "*", Action: ActionAllow}}}, nil)
	_, err := e.Evaluate("ha_get_state", map[string]any{"entity_id": "light.*"})
	if err == nil {
		t.Fatal("expected argument validation to reject the request before any rule scan")
	}
}

type stubEvaluator struct {
	result bool
	err    error
}

func (s stubEvaluator) Evaluate(expr, toolName string, args map[string]any) (bool, error) {
	return s.result, s.err
}

func TestEngine_ConditionGatesRuleMatch(t *testing.T) {
	p := Permissions{Rules: []Rule{{Pattern: "ha_get_state(*)", Action: ActionAllow, Condition: "true"}}}
	e := NewEngine(p, stubEvaluator{result: false})

	result, err := e.Evaluate("ha_get_state", map[string]any{"entity_id": "sensor.temp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Decision != gateway.DecisionAsk {
		t.Errorf("expected condition=false to skip the allow rule and fall back to ASK, got %s", result.Decision)
	}
}
