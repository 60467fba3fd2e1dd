package validation

import "testing"

func TestArgumentValidator_RejectsForbiddenCharacters(t *testing.T) {
	v := NewArgumentValidator()

	cases := []string{"light.*", "light.[bedroom]", "x\x01y", "a,b", "a(b)", "a?b"}
	for _, val := range cases {
		err := v.Validate("ha_get_state", map[string]any{"entity_id": "sensor.temp", "note": val})
		if err == nil {
			t.Errorf("expected rejection for value %q", val)
		}
	}
}

func TestArgumentValidator_NonStringsPassThrough(t *testing.T) {
	v := NewArgumentValidator()
	err := v.Validate("ha_call_service", map[string]any{
		"brightness": 255,
		"enabled":    true,
		"nested":     map[string]any{"a": 1},
	})
	if err != nil {
		t.Errorf("expected non-string args to pass, got: %v", err)
	}
}

func TestArgumentValidator_EnforcesIdentifierShape(t *testing.T) {
	v := NewArgumentValidator()

	valid := []string{"light.bedroom", "sensor.temp", "lock_front_door", "light"}
	for _, val := range valid {
		if err := v.Validate("ha_get_state", map[string]any{"entity_id": val}); err != nil {
			t.Errorf("expected %q to be a valid identifier, got: %v", val, err)
		}
	}

	invalid := []string{"Light.Bedroom", "1light", "light..bedroom", "light bedroom"}
	for _, val := range invalid {
		if err := v.Validate("ha_get_state", map[string]any{"entity_id": val}); err == nil {
			t.Errorf("expected %q to be rejected as an invalid identifier", val)
		}
	}
}

func TestArgumentValidator_IdentifierShapeOnlyAppliesToKnownNamespace(t *testing.T) {
	v := NewArgumentValidator()
	// "other_tool" is not in the ha_ namespace, so entity_id shape isn't enforced.
	err := v.Validate("other_tool", map[string]any{"entity_id": "Not A Valid Shape"})
	if err != nil {
		t.Errorf("expected no identifier-shape enforcement outside reserved namespace, got: %v", err)
	}
}

func TestArgumentValidator_InjectionAttemptRejected(t *testing.T) {
	v := NewArgumentValidator()
	err := v.Validate("ha_get_state", map[string]any{"entity_id": "light.*"})
	if err == nil {
		t.Fatal("expected injection attempt to be rejected")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Code != ErrCodeInvalidRequest {
		t.Errorf("expected code %d, got %d", ErrCodeInvalidRequest, ve.Code)
	}
}
