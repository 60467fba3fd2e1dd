package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TorbenWetter/agent-gate/internal/domain/permission"
)

// policyDocument mirrors the YAML shape of spec §6.3: two ordered sections,
// defaults (first-match) and rules (multi-pass: deny→allow→ask).
type policyDocument struct {
	Defaults []policyRule `yaml:"defaults"`
	Rules    []policyRule `yaml:"rules"`
}

type policyRule struct {
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
	Condition   string `yaml:"condition"`
}

// LoadPolicy reads and parses the policy document at path into the engine's
// Permissions type. Environment substitution is applied the same way as the
// runtime config (spec §6.3: "${VAR} substitution ... applied recursively to
// all string leaves before validation").
func LoadPolicy(path string) (permission.Permissions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return permission.Permissions{}, fmt.Errorf("read policy file: %w", err)
	}

	substituted, err := substituteEnvBytes(raw)
	if err != nil {
		return permission.Permissions{}, fmt.Errorf("substitute policy env vars: %w", err)
	}

	var doc policyDocument
	if err := yaml.Unmarshal(substituted, &doc); err != nil {
		return permission.Permissions{}, fmt.Errorf("parse policy file: %w", err)
	}

	perms := permission.Permissions{
		Defaults: make([]permission.Rule, 0, len(doc.Defaults)),
		Rules:    make([]permission.Rule, 0, len(doc.Rules)),
	}
	for i, r := range doc.Defaults {
		rule, err := toRule(r)
		if err != nil {
			return permission.Permissions{}, fmt.Errorf("defaults[%d]: %w", i, err)
		}
		perms.Defaults = append(perms.Defaults, rule)
	}
	for i, r := range doc.Rules {
		rule, err := toRule(r)
		if err != nil {
			return permission.Permissions{}, fmt.Errorf("rules[%d]: %w", i, err)
		}
		perms.Rules = append(perms.Rules, rule)
	}
	return perms, nil
}

func toRule(r policyRule) (permission.Rule, error) {
	if r.Pattern == "" {
		return permission.Rule{}, fmt.Errorf("pattern is required")
	}
	action := permission.Action(r.Action)
	switch action {
	case permission.ActionAllow, permission.ActionDeny, permission.ActionAsk:
	default:
		return permission.Rule{}, fmt.Errorf("action must be one of allow|deny|ask, got %q", r.Action)
	}
	return permission.Rule{
		Pattern:     r.Pattern,
		Action:      action,
		Description: r.Description,
		Condition:   r.Condition,
	}, nil
}
