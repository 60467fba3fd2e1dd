// Package permission implements the permission engine (spec §4.D): a
// deterministic, O(N) rule scan over a declarative allow/deny/ask policy,
// with an optional CEL condition as a per-rule enrichment.
package permission

import "github.com/TorbenWetter/agent-gate/internal/domain/gateway"

// Action is the action a PermissionRule or default entry prescribes.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Decision converts an Action into the engine's output Decision type.
func (a Action) Decision() gateway.Decision {
	switch a {
	case ActionAllow:
		return gateway.DecisionAllow
	case ActionDeny:
		return gateway.DecisionDeny
	default:
		return gateway.DecisionAsk
	}
}

// Rule is one entry in a Permissions document: a shell-glob pattern
// matched against the signature, the action it prescribes, a free-text
// description shown to operators, and an optional CEL condition evaluated
// after the glob matches.
type Rule struct {
	Pattern     string
	Action      Action
	Description string
	Condition   string
}

// Permissions is the full policy document: an ordered list of defaults
// (first-match) and an ordered list of rules (multi-pass: deny, allow,
// ask).
type Permissions struct {
	Defaults []Rule
	Rules    []Rule
}
