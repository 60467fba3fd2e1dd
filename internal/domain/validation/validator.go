package validation

import "regexp"

// forbiddenPattern matches signature-injection characters and ASCII control
// characters. Any string argument value containing one of these is
// rejected before it can reach the signature builder.
var forbiddenPattern = regexp.MustCompile(`[*?\[\](),\x00-\x1F]`)

// identifierPattern is the required shape for identifier-like arguments in
// a reserved service namespace (e.g. entity_id, domain, service).
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z0-9_]+)?$`)

// Namespace describes one reserved tool-name prefix and the argument keys
// within it that must match identifier shape.
type Namespace struct {
	Prefix         string
	IdentifierKeys map[string]bool
}

// ArgumentValidator enforces spec §4.B: reject forbidden characters in any
// string argument, and enforce identifier shape for known namespaces. It is
// a pure function of its inputs — no side effects, no I/O.
type ArgumentValidator struct {
	namespaces []Namespace
}

// NewArgumentValidator returns a validator pre-seeded with the reference
// "ha_" namespace (entity_id, domain, service, event_type).
func NewArgumentValidator() *ArgumentValidator {
	return &ArgumentValidator{
		namespaces: []Namespace{
			{
				Prefix: "ha_",
				IdentifierKeys: map[string]bool{
					"entity_id":  true,
					"domain":     true,
					"service":    true,
					"event_type": true,
				},
			},
		},
	}
}

// AddNamespace registers an additional reserved tool-name prefix and its
// identifier-shaped keys.
func (v *ArgumentValidator) AddNamespace(ns Namespace) {
	v.namespaces = append(v.namespaces, ns)
}

// Validate checks toolName's arguments per spec §4.B. Non-string values
// always pass. Returns a *ValidationError (code -32600) on the first
// violation found.
func (v *ArgumentValidator) Validate(toolName string, args map[string]any) error {
	ns := v.namespaceFor(toolName)

	for key, value := range args {
		str, ok := value.(string)
		if !ok {
			continue
		}

		if forbiddenPattern.MatchString(str) {
			return NewValidationError(ErrCodeInvalidRequest, "invalid argument")
		}

		if ns != nil && ns.IdentifierKeys[key] {
			if !identifierPattern.MatchString(str) {
				return NewValidationError(ErrCodeInvalidRequest, "invalid argument")
			}
		}
	}

	return nil
}

func (v *ArgumentValidator) namespaceFor(toolName string) *Namespace {
	for i := range v.namespaces {
		if hasPrefix(toolName, v.namespaces[i].Prefix) {
			return &v.namespaces[i]
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
