// Package audit defines the append-only audit log boundary (spec §4.F):
// one entry per resolved tool_request, never updated after insert.
package audit

import "strings"

// sensitiveKeywords names argument-key substrings treated as sensitive for
// display purposes. Matching is case-insensitive.
var sensitiveKeywords = []string{"token", "password", "secret", "key", "credential", "auth"}

// Redact returns a copy of args with sensitive-looking values masked, for
// use in log lines and any other display path that is not the audit
// record itself (the audit record stores the real arguments; spec §3
// requires AuditEntry.Arguments to be the actual serialized args).
func Redact(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
