// Package ratelimit bounds how fast a single agent session can issue
// tool_request calls (spec §4.G, dimension 1) and how many ASK approvals it
// can have outstanding at once (dimension 2, see PendingCapLimiter).
package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitConfig defines the rate limiting parameters for one agent
// session's tool_request stream.
type RateLimitConfig struct {
	// Rate is the number of allowed events in the period.
	Rate int

	// Burst is the maximum number of events that can occur at once.
	// Burst should be >= Rate for meaningful operation.
	Burst int

	// Period is the time window for the rate limit.
	Period time.Duration
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration
}

// keyPrefix is the base prefix for every rate limit key.
const keyPrefix = "agent"

// FormatKey returns the structured rate limit key for an authenticated
// agent session, keyed by its agent id (there is exactly one agent per
// connection — spec Non-goals exclude multi-tenant isolation, so no
// IP/user key-type distinction is needed here).
// Format: "agent:ratelimit:{agentID}"
func FormatKey(agentID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, "ratelimit", agentID)
}
