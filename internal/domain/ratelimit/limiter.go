package ratelimit

import "context"

// RateLimiter checks whether a tool_request from a given agent session is
// allowed through, under the GCRA (Generic Cell Rate Algorithm): smooth
// rate limiting that spreads allowed events evenly over the period instead
// of admitting a full burst at every window boundary like a fixed-window
// counter would.
//
// The single process-local implementation is memory.MemoryRateLimiter
// (spec Non-goals exclude a distributed deployment, so there is no
// shared-backend variant to keep this interface agnostic toward).
type RateLimiter interface {
	// Allow checks if a request identified by key is allowed under the
	// given config, atomically consuming one unit of the budget if so.
	//
	// The key is the structured identifier from FormatKey. If the request
	// is not allowed, RetryAfter in the result indicates when the next
	// one will be.
	Allow(ctx context.Context, key string, config RateLimitConfig) (RateLimitResult, error)
}
