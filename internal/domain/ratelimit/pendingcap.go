package ratelimit

// PendingCapLimiter bounds the number of concurrently outstanding ASK
// approvals (spec §4.G, dimension 2). It is distinct from RateLimiter so a
// flood of ask-worthy requests cannot exhaust the messenger's bandwidth
// independently of the plain request-rate check.
type PendingCapLimiter interface {
	// Reserve attempts to claim one pending slot. It returns false if doing
	// so would exceed the configured cap.
	Reserve() bool
	// Release returns a previously reserved slot, called on every
	// resolution path (approve, deny, timeout, shutdown).
	Release()
	// Count returns the current number of reserved slots, for diagnostics.
	Count() int
}
