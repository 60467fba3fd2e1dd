package memory

import (
	"sync"

	"github.com/TorbenWetter/agent-gate/internal/domain/ratelimit"
)

// PendingCapCounter is an in-memory ratelimit.PendingCapLimiter: a simple
// mutex-guarded counter against a fixed cap. Single-agent v1 has no need
// for per-key sharding the way MemoryRateLimiter does.
type PendingCapCounter struct {
	mu    sync.Mutex
	count int
	cap   int
}

// NewPendingCapCounter returns a counter that refuses Reserve once count
// would exceed maxPending.
func NewPendingCapCounter(maxPending int) *PendingCapCounter {
	return &PendingCapCounter{cap: maxPending}
}

func (c *PendingCapCounter) Reserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count >= c.cap {
		return false
	}
	c.count++
	return true
}

func (c *PendingCapCounter) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 0 {
		c.count--
	}
}

func (c *PendingCapCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

var _ ratelimit.PendingCapLimiter = (*PendingCapCounter)(nil)
