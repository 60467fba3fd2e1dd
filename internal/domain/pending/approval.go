package pending

import (
	"sync"
	"time"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
)

// Outcome is how a PendingApproval was resolved.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeShutdown Outcome = "shutdown"
)

// Completion is delivered exactly once to whatever is waiting on a
// PendingApproval's completion handle.
type Completion struct {
	Outcome Outcome
	Actor   string
}

// PendingApproval is the in-memory bookkeeping for one suspended ask
// request (spec §3, §9): an immutable request descriptor plus a small
// resolution object. The only mutable affordance exposed outside the
// registry's mutex is the completion channel, which the orchestrator's
// per-request task blocks on.
type PendingApproval struct {
	Request   gateway.ToolRequest
	CreatedAt time.Time
	ExpiresAt time.Time

	messageID *string
	timer     *time.Timer
	done      chan Completion
}

// NewPendingApproval creates a suspended approval for req, expiring at
// expiresAt. The completion channel is buffered so a resolver never blocks
// on a disconnected or slow reader.
func NewPendingApproval(req gateway.ToolRequest, createdAt, expiresAt time.Time) *PendingApproval {
	return &PendingApproval{
		Request:   req,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		done:      make(chan Completion, 1),
	}
}

// MessageID returns the messenger message id, if send_approval has
// returned one yet.
func (p *PendingApproval) MessageID() *string { return p.messageID }

// SetMessageID records the messenger's message id once send_approval
// returns it.
func (p *PendingApproval) SetMessageID(id string) { p.messageID = &id }

// SetTimer installs the cancellable timer handle for this approval's
// window. Callers must hold no lock; the registry serializes access to
// the approval during resolution.
func (p *PendingApproval) SetTimer(t *time.Timer) { p.timer = t }

// stopTimer cancels the timer, tolerating a timer that already fired or
// was never set (idempotent per spec §5's cancellation requirement).
func (p *PendingApproval) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// Wait blocks until the approval is resolved and returns the completion.
// There is exactly one reader per PendingApproval: the orchestrator task
// suspended at step 4.J.6.f.
func (p *PendingApproval) Wait() Completion {
	return <-p.done
}

// Registry owns the pending-approval map. All mutation happens under a
// single mutex; because each critical section touches exactly one
// request's map entry, this mutex plays the role spec §4.J calls a
// "per-request mutex" without the bookkeeping of one lock per id.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*PendingApproval)}
}

// Add installs a newly created PendingApproval, keyed by request id.
func (r *Registry) Add(p *PendingApproval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.Request.RequestID] = p
}

// Count returns the number of currently outstanding approvals.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Resolve implements the atomic resolve(request_id, outcome, actor)
// operation from spec §4.J: if the request is no longer pending, it
// returns (nil, false) — the caller's "already_resolved" no-op path.
// Otherwise it removes the entry, stops its timer, and delivers the
// completion to whatever is waiting, all before releasing the lock — so a
// racing timeout/shutdown sweep can never also resolve the same entry.
func (r *Registry) Resolve(requestID string, outcome Outcome, actor string) (*PendingApproval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[requestID]
	if !ok {
		return nil, false
	}
	delete(r.pending, requestID)
	p.stopTimer()
	p.done <- Completion{Outcome: outcome, Actor: actor}
	return p, true
}

// SweepAll resolves every remaining entry with outcome (used for shutdown)
// and returns the approvals that were resolved.
func (r *Registry) SweepAll(outcome Outcome, actor string) []*PendingApproval {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := make([]*PendingApproval, 0, len(r.pending))
	for id, p := range r.pending {
		delete(r.pending, id)
		p.stopTimer()
		p.done <- Completion{Outcome: outcome, Actor: actor}
		resolved = append(resolved, p)
	}
	return resolved
}

// Get returns the pending approval for requestID without resolving it,
// e.g. so the orchestrator can attach the messenger's message id.
func (r *Registry) Get(requestID string) (*PendingApproval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[requestID]
	return p, ok
}
