// Package pending implements the durable pending-request store boundary
// (spec §4.E) and the in-memory PendingApproval bookkeeping that the
// orchestrator resolves races against (spec §4.J).
package pending

import (
	"context"
	"time"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
)

// Store is the durable pending-request table. Timestamps cross this
// boundary as time.Time; the adapter owns ISO-8601 text conversion.
type Store interface {
	// Initialize creates the schema if absent. File mode 0600 on create,
	// best-effort on platforms without POSIX modes.
	Initialize(ctx context.Context) error

	Insert(ctx context.Context, requestID, toolName string, args map[string]any, signature string, expiresAt time.Time) error

	Get(ctx context.Context, requestID string) (*gateway.PendingRecord, error)

	// SetMessageID attaches the messenger's message id once send_approval
	// returns it, so later UpdateApproval calls can reference the same
	// message (spec §4.J.6.d).
	SetMessageID(ctx context.Context, requestID, messageID string) error

	// SetResult enqueues a result on an existing record, for delivery the
	// next time the agent reconnects and calls get_pending_results.
	SetResult(ctx context.Context, requestID string, result gateway.ToolResult) error

	// DrainResultsForAgent returns and deletes every record whose result
	// is non-null.
	DrainResultsForAgent(ctx context.Context, agentID string) ([]gateway.ToolResult, error)

	Delete(ctx context.Context, requestID string) error

	// CleanupStale deletes rows whose expires_at has passed and returns
	// them for upstream housekeeping (audit entries, messenger edits).
	CleanupStale(ctx context.Context, now time.Time) ([]gateway.PendingRecord, error)

	// ListAll returns every currently pending record, for startup crash
	// recovery (re-arming timers).
	ListAll(ctx context.Context) ([]gateway.PendingRecord, error)

	Close(ctx context.Context) error
}
