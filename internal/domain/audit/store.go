package audit

import (
	"context"
	"time"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
)

// Store is the audit log boundary: Log inserts, Query returns newest-first.
// These are the two operations spec §4.F mandates; Filter/QueryFiltered
// supplement a richer read path for operator tooling without changing
// that contract.
type Store interface {
	// Log appends entry. The sqlite adapter writes the row synchronously
	// before returning.
	Log(ctx context.Context, entry gateway.AuditEntry) error

	// Query returns up to limit entries, newest first.
	Query(ctx context.Context, limit int) ([]gateway.AuditEntry, error)

	// QueryFiltered supplements Query with optional filters for operator
	// inspection.
	QueryFiltered(ctx context.Context, filter Filter) ([]gateway.AuditEntry, error)

	// QueryStats aggregates entry counts by decision over the same
	// filter shape as QueryFiltered, for operator dashboards that want
	// totals without pulling every matching row.
	QueryStats(ctx context.Context, filter Filter) (Stats, error)

	// Close releases resources held by the store. The sqlite adapter holds
	// none of its own; the shared database handle is closed by its owner.
	Close(ctx context.Context) error
}

// Stats aggregates audit entries by resulting decision.
type Stats struct {
	Total int
	Allow int
	Deny  int
	Ask   int
}

// Filter narrows QueryFiltered's result set. Zero-valued fields are
// unconstrained.
type Filter struct {
	ToolName string
	Decision gateway.Decision
	Since    time.Time
	Until    time.Time
	Limit    int
}
