package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/TorbenWetter/agent-gate/internal/domain/audit"
	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
)

// AuditStore implements audit.Store over the audit_log table. Log writes
// synchronously: spec §8's audit-totality invariant requires the entry to
// exist by the time the agent observes a reply, and in the single-threaded
// cooperative model (spec §5) a local sqlite insert is cheap enough that
// an async batching layer would only add a durability gap for no gain.
type AuditStore struct {
	db *DB
}

// NewAuditStore wraps db as an audit.Store.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, entry gateway.AuditEntry) error {
	argsJSON, err := json.Marshal(entry.Arguments)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	var execResultJSON []byte
	if entry.ExecutionResult != nil {
		execResultJSON, err = json.Marshal(entry.ExecutionResult)
		if err != nil {
			return fmt.Errorf("encode execution result: %w", err)
		}
	}

	agentID := entry.AgentID
	if agentID == "" {
		agentID = gateway.DefaultAgentID
	}

	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, request_id, tool_name, args, signature, decision, resolution, resolved_by, resolved_at, execution_result, agent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toISO8601(entry.Timestamp), entry.RequestID, entry.ToolName, string(argsJSON), entry.Signature, string(entry.Decision),
		nullableResolution(entry.Resolution), nullableString(entry.ResolvedBy), nullableTime(entry.ResolvedAt),
		nullableJSON(execResultJSON), agentID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) Query(ctx context.Context, limit int) ([]gateway.AuditEntry, error) {
	return s.QueryFiltered(ctx, audit.Filter{Limit: limit})
}

func (s *AuditStore) QueryFiltered(ctx context.Context, filter audit.Filter) ([]gateway.AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var clauses []string
	var params []any
	if filter.ToolName != "" {
		clauses = append(clauses, "tool_name = ?")
		params = append(params, filter.ToolName)
	}
	if filter.Decision != "" {
		clauses = append(clauses, "decision = ?")
		params = append(params, string(filter.Decision))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		params = append(params, toISO8601(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		params = append(params, toISO8601(filter.Until))
	}

	query := `SELECT timestamp, request_id, tool_name, args, signature, decision, resolution, resolved_by, resolved_at, execution_result, agent_id
	          FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	params = append(params, limit)

	rows, err := s.db.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []gateway.AuditEntry
	for rows.Next() {
		entry, err := scanAuditRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (s *AuditStore) QueryStats(ctx context.Context, filter audit.Filter) (audit.Stats, error) {
	var clauses []string
	var params []any
	if filter.ToolName != "" {
		clauses = append(clauses, "tool_name = ?")
		params = append(params, filter.ToolName)
	}
	if filter.Decision != "" {
		clauses = append(clauses, "decision = ?")
		params = append(params, string(filter.Decision))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		params = append(params, toISO8601(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		params = append(params, toISO8601(filter.Until))
	}

	query := `SELECT decision, COUNT(*) FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " GROUP BY decision"

	rows, err := s.db.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("query audit stats: %w", err)
	}
	defer rows.Close()

	var stats audit.Stats
	for rows.Next() {
		var decision string
		var count int
		if err := rows.Scan(&decision, &count); err != nil {
			return audit.Stats{}, fmt.Errorf("scan audit stats: %w", err)
		}
		switch gateway.Decision(decision) {
		case gateway.DecisionAllow:
			stats.Allow = count
		case gateway.DecisionDeny:
			stats.Deny = count
		case gateway.DecisionAsk:
			stats.Ask = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

func (s *AuditStore) Close(ctx context.Context) error {
	return nil // lifecycle owned by DB, shared with PendingStore
}

func scanAuditRow(scan func(dest ...any) error) (*gateway.AuditEntry, error) {
	var (
		timestampRaw, requestID, toolName, argsRaw, signature, decision, agentID string
		resolution, resolvedBy, resolvedAtRaw, execResultRaw                     sql.NullString
	)
	if err := scan(&timestampRaw, &requestID, &toolName, &argsRaw, &signature, &decision,
		&resolution, &resolvedBy, &resolvedAtRaw, &execResultRaw, &agentID); err != nil {
		return nil, err
	}

	ts, err := fromISO8601(timestampRaw)
	if err != nil {
		return nil, fmt.Errorf("decode timestamp: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}

	entry := &gateway.AuditEntry{
		RequestID: requestID,
		Timestamp: ts,
		ToolName:  toolName,
		Arguments: args,
		Signature: signature,
		Decision:  gateway.Decision(decision),
		AgentID:   agentID,
	}
	if resolution.Valid {
		r := gateway.Resolution(resolution.String)
		entry.Resolution = &r
	}
	if resolvedBy.Valid {
		entry.ResolvedBy = &resolvedBy.String
	}
	if resolvedAtRaw.Valid {
		t, err := fromISO8601(resolvedAtRaw.String)
		if err != nil {
			return nil, fmt.Errorf("decode resolved_at: %w", err)
		}
		entry.ResolvedAt = &t
	}
	if execResultRaw.Valid {
		var result any
		if err := json.Unmarshal([]byte(execResultRaw.String), &result); err != nil {
			return nil, fmt.Errorf("decode execution_result: %w", err)
		}
		entry.ExecutionResult = result
	}
	return entry, nil
}

func nullableResolution(r *gateway.Resolution) any {
	if r == nil {
		return nil
	}
	return string(*r)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toISO8601(*t)
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ audit.Store = (*AuditStore)(nil)
