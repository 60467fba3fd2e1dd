package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TorbenWetter/agent-gate/internal/domain/gateway"
	"github.com/TorbenWetter/agent-gate/internal/domain/pending"
)

// PendingStore implements pending.Store over the pending_requests table.
type PendingStore struct {
	db *DB
}

// NewPendingStore wraps db as a pending.Store.
func NewPendingStore(db *DB) *PendingStore {
	return &PendingStore{db: db}
}

func (s *PendingStore) Initialize(ctx context.Context) error {
	return s.db.initialize()
}

func (s *PendingStore) Insert(ctx context.Context, requestID, toolName string, args map[string]any, signature string, expiresAt time.Time) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	now := time.Now()
	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO pending_requests (request_id, tool_name, args, signature, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		requestID, toolName, string(argsJSON), signature, toISO8601(now), toISO8601(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert pending record: %w", err)
	}
	return nil
}

// SetMessageID attaches the messenger's message id once send_approval
// returns it.
func (s *PendingStore) SetMessageID(ctx context.Context, requestID, messageID string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE pending_requests SET message_id = ? WHERE request_id = ?`, messageID, requestID)
	if err != nil {
		return fmt.Errorf("set message id: %w", err)
	}
	return nil
}

func (s *PendingStore) Get(ctx context.Context, requestID string) (*gateway.PendingRecord, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT request_id, tool_name, args, signature, message_id, chat_id, result, created_at, expires_at
		 FROM pending_requests WHERE request_id = ?`, requestID)
	rec, err := scanPendingRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending record: %w", err)
	}
	return rec, nil
}

func (s *PendingStore) SetResult(ctx context.Context, requestID string, result gateway.ToolResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE pending_requests SET result = ? WHERE request_id = ?`, string(resultJSON), requestID)
	if err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set result: no pending record for %s", requestID)
	}
	return nil
}

func (s *PendingStore) DrainResultsForAgent(ctx context.Context, agentID string) ([]gateway.ToolResult, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drain transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT request_id, result FROM pending_requests WHERE result IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query queued results: %w", err)
	}

	type queued struct {
		requestID string
		resultRaw string
	}
	var batch []queued
	for rows.Next() {
		var q queued
		if err := rows.Scan(&q.requestID, &q.resultRaw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan queued result: %w", err)
		}
		batch = append(batch, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued results: %w", err)
	}

	results := make([]gateway.ToolResult, 0, len(batch))
	for _, q := range batch {
		var result gateway.ToolResult
		if err := json.Unmarshal([]byte(q.resultRaw), &result); err != nil {
			return nil, fmt.Errorf("decode queued result for %s: %w", q.requestID, err)
		}
		results = append(results, result)

		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_requests WHERE request_id = ?`, q.requestID); err != nil {
			return nil, fmt.Errorf("delete drained record %s: %w", q.requestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain transaction: %w", err)
	}
	return results, nil
}

func (s *PendingStore) Delete(ctx context.Context, requestID string) error {
	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM pending_requests WHERE request_id = ?`, requestID); err != nil {
		return fmt.Errorf("delete pending record: %w", err)
	}
	return nil
}

func (s *PendingStore) CleanupStale(ctx context.Context, now time.Time) ([]gateway.PendingRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT request_id, tool_name, args, signature, message_id, chat_id, result, created_at, expires_at
		 FROM pending_requests WHERE expires_at < ?`, toISO8601(now))
	if err != nil {
		return nil, fmt.Errorf("query stale records: %w", err)
	}

	var stale []gateway.PendingRecord
	for rows.Next() {
		rec, err := scanPendingRow(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale record: %w", err)
		}
		stale = append(stale, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale records: %w", err)
	}

	for _, rec := range stale {
		if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM pending_requests WHERE request_id = ?`, rec.RequestID); err != nil {
			return nil, fmt.Errorf("delete stale record %s: %w", rec.RequestID, err)
		}
	}
	return stale, nil
}

func (s *PendingStore) ListAll(ctx context.Context) ([]gateway.PendingRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT request_id, tool_name, args, signature, message_id, chat_id, result, created_at, expires_at
		 FROM pending_requests`)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	defer rows.Close()

	var all []gateway.PendingRecord
	for rows.Next() {
		rec, err := scanPendingRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pending record: %w", err)
		}
		all = append(all, *rec)
	}
	return all, rows.Err()
}

func (s *PendingStore) Close(ctx context.Context) error {
	return nil // lifecycle owned by DB, shared with AuditStore
}

func scanPendingRow(scan func(dest ...any) error) (*gateway.PendingRecord, error) {
	var (
		requestID, toolName, argsRaw, signature, createdAtRaw, expiresAtRaw string
		messageID, resultRaw                                                sql.NullString
		chatID                                                              sql.NullInt64
	)
	if err := scan(&requestID, &toolName, &argsRaw, &signature, &messageID, &chatID, &resultRaw, &createdAtRaw, &expiresAtRaw); err != nil {
		return nil, err
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(argsRaw), &args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}

	createdAt, err := fromISO8601(createdAtRaw)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	expiresAt, err := fromISO8601(expiresAtRaw)
	if err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}

	rec := &gateway.PendingRecord{
		RequestID: requestID,
		ToolName:  toolName,
		Arguments: args,
		Signature: signature,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	if messageID.Valid {
		rec.MessageID = &messageID.String
	}
	if chatID.Valid {
		rec.ChatID = &chatID.Int64
	}
	if resultRaw.Valid {
		var result gateway.ToolResult
		if err := json.Unmarshal([]byte(resultRaw.String), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		rec.Result = &result
	}
	return rec, nil
}

var _ pending.Store = (*PendingStore)(nil)
