package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS pending_requests (
	request_id TEXT PRIMARY KEY,
	tool_name  TEXT NOT NULL,
	args       TEXT NOT NULL,
	signature  TEXT NOT NULL,
	message_id TEXT,
	chat_id    INTEGER,
	result     TEXT,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_requests_expires_at ON pending_requests (expires_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp        TEXT NOT NULL,
	request_id       TEXT NOT NULL,
	tool_name        TEXT NOT NULL,
	args             TEXT NOT NULL,
	signature        TEXT NOT NULL,
	decision         TEXT NOT NULL,
	resolution       TEXT,
	resolved_by      TEXT,
	resolved_at      TEXT,
	execution_result TEXT,
	agent_id         TEXT NOT NULL DEFAULT 'default'
);

CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp_tool ON audit_log (timestamp, tool_name);
`
