// Package sqlite is the durable-store boundary (spec §4.E, §4.F, §6.2):
// an embedded, pure-Go SQL engine satisfying "any embedded transactional
// key-value engine with ordered scans and text columns" (spec §9).
package sqlite

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// DB wraps the shared *sql.DB and the advisory file lock held for the
// lifetime of the store, so two gateway processes never open the same
// file concurrently.
type DB struct {
	conn *sql.DB
	lock *os.File
}

// Open opens (creating if absent) the sqlite file at path, sets 0600 mode
// on create, acquires an advisory lock, and creates the schema if absent.
func Open(path string) (*DB, error) {
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	lock, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open store file: %w", err)
	}

	if err := flockLock(lock.Fd()); err != nil {
		lock.Close()
		return nil, fmt.Errorf("acquire store lock (is another gateway process running?): %w", err)
	}

	if isNew {
		if err := os.Chmod(path, 0o600); err != nil {
			// Best-effort: some platforms (notably Windows) don't honor
			// POSIX modes, per spec §4.E.
			_ = err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		flockUnlock(lock.Fd())
		lock.Close()
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, lock: lock}
	if err := db.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initialize() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying connection and releases the
// advisory lock.
func (db *DB) Close() error {
	err := db.conn.Close()
	flockUnlock(db.lock.Fd())
	db.lock.Close()
	return err
}
