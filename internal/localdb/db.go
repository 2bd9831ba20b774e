// Package localdb is the embedded SQLite replica that is the single source of
// truth for local reads and writes.
//
// Writes made through Execute or WriteTransaction are journaled by triggers
// into crud_entry, grouped by write transaction, and later drained by the
// remote connector. Rows downloaded from the backend are applied with the
// triggers suppressed so they never echo back as uploads.
package localdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/erauner12/fieldsync/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog/log"
)

// DB wraps the SQLite connection together with the replica's schema and
// connection status
type DB struct {
	conn   *sql.DB
	path   string
	schema *schema.Schema

	// writeMu serializes sync-aware write transactions so that the
	// sync_ctl transaction counter is never shared by two writers.
	writeMu sync.Mutex

	statusMu    sync.RWMutex
	status      Status
	subscribers []chan Status

	crudNotify chan struct{}
}

// Open opens (creating if needed) the replica at path.
// Init must be called before the store is used.
func Open(ctx context.Context, path string, sch *schema.Schema) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite allows a single writer, and the journal's
	// transaction counter must be read on the connection that bumped it.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Str("path", path).Msg("local store opened")

	return &DB{
		conn:       conn,
		path:       path,
		schema:     sch,
		crudNotify: make(chan struct{}, 1),
	}, nil
}

// Init creates tables, indexes, journal tables and triggers.
// It is idempotent; triggers are recreated so they follow schema changes.
func (db *DB) Init(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin init transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := append([]string{}, internalDDL...)
	for _, t := range db.schema.Tables() {
		stmts = append(stmts, t.DDL()...)
		stmts = append(stmts, dropTriggersDDL(t)...)
		if t.Journaled() {
			stmts = append(stmts, createTriggersDDL(t)...)
		}
	}
	// A crash while applying downloads must not leave journaling disabled.
	stmts = append(stmts, `UPDATE sync_ctl SET apply_mode = 0 WHERE id = 1`)

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w\n%s", err, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	log.Info().
		Str("path", db.path).
		Int("tables", len(db.schema.Tables())).
		Msg("local store initialized")
	return nil
}

// Schema returns the replica's schema
func (db *DB) Schema() *schema.Schema {
	return db.schema
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Warn().Err(err).Msg("failed to checkpoint WAL")
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}
