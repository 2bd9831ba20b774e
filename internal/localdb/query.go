package localdb

import (
	"context"
	"database/sql"
	"fmt"
)

// Row is a result row keyed by column name
type Row map[string]any

// Execute runs a single statement through the sync-aware write path.
// Writes to journaled tables are recorded as one journal transaction.
func (db *DB) Execute(ctx context.Context, query string, args ...any) error {
	return db.WriteTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// WriteTransaction runs fn in one SQL transaction. Every journaled write
// made inside fn belongs to the same journal transaction.
// fn must use tx; calling back into db from fn deadlocks.
func (db *DB) WriteTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sync_ctl SET tx_id = tx_id + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to open journal transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notifyCrud()
	return nil
}

// GetAll returns every row of the query
func (db *DB) GetAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Get returns the first row of the query, or ErrNotFound
func (db *DB) Get(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := db.GetAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// CrudNotify delivers a signal after every committed write.
// Signals coalesce; a receiver should drain the whole journal per signal.
func (db *DB) CrudNotify() <-chan struct{} {
	return db.crudNotify
}

func (db *DB) notifyCrud() {
	select {
	case db.crudNotify <- struct{}{}:
	default:
	}
}
