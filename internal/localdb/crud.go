package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/erauner12/fieldsync/internal/crud"
	"github.com/rs/zerolog/log"
)

// CrudTransaction is one journal transaction handed out for upload
type CrudTransaction struct {
	db      *DB
	txID    int64
	entries []crud.Entry

	mu        sync.Mutex
	completed bool
}

// TxID returns the journal transaction id
func (t *CrudTransaction) TxID() int64 {
	return t.txID
}

// Entries returns the transaction's entries in journal order
func (t *CrudTransaction) Entries() []crud.Entry {
	return t.entries
}

// Complete removes the transaction's entries from the journal.
// A second call returns crud.ErrAlreadyCompleted.
func (t *CrudTransaction) Complete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.completed {
		return crud.ErrAlreadyCompleted
	}

	t.db.writeMu.Lock()
	defer t.db.writeMu.Unlock()

	res, err := t.db.conn.ExecContext(ctx, `DELETE FROM crud_entry WHERE tx_id = ?`, t.txID)
	if err != nil {
		return fmt.Errorf("failed to complete crud transaction %d: %w", t.txID, err)
	}
	t.completed = true

	n, _ := res.RowsAffected()
	log.Debug().
		Int64("txId", t.txID).
		Int64("entries", n).
		Msg("crud transaction completed")
	return nil
}

// NextCrudTransaction returns the oldest journal transaction, or nil when
// the journal is empty
func (db *DB) NextCrudTransaction(ctx context.Context) (crud.Transaction, error) {
	var txID sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, `SELECT MIN(tx_id) FROM crud_entry`).Scan(&txID); err != nil {
		return nil, fmt.Errorf("failed to read journal head: %w", err)
	}
	if !txID.Valid {
		return nil, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, tx_id, op, table_name, row_id, data
		FROM crud_entry
		WHERE tx_id = ?
		ORDER BY id
	`, txID.Int64)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal transaction: %w", err)
	}
	defer rows.Close()

	var entries []crud.Entry
	for rows.Next() {
		var e crud.Entry
		var op string
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.TxID, &op, &e.Table, &e.RowID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Op = crud.Op(op)

		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				// Keep the entry: a malformed payload is the connector's call, not ours.
				log.Warn().Err(err).Int64("entryId", e.ID).Msg("journal entry has unreadable data")
				e.Data = nil
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &CrudTransaction{db: db, txID: txID.Int64, entries: entries}, nil
}

// CrudCount returns the number of journal entries awaiting upload
func (db *DB) CrudCount(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM crud_entry`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
