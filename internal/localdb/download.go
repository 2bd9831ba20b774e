package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ApplyDownloaded writes rows pulled from the backend into table with the
// journal triggers suppressed. Upserts merge on id and ignore columns the
// schema does not declare; deletes remove rows by id.
func (db *DB) ApplyDownloaded(ctx context.Context, table string, upserts []map[string]any, deletes []string) error {
	t, ok := db.schema.Table(table)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin download transaction: %w", err)
	}
	defer tx.Rollback()

	// apply_mode lives inside the transaction, so a rollback restores it.
	if _, err := tx.ExecContext(ctx, `UPDATE sync_ctl SET apply_mode = 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to enter apply mode: %w", err)
	}

	for _, row := range upserts {
		if err := upsertRow(ctx, tx, table, row, t.HasColumn); err != nil {
			return err
		}
	}

	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sync_ctl SET apply_mode = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to leave apply mode: %w", err)
	}

	return tx.Commit()
}

func upsertRow(ctx context.Context, tx *sql.Tx, table string, row map[string]any, known func(string) bool) error {
	id, _ := row["id"].(string)
	if id == "" {
		return fmt.Errorf("%w in table %s", ErrMissingID, table)
	}

	cols := []string{"id"}
	for k := range row {
		if k != "id" && known(k) {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols[1:])

	params := make([]any, len(cols))
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		params[i] = sqlValue(row[c])
		if c != "id" {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) %s",
		table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		conflict)

	if _, err := tx.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", table, id, err)
	}
	return nil
}

// sqlValue maps decoded JSON values onto types the driver accepts
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

// Cursor returns the stored download cursor for table, or "" if none
func (db *DB) Cursor(ctx context.Context, table string) (string, error) {
	var cursor string
	err := db.conn.QueryRowContext(ctx, `SELECT cursor FROM sync_cursor WHERE table_name = ?`, table).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return cursor, err
}

// SetCursor stores the download cursor for table
func (db *DB) SetCursor(ctx context.Context, table, cursor string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_cursor (table_name, cursor, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(table_name) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, table, cursor)
	return err
}

// ResetCursors forgets every download cursor so the next sync is a full one
func (db *DB) ResetCursors(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sync_cursor`)
	return err
}
