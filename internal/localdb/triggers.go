package localdb

import (
	"fmt"
	"strings"

	"github.com/erauner12/fieldsync/internal/schema"
)

// internalDDL creates the journal and sync bookkeeping tables.
// sync_ctl holds a single row: apply_mode suppresses the journal triggers
// while downloaded rows are applied, tx_id is the current write transaction.
var internalDDL = []string{
	`CREATE TABLE IF NOT EXISTS sync_ctl (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		apply_mode INTEGER NOT NULL DEFAULT 0,
		tx_id INTEGER NOT NULL DEFAULT 0
	)`,
	`INSERT OR IGNORE INTO sync_ctl (id, apply_mode, tx_id) VALUES (1, 0, 0)`,
	`CREATE TABLE IF NOT EXISTS crud_entry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_id INTEGER NOT NULL,
		op TEXT NOT NULL,
		table_name TEXT NOT NULL,
		row_id TEXT NOT NULL,
		data TEXT,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_crud_entry_tx ON crud_entry (tx_id, id)`,
	`CREATE TABLE IF NOT EXISTS sync_cursor (
		table_name TEXT PRIMARY KEY NOT NULL,
		cursor TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
}

const journalGuard = `(SELECT apply_mode FROM sync_ctl WHERE id = 1) = 0`
const currentTx = `(SELECT tx_id FROM sync_ctl WHERE id = 1)`

func triggerName(table, kind string) string {
	return fmt.Sprintf("crud_%s_%s", table, kind)
}

func dropTriggersDDL(t schema.Table) []string {
	out := make([]string, 0, 3)
	for _, kind := range []string{"insert", "update", "delete"} {
		out = append(out, fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(t.Name, kind)))
	}
	return out
}

// fullRowJSON renders json_object('c1', NEW.c1, ...) over every column
func fullRowJSON(t schema.Table) string {
	parts := make([]string, 0, len(t.Columns)*2)
	for _, c := range t.Columns {
		parts = append(parts, fmt.Sprintf("'%s'", c.Name), "NEW."+c.Name)
	}
	return "json_object(" + strings.Join(parts, ", ") + ")"
}

// changedColumnsJSON renders an object holding exactly the columns whose
// value changed. A column updated to NULL is kept as a JSON null; with no
// changed column the object is empty.
func changedColumnsJSON(t schema.Table) string {
	rows := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		rows = append(rows, fmt.Sprintf("SELECT '%[1]s' AS k, NEW.%[1]s AS v WHERE NEW.%[1]s IS NOT OLD.%[1]s", c.Name))
	}
	return "(SELECT json_group_object(k, v) FROM (" + strings.Join(rows, " UNION ALL ") + "))"
}

func createTriggersDDL(t schema.Table) []string {
	insert := fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s
WHEN %s
BEGIN
	INSERT INTO crud_entry (tx_id, op, table_name, row_id, data)
	VALUES (%s, 'PUT', '%s', NEW.id, %s);
END`, triggerName(t.Name, "insert"), t.Name, journalGuard, currentTx, t.Name, fullRowJSON(t))

	update := fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE ON %s
WHEN %s
BEGIN
	INSERT INTO crud_entry (tx_id, op, table_name, row_id, data)
	VALUES (%s, 'PATCH', '%s', NEW.id, %s);
END`, triggerName(t.Name, "update"), t.Name, journalGuard, currentTx, t.Name, changedColumnsJSON(t))

	del := fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s
WHEN %s
BEGIN
	INSERT INTO crud_entry (tx_id, op, table_name, row_id, data)
	VALUES (%s, 'DELETE', '%s', OLD.id, NULL);
END`, triggerName(t.Name, "delete"), t.Name, journalGuard, currentTx, t.Name)

	return []string{insert, update, del}
}
