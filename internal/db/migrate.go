package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// syncRowDDL holds every synced table's rows as jsonb documents.
// Rows are ordered for pull by (updated_at_ms, id) within a table.
const syncRowDDL = `
CREATE TABLE IF NOT EXISTS sync_row (
	table_name    TEXT   NOT NULL,
	id            TEXT   NOT NULL,
	owner_id      TEXT   NOT NULL,
	payload       JSONB  NOT NULL DEFAULT '{}'::jsonb,
	updated_at_ms BIGINT NOT NULL,
	deleted_at_ms BIGINT,
	version       INT    NOT NULL DEFAULT 1,
	PRIMARY KEY (table_name, id)
);
CREATE INDEX IF NOT EXISTS sync_row_pull_idx ON sync_row (table_name, updated_at_ms, id);
`

// Migrate creates the sync_row table and constrains table_name to tables.
// Writes naming any other table fail with check_violation (23514).
func Migrate(ctx context.Context, pool *pgxpool.Pool, tables []string) error {
	if len(tables) == 0 {
		return fmt.Errorf("migrate: no tables registered")
	}

	if _, err := pool.Exec(ctx, syncRowDDL); err != nil {
		return fmt.Errorf("failed to create sync_row: %w", err)
	}

	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = "'" + strings.ReplaceAll(t, "'", "''") + "'"
	}

	// Recreated on every start so the constraint follows the registry
	check := fmt.Sprintf(`
		ALTER TABLE sync_row DROP CONSTRAINT IF EXISTS sync_row_table_name_check;
		ALTER TABLE sync_row ADD CONSTRAINT sync_row_table_name_check CHECK (table_name IN (%s));
	`, strings.Join(quoted, ", "))
	if _, err := pool.Exec(ctx, check); err != nil {
		return fmt.Errorf("failed to constrain sync_row tables: %w", err)
	}

	log.Info().Int("tables", len(tables)).Msg("database migrated")
	return nil
}
