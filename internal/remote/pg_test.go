package remote

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/erauner12/fieldsync/internal/db"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool, []string{"actors", "actor_details"}); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM sync_row"); err != nil {
		t.Fatalf("Failed to clean sync_row: %v", err)
	}
	return pool
}

func TestPGBackendWritesAndKeepsSQLState(t *testing.T) {
	pool := getTestDB(t)
	ctx := context.Background()
	b := NewPGBackend(pool, "station-7")

	record := map[string]any{"id": "a-1", "name": "Ana"}
	if err := b.Upsert(ctx, "actors", record); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if len(record) != 2 {
		t.Errorf("Upsert mutated the caller's record: %v", record)
	}

	if err := b.Update(ctx, "actors", map[string]any{"name": "Ana Maria"}, "a-1"); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	var owner, name string
	if err := pool.QueryRow(ctx, `SELECT owner_id, payload->>'name' FROM sync_row WHERE table_name = 'actors' AND id = 'a-1'`).Scan(&owner, &name); err != nil {
		t.Fatalf("failed to read row: %v", err)
	}
	if owner != "station-7" || name != "Ana Maria" {
		t.Errorf("row = (%s, %s)", owner, name)
	}

	if err := b.Delete(ctx, "actors", "a-1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	err := b.Upsert(ctx, "harvests", map[string]any{"id": "h-1"})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Errorf("unknown table error = %v, want check_violation", err)
	}
}
