package tablesvc

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/erauner12/fieldsync/internal/db"
	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Test database URL from environment or skip if not set
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

	if err := db.Migrate(ctx, pool, []string{"actors", "contacts"}); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if _, err := pool.Exec(ctx, "DELETE FROM sync_row"); err != nil {
		t.Fatalf("Failed to clean sync_row: %v", err)
	}
	return pool
}

// fixedClock always returns the same instant, so ordering relies on the
// per-row monotonic bump.
func fixedClock(ms int64) func() int64 {
	return func() int64 { return ms }
}

func TestUpsertMergesAndBumpsVersion(t *testing.T) {
	pool := getTestDB(t)
	ctx := context.Background()
	svc := &Service{DB: pool, Now: fixedClock(1000)}

	first, err := svc.Upsert(ctx, "user-1", "actors", map[string]any{"id": "a-1", "name": "Ana", "category": "FARMER"})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("first version = %d, want 1", first.Version)
	}

	second, err := svc.Upsert(ctx, "user-1", "actors", map[string]any{"id": "a-1", "name": "Ana Maria"})
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if second.Version != 2 {
		t.Errorf("second version = %d, want 2", second.Version)
	}
	if second.Payload["category"] != "FARMER" || second.Payload["name"] != "Ana Maria" {
		t.Errorf("payload not merged: %v", second.Payload)
	}
	firstMs, _ := syncx.ParseTimeToMs(first.UpdatedAt)
	secondMs, _ := syncx.ParseTimeToMs(second.UpdatedAt)
	if secondMs <= firstMs {
		t.Errorf("updatedAt did not advance: %s -> %s", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestUpsertUnknownTableIsCheckViolation(t *testing.T) {
	pool := getTestDB(t)
	svc := New(pool)

	_, err := svc.Upsert(context.Background(), "user-1", "nope", map[string]any{"id": "x"})

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Fatalf("expected check_violation, got %v", err)
	}
}

func TestPatchAndDeleteMissingRow(t *testing.T) {
	pool := getTestDB(t)
	ctx := context.Background()
	svc := New(pool)

	item, err := svc.Patch(ctx, "actors", "missing", map[string]any{"name": "x"})
	if err != nil || item != nil {
		t.Errorf("Patch() on missing row = %v, %v; want nil, nil", item, err)
	}

	deleted, err := svc.Delete(ctx, "actors", "missing")
	if err != nil || deleted {
		t.Errorf("Delete() on missing row = %v, %v; want false, nil", deleted, err)
	}
}

func TestPullPaginatesAndReportsTombstones(t *testing.T) {
	pool := getTestDB(t)
	ctx := context.Background()
	svc := &Service{DB: pool, Now: fixedClock(5000)}

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		if _, err := svc.Upsert(ctx, "user-1", "actors", map[string]any{"id": id, "name": id}); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", id, err)
		}
	}
	if _, err := svc.Delete(ctx, "actors", "a-2"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	var cursor syncx.Cursor
	var upserts, deletes, pages int
	for {
		resp, err := svc.Pull(ctx, "actors", cursor, 2)
		if err != nil {
			t.Fatalf("Pull() failed: %v", err)
		}
		if resp.NextCursor == nil {
			break
		}
		pages++
		upserts += len(resp.Upserts)
		deletes += len(resp.Deletes)

		next, ok := syncx.DecodeCursor(*resp.NextCursor)
		if !ok {
			t.Fatalf("invalid next cursor %q", *resp.NextCursor)
		}
		cursor = next
	}

	if pages != 2 || upserts != 2 || deletes != 1 {
		t.Errorf("pages=%d upserts=%d deletes=%d; want 2, 2, 1", pages, upserts, deletes)
	}

	item, err := svc.Get(ctx, "actors", "a-2")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.DeletedAt == nil {
		t.Error("expected tombstone for a-2")
	}

	if _, err := svc.Get(ctx, "actors", "never"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on missing row = %v, want ErrNotFound", err)
	}
}
