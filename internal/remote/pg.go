package remote

import (
	"context"

	"github.com/erauner12/fieldsync/internal/service/tablesvc"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGBackend applies mutations straight to the backend's PostgreSQL
// database. Errors are *pgconn.PgError values so SQLSTATE codes survive.
type PGBackend struct {
	svc     *tablesvc.Service
	ownerID string
}

// NewPGBackend creates a backend writing as ownerID
func NewPGBackend(pool *pgxpool.Pool, ownerID string) *PGBackend {
	return &PGBackend{svc: tablesvc.New(pool), ownerID: ownerID}
}

// Upsert inserts or merges record
func (b *PGBackend) Upsert(ctx context.Context, table string, record map[string]any) error {
	_, err := b.svc.Upsert(ctx, b.ownerID, table, copyRecord(record))
	return err
}

// Update merges partial into the row with id
func (b *PGBackend) Update(ctx context.Context, table string, partial map[string]any, id string) error {
	_, err := b.svc.Patch(ctx, table, id, copyRecord(partial))
	return err
}

// Delete tombstones the row with id
func (b *PGBackend) Delete(ctx context.Context, table, id string) error {
	_, err := b.svc.Delete(ctx, table, id)
	return err
}

// copyRecord keeps the service from mutating journal data
func copyRecord(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
