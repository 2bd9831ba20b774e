// Package tablesvc stores rows of every synced table in the generic
// sync_row table and serves them back in pull order.
package tablesvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erauner12/fieldsync/internal/syncx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Service encapsulates row storage for the table REST and pull APIs
type Service struct {
	DB  *pgxpool.Pool
	Now func() int64 // server clock in unix ms
}

// New creates a Service using the wall clock
func New(db *pgxpool.Pool) *Service {
	return &Service{DB: db, Now: syncx.NowMs}
}

// Upsert inserts record or merges it into the existing row.
// A tombstoned row is revived with record as its whole payload.
// PostgreSQL errors are returned unwrapped so callers can read SQLSTATE.
func (s *Service) Upsert(ctx context.Context, ownerID, table string, record map[string]any) (*Item, error) {
	ext, err := syncx.ExtractRow(record)
	if err != nil {
		return nil, err
	}
	record["id"] = ext.ID

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("payload serialization error: %w", err)
	}

	// updated_at_ms is server time and strictly increasing per row so
	// cursors never skip a write.
	row := s.DB.QueryRow(ctx, `
		INSERT INTO sync_row (table_name, id, owner_id, payload, updated_at_ms, deleted_at_ms, version)
		VALUES ($1, $2, $3, $4, $5, NULL, 1)
		ON CONFLICT (table_name, id) DO UPDATE SET
			payload       = CASE
				WHEN sync_row.deleted_at_ms IS NULL THEN sync_row.payload || EXCLUDED.payload
				ELSE EXCLUDED.payload
			END,
			owner_id      = EXCLUDED.owner_id,
			updated_at_ms = GREATEST(EXCLUDED.updated_at_ms, sync_row.updated_at_ms + 1),
			deleted_at_ms = NULL,
			version       = sync_row.version + 1
		RETURNING version, updated_at_ms, payload
	`, table, ext.ID, ownerID, payload, s.Now())

	item := &Item{ID: ext.ID, Table: table}
	var ms int64
	if err := row.Scan(&item.Version, &ms, &item.Payload); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("table", table).Str("id", ext.ID).Msg("upsert failed")
		return nil, err
	}
	item.UpdatedAt = syncx.RFC3339(ms)
	return item, nil
}

// Patch merges partial into a live row. A patch matching no live row
// returns nil, nil, as a filtered update that affects nothing.
func (s *Service) Patch(ctx context.Context, table, id string, partial map[string]any) (*Item, error) {
	delete(partial, "id")

	payload, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("payload serialization error: %w", err)
	}

	row := s.DB.QueryRow(ctx, `
		UPDATE sync_row SET
			payload       = payload || $3,
			updated_at_ms = GREATEST($4, updated_at_ms + 1),
			version       = version + 1
		WHERE table_name = $1 AND id = $2 AND deleted_at_ms IS NULL
		RETURNING version, updated_at_ms, payload
	`, table, id, payload, s.Now())

	item := &Item{ID: id, Table: table}
	var ms int64
	if err := row.Scan(&item.Version, &ms, &item.Payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		log.Ctx(ctx).Warn().Err(err).Str("table", table).Str("id", id).Msg("patch failed")
		return nil, err
	}
	item.UpdatedAt = syncx.RFC3339(ms)
	return item, nil
}

// Delete tombstones a row so pulls can propagate the delete.
// Deleting a missing or already deleted row is not an error.
func (s *Service) Delete(ctx context.Context, table, id string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE sync_row SET
			deleted_at_ms = GREATEST($3, updated_at_ms + 1),
			updated_at_ms = GREATEST($3, updated_at_ms + 1),
			version       = version + 1
		WHERE table_name = $1 AND id = $2 AND deleted_at_ms IS NULL
	`, table, id, s.Now())
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("table", table).Str("id", id).Msg("delete failed")
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Get retrieves a single row by id, including tombstones
func (s *Service) Get(ctx context.Context, table, id string) (*Item, error) {
	var ms int64
	var deletedAtMs *int64
	item := &Item{ID: id, Table: table}

	err := s.DB.QueryRow(ctx, `
		SELECT payload, version, updated_at_ms, deleted_at_ms
		FROM sync_row
		WHERE table_name = $1 AND id = $2
	`, table, id).Scan(&item.Payload, &item.Version, &ms, &deletedAtMs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	item.UpdatedAt = syncx.RFC3339(ms)
	if deletedAtMs != nil {
		deletedAt := syncx.RFC3339(*deletedAtMs)
		item.DeletedAt = &deletedAt
	}
	return item, nil
}

// Pull returns rows of table changed after cursor, ordered by
// (updated_at_ms, id). NextCursor is set whenever rows were returned.
func (s *Service) Pull(ctx context.Context, table string, cursor syncx.Cursor, limit int) (*PullResponse, error) {
	logger := log.Ctx(ctx)

	rows, err := s.DB.Query(ctx, `
		SELECT id, payload, updated_at_ms, deleted_at_ms
		FROM sync_row
		WHERE table_name = $1
		  AND (updated_at_ms, id) > ($2, $3)
		ORDER BY updated_at_ms, id
		LIMIT $4
	`, table, cursor.Ms, cursor.ID, limit)
	if err != nil {
		logger.Error().Err(err).Str("table", table).Msg("failed to query rows")
		return nil, err
	}
	defer rows.Close()

	resp := &PullResponse{
		Upserts: make([]map[string]any, 0, limit),
		Deletes: make([]Tombstone, 0),
	}
	var last syncx.Cursor

	for rows.Next() {
		var id string
		var payload map[string]any
		var ms int64
		var deletedAtMs *int64

		if err := rows.Scan(&id, &payload, &ms, &deletedAtMs); err != nil {
			logger.Error().Err(err).Msg("failed to scan row")
			return nil, err
		}

		if deletedAtMs != nil {
			resp.Deletes = append(resp.Deletes, Tombstone{ID: id, DeletedAt: syncx.RFC3339(*deletedAtMs)})
		} else {
			if payload == nil {
				payload = map[string]any{}
			}
			payload["id"] = id
			resp.Upserts = append(resp.Upserts, payload)
		}
		last = syncx.Cursor{Ms: ms, ID: id}
	}

	if err := rows.Err(); err != nil {
		logger.Error().Err(err).Msg("row iteration error")
		return nil, err
	}

	if len(resp.Upserts)+len(resp.Deletes) > 0 {
		next := syncx.EncodeCursor(last)
		resp.NextCursor = &next
	}
	return resp, nil
}
