package replicator

import (
	"context"
	"fmt"
	"time"

	"github.com/erauner12/fieldsync/internal/localdb"
	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/rs/zerolog/log"
)

func (r *Replicator) downloadLoop(ctx context.Context, puller Puller, opts Options, pull <-chan string, first chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	err := r.downloadAll(ctx, puller, opts.BatchSize, r.tables)
	r.mu.Lock()
	r.firstErr = err
	r.mu.Unlock()
	close(first)

	for {
		var tables []string
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tables = r.tables
		case table := <-pull:
			tables = r.tables
			if table != "" {
				tables = []string{table}
			}
		}
		_ = r.downloadAll(ctx, puller, opts.BatchSize, tables)
	}
}

// downloadAll pulls tables in order and records the outcome in the status
func (r *Replicator) downloadAll(ctx context.Context, puller Puller, batch int, tables []string) error {
	r.store.UpdateStatus(func(s *localdb.Status) { s.Downloading = true })

	var err error
	for _, table := range tables {
		if err = r.downloadTable(ctx, puller, table, batch); err != nil {
			break
		}
	}

	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("download failed")
		}
		r.store.UpdateStatus(func(s *localdb.Status) {
			s.Downloading = false
			s.LastError = err.Error()
		})
		return err
	}

	now := r.now().UTC()
	r.store.UpdateStatus(func(s *localdb.Status) {
		s.Downloading = false
		s.HasSynced = true
		s.LastSyncedAt = now
		s.LastError = ""
	})
	return nil
}

// downloadTable pulls pages of batch rows until the backend reports no
// further cursor, storing the cursor after every applied page
func (r *Replicator) downloadTable(ctx context.Context, puller Puller, table string, batch int) error {
	cursor, err := r.store.Cursor(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to read cursor of %s: %w", table, err)
	}

	pages, rows := 0, 0
	for {
		page, err := puller.Pull(ctx, table, cursor, batch)
		if err != nil {
			return fmt.Errorf("failed to pull %s: %w", table, err)
		}

		if err := r.store.ApplyDownloaded(ctx, table, page.Upserts, page.DeletedIDs()); err != nil {
			return fmt.Errorf("failed to apply %s: %w", table, err)
		}
		pages++
		rows += len(page.Upserts) + len(page.Deletes)

		if page.NextCursor == "" {
			break
		}
		if err := r.store.SetCursor(ctx, table, page.NextCursor); err != nil {
			return fmt.Errorf("failed to store cursor of %s: %w", table, err)
		}
		cursor = page.NextCursor
	}

	if rows > 0 {
		log.Debug().Str("table", table).Int("pages", pages).Int("rows", rows).Msg("table downloaded")
	}
	return nil
}

func (r *Replicator) uploadLoop(ctx context.Context, conn Connector, opts Options) {
	defer r.wg.Done()

	ticker := time.NewTicker(opts.UploadInterval)
	defer ticker.Stop()

	for {
		r.drain(ctx, conn, opts.RetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-r.store.CrudNotify():
		case <-ticker.C:
		}
	}
}

// drain uploads journal transactions until the journal is empty or ctx ends
func (r *Replicator) drain(ctx context.Context, conn Connector, retryDelay time.Duration) {
	for ctx.Err() == nil {
		n, err := r.store.CrudCount(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to read journal size")
			return
		}
		if n == 0 {
			return
		}

		r.store.UpdateStatus(func(s *localdb.Status) { s.Uploading = true })
		err = conn.UploadData(ctx, r.store)
		r.store.UpdateStatus(func(s *localdb.Status) { s.Uploading = false })
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Int("journal", n).Dur("retryIn", retryDelay).Msg("upload failed")
		r.store.UpdateStatus(func(s *localdb.Status) { s.LastError = err.Error() })

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// feedLoop turns change events into pull requests. When the feed drops it
// is reopened with backoff; polling covers the gap.
func (r *Replicator) feedLoop(ctx context.Context, puller Puller, opts Options, pull chan<- string) {
	defer r.wg.Done()

	backoff := opts.RetryDelay
	for ctx.Err() == nil {
		started := time.Now()
		err := puller.Subscribe(ctx, func(ev remote.ChangeEvent) {
			select {
			case pull <- ev.Table:
			default:
			}
		})
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > opts.PollInterval {
			backoff = opts.RetryDelay
		}
		log.Debug().Err(err).Dur("retryIn", backoff).Msg("change feed unavailable, polling")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < opts.PollInterval {
			backoff *= 2
		}
	}
}
