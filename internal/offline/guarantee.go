// Package offline makes a single logical write always end in one of three
// states: applied locally, applied through the direct API, or queued in the
// key-value store for a later retry.
package offline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/erauner12/fieldsync/internal/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// MaxRetries is how many failed retries a pending insert survives
const MaxRetries = 3

// Store is the local store's sync-aware write path
type Store interface {
	Connected() bool
	Execute(ctx context.Context, query string, args ...any) error
}

// DirectAPI writes a row straight to the remote backend
type DirectAPI interface {
	Upsert(ctx context.Context, table string, record map[string]any) error
}

// ResultData tags how a successful write was handled
type ResultData struct {
	Pending   bool   `json:"pending,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
	PendingID string `json:"pendingId,omitempty"`
}

// Result is the outcome of InsertWithGuarantee
type Result struct {
	Success bool        `json:"success"`
	Data    *ResultData `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Report summarises one pass over the pending list
type Report struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
}

// Options configures a Guarantee
type Options struct {
	Store      Store
	API        DirectAPI
	KV         kvstore.KV
	Executor   Executor
	Tracer     *tracing.Tracer
	MaxRetries int              // defaults to MaxRetries
	Now        func() time.Time // defaults to time.Now
	Suffix     func() string    // random part of pending ids
}

// Guarantee implements the offline write guarantee
type Guarantee struct {
	store      Store
	api        DirectAPI
	kv         kvstore.KV
	exec       Executor
	tracer     *tracing.Tracer
	maxRetries int
	now        func() time.Time
	suffix     func() string

	// mu serialises every read-modify-write of the pending list
	mu    sync.Mutex
	gen   uint64 // bumped by every append, guarded by mu
	group singleflight.Group
}

// New creates a Guarantee
func New(opts Options) *Guarantee {
	g := &Guarantee{
		store:      opts.Store,
		api:        opts.API,
		kv:         opts.KV,
		exec:       opts.Executor,
		tracer:     opts.Tracer,
		maxRetries: opts.MaxRetries,
		now:        opts.Now,
		suffix:     opts.Suffix,
	}
	if g.maxRetries <= 0 {
		g.maxRetries = MaxRetries
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.suffix == nil {
		g.suffix = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:9] }
	}
	if g.tracer == nil {
		g.tracer = tracing.Noop()
	}
	return g
}

// Write is one row write routed through the guarantee
type Write struct {
	Query  string         `json:"query"`
	Params []any          `json:"params"`
	Table  string         `json:"tableName"`
	Data   map[string]any `json:"data"`
}

// InsertWithGuarantee writes through the local store when it is connected,
// falls back to the direct API, and finally queues the write. Only a failure
// to queue is reported as unsuccessful; it never panics.
func (g *Guarantee) InsertWithGuarantee(ctx context.Context, query string, params []any, table string, data map[string]any) Result {
	return g.InsertTreeWithGuarantee(ctx, Write{Query: query, Params: params, Table: table, Data: data})
}

// InsertTreeWithGuarantee writes parent and then each dependent row. If the
// parent has to be queued, its dependents are queued inside the same pending
// record and written only after the parent lands, so a child row never
// reaches the backend before the row it references.
func (g *Guarantee) InsertTreeWithGuarantee(ctx context.Context, parent Write, deps ...Write) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("table", parent.Table).Msg("insert with guarantee panicked")
			res = Result{Success: false, Error: fmt.Sprint(r)}
		}
	}()

	fallback, err := g.write(ctx, parent)
	if err == nil {
		res = Result{Success: true}
		if fallback {
			res.Data = &ResultData{Fallback: true}
		}
		for _, dep := range deps {
			dres := g.InsertTreeWithGuarantee(ctx, dep)
			switch {
			case !dres.Success:
				log.Error().Str("table", dep.Table).Str("error", dres.Error).Msg("dependent write lost")
				res.Success = false
				res.Error = fmt.Sprintf("%s: %s", dep.Table, dres.Error)
			case dres.Data != nil && dres.Data.Pending:
				if res.Data == nil {
					res.Data = &ResultData{}
				}
				res.Data.Pending = true
			}
		}
		return res
	}

	rec := g.newRecord(parent, deps)
	if perr := g.appendPending(ctx, rec); perr != nil {
		log.Error().Err(perr).AnErr("writeErr", err).Str("table", parent.Table).Msg("failed to queue pending insert")
		return Result{Success: false, Error: perr.Error()}
	}

	log.Info().Err(err).Str("pendingId", rec.ID).Str("table", parent.Table).Int("dependents", len(deps)).Msg("write queued for later")

	if g.exec != nil {
		g.exec.Submit("sync-pending-inserts", func(ctx context.Context) error {
			g.SyncPendingInserts(ctx)
			return nil
		})
	}

	return Result{Success: true, Data: &ResultData{Pending: true, PendingID: rec.ID}}
}

func (g *Guarantee) newRecord(w Write, deps []Write) PendingInsert {
	now := g.now().UTC()
	return PendingInsert{
		ID:         fmt.Sprintf("%s_%d_%s", w.Table, now.UnixMilli(), g.suffix()),
		Query:      w.Query,
		Params:     w.Params,
		TableName:  w.Table,
		Data:       w.Data,
		CreatedAt:  now.Format(time.RFC3339Nano),
		RetryCount: 0,
		Dependents: deps,
	}
}

// write tries the local store, then the direct API. fallback is true when
// the direct API applied the write.
func (g *Guarantee) write(ctx context.Context, w Write) (fallback bool, err error) {
	var localErr error
	if g.store != nil && g.store.Connected() {
		if localErr = g.store.Execute(ctx, w.Query, w.Params...); localErr == nil {
			return false, nil
		}
		log.Warn().Err(localErr).Str("table", w.Table).Msg("local write failed, trying direct API")
	} else {
		localErr = errors.New("local store not connected")
	}

	if g.api == nil {
		return false, localErr
	}
	apiErr := g.api.Upsert(ctx, w.Table, w.Data)
	if apiErr == nil {
		return true, nil
	}
	return false, errors.Join(localErr, apiErr)
}

// passResult is a finished pass and the list generation it loaded
type passResult struct {
	report Report
	gen    uint64
}

// SyncPendingInserts retries every queued write once, oldest first.
// Concurrent calls share one pass. A caller that joined a pass which loaded
// the list before the caller arrived runs one more pass, so a record queued
// just before the call is always attempted. It never returns an error.
func (g *Guarantee) SyncPendingInserts(ctx context.Context) Report {
	want := g.generation()
	for {
		v, _, _ := g.group.Do("sync", func() (any, error) {
			gen := g.generation()
			return passResult{report: g.syncPass(ctx), gen: gen}, nil
		})
		res := v.(passResult)
		if res.gen >= want || ctx.Err() != nil {
			return res.report
		}
	}
}

func (g *Guarantee) generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

func (g *Guarantee) syncPass(ctx context.Context) (report Report) {
	list, err := g.Pending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot load pending inserts")
		return report
	}
	if len(list) == 0 {
		return report
	}

	ctx, span := g.tracer.StartPendingPass(ctx, len(list))
	defer func() {
		span.SetInt("succeeded", report.Succeeded)
		span.SetInt("dropped", report.Dropped)
		span.End()
	}()

	log.Info().Int("pending", len(list)).Msg("syncing pending inserts")

	for _, rec := range list {
		if ctx.Err() != nil {
			return report
		}

		if rec.RetryCount >= g.maxRetries {
			if err := g.removePending(ctx, rec.ID); err != nil {
				log.Error().Err(err).Str("pendingId", rec.ID).Msg("failed to drop pending insert")
				continue
			}
			report.Dropped++
			log.Warn().Str("pendingId", rec.ID).Int("retryCount", rec.RetryCount).Msg("dropped pending insert over retry limit")
			continue
		}

		report.Attempted++
		fallback, err := g.write(ctx, rec.write())
		if err == nil {
			g.landDependents(ctx, rec)
			if rerr := g.removePending(ctx, rec.ID); rerr != nil {
				log.Error().Err(rerr).Str("pendingId", rec.ID).Msg("write applied but pending record not removed")
				continue
			}
			report.Succeeded++
			log.Info().Str("pendingId", rec.ID).Bool("fallback", fallback).Msg("pending insert applied")
			continue
		}

		report.Failed++
		dropped, berr := g.bumpRetry(ctx, rec.ID)
		if berr != nil {
			log.Error().Err(berr).Str("pendingId", rec.ID).Msg("failed to record retry")
			continue
		}
		if dropped {
			report.Dropped++
		}
		log.Debug().Err(err).Str("pendingId", rec.ID).Msg("pending insert still failing")
	}

	return report
}

// landDependents writes the rows that waited on rec. Any that still fail are
// queued as records of their own before rec is removed.
func (g *Guarantee) landDependents(ctx context.Context, rec PendingInsert) {
	for _, dep := range rec.Dependents {
		if _, err := g.write(ctx, dep); err == nil {
			continue
		}
		child := g.newRecord(dep, nil)
		if err := g.appendPending(ctx, child); err != nil {
			log.Error().Err(err).Str("parent", rec.ID).Str("table", dep.Table).Msg("failed to queue dependent write")
			continue
		}
		log.Info().Str("parent", rec.ID).Str("pendingId", child.ID).Msg("dependent write queued")
	}
}
