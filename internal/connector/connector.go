// Package connector bridges the mutation journal to the remote backend.
// It supplies credentials for the replication stream and uploads one
// journal transaction at a time.
package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/crud"
	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/erauner12/fieldsync/internal/tracing"
	"github.com/rs/zerolog/log"
)

// Credentials are what the replication stream needs to reach the sync endpoint
type Credentials struct {
	Endpoint  string
	Token     string
	ExpiresAt time.Time // zero when unknown
	UserID    string
}

// SessionSource is the part of the auth subsystem the connector reads
type SessionSource interface {
	Session(ctx context.Context) (*auth.Session, error)
}

// Options configures a Connector
type Options struct {
	Endpoint string
	Sessions SessionSource
	Backend  remote.Backend
	Rules    FatalRules      // defaults to DefaultFatalRules
	Tracer   *tracing.Tracer // defaults to a no-op tracer
}

// Connector uploads journal transactions and fetches credentials
type Connector struct {
	endpoint string
	sessions SessionSource
	backend  remote.Backend
	rules    FatalRules
	tracer   *tracing.Tracer
}

// New creates a Connector
func New(opts Options) *Connector {
	if opts.Rules == nil {
		opts.Rules = DefaultFatalRules()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	return &Connector{
		endpoint: opts.Endpoint,
		sessions: opts.Sessions,
		backend:  opts.Backend,
		rules:    opts.Rules,
		tracer:   opts.Tracer,
	}
}

// FetchCredentials returns credentials for the current session, or nil
// when there is none. Failures are logged, never returned.
func (c *Connector) FetchCredentials(ctx context.Context) *Credentials {
	s, err := c.sessions.Session(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not fetch credentials")
		return nil
	}
	if s == nil || s.AccessToken == "" {
		log.Warn().Msg("no active session, skipping credentials")
		return nil
	}

	return &Credentials{
		Endpoint:  c.endpoint,
		Token:     s.AccessToken,
		ExpiresAt: s.ExpiresAt,
		UserID:    s.UserID,
	}
}

// UploadData drains the oldest journal transaction. An empty journal is a
// no-op. A transaction failing with a fatal code is discarded and nil is
// returned; any other failure is returned and the transaction stays queued.
func (c *Connector) UploadData(ctx context.Context, src crud.Source) error {
	tx, err := src.NextCrudTransaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if tx == nil {
		return nil
	}

	entries := tx.Entries()
	ctx, span := c.tracer.StartUpload(ctx, tx.TxID(), len(entries))

	for _, e := range entries {
		err := c.apply(ctx, e)
		if err == nil {
			continue
		}

		rule, fatal := c.rules.Classify(err)
		if !fatal {
			span.SetOutcome("retry")
			span.EndWithError(err)
			log.Warn().Err(err).Int64("txId", tx.TxID()).Str("entry", e.String()).Msg("upload failed, transaction kept for retry")
			return fmt.Errorf("upload of %s failed: %w", e, err)
		}

		code, message, details := errorDetails(err)
		log.Error().
			Int64("txId", tx.TxID()).
			Str("entry", e.String()).
			Str("rule", rule.Name).
			Str("code", code).
			Str("message", message).
			Str("details", details).
			Msg("fatal upload error, discarding transaction")

		if cerr := tx.Complete(ctx); cerr != nil {
			span.EndWithError(cerr)
			return fmt.Errorf("failed to discard transaction %d: %w", tx.TxID(), cerr)
		}
		span.SetOutcome("discarded")
		span.End()
		return nil
	}

	if err := tx.Complete(ctx); err != nil {
		span.EndWithError(err)
		return fmt.Errorf("failed to complete transaction %d: %w", tx.TxID(), err)
	}

	span.SetOutcome("completed")
	span.End()
	log.Debug().Int64("txId", tx.TxID()).Int("entries", len(entries)).Msg("transaction uploaded")
	return nil
}

func (c *Connector) apply(ctx context.Context, e crud.Entry) error {
	if !e.Op.Valid() {
		log.Warn().Str("entry", e.String()).Msg("skipping entry with unknown operation")
		return nil
	}

	switch e.Op {
	case crud.OpPut:
		record := make(map[string]any, len(e.Data)+1)
		for k, v := range e.Data {
			record[k] = v
		}
		record["id"] = e.RowID
		return c.backend.Upsert(ctx, e.Table, record)

	case crud.OpPatch:
		if len(e.Data) == 0 {
			log.Warn().Str("entry", e.String()).Msg("skipping PATCH without data")
			return nil
		}
		return c.backend.Update(ctx, e.Table, e.Data, e.RowID)

	default:
		return c.backend.Delete(ctx, e.Table, e.RowID)
	}
}
