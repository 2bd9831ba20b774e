package main

import (
	"context"
	"fmt"
	"time"

	"github.com/erauner12/fieldsync/internal/actors"
	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/config"
	"github.com/erauner12/fieldsync/internal/connector"
	"github.com/erauner12/fieldsync/internal/db"
	"github.com/erauner12/fieldsync/internal/kvstore"
	"github.com/erauner12/fieldsync/internal/localdb"
	"github.com/erauner12/fieldsync/internal/netwatch"
	"github.com/erauner12/fieldsync/internal/offline"
	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/erauner12/fieldsync/internal/replicator"
	"github.com/erauner12/fieldsync/internal/schema"
	"github.com/erauner12/fieldsync/internal/syncsession"
	"github.com/erauner12/fieldsync/internal/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// app holds every component of a client process. Components are created
// once here and passed to each other; nothing is global.
type app struct {
	cfg    *config.Config
	schema *schema.Schema

	kv     *kvstore.Store
	db     *localdb.DB
	tracer *tracing.Tracer
	exec   *offline.Background
	pool   *pgxpool.Pool // set only with a direct database

	auth      *auth.Client
	api       *remote.Client
	conn      *connector.Connector
	guarantee *offline.Guarantee
	repl      *replicator.Replicator
	network   *netwatch.Monitor
	session   *syncsession.Manager
	actors    *actors.Service
}

// newApp opens local storage and wires the sync layer. The replica is
// opened but not initialized; the session manager does that on connect.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, schema: schema.Default()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.kv, err = kvstore.Open(ctx, cfg.KVPath())
	if err != nil {
		return nil, err
	}
	a.db, err = localdb.Open(ctx, cfg.ReplicaPath(), a.schema)
	if err != nil {
		return nil, err
	}

	a.tracer, err = tracing.New(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ExporterType: tracing.ExporterType(cfg.Tracing.Exporter),
		OTLPEndpoint: cfg.Tracing.Endpoint,
		ServiceName:  "fieldsync",
		Environment:  environment(cfg),
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	rules := connector.DefaultFatalRules()
	extra, err := connector.ParseFatalRules(cfg.Sync.FatalCodes)
	if err != nil {
		return nil, err
	}
	rules = append(rules, extra...)

	a.exec = offline.NewBackground(context.Background())

	a.auth = auth.NewClient(cfg.DirectAPIURL(), a.kv)
	if _, err := a.auth.Restore(ctx); err != nil {
		return nil, err
	}

	var apiOpts []remote.Option
	if cfg.DevMode {
		log.Warn().Str("subject", cfg.DevSubject).Msg("dev mode: writes authenticate with X-Debug-Sub")
		apiOpts = append(apiOpts, remote.WithDebugSubject(cfg.DevSubject))
	}
	a.api = remote.NewClient(cfg.DirectAPIURL(), a.auth, apiOpts...)

	// Mutations go through the REST API unless a direct database is configured
	var backend interface {
		remote.Backend
		offline.DirectAPI
	} = a.api
	if cfg.DirectDB.URL != "" {
		a.pool, err = db.OpenWith(ctx, cfg.DirectDB.URL, db.StationPool)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to direct database: %w", err)
		}
		log.Info().Str("owner", cfg.DirectDB.Owner).Msg("replaying mutations into the backend database")
		backend = remote.NewPGBackend(a.pool, cfg.DirectDB.Owner)
	}

	a.conn = connector.New(connector.Options{
		Endpoint: cfg.SyncEndpoint,
		Sessions: a.auth,
		Backend:  backend,
		Rules:    rules,
		Tracer:   a.tracer,
	})

	a.guarantee = offline.New(offline.Options{
		Store:      a.db,
		API:        backend,
		KV:         a.kv,
		Executor:   a.exec,
		Tracer:     a.tracer,
		MaxRetries: cfg.Offline.MaxRetries,
	})

	a.repl = replicator.New(a.db, a.schema.SyncedNames())
	a.network = netwatch.New(a.api.Health, cfg.Network.CheckInterval)

	a.session = syncsession.New(syncsession.Options{
		Auth:       a.auth,
		Connector:  a.conn,
		Store:      a.db,
		Replicator: a.repl,
		Replication: replicator.Options{
			FetchStrategy:  replicator.StrategySequential,
			BatchSize:      cfg.Sync.BatchSize,
			PollInterval:   cfg.Sync.PollInterval,
			UploadInterval: cfg.Sync.UploadInterval,
			RetryDelay:     cfg.Sync.RetryDelay,
			DisableFeed:    cfg.Sync.DisableFeed,
		},
		Pending:              a.guarantee,
		Network:              a.network,
		Executor:             a.exec,
		RefreshBuffer:        cfg.Auth.RefreshBuffer,
		RefreshCheckInterval: cfg.Sync.RefreshCheckInterval,
	})

	a.actors = actors.NewService(a.guarantee, schema.NewBuilder(nil, nil))
	return a, nil
}

func environment(cfg *config.Config) string {
	if cfg.DevMode {
		return "development"
	}
	return "production"
}

// Close stops background work and closes local storage
func (a *app) Close() {
	if a.repl != nil {
		a.repl.Disconnect()
	}
	if a.exec != nil {
		a.exec.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.tracer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
		cancel()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close replica")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close kv store")
		}
	}
}
