// Package replicator keeps the local store connected to the backend: it
// pulls remote changes into the replica and drains the mutation journal
// through the connector.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/connector"
	"github.com/erauner12/fieldsync/internal/crud"
	"github.com/erauner12/fieldsync/internal/localdb"
	"github.com/erauner12/fieldsync/internal/remote"
	"github.com/rs/zerolog/log"
)

// StrategySequential pulls each table page by page, one table at a time
const StrategySequential = "sequential"

// Defaults
const (
	DefaultBatchSize      = 100
	DefaultPollInterval   = 30 * time.Second
	DefaultUploadInterval = 10 * time.Second
	DefaultRetryDelay     = 5 * time.Second
)

var (
	ErrUnsupportedStrategy = errors.New("unsupported fetch strategy")
	ErrAlreadyConnected    = errors.New("replicator already connected")
	ErrNoCredentials       = errors.New("no credentials available")
)

// Connector is the upload side of the backend connection
type Connector interface {
	FetchCredentials(ctx context.Context) *connector.Credentials
	UploadData(ctx context.Context, src crud.Source) error
}

// Puller fetches remote changes
type Puller interface {
	Pull(ctx context.Context, table, cursor string, limit int) (*remote.PullPage, error)
	Subscribe(ctx context.Context, fn func(remote.ChangeEvent)) error
}

// NewPullerFunc builds a Puller for the credentials of a connection
type NewPullerFunc func(creds *connector.Credentials, conn Connector) Puller

// Store is the replica the replicator keeps in sync
type Store interface {
	crud.Source
	CrudCount(ctx context.Context) (int, error)
	CrudNotify() <-chan struct{}
	ApplyDownloaded(ctx context.Context, table string, upserts []map[string]any, deletes []string) error
	Cursor(ctx context.Context, table string) (string, error)
	SetCursor(ctx context.Context, table, cursor string) error
	UpdateStatus(fn func(*localdb.Status))
}

// Options configures one connection
type Options struct {
	FetchStrategy  string
	BatchSize      int
	PollInterval   time.Duration
	UploadInterval time.Duration
	RetryDelay     time.Duration
	DisableFeed    bool
}

func (o *Options) defaults() error {
	if o.FetchStrategy == "" {
		o.FetchStrategy = StrategySequential
	}
	if o.FetchStrategy != StrategySequential {
		return fmt.Errorf("%w: %s", ErrUnsupportedStrategy, o.FetchStrategy)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.UploadInterval <= 0 {
		o.UploadInterval = DefaultUploadInterval
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return nil
}

// Replicator runs the download and upload loops of one connection at a time
type Replicator struct {
	store     Store
	tables    []string
	newPuller NewPullerFunc
	now       func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	pull      chan string
	firstSync chan struct{}
	firstErr  error
}

// Option configures a Replicator
type Option func(*Replicator)

// WithPuller overrides how pull clients are built
func WithPuller(fn NewPullerFunc) Option {
	return func(r *Replicator) { r.newPuller = fn }
}

// WithClock overrides the time source used for LastSyncedAt
func WithClock(now func() time.Time) Option {
	return func(r *Replicator) { r.now = now }
}

// New creates a replicator for the given downloadable tables
func New(store Store, tables []string, opts ...Option) *Replicator {
	r := &Replicator{
		store:     store,
		tables:    tables,
		newPuller: RemotePuller,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RemotePuller pulls over the REST sync API using the connection's token
func RemotePuller(creds *connector.Credentials, conn Connector) Puller {
	return remote.NewClient(creds.Endpoint, credentialTokens{conn: conn})
}

// credentialTokens reads the current token from the connector on every request
type credentialTokens struct {
	conn Connector
}

func (t credentialTokens) AccessToken(ctx context.Context) (string, error) {
	creds := t.conn.FetchCredentials(ctx)
	if creds == nil {
		return "", ErrNoCredentials
	}
	return creds.Token, nil
}

func (credentialTokens) Invalidate() {}

// Connect starts replication through conn. It returns once the loops are
// running; use WaitForFirstSync to wait for the initial download.
func (r *Replicator) Connect(ctx context.Context, conn Connector, opts Options) error {
	if err := opts.defaults(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return ErrAlreadyConnected
	}

	creds := conn.FetchCredentials(ctx)
	if creds == nil {
		return ErrNoCredentials
	}
	puller := r.newPuller(creds, conn)

	// The loops outlive the connect call; only Disconnect stops them.
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.pull = make(chan string, len(r.tables)+1)
	r.firstSync = make(chan struct{})
	r.firstErr = nil

	r.store.UpdateStatus(func(s *localdb.Status) {
		s.Connected = true
		s.LastError = ""
	})

	log.Info().
		Str("endpoint", creds.Endpoint).
		Str("strategy", opts.FetchStrategy).
		Int("batchSize", opts.BatchSize).
		Int("tables", len(r.tables)).
		Msg("replication connected")

	r.wg.Add(2)
	go r.downloadLoop(runCtx, puller, opts, r.pull, r.firstSync)
	go r.uploadLoop(runCtx, conn, opts)
	if !opts.DisableFeed {
		r.wg.Add(1)
		go r.feedLoop(runCtx, puller, opts, r.pull)
	}
	return nil
}

// Disconnect stops every loop and waits for them to exit
func (r *Replicator) Disconnect() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()

	r.store.UpdateStatus(func(s *localdb.Status) {
		s.Connected = false
		s.Uploading = false
		s.Downloading = false
	})
	log.Info().Msg("replication disconnected")
}

// Connected reports whether the loops are running
func (r *Replicator) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// WaitForFirstSync blocks until the first full download finished and
// returns its error
func (r *Replicator) WaitForFirstSync(ctx context.Context) error {
	r.mu.Lock()
	ch := r.firstSync
	r.mu.Unlock()

	if ch == nil {
		return errors.New("replicator not connected")
	}

	select {
	case <-ch:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.firstErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestPull asks the download loop to pull table now; "" pulls every table
func (r *Replicator) RequestPull(table string) {
	r.mu.Lock()
	ch := r.pull
	r.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- table:
	default:
	}
}
