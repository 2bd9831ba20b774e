// Package syncsession owns the connection lifecycle of the local replica:
// session refresh before connecting, credential checks, reconnecting after
// network recovery and forced resyncs.
package syncsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/localdb"
	"github.com/erauner12/fieldsync/internal/offline"
	"github.com/erauner12/fieldsync/internal/replicator"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// State is the connection state of the session
type State string

const (
	StateUninitialized     State = "uninitialized"
	StateConnecting        State = "connecting"
	StateConnected         State = "connected"
	StateDisconnectedError State = "disconnected-error"
	StateSessionExpired    State = "session-expired"
)

// DefaultRefreshCheckInterval is how often the session is checked for expiry
const DefaultRefreshCheckInterval = 30 * time.Second

// Auth is the part of the auth client the manager drives
type Auth interface {
	Session(ctx context.Context) (*auth.Session, error)
	Refresh(ctx context.Context) (*auth.Session, error)
	OnChange(fn func(*auth.Session))
}

// Store is the part of the replica the manager needs
type Store interface {
	Init(ctx context.Context) error
	ResetCursors(ctx context.Context) error
	Status() localdb.Status
}

// Replicator runs replication for one connection
type Replicator interface {
	Connect(ctx context.Context, conn replicator.Connector, opts replicator.Options) error
	WaitForFirstSync(ctx context.Context) error
	Disconnect()
}

// PendingSyncer replays offline writes
type PendingSyncer interface {
	SyncPendingInserts(ctx context.Context) offline.Report
}

// Network delivers online/offline transitions
type Network interface {
	Subscribe(fn func(online bool))
}

// Options configures a Manager
type Options struct {
	Auth        Auth
	Connector   replicator.Connector
	Store       Store
	Replicator  Replicator
	Replication replicator.Options
	Pending     PendingSyncer    // optional
	Network     Network          // optional
	Executor    offline.Executor // defaults to a background executor

	RefreshBuffer        time.Duration
	RefreshCheckInterval time.Duration
	Now                  func() time.Time
}

// Snapshot is the observable state of the manager
type Snapshot struct {
	State           State          `json:"state"`
	Message         string         `json:"message,omitempty"`
	CredentialError bool           `json:"credentialError"`
	Since           time.Time      `json:"since"`
	Store           localdb.Status `json:"store"`
}

// Manager is the sync session state machine
type Manager struct {
	opts Options

	mu        sync.Mutex
	state     State
	message   string
	since     time.Time
	credErr   bool
	listeners []func(Snapshot)

	group singleflight.Group
}

// New creates a manager in the uninitialized state
func New(opts Options) *Manager {
	if opts.RefreshBuffer <= 0 {
		opts.RefreshBuffer = auth.DefaultRefreshBuffer
	}
	if opts.RefreshCheckInterval <= 0 {
		opts.RefreshCheckInterval = DefaultRefreshCheckInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Executor == nil {
		opts.Executor = offline.NewBackground(context.Background())
	}
	if opts.Replication.FetchStrategy == "" {
		opts.Replication.FetchStrategy = replicator.StrategySequential
	}
	if opts.Replication.BatchSize <= 0 {
		opts.Replication.BatchSize = replicator.DefaultBatchSize
	}
	return &Manager{opts: opts, state: StateUninitialized, since: opts.Now()}
}

// OnStateChange registers fn for every state transition
func (m *Manager) OnStateChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Snapshot returns the current state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{State: m.state, Message: m.message, CredentialError: m.credErr, Since: m.since}
	m.mu.Unlock()
	if m.opts.Store != nil {
		s.Store = m.opts.Store.Status()
	}
	return s
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(state State, message string) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.message = message
	m.since = m.opts.Now()
	listeners := append([]func(Snapshot){}, m.listeners...)
	m.mu.Unlock()

	ev := log.Info()
	if state == StateDisconnectedError || state == StateSessionExpired {
		ev = log.Warn()
	}
	ev.Str("from", string(prev)).Str("to", string(state)).Str("message", message).Msg("sync session state")

	snap := m.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (m *Manager) setCredentialError(v bool) {
	m.mu.Lock()
	m.credErr = v
	m.mu.Unlock()
}

// Start hooks the manager to session and network events, connects if a
// session is already available and keeps the session fresh until ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.opts.Auth.OnChange(m.handleSessionChange)
	if m.opts.Network != nil {
		m.opts.Network.Subscribe(m.OnNetworkChange)
	}

	if s, err := m.opts.Auth.Session(ctx); err == nil && s != nil {
		m.Connect(ctx)
	} else {
		log.Info().Msg("no session yet, waiting for sign-in")
	}

	go m.refreshLoop(ctx)
}

// Connect runs one connect sequence. Concurrent calls share a single
// attempt. The outcome is the resulting state, never an error.
func (m *Manager) Connect(ctx context.Context) Snapshot {
	m.group.Do("connect", func() (any, error) {
		m.connect(ctx)
		return nil, nil
	})
	return m.Snapshot()
}

func (m *Manager) connect(ctx context.Context) {
	m.opts.Replicator.Disconnect()
	m.setState(StateConnecting, "")

	now := m.opts.Now()
	if s, err := m.opts.Auth.Session(ctx); err == nil && (s.IsExpired(now) || s.NeedsRefresh(now, m.opts.RefreshBuffer)) {
		if _, rerr := m.opts.Auth.Refresh(ctx); rerr != nil {
			if s.IsExpired(now) {
				m.setState(StateSessionExpired, fmt.Sprintf("session expired and could not be refreshed: %v", rerr))
				return
			}
			log.Warn().Err(rerr).Msg("session refresh failed, using current token")
		}
	}

	if creds := m.opts.Connector.FetchCredentials(ctx); creds == nil {
		m.setCredentialError(true)
		m.setState(StateDisconnectedError, "no credentials available")
		return
	}

	if err := m.opts.Store.Init(ctx); err != nil {
		m.setState(StateDisconnectedError, fmt.Sprintf("failed to initialise local store: %v", err))
		return
	}

	if err := m.opts.Replicator.Connect(ctx, m.opts.Connector, m.opts.Replication); err != nil {
		m.setState(StateDisconnectedError, err.Error())
		return
	}

	// Sequential batches bound each request; the first sync itself may take
	// as long as the data needs and ends only with ctx
	if err := m.opts.Replicator.WaitForFirstSync(ctx); err != nil {
		m.opts.Replicator.Disconnect()
		m.setState(StateDisconnectedError, fmt.Sprintf("first sync failed: %v", err))
		return
	}

	m.setCredentialError(false)
	m.setState(StateConnected, "")
}

// Disconnect stops replication
func (m *Manager) Disconnect(_ context.Context) {
	m.opts.Replicator.Disconnect()
	m.setState(StateUninitialized, "disconnected")
}

// ForceResync drops every download cursor and reconnects, so the next
// download is a full one
func (m *Manager) ForceResync(ctx context.Context) (Snapshot, error) {
	log.Info().Msg("forcing full resync")
	m.opts.Replicator.Disconnect()
	if err := m.opts.Store.ResetCursors(ctx); err != nil {
		m.setState(StateDisconnectedError, fmt.Sprintf("failed to reset cursors: %v", err))
		return m.Snapshot(), fmt.Errorf("failed to reset cursors: %w", err)
	}
	return m.Connect(ctx), nil
}

// OnNetworkChange reacts to connectivity transitions. Coming back online
// replays offline writes and reconnects unless credentials are the problem.
func (m *Manager) OnNetworkChange(online bool) {
	if !online {
		log.Info().Msg("network offline")
		return
	}

	if m.opts.Pending != nil {
		m.opts.Executor.Submit("sync-pending-inserts", func(ctx context.Context) error {
			m.opts.Pending.SyncPendingInserts(ctx)
			return nil
		})
	}

	m.mu.Lock()
	reconnect := m.state != StateConnected && m.state != StateConnecting && !m.credErr
	m.mu.Unlock()
	if reconnect {
		log.Info().Msg("network recovered, reconnecting")
		m.submitConnect()
	}
}

// handleSessionChange runs on the auth client's goroutine, so work is
// handed to the executor.
func (m *Manager) handleSessionChange(s *auth.Session) {
	if s == nil {
		m.opts.Executor.Submit("sync-disconnect", func(ctx context.Context) error {
			m.opts.Replicator.Disconnect()
			m.setState(StateUninitialized, "signed out")
			return nil
		})
		return
	}
	m.setCredentialError(false)
	m.submitConnect()
}

func (m *Manager) submitConnect() {
	m.opts.Executor.Submit("sync-connect", func(ctx context.Context) error {
		switch m.State() {
		case StateConnected, StateConnecting:
			return nil
		}
		if snap := m.Connect(ctx); snap.State != StateConnected {
			return errors.New(snap.Message)
		}
		return nil
	})
}

func (m *Manager) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.RefreshCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckSession(ctx)
		}
	}
}

// CheckSession refreshes the session when it is close to expiry. A failed
// refresh of an already expired session ends replication.
func (m *Manager) CheckSession(ctx context.Context) {
	s, err := m.opts.Auth.Session(ctx)
	if err != nil || s == nil {
		return
	}

	now := m.opts.Now()
	if !s.IsExpired(now) && !s.NeedsRefresh(now, m.opts.RefreshBuffer) {
		return
	}

	log.Debug().Time("expiresAt", s.ExpiresAt).Msg("refreshing session")
	if _, err := m.opts.Auth.Refresh(ctx); err != nil {
		if s.IsExpired(now) {
			m.opts.Replicator.Disconnect()
			m.setState(StateSessionExpired, fmt.Sprintf("session expired and could not be refreshed: %v", err))
			return
		}
		log.Warn().Err(err).Msg("proactive session refresh failed")
	}
}
