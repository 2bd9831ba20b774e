// Package netwatch tracks whether the sync backend is reachable and tells
// subscribers when that changes.
package netwatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is how often Run checks reachability
const DefaultInterval = 15 * time.Second

// ReachFunc reports reachability; a nil error means online
type ReachFunc func(ctx context.Context) error

// Monitor holds the last known network state
type Monitor struct {
	reach    ReachFunc
	interval time.Duration

	mu     sync.Mutex
	online bool
	known  bool
	subs   []func(online bool)
}

// New creates a monitor. It starts in the offline state until the first
// check or Set call.
func New(reach ReachFunc, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{reach: reach, interval: interval}
}

// Subscribe registers fn for state transitions. It is never called for a
// report that matches the current state.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Online returns the last known state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records an externally observed state
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	first := !m.known
	m.known = true
	m.online = online
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()

	log.Info().Bool("online", online).Bool("initial", first).Msg("network state changed")

	// The initial offline report is not a transition anyone can act on.
	if first && !online {
		return
	}
	for _, fn := range subs {
		fn(online)
	}
}

// Check runs the reachability check once and records the result
func (m *Monitor) Check(ctx context.Context) bool {
	if m.reach == nil {
		return m.Online()
	}
	pctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.reach(pctx)
	if err != nil {
		log.Debug().Err(err).Msg("network check failed")
	}
	m.Set(err == nil)
	return err == nil
}

// Run checks immediately and then every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
