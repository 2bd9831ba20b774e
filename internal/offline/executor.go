package offline

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Executor runs fire-and-forget tasks. Submit never blocks on the task and
// never reports the task's outcome to the caller.
type Executor interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// Background runs each task on its own goroutine. Errors are logged and
// panics recovered, so a failing task never reaches the submitter.
type Background struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewBackground creates an executor whose tasks run under ctx
func NewBackground(ctx context.Context) *Background {
	ctx, cancel := context.WithCancel(ctx)
	return &Background{ctx: ctx, cancel: cancel}
}

// Submit starts fn in the background; tasks submitted after Close are dropped
func (b *Background) Submit(name string, fn func(ctx context.Context) error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Warn().Str("task", name).Msg("executor closed, dropping task")
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Interface("panic", r).Msg("background task panicked")
			}
		}()

		if err := fn(b.ctx); err != nil {
			log.Warn().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
}

// Wait blocks until every submitted task has returned
func (b *Background) Wait() {
	b.wg.Wait()
}

// Close cancels running tasks, rejects new ones and waits for the rest
func (b *Background) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
