package offline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultRetryInterval is how often the scheduler retries pending inserts
const DefaultRetryInterval = time.Minute

// Scheduler retries pending inserts periodically
type Scheduler struct {
	Guarantee *Guarantee
	Interval  time.Duration
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("pending insert scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pending insert scheduler stopped")
			return
		case <-ticker.C:
			r := s.Guarantee.SyncPendingInserts(ctx)
			if r.Attempted+r.Dropped > 0 {
				log.Info().
					Int("attempted", r.Attempted).
					Int("succeeded", r.Succeeded).
					Int("dropped", r.Dropped).
					Msg("pending insert pass finished")
			}
		}
	}
}
