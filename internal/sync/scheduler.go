package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultResyncInterval is how often the scheduler runs a pass when nothing
// else triggers one.
const DefaultResyncInterval = 5 * time.Minute

// Scheduler runs [Resync] periodically, on demand, and again after an
// unsuccessful pass with exponential backoff. Create one with [NewScheduler]
// and start it with [Scheduler.Run].
type Scheduler struct {
	resync   *Resync
	interval time.Duration
	trigger  chan struct{}
	backoff  backoff.BackOff
	log      *slog.Logger

	// passes, when set, receives the outcome of every pass.
	passes chan<- Outcome
}

// NewScheduler creates a Scheduler. A non-positive interval means
// [DefaultResyncInterval].
func NewScheduler(resync *Resync, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = interval
	return &Scheduler{
		resync:   resync,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		backoff:  b,
		log:      logger,
	}
}

// Trigger requests a pass as soon as possible. Triggers that arrive while one
// is already queued are merged into it.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunOnce performs a single pass and returns its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) (Outcome, ResyncStats) {
	return s.resync.Run(ctx)
}

// Run starts the loop. It runs an immediate first pass and blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("resync scheduler shutting down")
			return ctx.Err()
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		outcome, _ := s.resync.Run(ctx)
		if s.passes != nil {
			select {
			case s.passes <- outcome:
			case <-ctx.Done():
			}
		}

		next := s.interval
		if outcome == OutcomeSuccess {
			s.backoff.Reset()
		} else {
			next = s.backoff.NextBackOff()
			s.log.Debug("resync incomplete, backing off", "outcome", outcome, "retry_in", next)
		}
		timer.Reset(next)
	}
}
