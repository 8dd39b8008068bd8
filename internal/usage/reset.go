package usage

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ResetScheduler applies the daily reset to every family even when nobody
// opens a video that day. It checks once at start and then periodically.
type ResetScheduler struct {
	tracker  *Tracker
	clock    clockwork.Clock
	interval time.Duration
	logger   zerolog.Logger

	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewResetScheduler creates a new reset scheduler
func NewResetScheduler(tracker *Tracker, interval time.Duration, logger zerolog.Logger) *ResetScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ResetScheduler{
		tracker:  tracker,
		clock:    tracker.clock,
		interval: interval,
		logger:   logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the load-time check and begins the periodic loop
func (rs *ResetScheduler) Start(ctx context.Context) {
	rs.check(ctx)
	rs.started = true
	ticker := rs.clock.NewTicker(rs.interval)
	go rs.run(ctx, ticker)
	rs.logger.Info().
		Dur("interval", rs.interval).
		Msg("Daily quota reset scheduler started")
}

// Stop stops the reset scheduler and waits for the loop to exit
func (rs *ResetScheduler) Stop() {
	rs.stopOnce.Do(func() {
		close(rs.stopChan)
	})
	if rs.started {
		<-rs.done
	}
	rs.logger.Info().Msg("Daily quota reset scheduler stopped")
}

func (rs *ResetScheduler) run(ctx context.Context, ticker clockwork.Ticker) {
	defer close(rs.done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			rs.check(ctx)
		case <-rs.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (rs *ResetScheduler) check(ctx context.Context) {
	reset, err := rs.tracker.ResetStale(ctx)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Daily quota reset check failed")
	}
	if reset > 0 {
		rs.logger.Info().Int("families", reset).Str("date", rs.tracker.Today()).Msg("Daily quota reset complete")
	}
}
