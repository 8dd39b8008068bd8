package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kidsfeed/internal/metrics"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DateLayout is the calendar-day key stored as a quota's LastResetDate.
const DateLayout = "2006-01-02"

// Tracker owns the per-family daily watch counter. Every read applies the
// daily reset first, so a stale counter is never reported.
type Tracker struct {
	quotas   storage.QuotaStore
	clock    clockwork.Clock
	location *time.Location
	logger   zerolog.Logger
}

// Config holds tracker configuration
type Config struct {
	Clock    clockwork.Clock
	Location *time.Location
}

// NewTracker creates a new quota tracker
func NewTracker(quotas storage.QuotaStore, config Config, logger zerolog.Logger) *Tracker {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	return &Tracker{
		quotas:   quotas,
		clock:    config.Clock,
		location: config.Location,
		logger:   logger.With().Str("component", "usage-tracker").Logger(),
	}
}

// Now returns the current time in the tracker's time zone.
func (t *Tracker) Now() time.Time {
	return t.clock.Now().In(t.location)
}

// Today returns the current calendar-day key.
func (t *Tracker) Today() string {
	return t.Now().Format(DateLayout)
}

// Current returns the family's quota for today, zeroing a counter left over
// from an earlier day.
func (t *Tracker) Current(ctx context.Context, familyID string) (storage.WatchQuota, error) {
	update, err := t.quotas.ResetIfStale(ctx, familyID, t.Today())
	if err != nil {
		return storage.WatchQuota{}, fmt.Errorf("reset quota for %s: %w", familyID, err)
	}
	t.observe(familyID, update)
	return update.Quota, nil
}

// Credit adds seconds of watch time and returns the new total.
func (t *Tracker) Credit(ctx context.Context, familyID string, seconds int) (storage.WatchQuota, error) {
	if seconds <= 0 {
		return t.Current(ctx, familyID)
	}
	update, err := t.quotas.Add(ctx, familyID, t.Today(), int64(seconds))
	if err != nil {
		return storage.WatchQuota{}, fmt.Errorf("credit quota for %s: %w", familyID, err)
	}
	t.observe(familyID, update)
	metrics.WatchSecondsCredited.WithLabelValues(familyID).Add(float64(seconds))
	return update.Quota, nil
}

// ResetStale zeroes every quota whose last reset was before today and
// returns how many were reset.
func (t *Tracker) ResetStale(ctx context.Context) (int, error) {
	quotas, err := t.quotas.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list quotas: %w", err)
	}

	today := t.Today()
	reset := 0
	var errs []error
	for _, q := range quotas {
		if q.LastResetDate == today {
			continue
		}
		update, err := t.quotas.ResetIfStale(ctx, q.FamilyID, today)
		if err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", q.FamilyID, err))
			continue
		}
		t.observe(q.FamilyID, update)
		if update.Reset {
			reset++
		}
	}
	return reset, errors.Join(errs...)
}

func (t *Tracker) observe(familyID string, update *storage.QuotaUpdate) {
	if !update.Reset {
		return
	}
	metrics.QuotaResets.Inc()
	t.logger.Info().
		Str("family_id", familyID).
		Str("date", update.Quota.LastResetDate).
		Msg("Daily watch time reset")
}
