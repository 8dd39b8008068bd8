package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/kidsfeed/internal/storage/bolt"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *bolt.Store {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "kidsfeed.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestTracker(t *testing.T, now time.Time) (*Tracker, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(now)
	store := openTestStore(t)
	tracker := NewTracker(store.Quotas(), Config{Clock: clock, Location: time.UTC}, zerolog.Nop())
	return tracker, clock
}

func TestTrackerCreditAccumulates(t *testing.T) {
	tracker, _ := newTestTracker(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC))
	ctx := context.Background()

	q, err := tracker.Credit(ctx, "fam", 3000)
	require.NoError(t, err)
	assert.EqualValues(t, 3000, q.DailyWatchTimeSeconds)

	for i := 0; i < 600; i++ {
		q, err = tracker.Credit(ctx, "fam", 1)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3600, q.DailyWatchTimeSeconds)
	assert.Equal(t, "2024-03-01", q.LastResetDate)
}

func TestTrackerCurrentResetsOnNewDay(t *testing.T) {
	tracker, clock := newTestTracker(t, time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := tracker.Credit(ctx, "fam", 1200)
	require.NoError(t, err)

	q, err := tracker.Current(ctx, "fam")
	require.NoError(t, err)
	assert.EqualValues(t, 1200, q.DailyWatchTimeSeconds)

	clock.Advance(2 * time.Minute)

	q, err = tracker.Current(ctx, "fam")
	require.NoError(t, err)
	assert.Zero(t, q.DailyWatchTimeSeconds)
	assert.Equal(t, "2024-03-02", q.LastResetDate)
}

func TestTrackerCurrentForUnknownFamily(t *testing.T) {
	tracker, _ := newTestTracker(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	q, err := tracker.Current(context.Background(), "new-family")
	require.NoError(t, err)
	assert.Zero(t, q.DailyWatchTimeSeconds)
	assert.Equal(t, "2024-03-01", q.LastResetDate)
}

func TestTrackerUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC))
	tracker := NewTracker(openTestStore(t).Quotas(), Config{Clock: clock, Location: loc}, zerolog.Nop())

	assert.Equal(t, "2024-03-02", tracker.Today())
}

func TestTrackerResetStale(t *testing.T) {
	tracker, clock := newTestTracker(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, fam := range []string{"a", "b", "c"} {
		_, err := tracker.Credit(ctx, fam, 60)
		require.NoError(t, err)
	}

	reset, err := tracker.ResetStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, reset)

	clock.Advance(24 * time.Hour)

	reset, err = tracker.ResetStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, reset)

	reset, err = tracker.ResetStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, reset, "reset happens once per day")
}

func TestResetSchedulerChecksAtStartAndPeriodically(t *testing.T) {
	store := openTestStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	tracker := NewTracker(store.Quotas(), Config{Clock: clock, Location: time.UTC}, zerolog.Nop())
	ctx := context.Background()

	// left over from yesterday
	_, err := store.Quotas().Add(ctx, "fam", "2024-02-29", 900)
	require.NoError(t, err)

	scheduler := NewResetScheduler(tracker, time.Minute, zerolog.Nop())
	scheduler.Start(ctx)
	defer scheduler.Stop()

	q, err := store.Quotas().Get(ctx, "fam")
	require.NoError(t, err)
	assert.Zero(t, q.DailyWatchTimeSeconds, "load-time check resets stale counters")

	_, err = tracker.Credit(ctx, "fam", 30)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(24 * time.Hour)

	require.Eventually(t, func() bool {
		q, err := store.Quotas().Get(ctx, "fam")
		return err == nil && q.LastResetDate == "2024-03-02" && q.DailyWatchTimeSeconds == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResetSchedulerStopWithoutStart(t *testing.T) {
	tracker, _ := newTestTracker(t, time.Now())
	NewResetScheduler(tracker, time.Minute, zerolog.Nop()).Stop()
}
