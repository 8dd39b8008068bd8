package policy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/kidsfeed/internal/policy/opa"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/goodtune/kidsfeed/internal/storage/bolt"
	"github.com/goodtune/kidsfeed/internal/usage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine  *Engine
	store   *bolt.Store
	tracker *usage.Tracker
	clock   *clockwork.FakeClock
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "kidsfeed.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := clockwork.NewFakeClockAt(now)
	tracker := usage.NewTracker(store.Quotas(), usage.Config{Clock: clock, Location: time.UTC}, zerolog.Nop())

	admission, err := opa.NewEngine("", zerolog.Nop())
	require.NoError(t, err)

	engine := NewEngine(store, tracker, admission, ParentalControls{}, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, store.Members().Upsert(ctx, storage.Member{ID: "kid", FamilyID: "fam", Name: "Kid", Role: storage.RoleChild}))
	require.NoError(t, store.Members().Upsert(ctx, storage.Member{ID: "mum", FamilyID: "fam", Name: "Mum", Role: storage.RoleParent}))
	require.NoError(t, store.Controls().Upsert(ctx, storage.ParentalControls{
		FamilyID:              "fam",
		Enabled:               true,
		DailyTimeLimitMinutes: 60,
		Schedule:              storage.Schedule{Start: "09:00", End: "18:00"},
	}))

	return &testEnv{engine: engine, store: store, tracker: tracker, clock: clock}
}

func TestEngineCheckQuotaScenario(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := env.tracker.Credit(ctx, "fam", 3000)
	require.NoError(t, err)

	d, err := env.engine.Check(ctx, "fam", "kid")
	require.NoError(t, err)
	assert.False(t, d.Locked)
	assert.EqualValues(t, 600, d.RemainingSeconds())

	for i := 0; i < 600; i++ {
		_, err = env.tracker.Credit(ctx, "fam", 1)
		require.NoError(t, err)
	}

	d, err = env.engine.Check(ctx, "fam", "kid")
	require.NoError(t, err)
	assert.True(t, d.Locked)
	assert.Equal(t, LockReasonTimeLimit, d.Reason)

	d, err = env.engine.Check(ctx, "fam", "mum")
	require.NoError(t, err)
	assert.False(t, d.Locked)
}

func TestEngineCheckAppliesDailyResetFirst(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 5, 6, 17, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := env.tracker.Credit(ctx, "fam", 3600)
	require.NoError(t, err)

	d, err := env.engine.Check(ctx, "fam", "kid")
	require.NoError(t, err)
	require.True(t, d.Locked)

	env.clock.Advance(17 * time.Hour)

	d, err = env.engine.Check(ctx, "fam", "kid")
	require.NoError(t, err)
	assert.False(t, d.Locked, "yesterday's watch time must not carry over")
	assert.Zero(t, d.DailyWatchTimeSeconds)
}

func TestEngineCheckSchedule(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC))

	d, err := env.engine.Check(context.Background(), "fam", "kid")
	require.NoError(t, err)
	assert.True(t, d.Locked)
	assert.Equal(t, LockReasonSchedule, d.Reason)
}

func TestEngineCheckUnknownMember(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))

	_, err := env.engine.Check(context.Background(), "fam", "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngineControlsDefaults(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	env.engine.defaults = ParentalControls{Enabled: true, DailyTimeLimitMinutes: 30, Schedule: Schedule{Start: "08:00", End: "19:00"}}

	c, err := env.engine.Controls(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, 30, c.DailyTimeLimitMinutes)

	c, err = env.engine.Controls(context.Background(), "fam")
	require.NoError(t, err)
	assert.Equal(t, 60, c.DailyTimeLimitMinutes)
}

func TestEngineAdmit(t *testing.T) {
	env := newTestEnv(t, time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	kid := storage.Member{ID: "kid", FamilyID: "fam", Role: storage.RoleChild}
	mum := storage.Member{ID: "mum", FamilyID: "fam", Role: storage.RoleParent}
	private := storage.Video{ID: "v1", FamilyID: "fam", Platform: "youtube", Recipients: []string{"sibling"}}
	shared := storage.Video{ID: "v2", FamilyID: "fam", Platform: "youtube"}

	d, err := env.engine.Admit(ctx, kid, private)
	require.NoError(t, err)
	assert.False(t, d.Allow)

	d, err = env.engine.Admit(ctx, kid, shared)
	require.NoError(t, err)
	assert.True(t, d.Allow)

	d, err = env.engine.Admit(ctx, mum, private)
	require.NoError(t, err)
	assert.True(t, d.Allow)
}
