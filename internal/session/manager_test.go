package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/kidsfeed/internal/playback"
	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/policy/opa"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/goodtune/kidsfeed/internal/storage/bolt"
	"github.com/goodtune/kidsfeed/internal/usage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type resolverFunc func(ctx context.Context, videoID string, current func() bool) playback.State

func (f resolverFunc) Resolve(ctx context.Context, videoID string, current func() bool) playback.State {
	return f(ctx, videoID, current)
}

type env struct {
	manager *Manager
	store   *bolt.Store
	tracker *usage.Tracker
	clock   *clockwork.FakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "kidsfeed.bolt"))
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC))
	tracker := usage.NewTracker(store.Quotas(), usage.Config{Clock: clock, Location: time.UTC}, zerolog.Nop())
	admission, err := opa.NewEngine("", zerolog.Nop())
	require.NoError(t, err)
	gate := policy.NewEngine(store, tracker, admission, policy.ParentalControls{}, zerolog.Nop())

	resolver := resolverFunc(func(context.Context, string, func() bool) playback.State {
		return playback.ErrorState{Message: "no providers"}
	})
	manager := NewManager(store, gate, tracker, resolver, Options{Clock: clock}, zerolog.Nop())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		_ = store.Close()
	})

	ctx := context.Background()
	for _, m := range []storage.Member{
		{ID: "kid", FamilyID: "fam", Name: "Kid", Role: storage.RoleChild},
		{ID: "kid2", FamilyID: "fam", Name: "Sibling", Role: storage.RoleChild},
		{ID: "mum", FamilyID: "fam", Name: "Mum", Role: storage.RoleParent},
	} {
		require.NoError(t, store.Members().Upsert(ctx, m))
	}
	require.NoError(t, store.Controls().Upsert(ctx, storage.ParentalControls{
		FamilyID:              "fam",
		Enabled:               true,
		DailyTimeLimitMinutes: 60,
		Schedule:              storage.Schedule{Start: "09:00", End: "18:00"},
	}))
	for _, v := range []storage.Video{
		{ID: "v1", FamilyID: "fam", URL: "https://www.tiktok.com/@a/video/1111", Platform: "tiktok", VideoID: "1111", TotalDurationSeconds: 300, Status: storage.VideoUnseen},
		{ID: "v2", FamilyID: "fam", URL: "https://www.tiktok.com/@a/video/2222", Platform: "tiktok", VideoID: "2222", TotalDurationSeconds: 300, Status: storage.VideoUnseen},
		{ID: "yt", FamilyID: "fam", URL: "https://www.youtube.com/watch?v=abc12345678", Platform: "youtube", VideoID: "abc12345678", TotalDurationSeconds: 300},
		{ID: "private", FamilyID: "fam", Platform: "tiktok", VideoID: "3333", Recipients: []string{"kid2"}},
	} {
		require.NoError(t, store.Videos().Upsert(ctx, v))
	}

	return &env{manager: manager, store: store, tracker: tracker, clock: clock}
}

// play opens a TikTok video and reports the frame load so its timer runs.
func (e *env) play(t *testing.T, memberID, videoID string) *Session {
	t.Helper()
	s, err := e.manager.Open(context.Background(), "fam", memberID, videoID)
	require.NoError(t, err)
	require.NoError(t, e.manager.HandleEvent(s.ID, playback.Event{Type: playback.EventFrameLoad}))
	require.True(t, s.timer.Running())
	return s
}

func (e *env) tick(t *testing.T, timers int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.clock.BlockUntilContext(ctx, timers))
	e.clock.Advance(time.Second)
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not close", s.ID)
	}
}

func drain(t *testing.T, s *Session) []playback.Command {
	t.Helper()
	ch, err := s.Bridge().Attach()
	require.NoError(t, err)

	var out []playback.Command
	timeout := time.After(2 * time.Second)
	for {
		select {
		case cmd, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, cmd)
		case <-timeout:
			t.Fatal("bridge was not closed")
		}
	}
}

func TestOpenWhenLocked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.Credit(ctx, "fam", 3600)
	require.NoError(t, err)

	_, err = e.manager.Open(ctx, "fam", "kid", "v1")
	require.ErrorIs(t, err, ErrLocked)

	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, policy.LockReasonTimeLimit, locked.Decision.Reason)

	s, err := e.manager.Open(ctx, "fam", "mum", "v1")
	require.NoError(t, err)
	assert.False(t, s.Child)
}

func TestOpenNotAdmitted(t *testing.T) {
	e := newEnv(t)

	_, err := e.manager.Open(context.Background(), "fam", "kid", "private")
	assert.ErrorIs(t, err, ErrNotAdmitted)

	_, err = e.manager.Open(context.Background(), "fam", "kid2", "private")
	assert.NoError(t, err)
}

func TestOpenUnknownVideo(t *testing.T) {
	e := newEnv(t)

	_, err := e.manager.Open(context.Background(), "fam", "kid", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenMarksVideoSeen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.manager.Open(ctx, "fam", "kid", "v1")
	require.NoError(t, err)

	v, err := e.store.Videos().Get(ctx, "fam", "v1")
	require.NoError(t, err)
	assert.Equal(t, storage.VideoSeen, v.Status)
}

func TestSecondOpenReplacesSlot(t *testing.T) {
	e := newEnv(t)

	first := e.play(t, "kid", "v1")
	second, err := e.manager.Open(context.Background(), "fam", "kid", "v2")
	require.NoError(t, err)

	assert.False(t, first.timer.Running(), "replaced session must stop crediting")
	waitClosed(t, first)

	_, err = e.manager.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := e.manager.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.VideoID)
	assert.Len(t, e.manager.List(), 1)
}

func TestTicksCreditQuotaAndPersistProgress(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	s := e.play(t, "kid", "v1")
	for i := 1; i <= 3; i++ {
		e.tick(t, 1)
		want := i
		require.Eventually(t, func() bool {
			v, err := e.store.Videos().Get(ctx, "fam", "v1")
			return err == nil && v.WatchDurationSeconds == want
		}, 2*time.Second, time.Millisecond)
	}

	q, err := e.tracker.Current(ctx, "fam")
	require.NoError(t, err)
	assert.EqualValues(t, 3, q.DailyWatchTimeSeconds)
	assert.Equal(t, 3, s.Info().AccumulatedSeconds)
}

func TestTickReachingLimitClosesChildSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.Credit(ctx, "fam", 3599)
	require.NoError(t, err)

	kid := e.play(t, "kid", "v1")
	sibling, err := e.manager.Open(ctx, "fam", "kid2", "v2")
	require.NoError(t, err)
	parent := e.play(t, "mum", "v2")
	parent.timer.Stop()

	e.tick(t, 1)

	waitClosed(t, kid)
	waitClosed(t, sibling)
	assert.False(t, kid.timer.Running())

	var locked *playback.Command
	for _, cmd := range drain(t, kid) {
		if cmd.Type == playback.CommandLocked {
			c := cmd
			locked = &c
		}
	}
	require.NotNil(t, locked, "renderer must receive a lock notice")
	assert.Equal(t, policy.LockReasonTimeLimit, locked.Reason)
	assert.Equal(t, "Time's Up for Today!", locked.Notice.Title)

	_, err = e.manager.Get(parent.ID)
	assert.NoError(t, err, "parents are never locked out")

	q, err := e.tracker.Current(ctx, "fam")
	require.NoError(t, err)
	assert.EqualValues(t, 3600, q.DailyWatchTimeSeconds)
}

func TestParentTickReachingLimitClosesPausedChild(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.Credit(ctx, "fam", 3599)
	require.NoError(t, err)

	kid, err := e.manager.Open(ctx, "fam", "kid", "v1")
	require.NoError(t, err)
	require.False(t, kid.timer.Running())
	parent := e.play(t, "mum", "v2")

	e.tick(t, 1)

	waitClosed(t, kid)
	_, err = e.manager.Get(kid.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A resume after the lock has nothing to attach to.
	err = e.manager.HandleEvent(kid.ID, playback.Event{Type: playback.EventFrameLoad})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.manager.Get(parent.ID)
	assert.NoError(t, err)

	q, err := e.tracker.Current(ctx, "fam")
	require.NoError(t, err)
	assert.EqualValues(t, 3600, q.DailyWatchTimeSeconds)
}

func TestSiblingTicksNeverCreditPastLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.tracker.Credit(ctx, "fam", 3599)
	require.NoError(t, err)

	kid := e.play(t, "kid", "v1")
	sibling := e.play(t, "kid2", "v2")

	e.tick(t, 2)

	waitClosed(t, kid)
	waitClosed(t, sibling)
	assert.Empty(t, e.manager.List())

	q, err := e.tracker.Current(ctx, "fam")
	require.NoError(t, err)
	assert.EqualValues(t, 3600, q.DailyWatchTimeSeconds)
}

func TestControlsChangedLocksOpenSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.manager.Open(ctx, "fam", "kid", "v1")
	require.NoError(t, err)

	require.NoError(t, e.store.Controls().Upsert(ctx, storage.ParentalControls{
		FamilyID:              "fam",
		Enabled:               true,
		DailyTimeLimitMinutes: 60,
		Schedule:              storage.Schedule{Start: "15:00", End: "18:00"},
	}))
	require.NoError(t, e.manager.ControlsChanged(ctx, "fam"))

	waitClosed(t, s)
	var reason policy.LockReason
	for _, cmd := range drain(t, s) {
		if cmd.Type == playback.CommandLocked {
			reason = cmd.Reason
		}
	}
	assert.Equal(t, policy.LockReasonSchedule, reason)
}

func TestRunReevaluatesOnSchedule(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := e.manager.Open(ctx, "fam", "kid", "v1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.manager.Run(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, e.clock.BlockUntilContext(waitCtx, 1))

	// 14:00 to 18:01 crosses the end of the viewing window.
	e.clock.Advance(4*time.Hour + time.Minute)
	waitClosed(t, s)

	cancel()
	<-done
}

func TestHandleEventAPIReadyMarksBridge(t *testing.T) {
	e := newEnv(t)

	s, err := e.manager.Open(context.Background(), "fam", "kid", "yt")
	require.NoError(t, err)
	require.NoError(t, e.manager.HandleEvent(s.ID, playback.Event{Type: playback.EventAPIReady}))

	select {
	case <-s.Bridge().Ready():
	default:
		t.Fatal("bridge not ready")
	}

	err = e.manager.HandleEvent(s.ID, playback.Event{Type: "rewind"})
	assert.ErrorIs(t, err, playback.ErrUnknownEvent)

	err = e.manager.HandleEvent("nope", playback.Event{Type: playback.EventReady})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseAndCloseVideo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.manager.Open(ctx, "fam", "kid", "v1")
	require.NoError(t, err)
	b, err := e.manager.Open(ctx, "fam", "kid2", "v2")
	require.NoError(t, err)

	assert.Equal(t, 1, e.manager.CloseVideo("fam", "v1"))
	waitClosed(t, a)

	require.NoError(t, e.manager.Close(b.ID))
	waitClosed(t, b)
	assert.ErrorIs(t, e.manager.Close(b.ID), ErrNotFound)
	assert.Empty(t, e.manager.List())
}

func TestBridgeSingleRenderer(t *testing.T) {
	b := NewBridge()
	_, err := b.Attach()
	require.NoError(t, err)
	_, err = b.Attach()
	assert.ErrorIs(t, err, ErrRendererAttached)

	b.Detach()
	_, err = b.Attach()
	assert.NoError(t, err)

	b.Close()
	assert.ErrorIs(t, b.Send(playback.Command{Type: playback.CommandPlay}), ErrBridgeClosed)
}
