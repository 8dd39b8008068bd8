package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

// recorder collects timer callbacks.
type recorder struct {
	mu       sync.Mutex
	credited int
	progress []int
	ticks    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ticks: make(chan struct{}, 1024)}
}

func (r *recorder) credit(seconds int) {
	r.mu.Lock()
	r.credited += seconds
	r.mu.Unlock()
}

func (r *recorder) advance(accumulated int) {
	r.mu.Lock()
	r.progress = append(r.progress, accumulated)
	r.mu.Unlock()
	r.ticks <- struct{}{}
}

func (r *recorder) snapshot() (int, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credited, append([]int(nil), r.progress...)
}

func newTestTimer(clock clockwork.Clock, accumulated, total int, rec *recorder) *WatchTimer {
	return NewWatchTimer(TimerConfig{
		Clock:       clock,
		Accumulated: accumulated,
		Total:       total,
		OnCredit:    rec.credit,
		OnProgress:  rec.advance,
	})
}

// tickOnce advances the fake clock by one interval and waits for the
// resulting callback.
func tickOnce(t *testing.T, clock *clockwork.FakeClock, rec *recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	select {
	case <-rec.ticks:
	case <-ctx.Done():
		t.Fatal("timed out waiting for tick")
	}
}

func TestWatchTimerCreditsEachSecond(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	timer := newTestTimer(clock, 0, 100, rec)

	timer.Start()
	for i := 0; i < 3; i++ {
		tickOnce(t, clock, rec)
	}
	timer.Stop()

	credited, progress := rec.snapshot()
	assert.Equal(t, 3, credited)
	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, 3, timer.Accumulated())
	assert.False(t, timer.Running())
}

func TestWatchTimerClampsAtTotal(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	timer := newTestTimer(clock, 9, 10, rec)

	timer.Start()
	for i := 0; i < 3; i++ {
		tickOnce(t, clock, rec)
	}
	timer.Stop()

	credited, progress := rec.snapshot()
	// quota still receives every second; the session stops at the length
	assert.Equal(t, 3, credited)
	assert.Equal(t, []int{10, 10, 10}, progress)
}

func TestWatchTimerStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	timer := newTestTimer(clockwork.NewFakeClock(), 0, 10, newRecorder())
	timer.Stop()
	timer.Start()
	timer.Stop()
	timer.Stop()
	assert.False(t, timer.Running())
}

func TestWatchTimerRestart(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	timer := newTestTimer(clock, 0, 100, rec)

	timer.Start()
	tickOnce(t, clock, rec)
	timer.Stop()

	timer.Start()
	tickOnce(t, clock, rec)
	timer.Stop()

	credited, _ := rec.snapshot()
	assert.Equal(t, 2, credited)
}

func TestWatchTimerRapidStartKeepsSingleTicker(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	timer := newTestTimer(clock, 0, 100, rec)

	for i := 0; i < 5; i++ {
		timer.Start()
	}
	tickOnce(t, clock, rec)
	timer.Stop()

	credited, _ := rec.snapshot()
	assert.Equal(t, 1, credited, "restarting must not leave extra tickers crediting")
}

func TestWatchTimerStaleTickIsNoop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	timer := newTestTimer(clock, 0, 100, rec)

	timer.Start()
	timer.mu.Lock()
	stale := timer.generation
	timer.mu.Unlock()
	timer.Stop()

	assert.False(t, timer.tick(stale))
	credited, _ := rec.snapshot()
	assert.Zero(t, credited)
}

func TestWatchTimerStopFromCallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := clockwork.NewFakeClock()
	done := make(chan struct{})
	var timer *WatchTimer
	timer = NewWatchTimer(TimerConfig{
		Clock: clock,
		Total: 10,
		OnCredit: func(int) {
			timer.Stop()
		},
		OnProgress: func(int) {
			close(done)
		},
	})

	timer.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out")
	}
	assert.False(t, timer.Running())
}

func TestWatchTimerNeverExceedsTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 50).Draw(t, "total")
		start := rapid.IntRange(0, 60).Draw(t, "start")
		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 100).Draw(t, "ops")

		timer := NewWatchTimer(TimerConfig{
			Clock:       clockwork.NewFakeClock(),
			Accumulated: start,
			Total:       total,
		})
		for _, op := range ops {
			switch op {
			case 0:
				timer.Start()
			case 1:
				timer.Stop()
			case 2:
				timer.mu.Lock()
				gen := timer.generation
				timer.mu.Unlock()
				timer.tick(gen)
			}
			if got := timer.Accumulated(); got > total {
				t.Fatalf("accumulated %d exceeds total %d", got, total)
			}
		}
		timer.Stop()
	})
}
