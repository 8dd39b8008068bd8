package usage

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval is the crediting period: one second of watch time per
// tick.
const DefaultTickInterval = time.Second

// WatchTimer credits one second per tick while playback is running. Each
// tick reports +1 to the quota callback and advances the session's
// accumulated seconds, clamped at the video's total duration.
type WatchTimer struct {
	clock      clockwork.Clock
	interval   time.Duration
	onCredit   func(seconds int)
	onProgress func(accumulated int)

	mu          sync.Mutex
	accumulated int
	total       int
	generation  uint64
	running     bool
	stop        chan struct{}
}

// TimerConfig configures a WatchTimer.
type TimerConfig struct {
	Clock    clockwork.Clock
	Interval time.Duration
	// Accumulated is the watch duration already stored for the video.
	Accumulated int
	// Total is the video's length in seconds.
	Total int
	// OnCredit receives every credited second.
	OnCredit func(seconds int)
	// OnProgress receives the session's accumulated seconds after each tick.
	OnProgress func(accumulated int)
}

// NewWatchTimer creates a stopped timer.
func NewWatchTimer(cfg TimerConfig) *WatchTimer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.OnCredit == nil {
		cfg.OnCredit = func(int) {}
	}
	if cfg.OnProgress == nil {
		cfg.OnProgress = func(int) {}
	}
	accumulated := cfg.Accumulated
	if accumulated < 0 {
		accumulated = 0
	}
	if cfg.Total >= 0 && accumulated > cfg.Total {
		accumulated = cfg.Total
	}
	return &WatchTimer{
		clock:       cfg.Clock,
		interval:    cfg.Interval,
		onCredit:    cfg.OnCredit,
		onProgress:  cfg.OnProgress,
		accumulated: accumulated,
		total:       cfg.Total,
	}
}

// Start begins crediting. Starting a running timer restarts its interval so
// there is never more than one ticker.
func (t *WatchTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	t.generation++
	t.running = true
	t.stop = make(chan struct{})

	ticker := t.clock.NewTicker(t.interval)
	go t.run(t.generation, ticker, t.stop)
}

// Stop cancels the interval. It is safe to call on a stopped timer. Ticks
// that have not begun crediting when Stop returns are dropped.
func (t *WatchTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *WatchTimer) stopLocked() {
	if !t.running {
		return
	}
	t.running = false
	t.generation++
	close(t.stop)
	t.stop = nil
}

// Running reports whether the timer is crediting.
func (t *WatchTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Accumulated returns the session's credited seconds so far.
func (t *WatchTimer) Accumulated() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accumulated
}

func (t *WatchTimer) run(generation uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			t.tick(generation)
		case <-stop:
			return
		}
	}
}

// tick applies one credited second. A tick from a stopped or restarted
// interval is dropped.
func (t *WatchTimer) tick(generation uint64) bool {
	t.mu.Lock()
	if !t.running || t.generation != generation {
		t.mu.Unlock()
		return false
	}
	if t.accumulated < t.total {
		t.accumulated++
	}
	accumulated := t.accumulated
	t.mu.Unlock()

	// Callbacks run unlocked so they may stop the timer.
	t.onCredit(1)
	t.onProgress(accumulated)
	return true
}
