package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/kidsfeed/internal/metrics"
	"github.com/goodtune/kidsfeed/internal/video"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultAPILoadTimeout bounds the wait for the YouTube player API.
const DefaultAPILoadTimeout = 10 * time.Second

// Resolver finds a replacement for a failed native embed. current reports
// whether the caller still wants the result; Resolve should stop early
// when it returns false. The returned state is FallbackVideo,
// FallbackIframe or ErrorState.
type Resolver interface {
	Resolve(ctx context.Context, videoID string, current func() bool) State
}

// Forgetter is implemented by resolvers that cache results. A cached
// stream the renderer could not play is forgotten so the next open
// resolves it again.
type Forgetter interface {
	Forget(videoID string)
}

// Timer is the session's watch timer.
type Timer interface {
	Start()
	Stop()
}

// Config describes the video an engine plays.
type Config struct {
	VideoID        string
	Platform       video.Platform
	EmbedURL       string
	Child          bool
	Player         PlayerOptions
	APILoadTimeout time.Duration
	Clock          clockwork.Clock
}

// outbound is a queued bridge command or state notification.
type outbound struct {
	cmd   *Command
	state State
}

// Engine drives one playback session through the native embed and the
// fallback cascade, and starts and stops the watch timer on renderer
// events.
type Engine struct {
	cfg      Config
	bridge   Bridge
	resolver Resolver
	timer    Timer
	clock    clockwork.Clock
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	generation    uint64
	started       bool
	closed        bool
	playerCreated bool
	listeners     []func(State)

	queueMu sync.Mutex
	pending []outbound
	wake    chan struct{}
	done    chan struct{}
}

// NewEngine creates an engine in the NativeEmbed state. Nothing happens
// until Start.
func NewEngine(cfg Config, bridge Bridge, resolver Resolver, timer Timer, logger zerolog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.APILoadTimeout <= 0 {
		cfg.APILoadTimeout = DefaultAPILoadTimeout
	}
	cfg.Platform = cfg.Platform.Playable()

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		bridge:   bridge,
		resolver: resolver,
		timer:    timer,
		clock:    cfg.Clock,
		logger: logger.With().
			Str("component", "playback").
			Str("video_id", cfg.VideoID).
			Str("platform", string(cfg.Platform)).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	e.state = e.nativeState()
	return e
}

func (e *Engine) nativeState() NativeEmbed {
	st := NativeEmbed{Platform: e.cfg.Platform, EmbedURL: e.cfg.EmbedURL}
	if e.cfg.Platform == video.PlatformYouTube {
		st.Player = NewPlayerConfig(e.cfg.VideoID, e.cfg.Child, e.cfg.Player)
		if st.EmbedURL == "" {
			st.EmbedURL = st.Player.EmbedURL()
		}
	}
	return st
}

// OnState registers a listener for state changes. Listeners run in order
// on the engine's notification goroutine and may call back into the
// engine. Register before Start to see the initial state.
func (e *Engine) OnState(fn func(State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start publishes the native state and, for YouTube, waits for the player
// API in the background.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true

	go e.dispatch()
	e.publishLocked(e.state)

	if e.cfg.Platform == video.PlatformYouTube {
		go e.awaitPlayerAPI()
	}
}

func (e *Engine) awaitPlayerAPI() {
	timeout := e.clock.NewTimer(e.cfg.APILoadTimeout)
	defer timeout.Stop()

	select {
	case <-e.bridge.Ready():
		e.mu.Lock()
		defer e.mu.Unlock()
		st, ok := e.state.(NativeEmbed)
		if e.closed || !ok || e.playerCreated {
			return
		}
		e.playerCreated = true
		e.sendLocked(Command{Type: CommandCreatePlayer, Player: st.Player})
	case <-timeout.Chan():
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.state.(NativeEmbed); !ok || e.closed || e.playerCreated {
			return
		}
		e.logger.Warn().Dur("timeout", e.cfg.APILoadTimeout).Msg("Player API did not load, trying fallback")
		e.enterFallbackLocked()
	case <-e.ctx.Done():
	}
}

// HandleEvent applies a renderer event. Events that do not apply to the
// current state are ignored.
func (e *Engine) HandleEvent(ev Event) error {
	if !ev.Type.valid() {
		return ErrUnknownEvent
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.started {
		return nil
	}

	handled := false
	switch st := e.state.(type) {
	case NativeEmbed:
		handled = e.handleNativeLocked(st, ev)
	case FallbackVideo:
		switch ev.Type {
		case EventMediaPlay:
			e.timer.Start()
			handled = true
		case EventMediaPause, EventMediaEnded:
			e.timer.Stop()
			handled = true
		case EventError:
			e.timer.Stop()
			if f, ok := e.resolver.(Forgetter); ok {
				f.Forget(e.cfg.VideoID)
			}
			e.logger.Warn().Str("provider", st.Provider).Msg("Fallback stream failed to play")
			e.setStateLocked(ErrorState{Message: fmt.Sprintf("Fallback stream from %s failed to play", st.Provider)})
			handled = true
		}
	case FallbackIframe:
		if ev.Type == EventFrameLoad {
			e.timer.Start()
			handled = true
		}
	}

	if !handled {
		e.logger.Debug().
			Str("event", string(ev.Type)).
			Str("mode", string(e.state.Mode())).
			Msg("Ignoring event")
	}
	return nil
}

func (e *Engine) handleNativeLocked(st NativeEmbed, ev Event) bool {
	if st.Platform != video.PlatformYouTube {
		if ev.Type == EventFrameLoad {
			e.timer.Start()
			return true
		}
		return false
	}

	switch ev.Type {
	case EventReady:
		e.sendLocked(Command{Type: CommandPlay})
	case EventStateChange:
		if ev.Code == PlayerStatePlaying {
			e.timer.Start()
		} else {
			e.timer.Stop()
		}
	case EventError:
		e.logger.Warn().Int("code", ev.Code).Msg("Player error, trying fallback")
		e.timer.Stop()
		if e.playerCreated {
			e.sendLocked(Command{Type: CommandDestroyPlayer})
			e.playerCreated = false
		}
		e.enterFallbackLocked()
	default:
		return false
	}
	return true
}

func (e *Engine) enterFallbackLocked() {
	if terminal(e.state) {
		return
	}
	e.setStateLocked(LoadingFallback{})
	e.generation++
	go e.resolve(e.generation)
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked(gen)
}

func (e *Engine) currentLocked(gen uint64) bool {
	if e.closed || gen != e.generation {
		return false
	}
	_, loading := e.state.(LoadingFallback)
	return loading
}

func (e *Engine) resolve(gen uint64) {
	started := e.clock.Now()
	result := e.resolver.Resolve(e.ctx, e.cfg.VideoID, func() bool { return e.current(gen) })

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.currentLocked(gen) {
		e.logger.Debug().Msg("Discarding stale fallback result")
		return
	}

	metrics.FallbackResolutionDuration.WithLabelValues(string(result.Mode())).Observe(e.clock.Since(started).Seconds())
	e.setStateLocked(result)
	if _, ok := result.(FallbackIframe); ok {
		e.timer.Start()
	}
}

// Close stops the timer, destroys the player and abandons any fallback in
// progress. It is safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.timer.Stop()
	if e.playerCreated {
		e.sendLocked(Command{Type: CommandDestroyPlayer})
		e.playerCreated = false
	}
	e.cancel()

	if !e.started {
		e.closed = true
		e.state = Closed{}
		close(e.done)
		return
	}

	e.setStateLocked(Closed{})
	e.closed = true
}

// Done is closed after Closed has been delivered to every listener.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until Done or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) setStateLocked(s State) {
	e.state = s
	metrics.StateTransitions.WithLabelValues(string(s.Mode())).Inc()
	e.logger.Info().Str("mode", string(s.Mode())).Msg("Playback state changed")
	e.publishLocked(s)
}

func (e *Engine) publishLocked(s State) {
	e.enqueue(outbound{state: s})
}

func (e *Engine) sendLocked(cmd Command) {
	e.enqueue(outbound{cmd: &cmd})
}

func (e *Engine) enqueue(item outbound) {
	e.queueMu.Lock()
	e.pending = append(e.pending, item)
	e.queueMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued commands and states in order, outside the
// engine lock, and exits after Closed.
func (e *Engine) dispatch() {
	defer close(e.done)

	for range e.wake {
		e.queueMu.Lock()
		batch := e.pending
		e.pending = nil
		e.queueMu.Unlock()

		for _, item := range batch {
			if item.cmd != nil {
				e.deliver(*item.cmd)
				continue
			}

			snap := SnapshotOf(item.state)
			e.deliver(Command{Type: CommandState, State: &snap})

			e.mu.Lock()
			listeners := append([]func(State){}, e.listeners...)
			e.mu.Unlock()
			for _, fn := range listeners {
				fn(item.state)
			}

			if _, ok := item.state.(Closed); ok {
				return
			}
		}
	}
}

func (e *Engine) deliver(cmd Command) {
	if err := e.bridge.Send(cmd); err != nil {
		e.logger.Debug().Err(err).Str("command", string(cmd.Type)).Msg("Failed to send command to renderer")
	}
}
