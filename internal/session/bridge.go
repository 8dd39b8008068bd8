package session

import (
	"errors"
	"sync"

	"github.com/goodtune/kidsfeed/internal/playback"
)

var (
	// ErrBridgeClosed is returned when sending to a closed bridge.
	ErrBridgeClosed = errors.New("bridge closed")
	// ErrBridgeFull is returned when the renderer is not draining commands.
	ErrBridgeFull = errors.New("bridge buffer full")
	// ErrRendererAttached is returned when a second renderer connects.
	ErrRendererAttached = errors.New("renderer already attached")
)

const bridgeBuffer = 64

// Bridge is the channel between a playback engine and its renderer. The
// renderer reads Commands and reports events through the manager.
type Bridge struct {
	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	commands chan playback.Command
	closed   bool
	attached bool
}

// NewBridge creates an unattached bridge.
func NewBridge() *Bridge {
	return &Bridge{
		ready:    make(chan struct{}),
		commands: make(chan playback.Command, bridgeBuffer),
	}
}

// Ready is closed once the renderer reported the player API loaded.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// MarkReady records that the player API loaded.
func (b *Bridge) MarkReady() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// Send queues a command for the renderer without blocking.
func (b *Bridge) Send(cmd playback.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	select {
	case b.commands <- cmd:
		return nil
	default:
		return ErrBridgeFull
	}
}

// Attach hands the command stream to a renderer. Only one renderer may
// attach; the stream is closed when the session ends.
func (b *Bridge) Attach() (<-chan playback.Command, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return nil, ErrRendererAttached
	}
	b.attached = true
	return b.commands, nil
}

// Detach lets another renderer attach, e.g. after a reconnect.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = false
}

// Close ends the command stream.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.commands)
}
