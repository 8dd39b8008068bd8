package playback

import (
	"errors"

	"github.com/goodtune/kidsfeed/internal/policy"
)

// ErrUnknownEvent is returned for event types the engine does not know.
var ErrUnknownEvent = errors.New("unknown playback event")

// EventType identifies a renderer event.
type EventType string

const (
	EventAPIReady    EventType = "api_ready"
	EventReady       EventType = "ready"
	EventStateChange EventType = "state_change"
	EventError       EventType = "error"
	EventFrameLoad   EventType = "frame_load"
	EventMediaPlay   EventType = "media_play"
	EventMediaPause  EventType = "media_pause"
	EventMediaEnded  EventType = "media_ended"
)

// PlayerStatePlaying is the YouTube player state code for playback.
const PlayerStatePlaying = 1

// Event is reported by the renderer. Code carries the player state for
// state_change and the player error code for error.
type Event struct {
	Type EventType `json:"type"`
	Code int       `json:"code,omitempty"`
}

func (t EventType) valid() bool {
	switch t {
	case EventAPIReady, EventReady, EventStateChange, EventError,
		EventFrameLoad, EventMediaPlay, EventMediaPause, EventMediaEnded:
		return true
	}
	return false
}

// CommandType identifies an instruction to the renderer.
type CommandType string

const (
	CommandState         CommandType = "state"
	CommandCreatePlayer  CommandType = "create_player"
	CommandPlay          CommandType = "play"
	CommandDestroyPlayer CommandType = "destroy_player"
	CommandLocked        CommandType = "locked"
)

// Command is sent to the renderer through a Bridge.
type Command struct {
	Type   CommandType       `json:"type"`
	State  *Snapshot         `json:"state,omitempty"`
	Player *PlayerConfig     `json:"player,omitempty"`
	Reason policy.LockReason `json:"reason,omitempty"`
	Notice *policy.Notice    `json:"notice,omitempty"`
}

// LockedCommand tells the renderer the viewer was locked out.
func LockedCommand(reason policy.LockReason) Command {
	notice := reason.Notice()
	return Command{Type: CommandLocked, Reason: reason, Notice: &notice}
}

// Bridge connects an engine to its renderer. Ready is closed once the
// renderer has loaded the YouTube player API.
type Bridge interface {
	Ready() <-chan struct{}
	Send(cmd Command) error
}
