package playback

import (
	"github.com/goodtune/kidsfeed/internal/video"
)

// Mode names a playback state on the wire and in metrics.
type Mode string

const (
	ModeNative          Mode = "platform-native"
	ModeLoadingFallback Mode = "loading-fallback"
	ModeFallbackVideo   Mode = "fallback-video"
	ModeFallbackIframe  Mode = "fallback-iframe"
	ModeError           Mode = "error"
	ModeClosed          Mode = "closed"
)

// State is one of NativeEmbed, LoadingFallback, FallbackVideo,
// FallbackIframe, ErrorState or Closed.
type State interface {
	Mode() Mode
	isState()
}

// NativeEmbed plays through the platform's own embed. Player is set only
// for YouTube, where the renderer drives the player API.
type NativeEmbed struct {
	Platform video.Platform
	EmbedURL string
	Player   *PlayerConfig
}

// LoadingFallback is shown while the fallback providers are tried.
type LoadingFallback struct{}

// FallbackVideo plays a direct media stream from a provider.
type FallbackVideo struct {
	URL      string
	Provider string
}

// FallbackIframe embeds a provider's player page.
type FallbackIframe struct {
	URL      string
	Provider string
}

// ErrorState ends the cascade with a message for the viewer.
type ErrorState struct {
	Message string
}

// Closed is published once after teardown.
type Closed struct{}

func (NativeEmbed) Mode() Mode     { return ModeNative }
func (LoadingFallback) Mode() Mode { return ModeLoadingFallback }
func (FallbackVideo) Mode() Mode   { return ModeFallbackVideo }
func (FallbackIframe) Mode() Mode  { return ModeFallbackIframe }
func (ErrorState) Mode() Mode      { return ModeError }
func (Closed) Mode() Mode          { return ModeClosed }

func (NativeEmbed) isState()     {}
func (LoadingFallback) isState() {}
func (FallbackVideo) isState()   {}
func (FallbackIframe) isState()  {}
func (ErrorState) isState()      {}
func (Closed) isState()          {}

// terminal states never go back to LoadingFallback.
func terminal(s State) bool {
	switch s.(type) {
	case FallbackVideo, FallbackIframe, ErrorState, Closed:
		return true
	}
	return false
}

// Snapshot is the serialisable form of a State.
type Snapshot struct {
	Mode     Mode          `json:"mode"`
	Platform string        `json:"platform,omitempty"`
	URL      string        `json:"url,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Message  string        `json:"message,omitempty"`
	Player   *PlayerConfig `json:"player,omitempty"`
}

// SnapshotOf flattens s for the renderer and the API.
func SnapshotOf(s State) Snapshot {
	snap := Snapshot{Mode: s.Mode()}
	switch st := s.(type) {
	case NativeEmbed:
		snap.Platform = string(st.Platform)
		snap.URL = st.EmbedURL
		snap.Player = st.Player
	case FallbackVideo:
		snap.URL = st.URL
		snap.Provider = st.Provider
	case FallbackIframe:
		snap.URL = st.URL
		snap.Provider = st.Provider
	case ErrorState:
		snap.Message = st.Message
	}
	return snap
}
