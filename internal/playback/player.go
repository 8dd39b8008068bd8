package playback

import (
	"net/url"
	"strconv"
)

// PrivacyEnhancedHost is the only host the YouTube player is created on.
const PrivacyEnhancedHost = "www.youtube-nocookie.com"

// PlayerConfig is what the renderer passes to the YouTube player API.
type PlayerConfig struct {
	ContainerID string         `json:"container_id"`
	VideoID     string         `json:"video_id"`
	Host        string         `json:"host"`
	PlayerVars  map[string]any `json:"player_vars"`
}

// PlayerOptions holds the per-deployment player settings.
type PlayerOptions struct {
	ContainerID string
	Origin      string
}

// NewPlayerConfig builds the player configuration for a video. Keyboard
// controls are disabled for child viewers.
func NewPlayerConfig(videoID string, child bool, opts PlayerOptions) *PlayerConfig {
	container := opts.ContainerID
	if container == "" {
		container = "youtube-player"
	}

	disableKB := 0
	if child {
		disableKB = 1
	}

	vars := map[string]any{
		"autoplay":       1,
		"controls":       1,
		"rel":            0,
		"iv_load_policy": 3,
		"modestbranding": 1,
		"playsinline":    1,
		"fs":             1,
		"cc_load_policy": 0,
		"disablekb":      disableKB,
	}
	if opts.Origin != "" {
		vars["origin"] = opts.Origin
	}

	return &PlayerConfig{
		ContainerID: container,
		VideoID:     videoID,
		Host:        PrivacyEnhancedHost,
		PlayerVars:  vars,
	}
}

// EmbedURL is the iframe URL equivalent of the configuration, for
// renderers that do not load the player API.
func (p *PlayerConfig) EmbedURL() string {
	q := url.Values{}
	for k, v := range p.PlayerVars {
		switch val := v.(type) {
		case int:
			q.Set(k, strconv.Itoa(val))
		case string:
			q.Set(k, val)
		}
	}
	u := url.URL{
		Scheme:   "https",
		Host:     p.Host,
		Path:     "/embed/" + p.VideoID,
		RawQuery: q.Encode(),
	}
	return u.String()
}
