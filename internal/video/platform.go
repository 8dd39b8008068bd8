package video

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Platform identifies the site a video is hosted on.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformUnknown   Platform = "unknown"
)

// UnmarshalJSON accepts any casing and maps unrecognised values to PlatformUnknown.
func (p *Platform) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("platform must be a string: %w", err)
	}
	*p = ParsePlatform(s)
	return nil
}

// ParsePlatform normalises a platform name.
func ParsePlatform(s string) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformYouTube:
		return PlatformYouTube
	case PlatformInstagram:
		return PlatformInstagram
	case PlatformTikTok:
		return PlatformTikTok
	case PlatformTwitter, "x":
		return PlatformTwitter
	case PlatformFacebook:
		return PlatformFacebook
	default:
		return PlatformUnknown
	}
}

// DisplayName returns a human readable platform name.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformYouTube:
		return "YouTube"
	case PlatformInstagram:
		return "Instagram"
	case PlatformTikTok:
		return "TikTok"
	case PlatformTwitter:
		return "X (Twitter)"
	case PlatformFacebook:
		return "Facebook"
	default:
		return "Unknown"
	}
}

// Playable reports whether the engine can render the platform natively.
// Unknown platforms are played through YouTube.
func (p Platform) Playable() Platform {
	if p == "" || p == PlatformUnknown {
		return PlatformYouTube
	}
	return p
}
