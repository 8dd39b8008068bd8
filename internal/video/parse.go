package video

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	youtubePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`^([a-zA-Z0-9_-]{11})$`),
	}
	instagramPatterns = []*regexp.Regexp{
		regexp.MustCompile(`instagram\.com/(?:p|reel|reels|tv)/([a-zA-Z0-9_-]+)`),
		regexp.MustCompile(`instagr\.am/p/([a-zA-Z0-9_-]+)`),
	}
	tiktokFull   = regexp.MustCompile(`tiktok\.com/@([^/]+)/video/(\d+)`)
	tiktokShorts = []*regexp.Regexp{
		regexp.MustCompile(`tiktok\.com/t/([a-zA-Z0-9]+)`),
		regexp.MustCompile(`vm\.tiktok\.com/([a-zA-Z0-9]+)`),
	}
	twitterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:twitter\.com|x\.com)/[^/]+/status/(\d+)`),
	}
	facebookPatterns = []*regexp.Regexp{
		regexp.MustCompile(`facebook\.com/.*/videos/(\d+)`),
		regexp.MustCompile(`facebook\.com/watch/?\?v=(\d+)`),
		regexp.MustCompile(`fb\.watch/([a-zA-Z0-9_-]+)`),
	}
)

// ParsedURL is the platform information extracted from a video link.
type ParsedURL struct {
	Platform     Platform `json:"platform"`
	VideoID      string   `json:"video_id"`
	OriginalURL  string   `json:"original_url"`
	EmbedURL     string   `json:"embed_url,omitempty"`
	ThumbnailURL string   `json:"thumbnail_url,omitempty"`
}

// Valid reports whether the link belongs to a supported platform.
func (p ParsedURL) Valid() bool {
	return p.Platform != PlatformUnknown && p.VideoID != ""
}

// ParseURL extracts the platform and video id from a link. Bare 11 character
// ids are treated as YouTube ids.
func ParseURL(raw string) ParsedURL {
	trimmed := strings.TrimSpace(raw)
	parsed := ParsedURL{Platform: PlatformUnknown, OriginalURL: trimmed}

	if id := firstMatch(youtubePatterns, trimmed); id != "" {
		parsed.Platform = PlatformYouTube
		parsed.VideoID = id
	} else if id := firstMatch(instagramPatterns, trimmed); id != "" {
		parsed.Platform = PlatformInstagram
		parsed.VideoID = id
	} else if m := tiktokFull.FindStringSubmatch(trimmed); m != nil {
		parsed.Platform = PlatformTikTok
		parsed.VideoID = m[2]
	} else if id := firstMatch(tiktokShorts, trimmed); id != "" {
		parsed.Platform = PlatformTikTok
		parsed.VideoID = id
	} else if id := firstMatch(twitterPatterns, trimmed); id != "" {
		parsed.Platform = PlatformTwitter
		parsed.VideoID = id
	} else if id := firstMatch(facebookPatterns, trimmed); id != "" {
		parsed.Platform = PlatformFacebook
		parsed.VideoID = id
	} else {
		return parsed
	}

	parsed.EmbedURL = EmbedURL(parsed.Platform, parsed.VideoID, trimmed)
	parsed.ThumbnailURL = ThumbnailURL(parsed.Platform, parsed.VideoID)
	return parsed
}

func firstMatch(patterns []*regexp.Regexp, s string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

// EmbedURL builds the platform's own embed page for a video. sourceURL is
// only needed for Facebook, whose plugin takes the original link.
func EmbedURL(platform Platform, videoID, sourceURL string) string {
	if videoID == "" {
		return ""
	}
	switch platform {
	case PlatformYouTube:
		return fmt.Sprintf("https://www.youtube-nocookie.com/embed/%s?rel=0&modestbranding=1&showinfo=0&autoplay=1&controls=1", videoID)
	case PlatformInstagram:
		return fmt.Sprintf("https://www.instagram.com/p/%s/embed/?hidecaption=1", videoID)
	case PlatformTikTok:
		return fmt.Sprintf("https://www.tiktok.com/embed/v2/%s", videoID)
	case PlatformTwitter:
		return fmt.Sprintf("https://platform.twitter.com/embed/Tweet.html?id=%s", videoID)
	case PlatformFacebook:
		if sourceURL == "" {
			return ""
		}
		return fmt.Sprintf("https://www.facebook.com/plugins/video.php?href=%s&show_text=false", url.QueryEscape(sourceURL))
	default:
		return ""
	}
}

// ThumbnailURL returns a static thumbnail when the platform offers one.
func ThumbnailURL(platform Platform, videoID string) string {
	if platform == PlatformYouTube && videoID != "" {
		return fmt.Sprintf("https://img.youtube.com/vi/%s/hqdefault.jpg", videoID)
	}
	return ""
}
