// Package video describes the videos a family curates and how their links
// map onto platform players.
package video

// Status tracks whether a recipient has opened a video.
type Status string

const (
	StatusUnseen Status = "unseen"
	StatusSeen   Status = "seen"
)

// Video is the record the playback engine works from.
type Video struct {
	ID                   string   `json:"id"`
	URL                  string   `json:"url"`
	Title                string   `json:"title"`
	Platform             Platform `json:"platform"`
	PlatformID           string   `json:"video_id"`
	TotalDurationSeconds int      `json:"total_duration_seconds"`
	WatchDurationSeconds int      `json:"watch_duration_seconds"`
	Status               Status   `json:"status"`
	Recipients           []string `json:"recipients"`
}

// SourceID returns the id used against the hosting platform and its
// mirrors. Records created before parsing fall back to the record id.
func (v Video) SourceID() string {
	if v.PlatformID != "" {
		return v.PlatformID
	}
	if v.URL != "" {
		if parsed := ParseURL(v.URL); parsed.VideoID != "" {
			return parsed.VideoID
		}
	}
	return v.ID
}
