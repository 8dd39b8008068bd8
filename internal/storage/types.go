package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is a family member's role.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the role to lowercase.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Role(strings.ToLower(s))
	switch normalized {
	case RoleParent, RoleChild:
		*r = normalized
		return nil
	default:
		return fmt.Errorf("invalid role: %s (must be parent or child)", s)
	}
}

// Member is a person in a family roster.
type Member struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Schedule is the daily window during which children may watch, as "HH:MM".
type Schedule struct {
	Start string `json:"start" validate:"required,clock"`
	End   string `json:"end" validate:"required,clock"`
}

// ParentalControls is a family's watch restriction configuration.
type ParentalControls struct {
	FamilyID              string    `json:"family_id"`
	Enabled               bool      `json:"enabled"`
	DailyTimeLimitMinutes int       `json:"daily_time_limit_minutes" validate:"gte=0"`
	Schedule              Schedule  `json:"schedule"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// WatchQuota is a family's watch counter for the current day.
type WatchQuota struct {
	FamilyID              string `json:"family_id"`
	DailyWatchTimeSeconds int64  `json:"daily_watch_time_seconds"`
	LastResetDate         string `json:"last_reset_date"`
}

// QuotaUpdate is the result of an atomic quota operation.
type QuotaUpdate struct {
	Quota WatchQuota
	// Reset is true when the operation zeroed a counter left over from an
	// earlier day.
	Reset bool
}

// VideoStatus tracks whether a video has been opened.
type VideoStatus string

const (
	VideoUnseen VideoStatus = "unseen"
	VideoSeen   VideoStatus = "seen"
)

// Video is a curated video shared with some or all children.
type Video struct {
	ID                   string      `json:"id"`
	FamilyID             string      `json:"family_id"`
	URL                  string      `json:"url"`
	Title                string      `json:"title"`
	Platform             string      `json:"platform"`
	VideoID              string      `json:"video_id"`
	EmbedURL             string      `json:"embed_url,omitempty"`
	ThumbnailURL         string      `json:"thumbnail_url,omitempty"`
	TotalDurationSeconds int         `json:"total_duration_seconds"`
	WatchDurationSeconds int         `json:"watch_duration_seconds"`
	Status               VideoStatus `json:"status"`
	Recipients           []string    `json:"recipients"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}
