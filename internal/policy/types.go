package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the viewer's role within the family.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// User is the viewer the gate decides for.
type User struct {
	ID   string
	Role Role
}

// Schedule is the daily viewing window as "HH:MM" clock times on the same
// day.
type Schedule struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParentalControls is the restriction configuration the gate reads.
type ParentalControls struct {
	Enabled               bool     `json:"enabled"`
	DailyTimeLimitMinutes int      `json:"daily_time_limit_minutes"`
	Schedule              Schedule `json:"schedule"`
}

// LockReason explains a locked decision.
type LockReason string

const (
	LockReasonNone      LockReason = ""
	LockReasonTimeLimit LockReason = "timeLimit"
	LockReasonSchedule  LockReason = "schedule"
)

// MarshalJSON writes an empty reason as null.
func (r LockReason) MarshalJSON() ([]byte, error) {
	if r == LockReasonNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

// UnmarshalJSON accepts null, "timeLimit" and "schedule".
func (r *LockReason) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = LockReasonNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch LockReason(s) {
	case LockReasonNone, LockReasonTimeLimit, LockReasonSchedule:
		*r = LockReason(s)
		return nil
	}
	return fmt.Errorf("invalid lock reason: %s", s)
}

// Label is the reason as used in metric labels.
func (r LockReason) Label() string {
	if r == LockReasonNone {
		return "none"
	}
	return strings.ToLower(string(r))
}

// Notice is the text shown to a locked-out child.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Notice returns the lock screen text for the reason.
func (r LockReason) Notice() Notice {
	switch r {
	case LockReasonTimeLimit:
		return Notice{
			Title:       "Time's Up for Today!",
			Description: "You've had a great time watching videos. It's time for a break now. You can come back tomorrow to watch more!",
		}
	case LockReasonSchedule:
		return Notice{
			Title:       "It's Rest Time!",
			Description: "The video library is closed for now. It's time for other activities, like playing outside or reading a book. Come back later!",
		}
	default:
		return Notice{}
	}
}

// AccessDecision is the gate's verdict. It is derived on every evaluation
// and never stored.
type AccessDecision struct {
	Locked                bool       `json:"locked"`
	Reason                LockReason `json:"reason"`
	DailyWatchTimeSeconds int64      `json:"daily_watch_time_seconds"`
	LimitSeconds          int64      `json:"limit_seconds"`
	EvaluatedAt           time.Time  `json:"evaluated_at"`
}

// RemainingSeconds is the quota left today, or -1 when no limit applies.
func (d AccessDecision) RemainingSeconds() int64 {
	if d.LimitSeconds < 0 {
		return -1
	}
	if left := d.LimitSeconds - d.DailyWatchTimeSeconds; left > 0 {
		return left
	}
	return 0
}
