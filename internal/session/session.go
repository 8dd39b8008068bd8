package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/kidsfeed/internal/playback"
	"github.com/goodtune/kidsfeed/internal/policy"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/goodtune/kidsfeed/internal/usage"
	"github.com/goodtune/kidsfeed/internal/video"
)

var (
	// ErrLocked is matched by a *LockedError.
	ErrLocked = errors.New("access locked")
	// ErrNotAdmitted is returned when the admission policy refuses a video.
	ErrNotAdmitted = errors.New("video not admitted")
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
)

// LockedError carries the decision that refused an open.
type LockedError struct {
	Decision policy.AccessDecision
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrLocked, e.Decision.Reason.Label())
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

type slot struct {
	familyID string
	memberID string
}

// Session is one open video for one viewer.
type Session struct {
	ID       string
	FamilyID string
	MemberID string
	VideoID  string
	Video    video.Video
	Child    bool
	OpenedAt time.Time

	member storage.Member
	engine *playback.Engine
	timer  *usage.WatchTimer
	bridge *Bridge

	mu        sync.Mutex
	persisted int
}

// Info is a point-in-time view of a session.
type Info struct {
	ID                 string            `json:"id"`
	FamilyID           string            `json:"family_id"`
	MemberID           string            `json:"member_id"`
	VideoID            string            `json:"video_id"`
	Platform           video.Platform    `json:"platform"`
	SourceID           string            `json:"source_id"`
	State              playback.Snapshot `json:"state"`
	AccumulatedSeconds int               `json:"accumulated_seconds"`
	TimerRunning       bool              `json:"timer_running"`
	OpenedAt           time.Time         `json:"opened_at"`
}

// Info snapshots the session.
func (s *Session) Info() Info {
	return Info{
		ID:                 s.ID,
		FamilyID:           s.FamilyID,
		MemberID:           s.MemberID,
		VideoID:            s.VideoID,
		Platform:           s.Video.Platform.Playable(),
		SourceID:           s.Video.SourceID(),
		State:              playback.SnapshotOf(s.engine.State()),
		AccumulatedSeconds: s.timer.Accumulated(),
		TimerRunning:       s.timer.Running(),
		OpenedAt:           s.OpenedAt,
	}
}

// Engine returns the session's playback engine.
func (s *Session) Engine() *playback.Engine { return s.engine }

// Bridge returns the session's renderer bridge.
func (s *Session) Bridge() *Bridge { return s.bridge }

// Done is closed once the session's engine has shut down.
func (s *Session) Done() <-chan struct{} { return s.engine.Done() }

// shouldPersist reports whether accumulated differs from the last stored
// value and records it.
func (s *Session) shouldPersist(accumulated int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if accumulated == s.persisted {
		return false
	}
	s.persisted = accumulated
	return true
}

func toVideo(v storage.Video) video.Video {
	return video.Video{
		ID:                   v.ID,
		URL:                  v.URL,
		Title:                v.Title,
		Platform:             video.ParsePlatform(v.Platform),
		PlatformID:           v.VideoID,
		TotalDurationSeconds: v.TotalDurationSeconds,
		WatchDurationSeconds: v.WatchDurationSeconds,
		Status:               video.Status(v.Status),
		Recipients:           v.Recipients,
	}
}
