package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Members() MemberStore
	Controls() ControlsStore
	Quotas() QuotaStore
	Videos() VideoStore
}

// MemberStore manages family members.
type MemberStore interface {
	Get(ctx context.Context, familyID, id string) (*Member, error)
	List(ctx context.Context, familyID string) ([]Member, error)
	Upsert(ctx context.Context, member Member) error
	Delete(ctx context.Context, familyID, id string) error
}

// ControlsStore manages per-family parental controls.
type ControlsStore interface {
	Get(ctx context.Context, familyID string) (*ParentalControls, error)
	Upsert(ctx context.Context, controls ParentalControls) error
}

// QuotaStore manages the per-family daily watch counter.
//
// Add and ResetIfStale compare the stored LastResetDate with today and zero
// the counter first when they differ; the comparison and the write happen
// atomically.
type QuotaStore interface {
	Get(ctx context.Context, familyID string) (*WatchQuota, error)
	List(ctx context.Context) ([]WatchQuota, error)
	Add(ctx context.Context, familyID, today string, seconds int64) (*QuotaUpdate, error)
	ResetIfStale(ctx context.Context, familyID, today string) (*QuotaUpdate, error)
}

// VideoStore manages curated videos.
type VideoStore interface {
	Get(ctx context.Context, familyID, id string) (*Video, error)
	List(ctx context.Context, familyID string) ([]Video, error)
	Upsert(ctx context.Context, video Video) error
	Delete(ctx context.Context, familyID, id string) error
	// UpdateWatchDuration stores the watch duration and marks the video seen.
	UpdateWatchDuration(ctx context.Context, familyID, id string, seconds int) error
}
