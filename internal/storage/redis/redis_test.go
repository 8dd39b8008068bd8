package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/kidsfeed/internal/config"
	"github.com/goodtune/kidsfeed/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestQuotaStore_AddAndReset(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	quotas := store.Quotas()

	if _, err := quotas.Get(ctx, "fam"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	update, err := quotas.Add(ctx, "fam", "2024-01-02", 3000)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if update.Reset {
		t.Error("first Add must not report a reset")
	}
	if update.Quota.DailyWatchTimeSeconds != 3000 {
		t.Errorf("expected 3000, got %d", update.Quota.DailyWatchTimeSeconds)
	}

	for i := 0; i < 600; i++ {
		if update, err = quotas.Add(ctx, "fam", "2024-01-02", 1); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if update.Quota.DailyWatchTimeSeconds != 3600 {
		t.Errorf("expected 3600, got %d", update.Quota.DailyWatchTimeSeconds)
	}

	got, err := quotas.Get(ctx, "fam")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.DailyWatchTimeSeconds != 3600 || got.LastResetDate != "2024-01-02" || got.FamilyID != "fam" {
		t.Errorf("unexpected quota: %+v", got)
	}

	update, err = quotas.ResetIfStale(ctx, "fam", "2024-01-03")
	if err != nil {
		t.Fatalf("ResetIfStale failed: %v", err)
	}
	if !update.Reset || update.Quota.DailyWatchTimeSeconds != 0 {
		t.Errorf("expected reset to zero, got %+v", update)
	}

	update, err = quotas.ResetIfStale(ctx, "fam", "2024-01-03")
	if err != nil {
		t.Fatalf("ResetIfStale failed: %v", err)
	}
	if update.Reset {
		t.Error("reset must happen once per day")
	}

	list, err := quotas.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 quota, got %d", len(list))
	}
}

func TestMemberStore_CRUD(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	members := store.Members()

	if err := members.Upsert(ctx, storage.Member{ID: "bob", FamilyID: "fam", Name: "Bob", Role: storage.RoleChild}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := members.Upsert(ctx, storage.Member{ID: "amy", FamilyID: "fam", Name: "Amy", Role: storage.RoleParent}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := members.Get(ctx, "fam", "bob")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Role != storage.RoleChild {
		t.Errorf("expected child role, got %q", got.Role)
	}

	list, err := members.List(ctx, "fam")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 members, got %d", len(list))
	}

	if err := members.Delete(ctx, "fam", "bob"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := members.Delete(ctx, "fam", "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVideoStore_UpdateWatchDuration(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	videos := store.Videos()

	video := storage.Video{
		ID:                   "v1",
		FamilyID:             "fam",
		URL:                  "https://youtu.be/abc12345678",
		TotalDurationSeconds: 120,
		Status:               storage.VideoUnseen,
		Recipients:           []string{},
	}
	if err := videos.Upsert(ctx, video); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := videos.UpdateWatchDuration(ctx, "fam", "v1", 61); err != nil {
		t.Fatalf("UpdateWatchDuration failed: %v", err)
	}

	got, err := videos.Get(ctx, "fam", "v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.WatchDurationSeconds != 61 || got.Status != storage.VideoSeen {
		t.Errorf("unexpected video: %+v", got)
	}

	if err := videos.UpdateWatchDuration(ctx, "fam", "nope", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestControlsStore_Upsert(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	controls := storage.ParentalControls{
		FamilyID:              "fam",
		Enabled:               true,
		DailyTimeLimitMinutes: 60,
		Schedule:              storage.Schedule{Start: "09:00", End: "18:00"},
	}
	if err := store.Controls().Upsert(ctx, controls); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, err := store.Controls().Get(ctx, "fam")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Schedule.End != "18:00" {
		t.Errorf("unexpected controls: %+v", got)
	}
}
