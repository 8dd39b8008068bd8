package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/kidsfeed/internal/storage"
)

// parseWatchQuota converts a Redis hash to WatchQuota
func parseWatchQuota(data map[string]string) (*storage.WatchQuota, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	seconds, err := strconv.ParseInt(data["daily_watch_time_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily_watch_time_seconds: %w", err)
	}

	return &storage.WatchQuota{
		FamilyID:              data["family_id"],
		DailyWatchTimeSeconds: seconds,
		LastResetDate:         data["last_reset_date"],
	}, nil
}
