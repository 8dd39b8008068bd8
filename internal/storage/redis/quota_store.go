package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/redis/go-redis/v9"
)

type quotaStore struct {
	client *redis.Client
	script *redis.Script
}

func quotaKey(familyID string) string { return key("quota", familyID) }

var quotaIndex = key("quotas")

func (s *quotaStore) Get(ctx context.Context, familyID string) (*storage.WatchQuota, error) {
	data, err := s.client.HGetAll(ctx, quotaKey(familyID)).Result()
	if err != nil {
		return nil, err
	}
	return parseWatchQuota(data)
}

func (s *quotaStore) List(ctx context.Context) ([]storage.WatchQuota, error) {
	ids, err := s.client.SMembers(ctx, quotaIndex).Result()
	if err != nil {
		return nil, err
	}
	quotas := make([]storage.WatchQuota, 0, len(ids))
	for _, id := range ids {
		q, err := s.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		quotas = append(quotas, *q)
	}
	return quotas, nil
}

func (s *quotaStore) Add(ctx context.Context, familyID, today string, seconds int64) (*storage.QuotaUpdate, error) {
	return s.apply(ctx, familyID, today, seconds)
}

func (s *quotaStore) ResetIfStale(ctx context.Context, familyID, today string) (*storage.QuotaUpdate, error) {
	return s.apply(ctx, familyID, today, 0)
}

func (s *quotaStore) apply(ctx context.Context, familyID, today string, seconds int64) (*storage.QuotaUpdate, error) {
	result, err := s.script.Run(ctx, s.client,
		[]string{quotaKey(familyID), quotaIndex},
		familyID, today, seconds,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("apply quota: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("apply quota: unexpected reply length %d", len(result))
	}
	return &storage.QuotaUpdate{
		Quota: storage.WatchQuota{
			FamilyID:              familyID,
			DailyWatchTimeSeconds: result[0],
			LastResetDate:         today,
		},
		Reset: result[1] == 1,
	}, nil
}
