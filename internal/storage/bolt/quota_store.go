package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/kidsfeed/internal/storage"
	"go.etcd.io/bbolt"
)

type quotaStore struct {
	db *bbolt.DB
}

func (s *quotaStore) Get(ctx context.Context, familyID string) (*storage.WatchQuota, error) {
	return getBucketValue[storage.WatchQuota](ctx, s.db, bucketQuotas, familyID)
}

func (s *quotaStore) List(ctx context.Context) ([]storage.WatchQuota, error) {
	return listBucket[storage.WatchQuota](ctx, s.db, bucketQuotas)
}

func (s *quotaStore) Add(ctx context.Context, familyID, today string, seconds int64) (*storage.QuotaUpdate, error) {
	return s.apply(ctx, familyID, today, seconds)
}

func (s *quotaStore) ResetIfStale(ctx context.Context, familyID, today string) (*storage.QuotaUpdate, error) {
	return s.apply(ctx, familyID, today, 0)
}

func (s *quotaStore) apply(ctx context.Context, familyID, today string, seconds int64) (*storage.QuotaUpdate, error) {
	var update storage.QuotaUpdate
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketQuotas))
		if b == nil {
			return fmt.Errorf("quotas bucket missing")
		}

		quota := storage.WatchQuota{FamilyID: familyID, LastResetDate: today}
		if existing := b.Get([]byte(familyID)); existing != nil {
			if err := unmarshal(existing, &quota); err != nil {
				return err
			}
			if quota.LastResetDate != today {
				quota.DailyWatchTimeSeconds = 0
				quota.LastResetDate = today
				update.Reset = true
			}
		}

		quota.DailyWatchTimeSeconds += seconds
		update.Quota = quota

		data, err := marshal(quota)
		if err != nil {
			return err
		}
		return b.Put([]byte(familyID), data)
	})
	if err != nil {
		return nil, err
	}
	return &update, nil
}
