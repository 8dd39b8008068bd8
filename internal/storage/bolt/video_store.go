package bolt

import (
	"context"
	"time"

	"github.com/goodtune/kidsfeed/internal/storage"
	"go.etcd.io/bbolt"
)

type videoStore struct {
	db *bbolt.DB
}

func (s *videoStore) Get(ctx context.Context, familyID, id string) (*storage.Video, error) {
	return getBucketValue[storage.Video](ctx, s.db, bucketVideos, familyKey(familyID, id))
}

func (s *videoStore) List(ctx context.Context, familyID string) ([]storage.Video, error) {
	return listBucketPrefix[storage.Video](ctx, s.db, bucketVideos, familyKey(familyID, ""))
}

func (s *videoStore) Upsert(ctx context.Context, video storage.Video) error {
	return putBucketValue(ctx, s.db, bucketVideos, familyKey(video.FamilyID, video.ID), video)
}

func (s *videoStore) Delete(ctx context.Context, familyID, id string) error {
	return deleteBucketValue(ctx, s.db, bucketVideos, familyKey(familyID, id))
}

func (s *videoStore) UpdateWatchDuration(ctx context.Context, familyID, id string, seconds int) error {
	return updateBucketValue(ctx, s.db, bucketVideos, familyKey(familyID, id), func(v *storage.Video) error {
		v.WatchDurationSeconds = seconds
		v.Status = storage.VideoSeen
		v.UpdatedAt = time.Now()
		return nil
	})
}
