package bolt

import (
	"context"

	"github.com/goodtune/kidsfeed/internal/storage"
	"go.etcd.io/bbolt"
)

type controlsStore struct {
	db *bbolt.DB
}

func (s *controlsStore) Get(ctx context.Context, familyID string) (*storage.ParentalControls, error) {
	return getBucketValue[storage.ParentalControls](ctx, s.db, bucketControls, familyID)
}

func (s *controlsStore) Upsert(ctx context.Context, controls storage.ParentalControls) error {
	return putBucketValue(ctx, s.db, bucketControls, controls.FamilyID, controls)
}
