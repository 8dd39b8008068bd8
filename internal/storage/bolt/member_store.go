package bolt

import (
	"context"

	"github.com/goodtune/kidsfeed/internal/storage"
	"go.etcd.io/bbolt"
)

type memberStore struct {
	db *bbolt.DB
}

func (s *memberStore) Get(ctx context.Context, familyID, id string) (*storage.Member, error) {
	return getBucketValue[storage.Member](ctx, s.db, bucketMembers, familyKey(familyID, id))
}

func (s *memberStore) List(ctx context.Context, familyID string) ([]storage.Member, error) {
	return listBucketPrefix[storage.Member](ctx, s.db, bucketMembers, familyKey(familyID, ""))
}

func (s *memberStore) Upsert(ctx context.Context, member storage.Member) error {
	return putBucketValue(ctx, s.db, bucketMembers, familyKey(member.FamilyID, member.ID), member)
}

func (s *memberStore) Delete(ctx context.Context, familyID, id string) error {
	return deleteBucketValue(ctx, s.db, bucketMembers, familyKey(familyID, id))
}
