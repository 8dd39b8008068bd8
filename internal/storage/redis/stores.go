package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/redis/go-redis/v9"
)

type memberStore struct {
	client *redis.Client
}

func memberKey(familyID, id string) string { return key("member", familyID, id) }
func memberIndex(familyID string) string  { return key("members", familyID) }

func (s *memberStore) Get(ctx context.Context, familyID, id string) (*storage.Member, error) {
	return getJSON[storage.Member](ctx, s.client, memberKey(familyID, id))
}

func (s *memberStore) List(ctx context.Context, familyID string) ([]storage.Member, error) {
	return listIndexed[storage.Member](ctx, s.client, memberIndex(familyID), func(id string) string {
		return memberKey(familyID, id)
	})
}

func (s *memberStore) Upsert(ctx context.Context, member storage.Member) error {
	return putIndexed(ctx, s.client, memberKey(member.FamilyID, member.ID), memberIndex(member.FamilyID), member.ID, member)
}

func (s *memberStore) Delete(ctx context.Context, familyID, id string) error {
	return deleteIndexed(ctx, s.client, memberKey(familyID, id), memberIndex(familyID), id)
}

type controlsStore struct {
	client *redis.Client
}

func (s *controlsStore) Get(ctx context.Context, familyID string) (*storage.ParentalControls, error) {
	return getJSON[storage.ParentalControls](ctx, s.client, key("controls", familyID))
}

func (s *controlsStore) Upsert(ctx context.Context, controls storage.ParentalControls) error {
	return putIndexed(ctx, s.client, key("controls", controls.FamilyID), key("controls"), controls.FamilyID, controls)
}

type videoStore struct {
	client *redis.Client
}

func videoKey(familyID, id string) string { return key("video", familyID, id) }
func videoIndex(familyID string) string  { return key("videos", familyID) }

func (s *videoStore) Get(ctx context.Context, familyID, id string) (*storage.Video, error) {
	return getJSON[storage.Video](ctx, s.client, videoKey(familyID, id))
}

func (s *videoStore) List(ctx context.Context, familyID string) ([]storage.Video, error) {
	return listIndexed[storage.Video](ctx, s.client, videoIndex(familyID), func(id string) string {
		return videoKey(familyID, id)
	})
}

func (s *videoStore) Upsert(ctx context.Context, video storage.Video) error {
	return putIndexed(ctx, s.client, videoKey(video.FamilyID, video.ID), videoIndex(video.FamilyID), video.ID, video)
}

func (s *videoStore) Delete(ctx context.Context, familyID, id string) error {
	return deleteIndexed(ctx, s.client, videoKey(familyID, id), videoIndex(familyID), id)
}

func (s *videoStore) UpdateWatchDuration(ctx context.Context, familyID, id string, seconds int) error {
	k := videoKey(familyID, id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		var video storage.Video
		if err := json.Unmarshal(data, &video); err != nil {
			return fmt.Errorf("unmarshal %s: %w", k, err)
		}
		video.WatchDurationSeconds = seconds
		video.Status = storage.VideoSeen
		video.UpdatedAt = time.Now()
		updated, err := json.Marshal(video)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, updated, 0)
			return nil
		})
		return err
	}, k)
}
