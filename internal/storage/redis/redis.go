package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kidsfeed/internal/config"
	"github.com/goodtune/kidsfeed/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kidsfeed"

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	memberStore   *memberStore
	controlsStore *controlsStore
	quotaStore    *quotaStore
	videoStore    *videoStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry a port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:        client,
		memberStore:   &memberStore{client: client},
		controlsStore: &controlsStore{client: client},
		quotaStore:    &quotaStore{client: client, script: redis.NewScript(applyQuotaScript)},
		videoStore:    &videoStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Members returns the MemberStore implementation
func (s *Store) Members() storage.MemberStore { return s.memberStore }

// Controls returns the ControlsStore implementation
func (s *Store) Controls() storage.ControlsStore { return s.controlsStore }

// Quotas returns the QuotaStore implementation
func (s *Store) Quotas() storage.QuotaStore { return s.quotaStore }

// Videos returns the VideoStore implementation
func (s *Store) Videos() storage.VideoStore { return s.videoStore }

func key(parts ...string) string {
	k := keyPrefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// getJSON loads a JSON document stored under k.
func getJSON[T any](ctx context.Context, client *redis.Client, k string) (*T, error) {
	data, err := client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", k, err)
	}
	return &out, nil
}

// putIndexed stores a JSON document and records its id in an index set.
func putIndexed(ctx context.Context, client *redis.Client, k, index, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k, data, 0)
		pipe.SAdd(ctx, index, id)
		return nil
	})
	return err
}

func deleteIndexed(ctx context.Context, client *redis.Client, k, index, id string) error {
	var del *redis.IntCmd
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, k)
		pipe.SRem(ctx, index, id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// listIndexed loads every document named by an index set. Ids whose
// document has gone are skipped.
func listIndexed[T any](ctx context.Context, client *redis.Client, index string, keyFor func(id string) string) ([]T, error) {
	ids, err := client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(ids))
	for _, id := range ids {
		item, err := getJSON[T](ctx, client, keyFor(id))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}
