package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis.
//
// Designed for deployments that already operate Redis and want low-latency
// checkpoint round-trips. Layout:
//   - one string key per checkpoint: "<prefix>:blob:<runID>:<superstep>"
//   - one sorted set per run scoring supersteps: "<prefix>:run:<runID>"
//
// The sorted set makes LoadLatest and ListCheckpoints O(log n) without
// scanning keys. An optional TTL expires whole runs; with a TTL set, every
// save refreshes the run's expiry.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the default "stepflow" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL expires a run's checkpoints after d of inactivity. Zero (the
// default) keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore wraps an existing Redis client. The caller owns the client's
// lifecycle.
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	st := store.NewRedisStore(rdb, store.WithTTL(24*time.Hour))
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "stepflow"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) blobKey(runID string, superstep int) string {
	return s.prefix + ":blob:" + runID + ":" + strconv.Itoa(superstep)
}

func (s *RedisStore) runKey(runID string) string {
	return s.prefix + ":run:" + runID
}

// SaveCheckpoint stores the blob and indexes its superstep in the run's
// sorted set.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, runID string, superstep int, blob []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.blobKey(runID, superstep), blob, s.ttl)
	pipe.ZAdd(ctx, s.runKey(runID), redis.Z{Score: float64(superstep), Member: superstep})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.runKey(runID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the blob for (runID, superstep).
func (s *RedisStore) LoadCheckpoint(ctx context.Context, runID string, superstep int) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.blobKey(runID, superstep)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return blob, nil
}

// LoadLatest retrieves the highest-superstep checkpoint for runID.
func (s *RedisStore) LoadLatest(ctx context.Context, runID string) ([]byte, int, error) {
	members, err := s.client.ZRevRange(ctx, s.runKey(runID), 0, 0).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query run index: %w", err)
	}
	if len(members) == 0 {
		return nil, 0, ErrNotFound
	}

	superstep, err := strconv.Atoi(members[0])
	if err != nil {
		return nil, 0, fmt.Errorf("corrupt run index entry %q: %w", members[0], err)
	}
	blob, err := s.LoadCheckpoint(ctx, runID, superstep)
	if err != nil {
		return nil, 0, err
	}
	return blob, superstep, nil
}

// ListCheckpoints returns the stored superstep indices for runID, ascending.
func (s *RedisStore) ListCheckpoints(ctx context.Context, runID string) ([]int, error) {
	members, err := s.client.ZRange(ctx, s.runKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	steps := make([]int, 0, len(members))
	for _, m := range members {
		step, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt run index entry %q: %w", m, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// DeleteRun removes the run's index and every blob it references.
func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	steps, err := s.ListCheckpoints(ctx, runID)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(steps)+1)
	for _, step := range steps {
		keys = append(keys, s.blobKey(runID, step))
	}
	keys = append(keys, s.runKey(runID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
