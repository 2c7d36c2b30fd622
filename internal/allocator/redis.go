package allocator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ocrworker:alloc:"

// reservationStore is the subset of redis used for reservations.
type reservationStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type redisStore struct {
	client *redis.Client
}

func (s redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// RedisAllocator reserves allocations per submission key so that a
// duplicate submission of the same source version and language reuses the
// ids of the first one. The commit of a reused version id is a no-op, which
// makes repeated submissions idempotent for the reservation TTL.
type RedisAllocator struct {
	next   Allocator
	store  reservationStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisAllocator(client *redis.Client, next Allocator, ttl time.Duration, logger *slog.Logger) *RedisAllocator {
	return newRedisAllocator(redisStore{client: client}, next, ttl, logger)
}

func newRedisAllocator(store reservationStore, next Allocator, ttl time.Duration, logger *slog.Logger) *RedisAllocator {
	if next == nil {
		next = UUIDAllocator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAllocator{next: next, store: store, ttl: ttl, logger: logger}
}

func (a *RedisAllocator) Allocate(ctx context.Context, key string, pageCount int) (Allocation, error) {
	rkey := keyPrefix + key
	logCtx := a.logger.With("key", rkey)

	if existing, ok, err := a.lookup(ctx, rkey, pageCount); err != nil {
		return Allocation{}, err
	} else if ok {
		logCtx.Info("reusing reserved allocation", "versionId", existing.VersionID)
		return existing, nil
	}

	fresh, err := a.next.Allocate(ctx, key, pageCount)
	if err != nil {
		return Allocation{}, err
	}
	payload, err := json.Marshal(fresh)
	if err != nil {
		return Allocation{}, fmt.Errorf("failed to encode allocation: %w", err)
	}

	won, err := a.store.SetNX(ctx, rkey, string(payload), a.ttl)
	if err != nil {
		return Allocation{}, fmt.Errorf("failed to reserve allocation: %w", err)
	}
	if won {
		return fresh, nil
	}

	// Lost the race to a concurrent submission.
	if existing, ok, err := a.lookup(ctx, rkey, pageCount); err != nil {
		return Allocation{}, err
	} else if ok {
		logCtx.Info("reusing concurrently reserved allocation", "versionId", existing.VersionID)
		return existing, nil
	}

	// The reservation is for a different page count: the source changed.
	if err := a.store.Set(ctx, rkey, string(payload), a.ttl); err != nil {
		return Allocation{}, fmt.Errorf("failed to replace reservation: %w", err)
	}
	return fresh, nil
}

func (a *RedisAllocator) lookup(ctx context.Context, rkey string, pageCount int) (Allocation, bool, error) {
	val, ok, err := a.store.Get(ctx, rkey)
	if err != nil {
		return Allocation{}, false, fmt.Errorf("failed to read reservation: %w", err)
	}
	if !ok {
		return Allocation{}, false, nil
	}
	var existing Allocation
	if err := json.Unmarshal([]byte(val), &existing); err != nil {
		a.logger.Warn("discarding malformed reservation", "key", rkey, "error", err)
		return Allocation{}, false, nil
	}
	if len(existing.PageIDs) != pageCount {
		return Allocation{}, false, nil
	}
	return existing, true, nil
}
