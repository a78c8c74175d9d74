package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkflowKey returns the Redis key for a workflow context.
// Pattern: autoinsight:workflow:{workflow_id}
func WorkflowKey(id string) string {
	return fmt.Sprintf("autoinsight:workflow:%s", id)
}

// DefaultTTL bounds abandoned workflow contexts. Each save refreshes it.
const DefaultTTL = 24 * time.Hour

// RedisStore persists workflow contexts as JSON values with a TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a session store on the given Redis connection.
// A non-positive ttl falls back to DefaultTTL.
func NewRedisStore(opts *redis.Options, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: redis.NewClient(opts), ttl: ttl}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error { return s.rdb.Close() }

// Ping verifies Redis connectivity. Useful for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*WorkflowContext, error) {
	raw, err := s.rdb.Get(ctx, WorkflowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", id, err)
	}
	var wc WorkflowContext
	if err := json.Unmarshal(raw, &wc); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &wc, nil
}

func (s *RedisStore) Save(ctx context.Context, wc *WorkflowContext) error {
	wc.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(wc)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", wc.ID, err)
	}
	if err := s.rdb.Set(ctx, WorkflowKey(wc.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("write workflow %s: %w", wc.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, WorkflowKey(id)).Err(); err != nil {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	return nil
}
