package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rmax-ai/skaler/pkg/store"
)

const defaultPrefix = "skaler"

// incrWithWindow starts the expiry clock on the first increment of a window,
// so the counter resets itself without a separate sweeper. A counter left
// without a TTL (written with no window configured) is given one here too.
var incrWithWindow = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if redis.call("PTTL", KEYS[1]) == -1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RedisUsageStore implements store.UsageStore on Redis so several dispatcher
// processes share usage counters and blocks.
type RedisUsageStore struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

// Option configures a RedisUsageStore.
type Option func(*RedisUsageStore)

// WithPrefix namespaces every key. Defaults to "skaler".
func WithPrefix(prefix string) Option {
	return func(s *RedisUsageStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithUsageWindow makes usage counters expire window after their first increment.
// A zero window keeps counters until ResetUsage.
func WithUsageWindow(window time.Duration) Option {
	return func(s *RedisUsageStore) {
		s.window = window
	}
}

func NewRedisUsageStore(client redis.UniversalClient, opts ...Option) *RedisUsageStore {
	s := &RedisUsageStore{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisUsageStore) usageKey(name string) string {
	return fmt.Sprintf("%s:provider:%s:usage", s.prefix, name)
}

func (s *RedisUsageStore) blockKey(name string) string {
	return fmt.Sprintf("%s:provider:%s:blocked", s.prefix, name)
}

func (s *RedisUsageStore) IncrementUsage(ctx context.Context, name string) error {
	key := s.usageKey(name)
	var err error
	if s.window > 0 {
		err = incrWithWindow.Run(ctx, s.client, []string{key}, s.window.Milliseconds()).Err()
	} else {
		err = s.client.Incr(ctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: failed to INCR key %s: %w", store.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *RedisUsageStore) GetUsage(ctx context.Context, name string) (int64, error) {
	key := s.usageKey(name)
	n, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: failed to GET key %s: %w", store.ErrStoreUnavailable, key, err)
	}
	return n, nil
}

func (s *RedisUsageStore) ResetUsage(ctx context.Context, name string) error {
	key := s.usageKey(name)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: failed to DEL key %s: %w", store.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Block stores a marker key whose Redis TTL is the block duration.
// Expiry is handled by Redis, which gives the lazy-eviction semantics for free.
func (s *RedisUsageStore) Block(ctx context.Context, name string, ttl time.Duration) error {
	key := s.blockKey(name)
	if ttl <= 0 {
		// A non-positive ttl is already expired; drop any previous block.
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("%w: failed to DEL key %s: %w", store.ErrStoreUnavailable, key, err)
		}
		return nil
	}
	until := time.Now().Add(ttl).UnixMilli()
	if err := s.client.Set(ctx, key, until, ttl).Err(); err != nil {
		return fmt.Errorf("%w: failed to SET key %s: %w", store.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *RedisUsageStore) IsBlocked(ctx context.Context, name string) (bool, error) {
	key := s.blockKey(name)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: failed to EXISTS key %s: %w", store.ErrStoreUnavailable, key, err)
	}
	return n > 0, nil
}

// Ping verifies the connection, used by the daemon at startup.
func (s *RedisUsageStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", store.ErrStoreUnavailable, err)
	}
	return nil
}
