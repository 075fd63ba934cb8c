package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript runs the whole fixed window decision on the Redis server so the
// read-check-increment is atomic across every gateway instance.
//
// KEYS[1] = counter key, ARGV[1] = limit, ARGV[2] = window in milliseconds.
// Returns {count, pttl_ms, allowed}.
var takeScript = redis.NewScript(`
local count = redis.call('GET', KEYS[1])
if not count then
	redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
	return {1, tonumber(ARGV[2]), 1}
end

count = tonumber(count)
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end

if count >= tonumber(ARGV[1]) then
	return {count, ttl, 0}
end

count = redis.call('INCR', KEYS[1])
return {count, ttl, 1}
`)

// RedisStore keeps records in Redis, shared by every gateway instance that
// points at the same server. Windows expire through key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. A non-empty prefix is prepended to
// every key as "<prefix>:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisStore) Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Record, bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.key(key)}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Record{}, false, fmt.Errorf("redis take %q: %w", key, err)
	}
	if len(res) != 3 {
		return Record{}, false, fmt.Errorf("redis take %q: unexpected reply of %d values", key, len(res))
	}

	rec := Record{
		Count:   int(res[0]),
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}
	return rec, res[2] == 1, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
