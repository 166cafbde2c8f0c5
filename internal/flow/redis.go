package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackend wraps Redis failures so callers can tell them from a missing flow.
var ErrBackend = errors.New("flow backend unavailable")

const (
	fieldUsername  = "username"
	fieldAttempts  = "attempts"
	fieldExpiresAt = "expires_at"
)

// KEYS[1] = flow key
// ARGV[1] = username, ARGV[2] = expires_at (unix ms), ARGV[3] = ttl (ms)
// Returns 1 when inserted, 0 when the key is already taken.
var createFlowLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'username', ARGV[1], 'attempts', 0, 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// KEYS[1] = flow key
// ARGV[1] = now (unix ms)
// Returns the new attempt count, or -1 when the flow is missing or expired.
var incrementFlowLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local expiresAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if expiresAt == nil or tonumber(ARGV[1]) > expiresAt then
  redis.call('DEL', KEYS[1])
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// KEYS[1] = flow key
// ARGV[1] = now (unix ms)
// Returns 1 when a live flow was removed, 0 when it was missing or expired.
var consumeFlowLua = redis.NewScript(`
local expiresAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if expiresAt == nil then
  return 0
end
redis.call('DEL', KEYS[1])
if tonumber(ARGV[1]) > expiresAt then
  return 0
end
return 1
`)

// RedisStore keeps flows in Redis so several instances share them. Key TTLs
// evict expired flows; create and increment run as Lua scripts.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	opts   Options
}

// NewRedisStore builds a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = "flow"
	}
	return &RedisStore{redis: client, prefix: prefix, opts: opts.withDefaults()}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) Create(ctx context.Context, username string) (*Flow, error) {
	// Stored with millisecond precision; keep the returned snapshot identical to Get.
	expiresAt := time.UnixMilli(s.opts.Now().Add(s.opts.TTL).UnixMilli())

	for i := 0; i < maxIDCollisions; i++ {
		id := s.opts.NewID()
		inserted, err := createFlowLua.Run(ctx, s.redis,
			[]string{s.key(id)},
			username,
			expiresAt.UnixMilli(),
			s.opts.TTL.Milliseconds(),
		).Int()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if inserted == 0 {
			continue
		}
		return &Flow{ID: id, Username: username, ExpiresAt: expiresAt}, nil
	}
	return nil, errIDExhausted
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Flow, error) {
	values, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(values) == 0 {
		return nil, ErrFlowNotFound
	}

	f, err := decodeFlow(id, values)
	if err != nil {
		return nil, err
	}
	if f.Expired(s.opts.Now()) {
		return nil, ErrFlowNotFound
	}
	return f, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	count, err := incrementFlowLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		s.opts.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count < 0 {
		return 0, ErrFlowNotFound
	}
	return count, nil
}

func (s *RedisStore) Consume(ctx context.Context, id string) error {
	removed, err := consumeFlowLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		s.opts.Now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if removed == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func decodeFlow(id string, values map[string]string) (*Flow, error) {
	expiresAtMs, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expires_at for flow %s", ErrBackend, id)
	}
	attempts, err := strconv.Atoi(values[fieldAttempts])
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt attempts for flow %s", ErrBackend, id)
	}
	return &Flow{
		ID:        id,
		Username:  values[fieldUsername],
		Attempts:  attempts,
		ExpiresAt: time.UnixMilli(expiresAtMs),
	}, nil
}
