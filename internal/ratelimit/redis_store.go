package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter and arms its expiry on the
// first hit. A key that somehow lost its TTL is re-armed so it cannot block
// an identity forever.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if err := validateArgs(key, window); err != nil {
		return Counter{}, err
	}
	if s == nil || s.client == nil {
		return Counter{}, errors.New("redis counter store not configured")
	}

	res, err := s.script.Run(ctx, s.client, []string{key}, window.Milliseconds()).Slice()
	if err != nil {
		return Counter{}, err
	}
	if len(res) < 2 {
		return Counter{}, errors.New("invalid rate limit script response")
	}

	return Counter{
		Count: castToInt(res[0]),
		TTL:   time.Duration(castToInt(res[1])) * time.Millisecond,
	}, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (Counter, error) {
	if key == "" {
		return Counter{}, ErrEmptyKey
	}
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counter{}, err
	}

	raw, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Counter{}, nil
	}
	if err != nil {
		return Counter{}, err
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Counter{}, err
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return Counter{Count: count, TTL: ttl}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.client.Del(ctx, key).Err()
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		parsed, _ := strconv.ParseInt(val, 10, 64)
		return parsed
	default:
		return 0
	}
}
