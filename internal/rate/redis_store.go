package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowLua drops entries older than the window, counts what is left,
// and records the attempt only when below the limit.
// KEYS[1] = attempt set
// ARGV[1] = now (unix ms)
// ARGV[2] = exclusive lower score bound, "(<now-window>"
// ARGV[3] = window (ms), used as key TTL
// ARGV[4] = max attempts
// ARGV[5] = member id
//
// Returns {count_before, oldest_ms or -1, admitted 0|1}.
var slidingWindowLua = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])

local count = redis.call('ZCARD', KEYS[1])
local oldest = -1
if count > 0 then
  local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  oldest = tonumber(first[2])
end

local admitted = 0
if count < tonumber(ARGV[4]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
  admitted = 1
end

if count > 0 or admitted == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end

return {count, oldest, admitted}
`)

// RedisStore keeps one sorted set per (action, identifier), scored by
// attempt time in milliseconds.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store. Keys are namespaced under prefix when it is
// non-empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Admit implements Store.
func (s *RedisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Window, error) {
	if s == nil || s.redis == nil {
		return Window{}, errors.New("redis client is nil")
	}

	raw, err := slidingWindowLua.Run(ctx, s.redis, []string{s.key(key)},
		now.UnixMilli(),
		"("+strconv.FormatInt(now.Add(-window).UnixMilli(), 10),
		window.Milliseconds(),
		max,
		strconv.FormatInt(now.UnixNano(), 36)+"-"+uuid.NewString(),
	).Slice()
	if err != nil {
		return Window{}, err
	}
	if len(raw) != 3 {
		return Window{}, fmt.Errorf("unexpected script reply length %d", len(raw))
	}

	count, _ := raw[0].(int64)
	oldest, _ := raw[1].(int64)
	admitted, _ := raw[2].(int64)

	w := Window{Count: int(count), Admitted: admitted == 1}
	if oldest >= 0 && count > 0 {
		w.Oldest = time.UnixMilli(oldest)
	}
	return w, nil
}

// Prune implements Store. It scans keys under the store's namespace and
// trims members scored before the cutoff.
func (s *RedisStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.redis == nil {
		return 0, errors.New("redis client is nil")
	}

	var (
		cursor  uint64
		removed int64
		pattern = s.key("rl:*")
		maxExcl = "(" + strconv.FormatInt(before.UnixMilli(), 10)
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			pipe := s.redis.Pipeline()
			cmds := make([]*redis.IntCmd, len(keys))
			for i, k := range keys {
				cmds[i] = pipe.ZRemRangeByScore(ctx, k, "-inf", maxExcl)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, err
			}
			for _, c := range cmds {
				removed += c.Val()
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
