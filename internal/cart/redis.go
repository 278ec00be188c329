package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL applies when NewRedisStore is given a zero ttl.
const DefaultTTL = 7 * 24 * time.Hour

// addScript merges a quantity delta into one hash field. A new line is
// clamped to at least 1; a merge that drops below 1 removes the line.
// Returns the resulting quantity, 0 when removed.
var addScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
local delta = tonumber(ARGV[2])
local n
if cur then
  n = tonumber(cur) + delta
  if n < 1 then
    redis.call('HDEL', KEYS[1], ARGV[1])
    n = 0
  else
    redis.call('HSET', KEYS[1], ARGV[1], n)
  end
else
  n = delta
  if n < 1 then n = 1 end
  redis.call('HSET', KEYS[1], ARGV[1], n)
end
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return n
`)

// setScript overwrites an existing line only. Returns 0 if the line is absent.
var setScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisStore keeps one hash per owner: field = product id, value = quantity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func cartKey(owner string) string {
	return fmt.Sprintf("cart:%s", owner)
}

// Lines returns the cart sorted by product id.
func (r *RedisStore) Lines(ctx context.Context, owner string) ([]Line, error) {
	m, err := r.client.HGetAll(ctx, cartKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	lines := make([]Line, 0, len(m))
	for id, v := range m {
		q, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("cart %s: bad quantity %q for %s: %w", owner, v, id, err)
		}
		lines = append(lines, Line{ProductID: id, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (r *RedisStore) Add(ctx context.Context, owner, productID string, delta int) (int, error) {
	n, err := addScript.Run(ctx, r.client, []string{cartKey(owner)},
		productID, delta, r.ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis add failed: %w", err)
	}
	return n, nil
}

func (r *RedisStore) Set(ctx context.Context, owner, productID string, qty int) (bool, error) {
	n, err := setScript.Run(ctx, r.client, []string{cartKey(owner)},
		productID, qty, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set failed: %w", err)
	}
	return n == 1, nil
}

func (r *RedisStore) Remove(ctx context.Context, owner, productID string) (bool, error) {
	n, err := r.client.HDel(ctx, cartKey(owner), productID).Result()
	if err != nil {
		return false, fmt.Errorf("redis hdel failed: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Clear(ctx context.Context, owner string) error {
	if err := r.client.Del(ctx, cartKey(owner)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
