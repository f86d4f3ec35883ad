package cost

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSpendStore keeps per-day spend totals in Redis. Each permit is
// recorded at most once.
type RedisSpendStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSpendStore constructs a store; keys expire after ttl.
func NewRedisSpendStore(client *redis.Client, ttl time.Duration) *RedisSpendStore {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisSpendStore{client: client, prefix: "cost:", ttl: ttl}
}

func (s *RedisSpendStore) dayKey(day string) string {
	return s.prefix + "daily:" + day
}

func (s *RedisSpendStore) commitKey(permitID string) string {
	return s.prefix + "commit:" + permitID
}

// LoadDaily returns the persisted total for day.
func (s *RedisSpendStore) LoadDaily(ctx context.Context, day string) (float64, error) {
	v, err := s.client.Get(ctx, s.dayKey(day)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse daily spend %q: %w", v, err)
	}
	return f, nil
}

// RecordCommit adds amount to the day total unless permitID was already
// recorded. It reports whether the amount was added.
func (s *RedisSpendStore) RecordCommit(ctx context.Context, day, permitID string, amount float64) (bool, error) {
	res, err := commitScript.Run(ctx, s.client,
		[]string{s.dayKey(day), s.commitKey(permitID)},
		strconv.FormatFloat(amount, 'f', -1, 64), s.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 1 {
		return false, fmt.Errorf("unexpected type from commit script: %T", res)
	}
	added, _ := arr[0].(int64)
	return added == 1, nil
}

var commitScript = redis.NewScript(`
local day = KEYS[1]
local marker = KEYS[2]
local amount = ARGV[1]
local ttl = tonumber(ARGV[2])

if redis.call('SET', marker, '1', 'NX', 'PX', ttl) then
  local total = redis.call('INCRBYFLOAT', day, amount)
  redis.call('PEXPIRE', day, ttl)
  return {1, total}
end
local current = redis.call('GET', day)
if not current then current = '0' end
return {0, current}
`)
