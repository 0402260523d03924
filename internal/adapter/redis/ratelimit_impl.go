package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one member per dispatch scored by its time. It
// returns 0 when a slot was taken, else the milliseconds until one frees up.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
  return 0
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return tonumber(oldest[2]) + window - now
`)

// RateLimiterImpl is a global sliding-window limiter shared by every worker
// and process using the same key.
type RateLimiterImpl struct {
	client *redis.Client
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, key string, limit int, window time.Duration) *RateLimiterImpl {
	return &RateLimiterImpl{client: client, key: key, limit: limit, window: window, now: time.Now}
}

func (l *RateLimiterImpl) Reserve(ctx context.Context) (time.Duration, error) {
	wait, err := slidingWindowScript.Run(ctx, l.client, []string{l.key},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("reserve rate limit slot: %w", err)
	}
	return time.Duration(wait) * time.Millisecond, nil
}
