package api

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/netscope/scancollab/internal/uuidgen"
	"github.com/redis/go-redis/v9"
)

// HandshakeLimiter decides whether a client may open another collaboration socket
type HandshakeLimiter interface {
	Allow(ctx context.Context, clientIP string) (allowed bool, retryAfter time.Duration, err error)
}

// HandshakeRateLimiter is a sliding-window limiter keyed by client IP and
// shared by every server instance through a Redis sorted set.
type HandshakeRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	clock  clockwork.Clock
}

// NewHandshakeRateLimiter allows limit upgrades per IP in any window
func NewHandshakeRateLimiter(client *redis.Client, limit int, window time.Duration, clock clockwork.Clock) *HandshakeRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HandshakeRateLimiter{client: client, limit: limit, window: window, clock: clock}
}

func (l *HandshakeRateLimiter) key(clientIP string) string {
	return fmt.Sprintf("collab:handshake:%ds:%s", int(l.window.Seconds()), clientIP)
}

// slidingWindowScript trims the window, then either refuses with the time
// until the oldest entry leaves it or records the attempt, all in one step.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window
  if #oldest > 0 then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, retry}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])
return {1, 0}
`)

// Allow records the attempt when it is under the limit. Scores are unix
// milliseconds.
func (l *HandshakeRateLimiter) Allow(ctx context.Context, clientIP string) (bool, time.Duration, error) {
	now := l.clock.Now().UnixMilli()
	windowMs := l.window.Milliseconds()
	ttlMs := (l.window + time.Minute).Milliseconds()

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.key(clientIP)},
		now, windowMs, l.limit, uuidgen.MustString(uuidgen.KindRateEntry), ttlMs).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("handshake rate limit check failed: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("handshake rate limit check returned %d values", len(res))
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, max(time.Duration(res[1])*time.Millisecond, time.Second), nil
}
