package notifier

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/steelhorse-mc/presence-engine/internal/redis"
)

// tokenScript is a Lua script implementing a sliding one-second window per
// outbound channel.
var tokenScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window + 1000)

local resetAt = now + window
return {1, resetAt}
`)

// RateLimiter enforces the per-channel outbound rate using redis, so the
// limit holds across restarts.
type RateLimiter struct {
	client *redisclient.Client
	rate   int
}

func NewRateLimiter(client *redisclient.Client, ratePerSecond int) *RateLimiter {
	return &RateLimiter{client: client, rate: ratePerSecond}
}

func (rl *RateLimiter) Allow(ctx context.Context, channel string) (bool, time.Time) {
	now := time.Now().UnixMilli()
	window := int64(time.Second / time.Millisecond)

	result, err := tokenScript.Run(
		ctx,
		rl.client.Client,
		[]string{redisclient.NotifierBucket(channel)},
		now,
		window,
		rl.rate,
	).Int64Slice()

	if err != nil {
		// deliverability over strictness when redis is unreachable
		log.Warn().Err(err).Str("channel", channel).
			Msg("rate limit check failed, allowing send")
		return true, time.Now()
	}

	if len(result) != 2 {
		log.Warn().Str("channel", channel).Msg("unexpected rate limit result, allowing send")
		return true, time.Now()
	}

	return result[0] == 1, time.UnixMilli(result[1])
}
