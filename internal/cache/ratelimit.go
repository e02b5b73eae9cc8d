package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitUserPrefix = "ratelimit:user:"
	rateLimitIPPrefix   = "ratelimit:ip:"
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time // when the bucket is full again
	RetryAfter time.Duration
	// Degraded is set when Redis failed and the request was let through.
	Degraded bool
}

// tokenBucketScript refills and consumes a token bucket atomically.
// Time is passed in milliseconds so sub-second rates refill smoothly.
// Returns {allowed, retry_after_ms, remaining_tokens, ms_until_full}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) * rate / 1000)
end

local allowed = 0
local retry_after = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	retry_after = math.ceil((1 - tokens) * 1000 / rate)
end

local until_full = math.ceil((burst - tokens) * 1000 / rate)
redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', key, until_full + 1000)

return {allowed, retry_after, math.floor(tokens), until_full}
`)

// CheckUserRateLimit charges one request against userID's bucket, refilled at
// perMinute tokens per minute up to burst. perMinute == 0 means unlimited.
func (c *Cache) CheckUserRateLimit(ctx context.Context, userID string, perMinute, burst int) (*RateLimitResult, error) {
	if perMinute == 0 {
		return c.unlimited(burst), nil
	}
	return c.take(ctx, rateLimitUserPrefix+userID, float64(perMinute)/60, burst), nil
}

// CheckIPRateLimit charges one request against the bucket for ip, refilled at
// perSecond tokens per second. Only a hash of the address is stored.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, perSecond, burst int) (*RateLimitResult, error) {
	if perSecond == 0 {
		return c.unlimited(burst), nil
	}
	return c.take(ctx, rateLimitIPPrefix+hashIP(ip), float64(perSecond), burst), nil
}

func (c *Cache) unlimited(burst int) *RateLimitResult {
	return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: c.now()}
}

// take runs the bucket script. Redis failures fail open with Degraded set.
func (c *Cache) take(ctx context.Context, key string, perSecond float64, burst int) *RateLimitResult {
	if burst < 1 {
		burst = 1
	}
	now := c.now()

	res, err := tokenBucketScript.Run(ctx, c.client, []string{key}, perSecond, burst, now.UnixMilli()).Int64Slice()
	if err != nil || len(res) != 4 {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(burst),
			ResetAt:   now.Add(time.Duration(math.Ceil(float64(burst)/perSecond)) * time.Second),
			Degraded:  true,
		}
	}

	return &RateLimitResult{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  res[2],
		ResetAt:    now.Add(time.Duration(res[3]) * time.Millisecond),
	}
}

// hashIP returns the first 8 bytes of SHA-256(ip) as hex.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
