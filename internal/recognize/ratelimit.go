package recognize

import (
	"context"
	"sync"
	"time"

	"github.com/sodav/monitor-core/internal/cache"
)

// refillScript atomically refills then takes a token, keyed per
// provider, so rate limits hold across Monitor processes sharing a
// Redis instance rather than just within one process's memory.
const refillScript = `
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(data[1])
local last_refill = tonumber(data[2])
if tokens == nil then
  tokens = max_tokens
  last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
  tokens = math.min(max_tokens, tokens + elapsed * refill_rate)
  last_refill = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill)
redis.call('EXPIRE', key, 3600)
return allowed
`

// tokenBucket is an in-process token bucket, used when no Redis
// connection is configured. Adapted from a rate limiter run in front
// of an HTTP API, here keyed by provider name instead of client IP.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(maxTokens, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RateLimiter gates outbound provider calls to a token bucket per
// provider name, size and refill rate configurable: "External
// API calls are rate-limited per provider by a token bucket;
// exhaustion blocks up to the deadline, then fails through." When a
// Redis client is available the bucket state is shared across
// processes via refillScript; otherwise it falls back to an
// in-process bucket.
type RateLimiter struct {
	redis      *cache.RedisClient
	maxTokens  float64
	refillRate float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

// NewRateLimiter builds a limiter allowing maxTokens requests in
// bursts, refilling at refillRate tokens/second. redisClient may be
// nil, in which case limiting is local to this process.
func NewRateLimiter(redisClient *cache.RedisClient, maxTokens, refillRate float64) *RateLimiter {
	return &RateLimiter{
		redis:      redisClient,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		buckets:    make(map[string]*tokenBucket),
	}
}

// Allow blocks until a token is available for provider or ctx is
// done, whichever comes first, polling at a short fixed interval.
// Returns false if the context expired before a token freed up —
// callers treat that as the provider being skipped this round.
func (rl *RateLimiter) Allow(ctx context.Context, provider string) bool {
	if rl.redis != nil {
		return rl.allowDistributed(ctx, provider)
	}
	return rl.allowLocal(ctx, provider)
}

func (rl *RateLimiter) allowLocal(ctx context.Context, provider string) bool {
	rl.mu.Lock()
	tb, ok := rl.buckets[provider]
	if !ok {
		tb = newTokenBucket(rl.maxTokens, rl.refillRate)
		rl.buckets[provider] = tb
	}
	rl.mu.Unlock()

	if tb.allow() {
		return true
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if tb.allow() {
				return true
			}
		}
	}
}

func (rl *RateLimiter) allowDistributed(ctx context.Context, provider string) bool {
	key := "ratelimit:provider:" + provider
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	try := func() (bool, error) {
		res, err := rl.redis.Eval(ctx, refillScript, []string{key},
			rl.maxTokens, rl.refillRate, float64(time.Now().UnixMilli())/1000.0)
		if err != nil {
			return false, err
		}
		n, _ := res.(int64)
		return n == 1, nil
	}

	if ok, err := try(); err == nil && ok {
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if ok, err := try(); err == nil && ok {
				return true
			}
		}
	}
}
