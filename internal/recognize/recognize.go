package recognize

import (
	"context"

	"github.com/sodav/monitor-core/internal/cache"
	"github.com/sodav/monitor-core/internal/config"
	"go.uber.org/zap"
)

// Recognizer is the External Recognizer (C5): find(pcm, features) ->
// Match?, trying AcoustID then AudD and normalizing whichever
// provider answers first.
type Recognizer struct {
	chain *Chain
}

// New wires both providers from cfg. Either provider is silently
// skipped by the chain when its API key is empty: "A
// provider is skipped if its API key is absent or it is disabled by
// config."
func New(cfg *config.DetectionConfig, redisClient *cache.RedisClient, log *zap.Logger, onCircuitTrip func(provider string)) *Recognizer {
	acoustidLimiter := NewRateLimiter(redisClient, 3, 3.0)
	auddLimiter := NewRateLimiter(redisClient, 2, 2.0)

	acoustidBreaker := NewCircuitBreaker("acoustid", 5, cfg.ProviderCooldown, onCircuitTrip)
	auddBreaker := NewCircuitBreaker("audd", 5, cfg.ProviderCooldown, onCircuitTrip)

	acoustid := NewAcoustIDProvider(cfg.AcoustIDAPIKey, cfg.AcoustIDConfidenceThreshold, cfg.MaxRetries, cfg.RequestTimeout, acoustidLimiter, acoustidBreaker, log)
	audd := NewAudDProvider(cfg.AuddAPIKey, cfg.AuddConfidenceThreshold, cfg.SampleRate, cfg.RequestTimeout, auddLimiter, auddBreaker, log)

	return &Recognizer{chain: NewChain(acoustid, audd)}
}

// Find dispatches to AcoustID, then AudD, returning the first
// normalized match or nil if neither recognizes the window.
func (r *Recognizer) Find(ctx context.Context, pcm []float32, fingerprint string, durationS float64) (*Match, error) {
	return r.chain.Find(ctx, pcm, fingerprint, durationS)
}
