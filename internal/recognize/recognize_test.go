package recognize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	enabled bool
	match   *Match
	err     error
	calls   int
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Enabled() bool   { return s.enabled }
func (s *stubProvider) Lookup(ctx context.Context, pcm []float32, fingerprint string, durationS float64) (*Match, error) {
	s.calls++
	return s.match, s.err
}

func TestChainFallsThroughOnRecoverableError(t *testing.T) {
	a := &stubProvider{name: "a", enabled: true, err: newProviderError(ErrServiceUnavailable, nil)}
	b := &stubProvider{name: "b", enabled: true, match: &Match{Title: "Found", Source: "b"}}

	chain := NewChain(a, b)
	match, err := chain.Find(context.Background(), nil, "fp", 20)

	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "Found", match.Title)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestChainSkipsDisabledProvider(t *testing.T) {
	a := &stubProvider{name: "a", enabled: false}
	b := &stubProvider{name: "b", enabled: true, match: &Match{Title: "Found"}}

	chain := NewChain(a, b)
	match, err := chain.Find(context.Background(), nil, "fp", 20)

	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 0, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestChainReturnsNilWhenNoProviderMatches(t *testing.T) {
	a := &stubProvider{name: "a", enabled: true}
	b := &stubProvider{name: "b", enabled: true}

	chain := NewChain(a, b)
	match, err := chain.Find(context.Background(), nil, "fp", 20)

	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestTokenBucketAllowsBurstThenBlocks(t *testing.T) {
	tb := newTokenBucket(2, 1)

	assert.True(t, tb.allow())
	assert.True(t, tb.allow())
	assert.False(t, tb.allow())
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	tb := newTokenBucket(1, 10) // 10 tokens/sec refill

	assert.True(t, tb.allow())
	assert.False(t, tb.allow())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, tb.allow())
}

func TestRateLimiterLocalAllowsWithinDeadline(t *testing.T) {
	rl := NewRateLimiter(nil, 1, 100) // fast refill so the test doesn't block

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.True(t, rl.Allow(ctx, "acoustid"))
	assert.True(t, rl.Allow(ctx, "acoustid"))
}

func TestRateLimiterLocalDeniesAfterContextExpires(t *testing.T) {
	rl := NewRateLimiter(nil, 1, 0.001) // effectively no refill within the test window

	rl.Allow(context.Background(), "audd") // consume the single token

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.False(t, rl.Allow(ctx, "audd"))
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	tripped := false
	cb := NewCircuitBreaker("acoustid", 2, time.Minute, func(provider string) { tripped = true })

	assert.True(t, cb.Allow())
	cb.RecordPermanentFailure()
	assert.True(t, cb.Allow())
	cb.RecordPermanentFailure()

	assert.False(t, cb.Allow())
	assert.True(t, tripped)
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker("audd", 1, 50*time.Millisecond, nil)

	cb.RecordPermanentFailure()
	assert.False(t, cb.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("audd", 2, time.Minute, nil)

	cb.RecordPermanentFailure()
	cb.RecordSuccess()
	cb.RecordPermanentFailure()

	assert.True(t, cb.Allow(), "failure count should have reset after success")
}

func TestAudDFirstISRCPrefersTopLevel(t *testing.T) {
	r := &auddResult{ISRC: "USRC17607839"}
	assert.Equal(t, "USRC17607839", r.firstISRC())
}

func TestAudDFirstISRCFallsBackToNestedEnvelopes(t *testing.T) {
	r := &auddResult{
		Spotify: &struct {
			ExternalIDs *struct {
				ISRC string `json:"isrc,omitempty"`
			} `json:"external_ids,omitempty"`
		}{
			ExternalIDs: &struct {
				ISRC string `json:"isrc,omitempty"`
			}{ISRC: "GBAYE0601690"},
		},
	}
	assert.Equal(t, "GBAYE0601690", r.firstISRC())
}

func TestAudDFirstISRCEmptyWhenAbsent(t *testing.T) {
	r := &auddResult{}
	assert.Equal(t, "", r.firstISRC())
}
