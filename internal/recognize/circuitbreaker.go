package recognize

import (
	"sync"
	"time"

	"github.com/sodav/monitor-core/internal/metrics"
)

// CircuitBreaker trips a provider into a cool-down after repeated
// permanent failures (counted until the next success, with no time
// window), rather than banning it for the
// process lifetime, a deliberate refinement of the ProviderPermanent
// propagation rule: the failure is still
// logged and an event emitted on first trip, but the provider gets a
// half-open retry after cooldown elapses instead of staying dead.
type CircuitBreaker struct {
	provider    string
	threshold   int
	cooldown    time.Duration
	onTrip      func(provider string)

	mu         sync.Mutex
	failures   int
	trippedAt  time.Time
	tripped    bool
}

// NewCircuitBreaker trips after threshold consecutive permanent
// failures, staying open for cooldown before allowing a probe call
// through again. onTrip, if non-nil, fires once on the transition
// into the open state (used to emit error_raised events).
func NewCircuitBreaker(provider string, threshold int, cooldown time.Duration, onTrip func(provider string)) *CircuitBreaker {
	return &CircuitBreaker{
		provider:  provider,
		threshold: threshold,
		cooldown:  cooldown,
		onTrip:    onTrip,
	}
}

// Allow reports whether a call should be attempted: true when closed,
// or when open but the cooldown has elapsed (half-open probe).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return true
	}
	if time.Since(cb.trippedAt) >= cb.cooldown {
		return true // half-open: let one probe through
	}
	metrics.Get().ProviderCircuitOpen.WithLabelValues(cb.provider).Set(1)
	return false
}

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.tripped = false
	metrics.Get().ProviderCircuitOpen.WithLabelValues(cb.provider).Set(0)
}

// RecordPermanentFailure counts a non-retryable failure, tripping the
// breaker once threshold is reached.
func (cb *CircuitBreaker) RecordPermanentFailure() {
	cb.mu.Lock()
	wasTripped := cb.tripped
	cb.failures++
	trip := !wasTripped && cb.failures >= cb.threshold
	if trip {
		cb.tripped = true
		cb.trippedAt = time.Now()
	} else if wasTripped {
		// A failed half-open probe re-opens the breaker for another cooldown.
		cb.trippedAt = time.Now()
	}
	cb.mu.Unlock()

	metrics.Get().ProviderCircuitOpen.WithLabelValues(cb.provider).Set(boolToFloat(cb.tripped))

	if trip && cb.onTrip != nil {
		cb.onTrip(cb.provider)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
