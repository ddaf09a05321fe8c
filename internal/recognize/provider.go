// Package recognize implements the External Recognizer: a chain of
// AcoustID and AudD providers tried in order, each rate-limited and
// circuit-broken independently, falling through to the next on any
// recoverable failure rather than aborting the chain.
package recognize

import (
	"context"
	"errors"
)

// Match is the normalized result of a successful provider lookup.
type Match struct {
	Title       string
	Artist      string
	Album       string
	ISRC        string
	Label       string
	ReleaseDate string // YYYY-MM-DD, empty if unknown
	Fingerprint string
	Confidence  float64
	Source      string // "acoustid" or "audd"
	Method      string // models.DetectionMethod value
}

// ErrorKind discriminates provider failures so the chain knows whether
// to retry, fall through, or skip the provider entirely.
type ErrorKind string

const (
	ErrHTTPError         ErrorKind = "http_error"
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrServiceUnavailable ErrorKind = "service_unavailable"
	ErrNotConfigured     ErrorKind = "not_configured"
	ErrNoMatch           ErrorKind = "no_match"
)

// ProviderError carries the discriminant plus the underlying cause.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func newProviderError(kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// Fallthrough reports whether the chain should try the next provider
// rather than treating this as a fatal lookup failure.
func (e *ProviderError) Fallthrough() bool {
	switch e.Kind {
	case ErrHTTPError, ErrRateLimited, ErrServiceUnavailable, ErrNotConfigured, ErrNoMatch:
		return true
	default:
		return false
	}
}

// Provider looks up a Match given raw PCM audio and a locally computed
// fingerprint/duration. Returning (nil, nil) means "no match"; a
// *ProviderError signals why the lookup could not be completed.
type Provider interface {
	Name() string
	Enabled() bool
	Lookup(ctx context.Context, pcm []float32, fingerprint string, durationS float64) (*Match, error)
}

// Chain tries providers in order, falling through on any recoverable
// error or empty result: "Failures fall through to the next
// provider rather than aborting."
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Find returns the first match any enabled provider produces, or nil
// if every provider in the chain missed or was skipped.
func (c *Chain) Find(ctx context.Context, pcm []float32, fingerprint string, durationS float64) (*Match, error) {
	for _, p := range c.providers {
		if !p.Enabled() {
			continue
		}
		match, err := p.Lookup(ctx, pcm, fingerprint, durationS)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) && pe.Fallthrough() {
				continue
			}
			return nil, err
		}
		if match != nil {
			return match, nil
		}
	}
	return nil, nil
}
