package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/telemetry"
	"github.com/sodav/monitor-core/internal/wavenc"
	"go.uber.org/zap"
)

const auddLookupURL = "https://api.audd.io/"

// auddResponse mirrors the AudD `{status, result}` envelope.
type auddResponse struct {
	Status string     `json:"status"`
	Result *auddResult `json:"result"`
	Error  *struct {
		ErrorMessage string `json:"error_message"`
	} `json:"error,omitempty"`
}

type auddResult struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Label  string `json:"label"`
	ReleaseDate string `json:"release_date"`
	ISRC   string `json:"isrc,omitempty"`
	Score  float64 `json:"score"`

	AppleMusic *struct {
		ISRC string `json:"isrc,omitempty"`
	} `json:"apple_music,omitempty"`
	Spotify *struct {
		ExternalIDs *struct {
			ISRC string `json:"isrc,omitempty"`
		} `json:"external_ids,omitempty"`
	} `json:"spotify,omitempty"`
	Deezer *struct {
		ISRC string `json:"isrc,omitempty"`
	} `json:"deezer,omitempty"`
}

// firstISRC returns the first syntactically present ISRC found across
// the top-level field and the apple_music/spotify/deezer envelopes,
// "ISRC may appear at top level or nested ... take the
// first syntactically valid one." Syntactic validation of the value
// itself is the Identity Resolver's job; this just picks a candidate.
func (r *auddResult) firstISRC() string {
	if r.ISRC != "" {
		return r.ISRC
	}
	if r.AppleMusic != nil && r.AppleMusic.ISRC != "" {
		return r.AppleMusic.ISRC
	}
	if r.Spotify != nil && r.Spotify.ExternalIDs != nil && r.Spotify.ExternalIDs.ISRC != "" {
		return r.Spotify.ExternalIDs.ISRC
	}
	if r.Deezer != nil && r.Deezer.ISRC != "" {
		return r.Deezer.ISRC
	}
	return ""
}

// AudDProvider is Provider B: a commercial recognition API fed the raw
// PCM window as a WAV-encoded multipart upload.
type AudDProvider struct {
	apiKey     string
	threshold  float64
	sampleRate int
	httpClient *http.Client
	limiter    *RateLimiter
	breaker    *CircuitBreaker
	log        *zap.Logger
}

func NewAudDProvider(apiKey string, threshold float64, sampleRate int, timeout time.Duration, limiter *RateLimiter, breaker *CircuitBreaker, log *zap.Logger) *AudDProvider {
	return &AudDProvider{
		apiKey:     apiKey,
		threshold:  threshold,
		sampleRate: sampleRate,
		httpClient: telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{ServiceName: "audd", Timeout: timeout}),
		limiter:    limiter,
		breaker:    breaker,
		log:        log,
	}
}

func (p *AudDProvider) Name() string { return "audd" }

func (p *AudDProvider) Enabled() bool {
	return p.apiKey != ""
}

// Lookup has no internal retry loop: AudD is the last provider in the
// chain, and only AcoustID is specified to retry.
func (p *AudDProvider) Lookup(ctx context.Context, pcm []float32, fingerprint string, durationS float64) (*Match, error) {
	if !p.Enabled() {
		return nil, newProviderError(ErrNotConfigured, nil)
	}
	if !p.breaker.Allow() {
		return nil, newProviderError(ErrServiceUnavailable, fmt.Errorf("audd circuit open"))
	}
	if !p.limiter.Allow(ctx, "audd") {
		return nil, newProviderError(ErrRateLimited, ctx.Err())
	}

	ctx, span := telemetry.TraceExternalCall(ctx, telemetry.ExternalServiceCallAttrs{Service: "audd", Operation: "recognize"})
	defer span.End()

	start := time.Now()
	match, err := p.attempt(ctx, pcm)
	metrics.Get().ProviderLatency.WithLabelValues("audd").Observe(time.Since(start).Seconds())
	metrics.Get().ProviderRequestsTotal.WithLabelValues("audd", statusLabel(err)).Inc()

	if err != nil {
		p.breaker.RecordPermanentFailure()
		telemetry.RecordExternalCallError(span, err, 0, false)
		p.log.Warn("audd lookup failed", zap.Error(err))
		return nil, newProviderError(ErrHTTPError, err)
	}

	p.breaker.RecordSuccess()
	telemetry.RecordExternalCallSuccess(span, http.StatusOK, 0)
	return match, nil
}

func (p *AudDProvider) attempt(ctx context.Context, pcm []float32) (*Match, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "window.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := wavenc.EncodeTo(part, pcm, p.sampleRate); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	if err := writer.WriteField("api_token", p.apiKey); err != nil {
		return nil, fmt.Errorf("write api_token: %w", err)
	}
	if err := writer.WriteField("return", "apple_music,spotify,deezer"); err != nil {
		return nil, fmt.Errorf("write return field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auddLookupURL, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audd returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed auddResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status != "success" {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.ErrorMessage
		}
		return nil, fmt.Errorf("audd error: %s", msg)
	}
	if parsed.Result == nil {
		return nil, nil
	}

	confidence := parsed.Result.Score
	if confidence == 0 {
		confidence = 1.0 // AudD omits score on exact matches
	} else {
		confidence /= 100.0
	}
	if confidence < p.threshold {
		return nil, nil
	}

	return &Match{
		Title:       parsed.Result.Title,
		Artist:      parsed.Result.Artist,
		Album:       parsed.Result.Album,
		Label:       parsed.Result.Label,
		ReleaseDate: parsed.Result.ReleaseDate,
		ISRC:        parsed.Result.firstISRC(),
		Confidence:  confidence,
		Source:      "audd",
		Method:      "audd",
	}, nil
}
