package recognize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/telemetry"
	"go.uber.org/zap"
)

const acoustIDLookupURL = "https://api.acoustid.org/v2/lookup"

// acoustIDResponse mirrors the AcoustID lookup JSON envelope.
type acoustIDResponse struct {
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Results []acoustIDResult `json:"results"`
}

type acoustIDResult struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Recordings []acoustIDRecording `json:"recordings"`
}

type acoustIDRecording struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Releases []struct {
		Title string `json:"title"`
		Date  *struct {
			Year  int `json:"year"`
			Month int `json:"month"`
			Day   int `json:"day"`
		} `json:"date"`
	} `json:"releases"`
}

// AcoustIDProvider is Provider A: a local Chromaprint lookup against
// AcoustID, resolved to MusicBrainz recording metadata for ISRC,
// label, and release date.
type AcoustIDProvider struct {
	apiKey     string
	threshold  float64
	maxRetries int
	timeout    time.Duration
	httpClient *http.Client
	limiter    *RateLimiter
	breaker    *CircuitBreaker
	log        *zap.Logger
}

func NewAcoustIDProvider(apiKey string, threshold float64, maxRetries int, timeout time.Duration, limiter *RateLimiter, breaker *CircuitBreaker, log *zap.Logger) *AcoustIDProvider {
	return &AcoustIDProvider{
		apiKey:     apiKey,
		threshold:  threshold,
		maxRetries: maxRetries,
		timeout:    timeout,
		httpClient: telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{ServiceName: "acoustid", Timeout: timeout}),
		limiter:    limiter,
		breaker:    breaker,
		log:        log,
	}
}

func (p *AcoustIDProvider) Name() string { return "acoustid" }

func (p *AcoustIDProvider) Enabled() bool {
	return p.apiKey != ""
}

// Lookup retries up to maxRetries times with exponential backoff
// (1s/2s/4s) on network error or 5xx.
func (p *AcoustIDProvider) Lookup(ctx context.Context, pcm []float32, fingerprint string, durationS float64) (*Match, error) {
	if !p.Enabled() {
		return nil, newProviderError(ErrNotConfigured, nil)
	}
	if fingerprint == "" {
		return nil, newProviderError(ErrNoMatch, nil)
	}
	if !p.breaker.Allow() {
		return nil, newProviderError(ErrServiceUnavailable, fmt.Errorf("acoustid circuit open"))
	}
	if !p.limiter.Allow(ctx, "acoustid") {
		return nil, newProviderError(ErrRateLimited, ctx.Err())
	}

	ctx, span := telemetry.TraceExternalCall(ctx, telemetry.ExternalServiceCallAttrs{Service: "acoustid", Operation: "lookup"})
	defer span.End()

	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, newProviderError(ErrServiceUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			metrics.Get().ProviderRetriesTotal.WithLabelValues("acoustid").Inc()
		}

		start := time.Now()
		match, retryable, err := p.attempt(ctx, fingerprint, durationS)
		metrics.Get().ProviderLatency.WithLabelValues("acoustid").Observe(time.Since(start).Seconds())
		metrics.Get().ProviderRequestsTotal.WithLabelValues("acoustid", statusLabel(err)).Inc()

		if err == nil {
			p.breaker.RecordSuccess()
			telemetry.RecordExternalCallSuccess(span, http.StatusOK, 0)
			return match, nil
		}
		lastErr = err
		if !retryable {
			p.breaker.RecordPermanentFailure()
			telemetry.RecordExternalCallError(span, err, 0, false)
			return nil, newProviderError(ErrHTTPError, err)
		}
		p.log.Warn("acoustid lookup attempt failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	telemetry.RecordExternalCallError(span, lastErr, 0, true)
	return nil, newProviderError(ErrServiceUnavailable, lastErr)
}

// attempt performs a single HTTP round trip. retryable is true for
// network errors and 5xx responses.
func (p *AcoustIDProvider) attempt(ctx context.Context, fingerprint string, durationS float64) (match *Match, retryable bool, err error) {
	form := url.Values{}
	form.Set("client", p.apiKey)
	form.Set("duration", strconv.Itoa(int(durationS)))
	form.Set("fingerprint", fingerprint)
	form.Set("meta", "recordings+releases")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, acoustIDLookupURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("acoustid returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("acoustid returned %d", resp.StatusCode)
	}

	var parsed acoustIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status != "ok" {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, false, fmt.Errorf("acoustid error: %s", msg)
	}
	if len(parsed.Results) == 0 {
		return nil, false, nil
	}

	best := parsed.Results[0]
	for _, r := range parsed.Results {
		if r.Score > best.Score {
			best = r
		}
	}
	if best.Score < p.threshold || len(best.Recordings) == 0 {
		return nil, false, nil
	}

	rec := best.Recordings[0]
	m := &Match{
		Title:      rec.Title,
		Confidence: best.Score,
		Source:     "acoustid",
		Method:     "acoustid",
	}
	if len(rec.Artists) > 0 {
		m.Artist = rec.Artists[0].Name
	}
	if len(rec.Releases) > 0 {
		m.Album = rec.Releases[0].Title
		if d := rec.Releases[0].Date; d != nil && d.Year > 0 {
			month, day := d.Month, d.Day
			if month == 0 {
				month = 1
			}
			if day == 0 {
				day = 1
			}
			m.ReleaseDate = fmt.Sprintf("%04d-%02d-%02d", d.Year, month, day)
		}
	}
	if isrc := p.resolveISRC(ctx, rec.ID); isrc != "" {
		m.ISRC = isrc
	}
	return m, false, nil
}

// resolveISRC fetches the recording's ISRC list from MusicBrainz,
// "resolve via MusicBrainz recording ID for ISRC/label/
// release-date." Best-effort: any failure here just leaves ISRC
// unset rather than failing the whole lookup, since identity
// resolution can still dedupe on fingerprint or title/artist.
func (p *AcoustIDProvider) resolveISRC(ctx context.Context, recordingID string) string {
	if recordingID == "" {
		return ""
	}
	reqURL := fmt.Sprintf("https://musicbrainz.org/ws/2/recording/%s?inc=isrcs&fmt=json", recordingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "sodav-monitor-core/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var parsed struct {
		ISRCs []string `json:"isrcs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.ISRCs) == 0 {
		return ""
	}
	return parsed.ISRCs[0]
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}
