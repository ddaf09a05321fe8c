// Package orchestrator implements the Recognition Orchestrator (C9):
// one worker per monitored station running the
// Fetcher→Analyzer→LocalMatcher→ExternalRecognizer→Tracker pipeline
// pipeline. Grounded on a worker-pool shape
// (internal/queue/audio_jobs.go: context-cancellable goroutines reading
// off a channel) generalized from a fixed job queue to one continuous
// per-station loop, since the Core's unit of concurrency is the
// station, not a discrete job.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/analyzer"
	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/fingerprint"
	"github.com/sodav/monitor-core/internal/identity"
	"github.com/sodav/monitor-core/internal/ingest"
	"github.com/sodav/monitor-core/internal/localmatch"
	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/playstate"
	"github.com/sodav/monitor-core/internal/recognize"
	"github.com/sodav/monitor-core/internal/storage"
	"github.com/sodav/monitor-core/internal/telemetry"
)

// Worker runs one station's recognition loop. It is the unit the
// Supervisor (C11) spawns, health-checks, and restarts.
type Worker struct {
	station *models.Station

	db         *gorm.DB
	fetcher    *ingest.Fetcher
	recognizer *recognize.Recognizer
	matcher    *localmatch.Matcher
	resolver   *identity.Resolver
	tracker    *playstate.Tracker
	archiver   *storage.SnapshotArchiver
	log        *zap.Logger

	cfg         *config.DetectionConfig
	windowSize  int // samples per analysis window
}

// Deps bundles the already-constructed collaborators a Worker needs.
// The Supervisor builds one Tracker per station (it owns station-local
// state) and passes everything else shared across workers.
type Deps struct {
	DB         *gorm.DB
	Fetcher    *ingest.Fetcher
	Recognizer *recognize.Recognizer
	Matcher    *localmatch.Matcher
	Resolver   *identity.Resolver
	Tracker    *playstate.Tracker
	Archiver   *storage.SnapshotArchiver
	Log        *zap.Logger
	Config     *config.DetectionConfig
}

func NewWorker(station *models.Station, deps Deps) *Worker {
	windowSeconds := deps.Config.MinAudioLength
	if windowSeconds <= 0 {
		windowSeconds = 10 * time.Second
	}
	return &Worker{
		station:    station,
		db:         deps.DB,
		fetcher:    deps.Fetcher,
		recognizer: deps.Recognizer,
		matcher:    deps.Matcher,
		resolver:   deps.Resolver,
		tracker:    deps.Tracker,
		archiver:   deps.Archiver,
		log:        deps.Log,
		cfg:        deps.Config,
		windowSize: int(windowSeconds.Seconds()) * deps.Config.SampleRate,
	}
}

// Run opens the station's stream and processes windows until ctx is
// cancelled, the stream reports a drop, or the stream ends. It always
// finalizes any in-flight play on exit, using the station_stop reason.
func (w *Worker) Run(ctx context.Context) error {
	stream, err := w.fetcher.Open(ctx, w.station)
	if err != nil {
		return err
	}
	defer stream.Close()

	var buf []float32

	for {
		select {
		case <-ctx.Done():
			w.finalizeOnStop()
			return ctx.Err()

		case err, ok := <-stream.Errs():
			if !ok {
				continue
			}
			w.finalizeOnStop()
			return err

		case frame, ok := <-stream.Frames():
			if !ok {
				w.finalizeOnStop()
				return nil
			}
			buf = append(buf, frame.PCM...)
			if len(buf) < w.windowSize {
				continue
			}

			window := buf[:w.windowSize]
			buf = append([]float32(nil), buf[w.windowSize:]...)

			if err := w.processWindow(ctx, window, frame.CapturedAt); err != nil {
				if errors.Is(err, context.Canceled) {
					w.finalizeOnStop()
					return err
				}
				pe, ok := detecterrors.As(err)
				if ok && pe.Kind.Recovered() {
					w.log.Warn("recoverable error processing window, continuing",
						zap.String("station", w.station.Name), zap.Error(err))
					continue
				}
				w.finalizeOnStop()
				return err
			}
		}
	}
}

func (w *Worker) finalizeOnStop() {
	if err := w.tracker.OnStationStop(context.Background(), time.Now().UTC()); err != nil {
		w.log.Error("failed to finalize play on station stop",
			zap.String("station", w.station.Name), zap.Error(err))
	}
}

// processWindow runs one window through the pipeline, observing
// cancellation between each step.
func (w *Worker) processWindow(ctx context.Context, pcm []float32, capturedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	feats, err := timedStage(ctx, w, "analyze", func() (*analyzer.Features, error) {
		return analyzer.Analyze(pcm, w.cfg.SampleRate)
	})
	if err != nil {
		return err
	}

	if !analyzer.IsMusic(feats) {
		return w.tracker.OnNonMusic(ctx, capturedAt)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	fp, err := timedStage(ctx, w, "fingerprint", func() (*fingerprint.Result, error) {
		return fingerprint.Generate(ctx, feats, pcm, w.cfg.SampleRate)
	})
	if err != nil {
		return detecterrors.Wrap("orchestrator", detecterrors.KindInvalidAudio, "fingerprint generation failed", err)
	}

	lmMatch, err := timedStage(ctx, w, "local_match", func() (*localmatch.Match, error) {
		return w.matcher.Find(ctx, fp)
	})
	if err != nil {
		return err
	}

	var (
		track      *models.Track
		confidence float64
		method     models.DetectionMethod
	)

	if lmMatch != nil && lmMatch.Similarity >= w.cfg.MinConfidence {
		track, err = w.loadTrack(ctx, lmMatch.TrackID)
		if err != nil {
			return err
		}
		confidence = lmMatch.Similarity
		if lmMatch.Exact {
			method = models.MethodLocalExact
		} else {
			method = models.MethodLocalFuzzy
		}
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		recMatch, err := timedStage(ctx, w, "external_recognize", func() (*recognize.Match, error) {
			return w.recognizer.Find(ctx, pcm, fp.Chromaprint, float64(len(pcm))/float64(w.cfg.SampleRate))
		})
		if err != nil {
			return err
		}
		if recMatch != nil {
			meta := &identity.MatchMeta{
				Title:           recMatch.Title,
				Artist:          recMatch.Artist,
				Album:           recMatch.Album,
				ISRC:            recMatch.ISRC,
				Label:           recMatch.Label,
				ReleaseDate:     recMatch.ReleaseDate,
				FingerprintHash: fp.Hash,
				FingerprintRaw:  fp.Raw,
				Chromaprint:     fp.Chromaprint,
			}
			track, err = timedStage(ctx, w, "resolve", func() (*models.Track, error) {
				return w.resolver.Resolve(ctx, meta)
			})
			if err != nil {
				return err
			}
			confidence = recMatch.Confidence
			method = models.DetectionMethod(recMatch.Method)
		}
	}

	if track == nil {
		return w.tracker.OnUnknown(ctx, capturedAt)
	}

	_, err = timedStage(ctx, w, "track", func() (struct{}, error) {
		return struct{}{}, w.tracker.OnMatch(ctx, track, fp, pcm, capturedAt, confidence, method)
	})
	return err
}

func (w *Worker) loadTrack(ctx context.Context, id uuid.UUID) (*models.Track, error) {
	var track models.Track
	if err := w.db.WithContext(ctx).Where("id = ?", id).First(&track).Error; err != nil {
		return nil, detecterrors.Wrap("orchestrator", detecterrors.KindDBUnavailable, "track lookup failed", err)
	}
	return &track, nil
}

// timedStage runs fn under a pipeline-stage trace span and observes its
// wall time under the stage histogram, regardless of outcome, so both
// are visible on the hot path and the error path. A free function
// rather than a method: Go methods cannot carry their own type
// parameters.
func timedStage[T any](ctx context.Context, w *Worker, stage string, fn func() (T, error)) (T, error) {
	_, span := telemetry.TracePipelineStage(ctx, stage, w.station.ID.String())
	start := time.Now()
	result, err := fn()
	telemetry.RecordStageResult(span, err)
	metrics.Get().PipelineStageDuration.WithLabelValues(stage, w.station.ID.String()).Observe(time.Since(start).Seconds())
	return result, err
}
