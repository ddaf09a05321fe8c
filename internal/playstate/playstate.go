// Package playstate implements the Play-State Tracker (C7): the
// per-station IDLE/PLAYING state machine that turns a stream of
// per-window matches into append-only Detection rows. It is new code —
// there is no off-the-shelf equivalent state machine here — but follows a
// transactional-write idiom (one GORM transaction per
// terminating event, Detection insert and Stats Aggregator update
// committing or rolling back together) and its zap logging
// conventions.
package playstate

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/fingerprint"
	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/stats"
)

// EndReason is why a PLAYING run stopped.
type EndReason string

const (
	ReasonDifferentTrack EndReason = "different_track"
	ReasonSilence        EndReason = "silence_detected"
	ReasonStreamDrop     EndReason = "stream_drop"
	ReasonStationStop    EndReason = "station_stop"
)

// Notifier is the subset of the Notification Sink (C10) the Tracker
// needs. Defined here rather than imported so playstate does not
// depend on notify's transport concerns (websocket hub, subscriber
// queues) — only on the ability to publish a finalized detection.
type Notifier interface {
	PublishDetectionFinalized(ctx context.Context, stationID uuid.UUID, detection *models.Detection)
}

type noopNotifier struct{}

func (noopNotifier) PublishDetectionFinalized(context.Context, uuid.UUID, *models.Detection) {}

// Archiver is the subset of the snapshot archive (internal/storage)
// the Tracker needs: it uploads the PCM window that triggered a new,
// low-confidence play so it can be pulled up for QA review later.
type Archiver interface {
	Disabled() bool
	Archive(ctx context.Context, stationID, detectionID string, pcm []byte) (string, error)
}

type noopArchiver struct{}

func (noopArchiver) Disabled() bool { return true }
func (noopArchiver) Archive(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

type state int

const (
	stateIdle state = iota
	statePlaying
)

type current struct {
	track           *models.Track
	fp              *fingerprint.Result
	t0              time.Time
	lastUpdate      time.Time
	playDuration    time.Duration
	confidenceSum   float64
	confidenceCount int
	method          models.DetectionMethod
	silenceStart    *time.Time
	snapshotKey     string
}

// Tracker owns one station's IDLE/PLAYING state. It is not safe for
// concurrent use across goroutines beyond the single Orchestrator
// worker that owns it, exactly one logical task per station.
type Tracker struct {
	stationID uuid.UUID
	db        *gorm.DB
	stats     *stats.Aggregator
	notifier  Notifier
	archiver  Archiver
	log       *zap.Logger

	sameTrackSimilarity  float64
	silenceDuration      time.Duration
	archiveBelowConfidence float64

	state state
	cur   *current
}

type Config struct {
	SameTrackSimilarity float64
	SilenceDuration     time.Duration
	// ArchiveBelowConfidence is the confidence threshold under which a
	// new play's first window is archived to S3 for QA review. Zero
	// disables archival regardless of whether an Archiver is set.
	ArchiveBelowConfidence float64
}

func New(stationID uuid.UUID, db *gorm.DB, aggregator *stats.Aggregator, notifier Notifier, archiver Archiver, log *zap.Logger, cfg Config) *Tracker {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if archiver == nil {
		archiver = noopArchiver{}
	}
	return &Tracker{
		stationID:              stationID,
		db:                     db,
		stats:                  aggregator,
		notifier:               notifier,
		archiver:               archiver,
		log:                    log,
		sameTrackSimilarity:    cfg.SameTrackSimilarity,
		silenceDuration:        cfg.SilenceDuration,
		archiveBelowConfidence: cfg.ArchiveBelowConfidence,
		state:               stateIdle,
	}
}

// OnMatch reports a confirmed match for the window captured at now.
// track is the canonical Track the Identity Resolver returned; fp is
// the window's fingerprint, used to judge continuity with the track
// currently playing when the identity alone doesn't settle it. pcm is
// the raw window audio, archived to S3 when this match starts a new,
// low-confidence play (nil/empty pcm simply skips archival).
func (t *Tracker) OnMatch(ctx context.Context, track *models.Track, fp *fingerprint.Result, pcm []float32, now time.Time, confidence float64, method models.DetectionMethod) error {
	if t.state == statePlaying {
		if t.isSameTrack(track, fp) {
			t.cur.playDuration += now.Sub(t.cur.lastUpdate)
			t.cur.lastUpdate = now
			t.cur.confidenceSum += confidence
			t.cur.confidenceCount++
			t.cur.silenceStart = nil
			return nil
		}
		if err := t.finalize(ctx, now, ReasonDifferentTrack); err != nil {
			return err
		}
	}
	t.start(ctx, track, fp, pcm, now, confidence, method)
	return nil
}

// OnNonMusic reports a window the Audio Analyzer classified as not
// music. silenceDuration of consecutive non-music windows ends the
// current play.
func (t *Tracker) OnNonMusic(ctx context.Context, now time.Time) error {
	if t.state != statePlaying {
		return nil
	}
	if t.cur.silenceStart == nil {
		start := now
		t.cur.silenceStart = &start
		return nil
	}
	if now.Sub(*t.cur.silenceStart) >= t.silenceDuration {
		return t.finalize(ctx, now, ReasonSilence)
	}
	return nil
}

// OnUnknown reports a window that is music but matched no track,
// locally or externally. A lone unresolved window is a transient
// recognition miss, not evidence of a track change, so it does not
// finalize the current play.
func (t *Tracker) OnUnknown(ctx context.Context, now time.Time) error {
	return nil
}

// OnStreamDrop reports the Stream Fetcher losing the connection.
func (t *Tracker) OnStreamDrop(ctx context.Context, now time.Time) error {
	if t.state != statePlaying {
		return nil
	}
	return t.finalize(ctx, now, ReasonStreamDrop)
}

// OnStationStop reports a graceful worker shutdown.
func (t *Tracker) OnStationStop(ctx context.Context, now time.Time) error {
	if t.state != statePlaying {
		return nil
	}
	return t.finalize(ctx, now, ReasonStationStop)
}

func (t *Tracker) isSameTrack(track *models.Track, fp *fingerprint.Result) bool {
	if t.cur.track.ID == track.ID {
		return true
	}
	if fp == nil || t.cur.fp == nil {
		return false
	}
	return fingerprint.Compare(fp, t.cur.fp) >= t.sameTrackSimilarity
}

func (t *Tracker) start(ctx context.Context, track *models.Track, fp *fingerprint.Result, pcm []float32, now time.Time, confidence float64, method models.DetectionMethod) {
	t.state = statePlaying
	t.cur = &current{
		track:           track,
		fp:              fp,
		t0:              now,
		lastUpdate:      now,
		confidenceSum:   confidence,
		confidenceCount: 1,
		method:          method,
	}

	if t.archiver.Disabled() || len(pcm) == 0 || t.archiveBelowConfidence <= 0 || confidence >= t.archiveBelowConfidence {
		return
	}
	detectionID := uuid.New()
	key, err := t.archiver.Archive(ctx, t.stationID.String(), detectionID.String(), float32PCMToBytes(pcm))
	if err != nil {
		t.log.Warn("snapshot archive failed, continuing without one",
			zap.String("station_id", t.stationID.String()), zap.Error(err))
		return
	}
	t.cur.snapshotKey = key
}

// finalize ends the current play: it inserts a Detection and invokes
// the Stats Aggregator in the same transaction, then
// returns the Tracker to IDLE regardless of outcome — a failed write
// must not wedge the state machine.
func (t *Tracker) finalize(ctx context.Context, now time.Time, reason EndReason) error {
	cur := t.cur
	t.state = stateIdle
	t.cur = nil

	playDuration := cur.playDuration + now.Sub(cur.lastUpdate)
	if playDuration < 0 {
		playDuration = 0
	}
	endTime := cur.t0.Add(playDuration)
	if endTime.Before(cur.t0) {
		endTime = cur.t0
	}

	avgConfidence := cur.confidenceSum
	if cur.confidenceCount > 0 {
		avgConfidence = cur.confidenceSum / float64(cur.confidenceCount)
	}

	var fpHash *string
	if cur.fp != nil && cur.fp.Hash != "" {
		fpHash = &cur.fp.Hash
	}
	var snapshotKey *string
	if cur.snapshotKey != "" {
		snapshotKey = &cur.snapshotKey
	}

	detection := &models.Detection{
		ID:              uuid.New(),
		StationID:       t.stationID,
		TrackID:         cur.track.ID,
		DetectedAt:      cur.t0,
		EndTime:         endTime,
		PlayDurationS:   playDuration.Seconds(),
		Confidence:      avgConfidence,
		Method:          cur.method,
		FingerprintHash: fpHash,
		SnapshotKey:     snapshotKey,
	}

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(detection).Error; err != nil {
			return detecterrors.Wrap("playstate", detecterrors.KindDBUnavailable, "detection insert failed", err)
		}
		return t.stats.RecordTx(tx, detection, cur.track.ArtistID)
	})
	if err != nil {
		t.log.Error("failed to finalize detection",
			zap.String("station_id", t.stationID.String()),
			zap.String("track_id", cur.track.ID.String()),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return err
	}

	metrics.Get().DetectionsTotal.WithLabelValues(t.stationID.String(), string(detection.Method)).Inc()
	t.notifier.PublishDetectionFinalized(ctx, t.stationID, detection)
	t.log.Info("detection finalized",
		zap.String("station_id", t.stationID.String()),
		zap.String("track_id", cur.track.ID.String()),
		zap.String("reason", string(reason)),
		zap.Float64("play_duration_s", detection.PlayDurationS))
	return nil
}

// IsPlaying reports whether the Tracker currently believes a track is
// playing, for health/debug surfaces.
func (t *Tracker) IsPlaying() bool {
	return t.state == statePlaying
}

// CurrentTrackID reports the track currently playing, or uuid.Nil and
// false when IDLE.
func (t *Tracker) CurrentTrackID() (uuid.UUID, bool) {
	if t.state != statePlaying {
		return uuid.Nil, false
	}
	return t.cur.track.ID, true
}

// float32PCMToBytes encodes mono f32le samples for SnapshotArchiver.Archive,
// matching the wire layout the Fetcher decodes in reverse.
func float32PCMToBytes(pcm []float32) []byte {
	out := make([]byte, len(pcm)*4)
	for i, f := range pcm {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
