package playstate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/fingerprint"
	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/stats"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
		CREATE TABLE stations (
			id TEXT PRIMARY KEY, name TEXT NOT NULL, stream_url TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active', failure_count INTEGER DEFAULT 0,
			last_check_at DATETIME, last_detection_at DATETIME, total_play_time_s REAL DEFAULT 0,
			created_at DATETIME, updated_at DATETIME, deleted_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE detections (
			id TEXT PRIMARY KEY, station_id TEXT NOT NULL, track_id TEXT NOT NULL,
			detected_at DATETIME NOT NULL, end_time DATETIME NOT NULL, play_duration_s REAL NOT NULL,
			confidence REAL NOT NULL, method TEXT NOT NULL, fingerprint_hash TEXT, snapshot_key TEXT,
			created_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE station_track_stats (
			id TEXT PRIMARY KEY, station_id TEXT NOT NULL, track_id TEXT NOT NULL,
			play_count INTEGER DEFAULT 0, total_play_time_s REAL DEFAULT 0, sum_confidence REAL DEFAULT 0,
			last_played DATETIME, created_at DATETIME, updated_at DATETIME,
			UNIQUE(station_id, track_id)
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE track_stats (
			track_id TEXT PRIMARY KEY, play_count INTEGER DEFAULT 0, total_play_time_s REAL DEFAULT 0,
			sum_confidence REAL DEFAULT 0, last_detected DATETIME, created_at DATETIME, updated_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE artist_stats (
			artist_id TEXT PRIMARY KEY, play_count INTEGER DEFAULT 0, total_play_time_s REAL DEFAULT 0,
			sum_confidence REAL DEFAULT 0, last_detected DATETIME, created_at DATETIME, updated_at DATETIME
		)
	`).Error)

	return db
}

func newTestTracker(t *testing.T, db *gorm.DB, stationID uuid.UUID) *Tracker {
	agg := stats.New(db, zap.NewNop())
	return New(stationID, db, agg, nil, nil, zap.NewNop(), Config{
		SameTrackSimilarity: 0.85,
		SilenceDuration:     2 * time.Second,
	})
}

func seedStation(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	st := models.Station{ID: uuid.New(), Name: "Test FM", StreamURL: "http://example.com/s"}
	require.NoError(t, db.Create(&st).Error)
	return st.ID
}

func track(id uuid.UUID) *models.Track {
	return &models.Track{ID: id, ArtistID: uuid.New(), Title: "Track"}
}

func TestOnMatchStartsPlayWithNoDetectionYet(t *testing.T) {
	db := newTestDB(t)
	stationID := seedStation(t, db)
	tr := newTestTracker(t, db, stationID)

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	trk := track(uuid.New())
	require.NoError(t, tr.OnMatch(context.Background(), trk, nil, nil, now, 0.9, models.MethodLocalExact))

	assert.True(t, tr.IsPlaying())
	var count int64
	db.Model(&models.Detection{}).Count(&count)
	assert.Equal(t, int64(0), count, "no Detection until the play ends")
}

func TestOnMatchSameTrackAccumulatesDuration(t *testing.T) {
	db := newTestDB(t)
	stationID := seedStation(t, db)
	tr := newTestTracker(t, db, stationID)

	trackID := uuid.New()
	trk := track(trackID)
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, tr.OnMatch(context.Background(), trk, nil, nil, t0, 0.9, models.MethodLocalExact))
	require.NoError(t, tr.OnMatch(context.Background(), trk, nil, nil, t0.Add(10*time.Second), 0.8, models.MethodLocalExact))

	require.NoError(t, tr.OnStationStop(context.Background(), t0.Add(10*time.Second)))

	var d models.Detection
	require.NoError(t, db.First(&d).Error)
	assert.Equal(t, 10.0, d.PlayDurationS)
	assert.InDelta(t, 0.85, d.Confidence, 0.0001)
	assert.True(t, d.DetectedAt.Equal(t0))
	assert.True(t, d.EndTime.Equal(t0.Add(10*time.Second)))
}

func TestOnMatchDifferentTrackFinalizesAndStartsNew(t *testing.T) {
	db := newTestDB(t)
	stationID := seedStation(t, db)
	tr := newTestTracker(t, db, stationID)

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	first := track(uuid.New())
	second := track(uuid.New())

	require.NoError(t, tr.OnMatch(context.Background(), first, nil, nil, t0, 0.9, models.MethodLocalExact))
	require.NoError(t, tr.OnMatch(context.Background(), second, nil, nil, t0.Add(5*time.Second), 0.7, models.MethodLocalExact))

	var count int64
	db.Model(&models.Detection{}).Count(&count)
	assert.Equal(t, int64(1), count, "switching track finalizes the previous play")

	id, playing := tr.CurrentTrackID()
	assert.True(t, playing)
	assert.Equal(t, second.ID, id)
}

func TestOnNonMusicEndsPlayAfterSilenceDuration(t *testing.T) {
	db := newTestDB(t)
	stationID := seedStation(t, db)
	tr := newTestTracker(t, db, stationID)

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	trk := track(uuid.New())
	require.NoError(t, tr.OnMatch(context.Background(), trk, nil, nil, t0, 0.9, models.MethodLocalExact))

	require.NoError(t, tr.OnNonMusic(context.Background(), t0.Add(1*time.Second)))
	assert.True(t, tr.IsPlaying(), "one second of silence is below the threshold")

	require.NoError(t, tr.OnNonMusic(context.Background(), t0.Add(3*time.Second)))
	assert.False(t, tr.IsPlaying(), "two seconds of silence ends the play")

	var d models.Detection
	require.NoError(t, db.First(&d).Error)
	assert.Equal(t, 3.0, d.PlayDurationS)
}

func TestOnUnknownDoesNotFinalize(t *testing.T) {
	db := newTestDB(t)
	stationID := seedStation(t, db)
	tr := newTestTracker(t, db, stationID)

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	trk := track(uuid.New())
	require.NoError(t, tr.OnMatch(context.Background(), trk, nil, nil, t0, 0.9, models.MethodLocalExact))
	require.NoError(t, tr.OnUnknown(context.Background(), t0.Add(10*time.Second)))

	assert.True(t, tr.IsPlaying())
	var count int64
	db.Model(&models.Detection{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestOnStreamDropFinalizesWithReason(t *testing.T) {
	db := newTestDB(t)
	stationID := seedStation(t, db)
	tr := newTestTracker(t, db, stationID)

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	trk := track(uuid.New())
	require.NoError(t, tr.OnMatch(context.Background(), trk, nil, nil, t0, 0.9, models.MethodLocalExact))
	require.NoError(t, tr.OnStreamDrop(context.Background(), t0.Add(7*time.Second)))

	assert.False(t, tr.IsPlaying())
	var count int64
	db.Model(&models.Detection{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOnMatchUsesFingerprintSimilarityWhenTrackIDDiffersButContinuous(t *testing.T) {
	db := newTestDB(t)
	stationID := seedStation(t, db)
	tr := newTestTracker(t, db, stationID)

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	trk := track(uuid.New())
	fp1 := &fingerprint.Result{Hash: "h1", Chromaprint: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}
	fp2 := &fingerprint.Result{Hash: "h2", Chromaprint: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}

	require.NoError(t, tr.OnMatch(context.Background(), trk, fp1, nil, t0, 0.9, models.MethodLocalExact))

	// Different Track pointer but identical chromaprint: treated as continuity.
	other := track(uuid.New())
	require.NoError(t, tr.OnMatch(context.Background(), other, fp2, nil, t0.Add(5*time.Second), 0.9, models.MethodLocalExact))

	var count int64
	db.Model(&models.Detection{}).Count(&count)
	assert.Equal(t, int64(0), count, "identical chromaprint keeps the play open despite a different Track pointer")
}
