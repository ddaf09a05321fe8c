package stats

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

	"github.com/sodav/monitor-core/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
		CREATE TABLE stations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stream_url TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			failure_count INTEGER DEFAULT 0,
			last_check_at DATETIME,
			last_detection_at DATETIME,
			total_play_time_s REAL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME,
			deleted_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE station_track_stats (
			id TEXT PRIMARY KEY,
			station_id TEXT NOT NULL,
			track_id TEXT NOT NULL,
			play_count INTEGER DEFAULT 0,
			total_play_time_s REAL DEFAULT 0,
			sum_confidence REAL DEFAULT 0,
			last_played DATETIME,
			created_at DATETIME,
			updated_at DATETIME,
			UNIQUE(station_id, track_id)
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE track_stats (
			track_id TEXT PRIMARY KEY,
			play_count INTEGER DEFAULT 0,
			total_play_time_s REAL DEFAULT 0,
			sum_confidence REAL DEFAULT 0,
			last_detected DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE artist_stats (
			artist_id TEXT PRIMARY KEY,
			play_count INTEGER DEFAULT 0,
			total_play_time_s REAL DEFAULT 0,
			sum_confidence REAL DEFAULT 0,
			last_detected DATETIME,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error)

	return db
}

func seedStation(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	st := models.Station{ID: uuid.New(), Name: "Test FM", StreamURL: "http://example.com/stream"}
	require.NoError(t, db.Create(&st).Error)
	return st.ID
}

func newDetection(stationID, trackID uuid.UUID, end time.Time, duration, confidence float64) *models.Detection {
	return &models.Detection{
		ID:            uuid.New(),
		StationID:     stationID,
		TrackID:       trackID,
		DetectedAt:    end.Add(-time.Duration(duration) * time.Second),
		EndTime:       end,
		PlayDurationS: duration,
		Confidence:    confidence,
		Method:        models.MethodLocalExact,
	}
}

func TestRecordCreatesRowsOnFirstPlay(t *testing.T) {
	db := newTestDB(t)
	agg := New(db, zap.NewNop())
	stationID := seedStation(t, db)
	trackID := uuid.New()
	artistID := uuid.New()

	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := newDetection(stationID, trackID, end, 30, 0.9)

	require.NoError(t, agg.Record(context.Background(), d, artistID))

	var st models.StationTrackStats
	require.NoError(t, db.Where("station_id = ? AND track_id = ?", stationID, trackID).First(&st).Error)
	assert.Equal(t, int64(1), st.PlayCount)
	assert.Equal(t, 30.0, st.TotalPlayTimeS)

	var ts models.TrackStats
	require.NoError(t, db.Where("track_id = ?", trackID).First(&ts).Error)
	assert.Equal(t, int64(1), ts.PlayCount)

	var as models.ArtistStats
	require.NoError(t, db.Where("artist_id = ?", artistID).First(&as).Error)
	assert.Equal(t, int64(1), as.PlayCount)

	var station models.Station
	require.NoError(t, db.First(&station, "id = ?", stationID).Error)
	assert.Equal(t, 30.0, station.TotalPlayTimeS)
	require.NotNil(t, station.LastDetectionAt)
	assert.True(t, station.LastDetectionAt.Equal(end))
}

func TestRecordAccumulatesAcrossMultiplePlays(t *testing.T) {
	db := newTestDB(t)
	agg := New(db, zap.NewNop())
	stationID := seedStation(t, db)
	trackID := uuid.New()
	artistID := uuid.New()

	end1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end2 := end1.Add(time.Hour)

	require.NoError(t, agg.Record(context.Background(), newDetection(stationID, trackID, end1, 20, 0.8), artistID))
	require.NoError(t, agg.Record(context.Background(), newDetection(stationID, trackID, end2, 40, 0.6), artistID))

	var st models.StationTrackStats
	require.NoError(t, db.Where("station_id = ? AND track_id = ?", stationID, trackID).First(&st).Error)
	assert.Equal(t, int64(2), st.PlayCount)
	assert.Equal(t, 60.0, st.TotalPlayTimeS)
	assert.InDelta(t, 0.7, st.AverageConfidence(), 0.0001)
	require.NotNil(t, st.LastPlayed)
	assert.True(t, st.LastPlayed.Equal(end2))

	var ts models.TrackStats
	require.NoError(t, db.Where("track_id = ?", trackID).First(&ts).Error)
	assert.Equal(t, int64(2), ts.PlayCount)

	var station models.Station
	require.NoError(t, db.First(&station, "id = ?", stationID).Error)
	assert.Equal(t, 60.0, station.TotalPlayTimeS)
}

func TestRecordSkipsArtistStatsWhenArtistIDNil(t *testing.T) {
	db := newTestDB(t)
	agg := New(db, zap.NewNop())
	stationID := seedStation(t, db)
	trackID := uuid.New()

	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, agg.Record(context.Background(), newDetection(stationID, trackID, end, 15, 1.0), uuid.Nil))

	var count int64
	db.Model(&models.ArtistStats{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRecordTxRollsBackTogetherOnFailure(t *testing.T) {
	db := newTestDB(t)
	agg := New(db, zap.NewNop())
	trackID := uuid.New()
	artistID := uuid.New()

	unknownStation := uuid.New()
	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := newDetection(unknownStation, trackID, end, 10, 0.5)

	err := db.Transaction(func(tx *gorm.DB) error {
		return agg.RecordTx(tx, d, artistID)
	})
	require.Error(t, err)

	var count int64
	db.Model(&models.StationTrackStats{}).Count(&count)
	assert.Equal(t, int64(0), count, "station_track_stats insert must roll back when the station lookup fails")
}
