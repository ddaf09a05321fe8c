package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/logger"
	"github.com/sodav/monitor-core/internal/models"
)

func init() {
	logger.Log = zap.NewNop()
}

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
		CREATE TABLE artists (
			id TEXT PRIMARY KEY, name TEXT NOT NULL, name_lower TEXT NOT NULL UNIQUE,
			label TEXT, total_play_count INTEGER DEFAULT 0, total_play_time_s REAL DEFAULT 0,
			created_at DATETIME, updated_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE tracks (
			id TEXT PRIMARY KEY, title TEXT NOT NULL, artist_id TEXT NOT NULL,
			isrc TEXT UNIQUE, label TEXT, album TEXT, release_date DATETIME,
			duration_s REAL, fingerprint_hash TEXT UNIQUE, fingerprint_raw BLOB,
			chromaprint TEXT, created_at DATETIME, updated_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE fingerprints (
			id TEXT PRIMARY KEY, track_id TEXT NOT NULL, hash TEXT NOT NULL UNIQUE,
			algorithm TEXT NOT NULL, raw_bytes BLOB, offset REAL DEFAULT 0, created_at DATETIME
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
			last_played DATETIME, created_at DATETIME, updated_at DATETIME
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

func TestSeedTestCreatesFixedStationsArtistsAndTracks(t *testing.T) {
	db := newTestDB(t)
	s := NewSeeder(db)

	require.NoError(t, s.SeedTest())

	var stations []models.Station
	require.NoError(t, db.Order("name").Find(&stations).Error)
	require.Len(t, stations, 3)
	assert.Equal(t, "Test AM", stations[0].Name)
	assert.Equal(t, "Test Dance Radio", stations[1].Name)
	assert.Equal(t, "Test FM", stations[2].Name)

	var artistCount, trackCount, fpCount, detectionCount int64
	require.NoError(t, db.Model(&models.Artist{}).Count(&artistCount).Error)
	require.NoError(t, db.Model(&models.Track{}).Count(&trackCount).Error)
	require.NoError(t, db.Model(&models.Fingerprint{}).Count(&fpCount).Error)
	require.NoError(t, db.Model(&models.Detection{}).Count(&detectionCount).Error)
	assert.Equal(t, int64(5), artistCount)
	assert.Equal(t, int64(10), trackCount)
	assert.Equal(t, int64(10), fpCount)
	assert.Equal(t, int64(20), detectionCount)
}

func TestSeedTestIsIdempotentOnStations(t *testing.T) {
	db := newTestDB(t)
	s := NewSeeder(db)

	require.NoError(t, s.SeedTest())

	var firstRun []models.Station
	require.NoError(t, db.Order("name").Find(&firstRun).Error)

	// A second SeedTest call should find the same three stations by
	// stream URL rather than creating duplicates.
	db.Exec("DELETE FROM detections")
	db.Exec("DELETE FROM station_track_stats")
	db.Exec("DELETE FROM track_stats")
	db.Exec("DELETE FROM artist_stats")
	db.Exec("DELETE FROM fingerprints")
	db.Exec("DELETE FROM tracks")
	db.Exec("DELETE FROM artists")
	require.NoError(t, s.SeedTest())

	var secondRun []models.Station
	require.NoError(t, db.Order("name").Find(&secondRun).Error)
	require.Len(t, secondRun, 3)
	for i := range firstRun {
		assert.Equal(t, firstRun[i].ID, secondRun[i].ID)
	}
}

func TestSeedTestRollsUpStats(t *testing.T) {
	db := newTestDB(t)
	s := NewSeeder(db)
	require.NoError(t, s.SeedTest())

	var stationTrackCount int64
	require.NoError(t, db.Model(&models.StationTrackStats{}).Count(&stationTrackCount).Error)
	assert.Greater(t, stationTrackCount, int64(0))

	var trackStats models.TrackStats
	require.NoError(t, db.First(&trackStats).Error)
	assert.Greater(t, trackStats.PlayCount, int64(0))
	assert.Greater(t, trackStats.AverageConfidence(), 0.0)
}

func TestCleanRemovesAllSeedData(t *testing.T) {
	db := newTestDB(t)
	s := NewSeeder(db)
	require.NoError(t, s.SeedTest())

	require.NoError(t, s.Clean())

	var stationCount, artistCount, trackCount, detectionCount int64
	require.NoError(t, db.Model(&models.Station{}).Count(&stationCount).Error)
	require.NoError(t, db.Model(&models.Artist{}).Count(&artistCount).Error)
	require.NoError(t, db.Model(&models.Track{}).Count(&trackCount).Error)
	require.NoError(t, db.Model(&models.Detection{}).Count(&detectionCount).Error)
	assert.Zero(t, stationCount)
	assert.Zero(t, artistCount)
	assert.Zero(t, trackCount)
	assert.Zero(t, detectionCount)
}

func TestSlugifyProducesURLSafeNames(t *testing.T) {
	assert.Equal(t, "acme-radio", slugify("Acme Radio"))
	assert.Equal(t, "wxyz-999", slugify("WXYZ 99.9!"))
}

func TestRandomISRCMatchesExpectedShape(t *testing.T) {
	isrc := randomISRC()
	assert.Len(t, isrc, 12)
	assert.Regexp(t, `^US[A-Z0-9]{3}\d{7}$`, isrc)
}
