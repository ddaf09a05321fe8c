package orchestrator

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

	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
		CREATE TABLE tracks (
			id TEXT PRIMARY KEY, artist_id TEXT NOT NULL, title TEXT NOT NULL,
			album TEXT, isrc TEXT, label TEXT, release_date DATETIME,
			created_at DATETIME, updated_at DATETIME
		)
	`).Error)

	return db
}

func TestNewWorkerComputesWindowSizeFromConfig(t *testing.T) {
	cfg := &config.DetectionConfig{SampleRate: 44100, MinAudioLength: 10 * time.Second}
	w := NewWorker(&models.Station{Name: "Test FM"}, Deps{Config: cfg, Log: zap.NewNop()})
	assert.Equal(t, 441000, w.windowSize)
}

func TestNewWorkerDefaultsWindowWhenMinAudioLengthUnset(t *testing.T) {
	cfg := &config.DetectionConfig{SampleRate: 44100}
	w := NewWorker(&models.Station{Name: "Test FM"}, Deps{Config: cfg, Log: zap.NewNop()})
	assert.Equal(t, 441000, w.windowSize, "defaults to 10s of audio at the configured sample rate")
}

func TestLoadTrackReturnsExistingTrack(t *testing.T) {
	db := newTestDB(t)
	trackID := uuid.New()
	require.NoError(t, db.Exec(
		`INSERT INTO tracks (id, artist_id, title) VALUES (?, ?, ?)`,
		trackID.String(), uuid.New().String(), "Test Track",
	).Error)

	w := &Worker{db: db}
	track, err := w.loadTrack(context.Background(), trackID)
	require.NoError(t, err)
	assert.Equal(t, trackID, track.ID)
	assert.Equal(t, "Test Track", track.Title)
}

func TestLoadTrackReturnsErrorForUnknownID(t *testing.T) {
	db := newTestDB(t)
	w := &Worker{db: db}
	_, err := w.loadTrack(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestProcessWindowReturnsImmediatelyOnCancelledContext(t *testing.T) {
	w := &Worker{cfg: &config.DetectionConfig{SampleRate: 44100}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.processWindow(ctx, make([]float32, 4096), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
