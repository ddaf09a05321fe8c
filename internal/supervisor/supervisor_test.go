package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/notify"
	"github.com/sodav/monitor-core/internal/orchestrator"
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

	return db
}

// blockingWorker runs until its context is cancelled, counting starts and
// stops so tests can assert on worker lifecycle without a real stream.
type blockingWorker struct {
	starts *atomic.Int64
}

func (w *blockingWorker) Run(ctx context.Context) error {
	w.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func newCountingFactory() (WorkerFactory, *atomic.Int64) {
	starts := &atomic.Int64{}
	return func(*models.Station) Worker {
		return &blockingWorker{starts: starts}
	}, starts
}

func seedStation(t *testing.T, db *gorm.DB, streamURL string, status models.StationStatus) models.Station {
	t.Helper()
	st := models.Station{ID: uuid.New(), Name: "Test FM", StreamURL: streamURL, Status: status}
	require.NoError(t, db.Create(&st).Error)
	return st
}

func TestRunSpawnsOneWorkerPerActiveStation(t *testing.T) {
	db := newTestDB(t)
	seedStation(t, db, "http://example.com/a", models.StationActive)
	seedStation(t, db, "http://example.com/b", models.StationActive)
	seedStation(t, db, "http://example.com/c", models.StationInactive)

	factory, starts := newCountingFactory()
	sup := &Supervisor{
		db: db, log: zap.NewNop(), newWorker: factory,
		checkInterval: time.Hour, shutdownGrace: time.Second,
		stations: make(map[uuid.UUID]*managedStation),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return starts.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestAddStationStartsNewWorker(t *testing.T) {
	db := newTestDB(t)
	factory, starts := newCountingFactory()
	sup := New(db, zap.NewNop(), orchestrator.Deps{}, Config{CheckInterval: time.Hour})
	sup.newWorker = factory

	sup.AddStation(&models.Station{ID: uuid.New(), Name: "New FM", StreamURL: "http://example.com/new"})
	require.Eventually(t, func() bool { return starts.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRemoveStationStopsItsWorker(t *testing.T) {
	db := newTestDB(t)
	factory, starts := newCountingFactory()
	sup := New(db, zap.NewNop(), orchestrator.Deps{}, Config{CheckInterval: time.Hour, ShutdownGrace: time.Second})
	sup.newWorker = factory

	station := &models.Station{ID: uuid.New(), Name: "Gone FM", StreamURL: "http://example.com/gone"}
	sup.AddStation(station)
	require.Eventually(t, func() bool { return starts.Load() == 1 }, time.Second, 5*time.Millisecond)

	sup.RemoveStation(station.ID)
	sup.mu.Lock()
	_, stillTracked := sup.stations[station.ID]
	sup.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestProbeClassifiesAvailableAndUnavailable(t *testing.T) {
	audioSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
	}))
	defer audioSrv.Close()

	errSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer errSrv.Close()

	sup := New(newTestDB(t), zap.NewNop(), orchestrator.Deps{}, Config{})

	availability, _ := sup.probe(context.Background(), audioSrv.URL)
	assert.Equal(t, Available, availability)

	availability, _ = sup.probe(context.Background(), errSrv.URL)
	assert.Equal(t, Unavailable, availability)

	availability, _ = sup.probe(context.Background(), "http://127.0.0.1:1")
	assert.Equal(t, Unavailable, availability)
}

func TestCheckStationMarksInactiveAfterThreeFailures(t *testing.T) {
	db := newTestDB(t)
	station := seedStation(t, db, "http://127.0.0.1:1", models.StationActive)

	factory, _ := newCountingFactory()
	sup := New(db, zap.NewNop(), orchestrator.Deps{}, Config{CheckInterval: time.Hour, ShutdownGrace: 10 * time.Millisecond})
	sup.newWorker = factory

	sup.AddStation(&station)
	ms := sup.stations[station.ID]

	sup.checkStation(context.Background(), ms)
	sup.checkStation(context.Background(), ms)
	sup.checkStation(context.Background(), ms)

	var refreshed models.Station
	require.NoError(t, db.Where("id = ?", station.ID).First(&refreshed).Error)
	assert.Equal(t, models.StationInactive, refreshed.Status)

	sup.mu.Lock()
	_, stillTracked := sup.stations[station.ID]
	sup.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestCheckStationPublishesHealthChangedOnInactive(t *testing.T) {
	db := newTestDB(t)
	station := seedStation(t, db, "http://127.0.0.1:1", models.StationActive)

	sink := notify.NewSink(8, zap.NewNop())
	events := sink.Subscribe("test")

	factory, _ := newCountingFactory()
	sup := New(db, zap.NewNop(), orchestrator.Deps{}, Config{
		CheckInterval: time.Hour, ShutdownGrace: 10 * time.Millisecond, Notifier: sink,
	})
	sup.newWorker = factory

	sup.AddStation(&station)
	ms := sup.stations[station.ID]

	sup.checkStation(context.Background(), ms)
	sup.checkStation(context.Background(), ms)
	sup.checkStation(context.Background(), ms)

	select {
	case event := <-events:
		assert.Equal(t, notify.EventStationHealthChanged, event.Type)
		assert.Equal(t, station.ID, event.StationID)
		assert.Equal(t, models.StationInactive, event.StationStatus)
	case <-time.After(time.Second):
		t.Fatal("expected a station health changed event")
	}
}
