// Package supervisor implements the Station Supervisor (C11): it loads
// active stations on start, spawns one Recognition Orchestrator worker
// per station, and runs a periodic health-check/backoff loop that stops
// and restarts workers as a station's stream comes and goes. Grounded on
// the retry/backoff rhythm of other_examples' denpa-radio Broadcaster.Start
// loop (context-cancellable select, slower retry after repeated failure)
// and on the container's cleanup-on-shutdown ordering.
package supervisor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/notify"
	"github.com/sodav/monitor-core/internal/orchestrator"
	"github.com/sodav/monitor-core/internal/playstate"
	"github.com/sodav/monitor-core/internal/stats"
	"github.com/sodav/monitor-core/internal/telemetry"
)

const maxConsecutiveFailures = 3

// slowRetryMultiplier stretches the healthcheck rhythm for a station
// that has already been marked inactive, so a dead stream doesn't get
// probed as eagerly as a live one.
const slowRetryMultiplier = 4

// StreamAvailability is the result of a health-check probe.
type StreamAvailability string

const (
	Available   StreamAvailability = "available"
	AudioOnly   StreamAvailability = "audio"
	Unavailable StreamAvailability = "unavailable"
)

// WorkerFactory builds the Orchestrator worker for a station. Supervisor
// depends on this instead of orchestrator.NewWorker directly so tests can
// substitute a worker that doesn't open a real stream.
type WorkerFactory func(station *models.Station) Worker

// Worker is the subset of *orchestrator.Worker the Supervisor drives.
type Worker interface {
	Run(ctx context.Context) error
}

// defaultWorkerFactory builds one playstate.Tracker per station, since
// CurrentTrack state is station-local, and shares everything else in
// deps across every worker the Supervisor spawns.
func defaultWorkerFactory(db *gorm.DB, log *zap.Logger, statsAggregator *stats.Aggregator, notifier *notify.Sink, deps orchestrator.Deps, trackerCfg playstate.Config) WorkerFactory {
	return func(station *models.Station) Worker {
		var archiver playstate.Archiver
		if deps.Archiver != nil {
			archiver = deps.Archiver
		}
		stationDeps := deps
		stationDeps.Tracker = playstate.New(station.ID, db, statsAggregator, notifier, archiver, log, trackerCfg)
		return orchestrator.NewWorker(station, stationDeps)
	}
}

type managedStation struct {
	station    *models.Station
	cancel     context.CancelFunc
	done       chan struct{}
	failures   int
	lastStatus StreamAvailability
}

// Supervisor owns the set of running per-station workers and the
// health-check loop that grows and shrinks it.
type Supervisor struct {
	db            *gorm.DB
	log           *zap.Logger
	httpClient    *http.Client
	newWorker     WorkerFactory
	notifier      *notify.Sink
	checkInterval time.Duration
	shutdownGrace time.Duration

	mu       sync.Mutex
	stations map[uuid.UUID]*managedStation
}

// Config bundles the Supervisor's own tunables plus everything
// defaultWorkerFactory needs to build a per-station Tracker.
type Config struct {
	CheckInterval time.Duration
	ShutdownGrace time.Duration

	StatsAggregator *stats.Aggregator
	Notifier        *notify.Sink
	TrackerConfig   playstate.Config
}

func New(db *gorm.DB, log *zap.Logger, deps orchestrator.Deps, cfg Config) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Supervisor{
		db:            db,
		log:           log,
		httpClient:    telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{ServiceName: "stream-healthcheck", Timeout: 10 * time.Second}),
		newWorker:     defaultWorkerFactory(db, log, cfg.StatsAggregator, cfg.Notifier, deps, cfg.TrackerConfig),
		notifier:      cfg.Notifier,
		checkInterval: cfg.CheckInterval,
		shutdownGrace: cfg.ShutdownGrace,
		stations:      make(map[uuid.UUID]*managedStation),
	}
}

// Run loads every active station, spawns its worker, and runs the
// health-check loop until ctx is cancelled. On cancellation it signals
// every worker and waits up to shutdownGrace before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	var active []models.Station
	if err := s.db.WithContext(ctx).Where("status = ?", models.StationActive).Find(&active).Error; err != nil {
		return err
	}
	for i := range active {
		s.startWorker(&active[i])
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownAll()
			return ctx.Err()
		case <-ticker.C:
			s.runHealthChecks(ctx)
		}
	}
}

// AddStation spawns a worker for a newly-registered station, in
// response to an external API add signal.
func (s *Supervisor) AddStation(station *models.Station) {
	s.startWorker(station)
}

// RemoveStation stops a station's worker, in response to an external
// API remove signal.
func (s *Supervisor) RemoveStation(stationID uuid.UUID) {
	s.mu.Lock()
	ms, ok := s.stations[stationID]
	if ok {
		delete(s.stations, stationID)
	}
	s.mu.Unlock()
	if ok {
		s.stopWorker(ms)
	}
}

func (s *Supervisor) startWorker(station *models.Station) {
	s.mu.Lock()
	if _, exists := s.stations[station.ID]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ms := &managedStation{station: station, cancel: cancel, done: make(chan struct{})}
	s.stations[station.ID] = ms
	s.mu.Unlock()

	worker := s.newWorker(station)
	metrics.Get().StationWorkersActive.WithLabelValues().Inc()
	go func() {
		defer close(ms.done)
		defer metrics.Get().StationWorkersActive.WithLabelValues().Dec()
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("station worker exited",
				zap.String("station", station.Name), zap.Error(err))
		}
	}()
	s.log.Info("station worker started", zap.String("station", station.Name))
}

func (s *Supervisor) stopWorker(ms *managedStation) {
	ms.cancel()
	select {
	case <-ms.done:
	case <-time.After(s.shutdownGrace):
		s.log.Warn("station worker did not stop within shutdown grace",
			zap.String("station", ms.station.Name))
	}
}

func (s *Supervisor) shutdownAll() {
	s.mu.Lock()
	managed := make([]*managedStation, 0, len(s.stations))
	for _, ms := range s.stations {
		managed = append(managed, ms)
	}
	s.stations = make(map[uuid.UUID]*managedStation)
	s.mu.Unlock()

	var g errgroup.Group
	for _, ms := range managed {
		ms := ms
		g.Go(func() error {
			s.stopWorker(ms)
			return nil
		})
	}
	g.Wait()
}

// runHealthChecks probes every managed station and every currently
// inactive station at the slower rhythm, applying the
// three-consecutive-failures/recover rule.
func (s *Supervisor) runHealthChecks(ctx context.Context) {
	s.mu.Lock()
	managed := make([]*managedStation, 0, len(s.stations))
	for _, ms := range s.stations {
		managed = append(managed, ms)
	}
	s.mu.Unlock()

	for _, ms := range managed {
		s.checkStation(ctx, ms)
	}

	s.checkInactiveStations(ctx)
}

func (s *Supervisor) checkStation(ctx context.Context, ms *managedStation) {
	availability, latency := s.probe(ctx, ms.station.StreamURL)
	now := time.Now().UTC()
	metrics.Get().StationHealthcheckLatency.WithLabelValues(ms.station.ID.String()).Observe(latency.Seconds())

	if availability == Unavailable {
		ms.failures++
		metrics.Get().StationFailuresTotal.WithLabelValues(ms.station.ID.String()).Inc()
		s.recordCheck(ms.station.ID, now, availability)
		if ms.failures >= maxConsecutiveFailures {
			s.log.Warn("station marked inactive after consecutive failures",
				zap.String("station", ms.station.Name), zap.Int("failures", ms.failures))
			s.markInactive(ctx, ms, latency)
		}
		return
	}

	ms.failures = 0
	ms.lastStatus = availability
	s.recordCheck(ms.station.ID, now, availability)
}

// checkInactiveStations probes stations the loop has already stopped a
// worker for, at slowRetryMultiplier the normal rhythm, and restarts the
// worker on recovery.
func (s *Supervisor) checkInactiveStations(ctx context.Context) {
	var inactive []models.Station
	if err := s.db.WithContext(ctx).Where("status = ?", models.StationInactive).Find(&inactive).Error; err != nil {
		s.log.Error("failed to load inactive stations for recovery check", zap.Error(err))
		return
	}

	for i := range inactive {
		station := &inactive[i]
		if station.LastCheckAt != nil && time.Since(*station.LastCheckAt) < s.checkInterval*slowRetryMultiplier {
			continue
		}
		availability, latency := s.probe(ctx, station.StreamURL)
		now := time.Now().UTC()
		metrics.Get().StationHealthcheckLatency.WithLabelValues(station.ID.String()).Observe(latency.Seconds())
		s.recordCheck(station.ID, now, availability)
		if availability != Unavailable {
			s.log.Info("station recovered, restarting worker", zap.String("station", station.Name))
			if err := s.db.WithContext(ctx).Model(&models.Station{}).
				Where("id = ?", station.ID).
				Updates(map[string]interface{}{"status": models.StationActive, "failure_count": 0}).Error; err != nil {
				s.log.Error("failed to reactivate station", zap.Error(err))
				continue
			}
			if s.notifier != nil {
				s.notifier.PublishStationHealthChanged(station.ID, models.StationActive, latency)
			}
			s.startWorker(station)
		}
	}
}

func (s *Supervisor) markInactive(ctx context.Context, ms *managedStation, latency time.Duration) {
	s.mu.Lock()
	delete(s.stations, ms.station.ID)
	s.mu.Unlock()

	if err := s.db.WithContext(ctx).Model(&models.Station{}).
		Where("id = ?", ms.station.ID).
		Updates(map[string]interface{}{"status": models.StationInactive, "failure_count": ms.failures}).Error; err != nil {
		s.log.Error("failed to mark station inactive", zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.PublishStationHealthChanged(ms.station.ID, models.StationInactive, latency)
	}
	go s.stopWorker(ms)
}

func (s *Supervisor) recordCheck(stationID uuid.UUID, at time.Time, availability StreamAvailability) {
	updates := map[string]interface{}{"last_check_at": at}
	if err := s.db.Model(&models.Station{}).Where("id = ?", stationID).Updates(updates).Error; err != nil {
		s.log.Error("failed to record health check", zap.Error(err))
	}
}

// probe HEADs the stream URL and classifies the response.
// A status below 400 with an audio content-type is Available; a status
// below 400 with any other content-type (e.g. an HTML error page some
// CDNs return with status 200) is treated as AudioOnly-but-suspect and
// still counted as reachable; a 4xx/5xx, or a transport error, is
// Unavailable.
func (s *Supervisor) probe(ctx context.Context, streamURL string) (StreamAvailability, time.Duration) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, streamURL, nil)
	if err != nil {
		return Unavailable, 0
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Unavailable, latency
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Unavailable, latency
	}

	contentType := resp.Header.Get("Content-Type")
	if len(contentType) >= 5 && contentType[:5] == "audio" {
		return Available, latency
	}
	return AudioOnly, latency
}
