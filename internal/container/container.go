// Package container provides dependency injection management for the
// detection core. It consolidates every collaborator the daemon entrypoint
// wires up and gives cmd/server type-safe access to them.
package container

import (
	"context"
	"sync"

	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/identity"
	"github.com/sodav/monitor-core/internal/ingest"
	"github.com/sodav/monitor-core/internal/localmatch"
	"github.com/sodav/monitor-core/internal/logger"
	"github.com/sodav/monitor-core/internal/notify"
	"github.com/sodav/monitor-core/internal/recognize"
	"github.com/sodav/monitor-core/internal/stats"
	"github.com/sodav/monitor-core/internal/storage"
	"github.com/sodav/monitor-core/internal/supervisor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Container holds every application dependency and provides type-safe
// access. It implements the Service Locator pattern with additional
// lifecycle management.
type Container struct {
	// Core infrastructure
	db     *gorm.DB
	logger *zap.Logger
	cfg    *config.DetectionConfig

	// Recognition pipeline collaborators (C1-C6), shared across every
	// station worker the Supervisor spawns.
	fetcher    *ingest.Fetcher
	matcher    *localmatch.Matcher
	recognizer *recognize.Recognizer
	resolver   *identity.Resolver

	// Per-station-independent aggregates (C8, C10, C11)
	statsAggregator *stats.Aggregator
	notifySink      *notify.Sink
	supervisor      *supervisor.Supervisor

	// Storage
	snapshotArchiver *storage.SnapshotArchiver

	// Lifecycle hooks
	cleanupFuncs []func(context.Context) error
	mu           sync.RWMutex
}

// New creates a new empty container. Services should be registered using
// Set* methods.
func New() *Container {
	return &Container{
		cleanupFuncs: make([]func(context.Context) error, 0),
	}
}

// ============================================================================
// CORE INFRASTRUCTURE SETTERS/GETTERS
// ============================================================================

func (c *Container) SetDB(db *gorm.DB) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
	return c
}

func (c *Container) DB() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

func (c *Container) SetLogger(l *zap.Logger) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
	return c
}

func (c *Container) Logger() *zap.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return logger.Log
	}
	return c.logger
}

func (c *Container) SetConfig(cfg *config.DetectionConfig) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	return c
}

func (c *Container) Config() *config.DetectionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// ============================================================================
// RECOGNITION PIPELINE SETTERS/GETTERS
// ============================================================================

func (c *Container) SetFetcher(fetcher *ingest.Fetcher) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetcher = fetcher
	return c
}

func (c *Container) Fetcher() *ingest.Fetcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetcher
}

func (c *Container) SetMatcher(matcher *localmatch.Matcher) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matcher = matcher
	return c
}

func (c *Container) Matcher() *localmatch.Matcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matcher
}

func (c *Container) SetRecognizer(recognizer *recognize.Recognizer) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recognizer = recognizer
	return c
}

func (c *Container) Recognizer() *recognize.Recognizer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recognizer
}

func (c *Container) SetResolver(resolver *identity.Resolver) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = resolver
	return c
}

func (c *Container) Resolver() *identity.Resolver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver
}

// ============================================================================
// AGGREGATE SERVICE SETTERS/GETTERS
// ============================================================================

func (c *Container) SetStatsAggregator(aggregator *stats.Aggregator) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsAggregator = aggregator
	return c
}

func (c *Container) StatsAggregator() *stats.Aggregator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statsAggregator
}

func (c *Container) SetNotifySink(sink *notify.Sink) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifySink = sink
	return c
}

func (c *Container) NotifySink() *notify.Sink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifySink
}

func (c *Container) SetSupervisor(sup *supervisor.Supervisor) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supervisor = sup
	return c
}

func (c *Container) Supervisor() *supervisor.Supervisor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supervisor
}

func (c *Container) SetSnapshotArchiver(archiver *storage.SnapshotArchiver) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotArchiver = archiver
	return c
}

func (c *Container) SnapshotArchiver() *storage.SnapshotArchiver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotArchiver
}

// ============================================================================
// LIFECYCLE MANAGEMENT
// ============================================================================

// OnCleanup registers a cleanup function to be called during shutdown.
// Cleanup functions are called in LIFO order (last registered, first
// cleaned up), matching dependency order during shutdown.
func (c *Container) OnCleanup(fn func(context.Context) error) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
	return c
}

// Cleanup performs graceful shutdown of every registered service,
// calling cleanup functions in reverse order of registration.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger
	if log == nil {
		log = logger.Log
	}
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](ctx); err != nil {
			log.Error("cleanup function failed", zap.Int("index", i), zap.Error(err))
		}
	}

	return nil
}

// ============================================================================
// VALIDATION
// ============================================================================

// Validate checks that every dependency the recognition pipeline needs
// to run is registered. Called after initialization and before Run.
func (c *Container) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missingDeps []string

	if c.db == nil {
		missingDeps = append(missingDeps, "database (DB)")
	}
	if c.cfg == nil {
		missingDeps = append(missingDeps, "detection config")
	}
	if c.fetcher == nil {
		missingDeps = append(missingDeps, "stream fetcher")
	}
	if c.matcher == nil {
		missingDeps = append(missingDeps, "local matcher")
	}
	if c.resolver == nil {
		missingDeps = append(missingDeps, "identity resolver")
	}
	if c.statsAggregator == nil {
		missingDeps = append(missingDeps, "stats aggregator")
	}

	// Optional: the external recognizer degrades gracefully (local-only
	// matching) and the snapshot archiver is disabled when unset.
	if c.recognizer == nil {
		c.Logger().Warn("no external recognizer configured, running local-match-only")
	}
	if c.snapshotArchiver == nil {
		c.Logger().Warn("no snapshot archiver configured, low-confidence plays will not be archived")
	}

	if len(missingDeps) > 0 {
		return NewInitializationError("missing required dependencies", missingDeps)
	}

	return nil
}

// ============================================================================
// FLUENT API SUPPORT
// ============================================================================

func (c *Container) WithDB(db *gorm.DB) *Container                            { return c.SetDB(db) }
func (c *Container) WithLogger(l *zap.Logger) *Container                      { return c.SetLogger(l) }
func (c *Container) WithConfig(cfg *config.DetectionConfig) *Container        { return c.SetConfig(cfg) }
func (c *Container) WithFetcher(f *ingest.Fetcher) *Container                 { return c.SetFetcher(f) }
func (c *Container) WithMatcher(m *localmatch.Matcher) *Container             { return c.SetMatcher(m) }
func (c *Container) WithRecognizer(r *recognize.Recognizer) *Container       { return c.SetRecognizer(r) }
func (c *Container) WithResolver(r *identity.Resolver) *Container            { return c.SetResolver(r) }
func (c *Container) WithStatsAggregator(a *stats.Aggregator) *Container      { return c.SetStatsAggregator(a) }
func (c *Container) WithNotifySink(s *notify.Sink) *Container                 { return c.SetNotifySink(s) }
func (c *Container) WithSupervisor(s *supervisor.Supervisor) *Container      { return c.SetSupervisor(s) }
func (c *Container) WithSnapshotArchiver(a *storage.SnapshotArchiver) *Container {
	return c.SetSnapshotArchiver(a)
}
