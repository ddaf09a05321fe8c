// Package database wires GORM to Postgres (or SQLite for tests) and
// owns schema migration. Components never touch a package-level handle
// directly in normal operation — main constructs one *gorm.DB and
// threads it through the container — but DB is exported the way the
// production database connection was, for the admin server's /healthz and the cmd/* tools.
package database

import (
	"fmt"
	"time"

	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB holds the primary database connection.
var DB *gorm.DB

// Initialize opens a Postgres connection using the given DSN and
// configures the pool with production-sane defaults.
func Initialize(dsn string, log *zap.Logger) error {
	gormLogger := gormlogger.Default.LogMode(gormlogger.Warn)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	registerMetricsHooks(db)

	log.Info("database connected")
	return nil
}

// Migrate auto-migrates the detection-core schema, then layers the
// partial unique indices GORM struct tags can't express (unique only
// when the column is non-null), matching the models package's invariants and the
// required index list.
func Migrate(log *zap.Logger) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := DB.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		log.Warn("could not create uuid-ossp extension", zap.Error(err))
	}
	if err := DB.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error; err != nil {
		log.Warn("could not create pgcrypto extension", zap.Error(err))
	}

	// Order matches FK dependency: Artist before Track, Track before
	// Fingerprint/Detection/TrackStats, Station before Detection/
	// StationTrackStats.
	err := DB.AutoMigrate(
		&models.Station{},
		&models.Artist{},
		&models.Track{},
		&models.Fingerprint{},
		&models.Detection{},
		&models.StationTrackStats{},
		&models.TrackStats{},
		&models.ArtistStats{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Info("database migrations completed")
	return nil
}

// createIndexes creates the unique indices that skip NULLs (tracks.isrc,
// tracks.fingerprint_hash), which GORM's uniqueIndex tag cannot express
// portably across Postgres and SQLite, plus plain lookup indices.
func createIndexes() error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_isrc ON tracks (isrc) WHERE isrc IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_fingerprint_hash ON tracks (fingerprint_hash) WHERE fingerprint_hash IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_title_artist ON tracks (LOWER(title), artist_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_hash ON fingerprints (hash)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_station_track ON detections (station_id, track_id)`,
	}
	for _, s := range stmts {
		if err := DB.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health pings the database.
func Health() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// registerMetricsHooks wires GORM callbacks to record query metrics,
// the same Before/After-callback idiom.
func registerMetricsHooks(db *gorm.DB) {
	instrument := func(op, kind string) (before, after func(*gorm.DB)) {
		before = func(tx *gorm.DB) {
			tx.InstanceSet("metrics:start_time", time.Now())
		}
		after = func(tx *gorm.DB) {
			start, ok := tx.InstanceGet("metrics:start_time")
			if !ok {
				return
			}
			duration := time.Since(start.(time.Time)).Seconds()
			metrics.Get().DatabaseQueryDuration.WithLabelValues(op, kind).Observe(duration)
			status := "success"
			if tx.Error != nil && tx.Error != gorm.ErrRecordNotFound {
				status = "error"
			}
			metrics.Get().DatabaseQueriesTotal.WithLabelValues(op, kind, status).Inc()
		}
		return
	}

	before, after := instrument("create", "insert")
	db.Callback().Create().Before("gorm:before_create").Register("metrics:before_create", before)
	db.Callback().Create().After("gorm:after_create").Register("metrics:after_create", after)

	before, after = instrument("query", "select")
	db.Callback().Query().Before("gorm:before_query").Register("metrics:before_query", before)
	db.Callback().Query().After("gorm:after_query").Register("metrics:after_query", after)

	before, after = instrument("update", "update")
	db.Callback().Update().Before("gorm:before_update").Register("metrics:before_update", before)
	db.Callback().Update().After("gorm:after_update").Register("metrics:after_update", after)
}
