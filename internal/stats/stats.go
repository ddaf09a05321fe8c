// Package stats implements the Stats Aggregator (C8): one transactional
// upsert path for StationTrackStats, TrackStats, ArtistStats and the
// Station's denormalized totals, invoked by the Play-State Tracker in
// the same transaction as the Detection insert it reacts to. Grounded
// on a find-then-Save repository idiom (no
// clause.OnConflict anywhere in the corpus), generalized to three
// stacked find-or-create-then-increment steps. Every lookup takes a
// `SELECT ... FOR UPDATE` row lock on Postgres, since TrackStats/
// ArtistStats aggregate across every station and two stations can
// finalize a detection for the same Track or Artist concurrently.
package stats

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/models"
)

type Aggregator struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Aggregator {
	return &Aggregator{db: db, log: log}
}

// Record applies one Detection's effect across StationTrackStats,
// TrackStats, ArtistStats and Station in its own transaction. Prefer
// RecordTx when the caller (the Play-State Tracker) already has an
// open transaction the Detection insert belongs to, so both commit or
// roll back together in a single transaction.
func (a *Aggregator) Record(ctx context.Context, detection *models.Detection, artistID uuid.UUID) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return a.RecordTx(tx, detection, artistID)
	})
}

// RecordTx is Record's logic run against a caller-supplied transaction.
func (a *Aggregator) RecordTx(tx *gorm.DB, detection *models.Detection, artistID uuid.UUID) error {
	if err := upsertStationTrack(tx, detection); err != nil {
		return err
	}
	if err := upsertTrack(tx, detection); err != nil {
		return err
	}
	if err := upsertArtist(tx, artistID, detection); err != nil {
		return err
	}
	if err := bumpStation(tx, detection); err != nil {
		return err
	}
	return nil
}

// forUpdate takes a SELECT ... FOR UPDATE row lock on the production
// Postgres driver. SQLite, which only backs tests, has no row-level
// locking model and rejects the clause's SQL outright, so it's skipped
// there; the tests it backs are already single-goroutine.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func upsertStationTrack(tx *gorm.DB, d *models.Detection) error {
	var row models.StationTrackStats
	err := forUpdate(tx).
		Where("station_id = ? AND track_id = ?", d.StationID, d.TrackID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.StationTrackStats{
			ID:             uuid.New(),
			StationID:      d.StationID,
			TrackID:        d.TrackID,
			PlayCount:      1,
			TotalPlayTimeS: d.PlayDurationS,
			SumConfidence:  d.Confidence,
			LastPlayed:     &d.EndTime,
		}
		if err := tx.Create(&row).Error; err != nil {
			return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "station_track_stats create failed", err)
		}
		return nil
	case err != nil:
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "station_track_stats lookup failed", err)
	}

	row.PlayCount++
	row.TotalPlayTimeS += d.PlayDurationS
	row.SumConfidence += d.Confidence
	row.LastPlayed = &d.EndTime
	if err := tx.Save(&row).Error; err != nil {
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "station_track_stats update failed", err)
	}
	return nil
}

func upsertTrack(tx *gorm.DB, d *models.Detection) error {
	var row models.TrackStats
	err := forUpdate(tx).
		Where("track_id = ?", d.TrackID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.TrackStats{
			TrackID:        d.TrackID,
			PlayCount:      1,
			TotalPlayTimeS: d.PlayDurationS,
			SumConfidence:  d.Confidence,
			LastDetected:   &d.EndTime,
		}
		if err := tx.Create(&row).Error; err != nil {
			return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "track_stats create failed", err)
		}
		return nil
	case err != nil:
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "track_stats lookup failed", err)
	}

	row.PlayCount++
	row.TotalPlayTimeS += d.PlayDurationS
	row.SumConfidence += d.Confidence
	row.LastDetected = &d.EndTime
	if err := tx.Save(&row).Error; err != nil {
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "track_stats update failed", err)
	}
	return nil
}

func upsertArtist(tx *gorm.DB, artistID uuid.UUID, d *models.Detection) error {
	if artistID == uuid.Nil {
		return nil
	}
	var row models.ArtistStats
	err := forUpdate(tx).
		Where("artist_id = ?", artistID).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.ArtistStats{
			ArtistID:       artistID,
			PlayCount:      1,
			TotalPlayTimeS: d.PlayDurationS,
			SumConfidence:  d.Confidence,
			LastDetected:   &d.EndTime,
		}
		if err := tx.Create(&row).Error; err != nil {
			return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "artist_stats create failed", err)
		}
		return nil
	case err != nil:
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "artist_stats lookup failed", err)
	}

	row.PlayCount++
	row.TotalPlayTimeS += d.PlayDurationS
	row.SumConfidence += d.Confidence
	row.LastDetected = &d.EndTime
	if err := tx.Save(&row).Error; err != nil {
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "artist_stats update failed", err)
	}
	return nil
}

func bumpStation(tx *gorm.DB, d *models.Detection) error {
	var station models.Station
	if err := forUpdate(tx).
		Where("id = ?", d.StationID).First(&station).Error; err != nil {
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "station lookup for totals update failed", err)
	}
	station.TotalPlayTimeS += d.PlayDurationS
	station.LastDetectionAt = &d.EndTime
	if err := tx.Save(&station).Error; err != nil {
		return detecterrors.Wrap("stats", detecterrors.KindDBUnavailable, "station totals update failed", err)
	}
	return nil
}
