package models

import (
	"time"

	"github.com/google/uuid"
)

// StationTrackStats, TrackStats and ArtistStats all keep (count,
// sum_confidence) rather than a bare running average, per the design
// averages re-derived from "previous average × (n-1)" lose
// precision across enough updates. AverageConfidence is computed on
// read, never stored directly.
type StationTrackStats struct {
	ID                uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	StationID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_station_track" json:"station_id"`
	TrackID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_station_track" json:"track_id"`
	PlayCount         int64     `gorm:"not null;default:0" json:"play_count"`
	TotalPlayTimeS    float64   `gorm:"not null;default:0" json:"total_play_time_s"`
	SumConfidence     float64   `gorm:"not null;default:0" json:"-"`
	LastPlayed        *time.Time `json:"last_played,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s StationTrackStats) AverageConfidence() float64 {
	if s.PlayCount == 0 {
		return 0
	}
	return s.SumConfidence / float64(s.PlayCount)
}

func (StationTrackStats) TableName() string { return "station_track_stats" }

type TrackStats struct {
	TrackID        uuid.UUID  `gorm:"primaryKey;type:uuid" json:"track_id"`
	PlayCount      int64      `gorm:"not null;default:0" json:"play_count"`
	TotalPlayTimeS float64    `gorm:"not null;default:0" json:"total_play_time_s"`
	SumConfidence  float64    `gorm:"not null;default:0" json:"-"`
	LastDetected   *time.Time `json:"last_detected,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t TrackStats) AverageConfidence() float64 {
	if t.PlayCount == 0 {
		return 0
	}
	return t.SumConfidence / float64(t.PlayCount)
}

func (TrackStats) TableName() string { return "track_stats" }

type ArtistStats struct {
	ArtistID       uuid.UUID  `gorm:"primaryKey;type:uuid" json:"artist_id"`
	PlayCount      int64      `gorm:"not null;default:0" json:"play_count"`
	TotalPlayTimeS float64    `gorm:"not null;default:0" json:"total_play_time_s"`
	SumConfidence  float64    `gorm:"not null;default:0" json:"-"`
	LastDetected   *time.Time `json:"last_detected,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a ArtistStats) AverageConfidence() float64 {
	if a.PlayCount == 0 {
		return 0
	}
	return a.SumConfidence / float64(a.PlayCount)
}

func (ArtistStats) TableName() string { return "artist_stats" }
