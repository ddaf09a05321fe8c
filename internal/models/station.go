// Package models holds the GORM-mapped entities: Station, Artist,
// Track, Fingerprint, Detection, and the three stats tables. CurrentTrack
// is intentionally absent here — it is in-memory-only state owned by a
// single station worker (see internal/playstate) and never persisted.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StationStatus is the operational status the Supervisor drives.
type StationStatus string

const (
	StationActive   StationStatus = "active"
	StationInactive StationStatus = "inactive"
	StationOffline  StationStatus = "offline"
)

// Station is owned by the Supervisor (C11): it is the unit of worker
// lifecycle and the subject of periodic health checks.
type Station struct {
	ID              uuid.UUID     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name            string        `gorm:"not null" json:"name"`
	StreamURL       string        `gorm:"uniqueIndex;not null" json:"stream_url"`
	Status          StationStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	FailureCount    int           `gorm:"not null;default:0" json:"failure_count"`
	LastCheckAt     *time.Time    `json:"last_check_at,omitempty"`
	LastDetectionAt *time.Time    `json:"last_detection_at,omitempty"`
	TotalPlayTimeS  float64       `gorm:"not null;default:0" json:"total_play_time_s"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Station) TableName() string { return "stations" }
