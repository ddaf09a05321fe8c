package models

import (
	"time"

	"github.com/google/uuid"
)

// DetectionMethod tags how a Detection's track was identified, mirroring
// the recognized method.
type DetectionMethod string

const (
	MethodLocalExact DetectionMethod = "local_exact"
	MethodLocalFuzzy DetectionMethod = "local_fuzzy"
	MethodAcoustID   DetectionMethod = "acoustid"
	MethodAudD       DetectionMethod = "audd"
	MethodISRCMatch  DetectionMethod = "isrc_match"
	MethodManual     DetectionMethod = "manual"
)

// Detection is append-only: the Play-State Tracker is the only writer,
// and only at end-of-play, inside the same transaction as the Stats
// Aggregator's updates, for audit and reconciliation.
type Detection struct {
	ID             uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	StationID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_detections_station_time" json:"station_id"`
	TrackID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"track_id"`
	DetectedAt     time.Time       `gorm:"not null;index:idx_detections_station_time" json:"detected_at"`
	EndTime        time.Time       `gorm:"not null" json:"end_time"`
	PlayDurationS  float64         `gorm:"not null" json:"play_duration_s"`
	Confidence     float64         `gorm:"not null" json:"confidence"`
	Method         DetectionMethod `gorm:"type:varchar(24);not null" json:"method"`
	FingerprintHash *string        `json:"fingerprint_hash,omitempty"`
	SnapshotKey     *string        `gorm:"column:snapshot_key" json:"snapshot_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Detection) TableName() string { return "detections" }
