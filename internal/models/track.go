package models

import (
	"time"

	"github.com/google/uuid"
)

// Track is created once by the Identity Resolver and never changes
// artist thereafter. ISRC and FingerprintHash are each
// unique when non-null; the partial unique indices enforcing that are
// created in database.Migrate (Postgres doesn't let a plain
// uniqueIndex tag skip NULLs the way we need across both drivers, so
// the constraint is created by raw SQL instead of a struct tag).
type Track struct {
	ID                uuid.UUID  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Title             string     `gorm:"not null" json:"title"`
	ArtistID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"artist_id"`
	Artist            Artist     `gorm:"foreignKey:ArtistID" json:"-"`
	ISRC              *string    `gorm:"column:isrc" json:"isrc,omitempty"`
	Label             *string    `json:"label,omitempty"`
	Album             *string    `json:"album,omitempty"`
	ReleaseDate       *time.Time `json:"release_date,omitempty"`
	DurationS         *float64   `json:"duration_s,omitempty"`
	FingerprintHash   *string    `gorm:"column:fingerprint_hash" json:"fingerprint_hash,omitempty"`
	FingerprintRaw    []byte     `gorm:"column:fingerprint_raw" json:"-"`
	Chromaprint       *string    `json:"chromaprint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Track) TableName() string { return "tracks" }

// Fingerprint is a many-to-one child of Track: one track can carry
// several fingerprints (different algorithms, different excerpts).
// Lookups are keyed by Hash, which is what makes this table — not
// Track.FingerprintHash — authoritative for C4's exact-match step.
type Fingerprint struct {
	ID        uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TrackID   uuid.UUID `gorm:"type:uuid;not null;index" json:"track_id"`
	Hash      string    `gorm:"uniqueIndex;not null" json:"hash"`
	Algorithm string    `gorm:"not null;default:'spectral-sha256'" json:"algorithm"`
	RawBytes  []byte    `json:"-"`
	Offset    float64   `gorm:"not null;default:0" json:"offset"`

	CreatedAt time.Time `json:"created_at"`
}

func (Fingerprint) TableName() string { return "fingerprints" }
