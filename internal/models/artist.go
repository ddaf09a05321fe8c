package models

import (
	"time"

	"github.com/google/uuid"
)

// Artist identity is immutable once created: the Identity Resolver may
// update Track rows, never reassign which Artist a Track belongs to.
type Artist struct {
	ID             uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	NameLower      string    `gorm:"column:name_lower;uniqueIndex;not null" json:"-"`
	Label          *string   `json:"label,omitempty"`
	TotalPlayCount int64     `gorm:"not null;default:0" json:"total_play_count"`
	TotalPlayTimeS float64   `gorm:"not null;default:0" json:"total_play_time_s"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Artist) TableName() string { return "artists" }
