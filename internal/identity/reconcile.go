package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/models"
	"gorm.io/gorm"
)

// Reconcile re-applies freshly looked-up metadata to the Track behind
// an existing Detection, for the maintenance path (`monitorctl replay`)
// that re-runs recognition on a detection's captured fingerprint after
// MusicBrainz/AudD metadata has improved. It only fills fields still
// null on the Track, same rule resolveOnce uses during live detection.
func (r *Resolver) Reconcile(ctx context.Context, detectionID uuid.UUID, meta *MatchMeta) (*models.Track, error) {
	var detection models.Detection
	if err := r.db.WithContext(ctx).First(&detection, "id = ?", detectionID).Error; err != nil {
		return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "detection lookup failed", err)
	}

	normalizedISRC := ""
	if meta.ISRC != "" {
		if n, ok := validateISRC(meta.ISRC); ok {
			normalizedISRC = n
		} else {
			r.log.Warn("reconcile dropped syntactically invalid ISRC")
		}
	}

	var track models.Track
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&track, "id = ?", detection.TrackID).Error; err != nil {
			return detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "track lookup failed", err)
		}
		return r.backfillMetadata(tx, &track, meta, normalizedISRC)
	})
	if err != nil {
		return nil, err
	}
	return &track, nil
}
