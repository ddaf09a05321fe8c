// Package identity implements the Identity Resolver (C6): hierarchical
// dedupe of a recognized match against the Artist/Track tables,
// grounded on the original detection core's track_manager lookup order
// (ISRC, then fingerprint, then title+artist, then create) and on the
// a GORM transaction idiom for the rest of the schema.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/fingerprint"
	"github.com/sodav/monitor-core/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MatchMeta is the normalized recognition result the Orchestrator hands
// the resolver, sourced from either the Local Matcher or the External
// Recognizer.
type MatchMeta struct {
	Title           string
	Artist          string
	Album           string
	ISRC            string
	Label           string
	ReleaseDate     string // YYYY-MM-DD, empty if unknown
	FingerprintHash string
	FingerprintRaw  []byte
	Chromaprint     string
}

type Resolver struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Resolver {
	return &Resolver{db: db, log: log}
}

// Resolve runs the four-step hierarchical dedupe inside a single
// transaction. A unique-constraint race on ISRC is retried once:
// another resolve may have just inserted the same Track.
func (r *Resolver) Resolve(ctx context.Context, meta *MatchMeta) (*models.Track, error) {
	track, err := r.resolveOnce(ctx, meta)
	if err == nil {
		return track, nil
	}
	if isUniqueViolation(err) {
		r.log.Warn("identity resolve hit unique violation, retrying lookup", zap.Error(err))
		return r.resolveOnce(ctx, meta)
	}
	return nil, err
}

func (r *Resolver) resolveOnce(ctx context.Context, meta *MatchMeta) (*models.Track, error) {
	normalizedISRC, isrcValid := "", false
	if meta.ISRC != "" {
		normalizedISRC, isrcValid = validateISRC(meta.ISRC)
		if !isrcValid {
			r.log.Warn("dropping syntactically invalid ISRC", zap.String("isrc", meta.ISRC))
		}
	}

	var track *models.Track
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error

		if isrcValid {
			track, err = r.findByISRC(tx, normalizedISRC)
			if err != nil {
				return err
			}
			if track != nil {
				return r.backfillMetadata(tx, track, meta, normalizedISRC)
			}
		}

		if meta.FingerprintHash != "" {
			track, err = r.findByFingerprint(tx, meta.FingerprintHash)
			if err != nil {
				return err
			}
			if track != nil {
				return r.backfillMetadata(tx, track, meta, normalizedISRC)
			}
		}

		artistID, err := r.resolveArtist(tx, meta.Artist)
		if err != nil {
			return err
		}

		if meta.Title != "" {
			track, err = r.findByTitleArtist(tx, meta.Title, artistID)
			if err != nil {
				return err
			}
			if track != nil {
				return r.backfillMetadata(tx, track, meta, normalizedISRC)
			}
		}

		track, err = r.createTrack(tx, meta, artistID, normalizedISRC)
		return err
	})
	if err != nil {
		return nil, err
	}
	return track, nil
}

func (r *Resolver) findByISRC(tx *gorm.DB, isrc string) (*models.Track, error) {
	var track models.Track
	err := tx.Where("isrc = ?", isrc).First(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "isrc lookup failed", err)
	}
	return &track, nil
}

// findByFingerprint checks both the Fingerprint index and the
// denormalized Track.fingerprint_hash column.
func (r *Resolver) findByFingerprint(tx *gorm.DB, hash string) (*models.Track, error) {
	var fp models.Fingerprint
	err := tx.Where("hash = ?", hash).First(&fp).Error
	if err == nil {
		var track models.Track
		if err := tx.Where("id = ?", fp.TrackID).First(&track).Error; err != nil {
			return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "track lookup by fingerprint failed", err)
		}
		return &track, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "fingerprint lookup failed", err)
	}

	var track models.Track
	err = tx.Where("fingerprint_hash = ?", hash).First(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "track.fingerprint_hash lookup failed", err)
	}
	return &track, nil
}

func (r *Resolver) findByTitleArtist(tx *gorm.DB, title string, artistID uuid.UUID) (*models.Track, error) {
	var track models.Track
	err := tx.Where("lower(title) = ? AND artist_id = ?", strings.ToLower(title), artistID).First(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "title/artist lookup failed", err)
	}
	return &track, nil
}

// resolveArtist looks up an artist by case-insensitive name, creating
// one when absent.
func (r *Resolver) resolveArtist(tx *gorm.DB, name string) (uuid.UUID, error) {
	nameLower := strings.ToLower(strings.TrimSpace(name))
	if nameLower == "" {
		nameLower = "unknown artist"
	}

	var artist models.Artist
	err := tx.Where("name_lower = ?", nameLower).First(&artist).Error
	if err == nil {
		return artist.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "artist lookup failed", err)
	}

	artist = models.Artist{
		ID:        uuid.New(),
		Name:      displayName(name),
		NameLower: nameLower,
	}
	if err := tx.Create(&artist).Error; err != nil {
		if isUniqueViolation(err) {
			// Another resolve in a concurrent transaction won the race;
			// the retry in Resolve will pick it up by name.
			return uuid.Nil, detecterrors.DBConstraintConflict("identity", "artist name race", err)
		}
		return uuid.Nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "artist create failed", err)
	}
	return artist.ID, nil
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unknown Artist"
	}
	return name
}

func (r *Resolver) createTrack(tx *gorm.DB, meta *MatchMeta, artistID uuid.UUID, isrc string) (*models.Track, error) {
	track := models.Track{
		ID:       uuid.New(),
		Title:    titleOrUnknown(meta.Title),
		ArtistID: artistID,
	}
	if isrc != "" {
		track.ISRC = &isrc
	}
	if meta.Label != "" {
		track.Label = &meta.Label
	}
	if meta.Album != "" {
		track.Album = &meta.Album
	}
	if rd := parseReleaseDate(meta.ReleaseDate); rd != nil {
		track.ReleaseDate = rd
	}
	if meta.FingerprintHash != "" {
		track.FingerprintHash = &meta.FingerprintHash
		track.FingerprintRaw = meta.FingerprintRaw
	}
	if meta.Chromaprint != "" {
		track.Chromaprint = &meta.Chromaprint
	}

	if err := tx.Create(&track).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, detecterrors.DBConstraintConflict("identity", "track create race", err)
		}
		return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "track create failed", err)
	}

	if meta.FingerprintHash != "" {
		fp := models.Fingerprint{
			ID:        uuid.New(),
			TrackID:   track.ID,
			Hash:      meta.FingerprintHash,
			Algorithm: "spectral-sha256",
			RawBytes:  meta.FingerprintRaw,
		}
		if err := tx.Create(&fp).Error; err != nil && !isUniqueViolation(err) {
			return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "fingerprint index insert failed", err)
		}
	}
	if meta.Chromaprint != "" {
		cpFP := models.Fingerprint{
			ID:        uuid.New(),
			TrackID:   track.ID,
			Hash:      fingerprint.ChromaprintIndexPrefix(meta.Chromaprint),
			Algorithm: "chromaprint",
			RawBytes:  []byte(meta.Chromaprint),
		}
		if err := tx.Create(&cpFP).Error; err != nil && !isUniqueViolation(err) {
			return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "chromaprint index insert failed", err)
		}
	}

	stats := models.TrackStats{TrackID: track.ID}
	if err := tx.Create(&stats).Error; err != nil && !isUniqueViolation(err) {
		return nil, detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "track stats init failed", err)
	}

	return &track, nil
}

func titleOrUnknown(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Unknown Title"
	}
	return title
}

func parseReleaseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// backfillMetadata fills previously-null fields on an already-matched
// track rather than overwriting anything it already knows, per the
// "optionally update ... when previously null".
func (r *Resolver) backfillMetadata(tx *gorm.DB, track *models.Track, meta *MatchMeta, isrc string) error {
	updates := map[string]interface{}{}

	if track.ISRC == nil && isrc != "" {
		updates["isrc"] = isrc
	}
	if track.Label == nil && meta.Label != "" {
		updates["label"] = meta.Label
	}
	if track.Album == nil && meta.Album != "" {
		updates["album"] = meta.Album
	}
	if track.ReleaseDate == nil {
		if rd := parseReleaseDate(meta.ReleaseDate); rd != nil {
			updates["release_date"] = rd
		}
	}
	if track.FingerprintHash == nil && meta.FingerprintHash != "" {
		updates["fingerprint_hash"] = meta.FingerprintHash
		updates["fingerprint_raw"] = meta.FingerprintRaw
	}
	if track.Chromaprint == nil && meta.Chromaprint != "" {
		updates["chromaprint"] = meta.Chromaprint
	}

	if len(updates) == 0 {
		return nil
	}
	if err := tx.Model(track).Updates(updates).Error; err != nil {
		return detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "track metadata backfill failed", err)
	}
	return nil
}

// UpdateMetadata applies an operator-initiated correction (e.g. a fixed
// title or label from a later MusicBrainz lookup) directly, bypassing
// the null-only backfill rule resolveOnce uses during detection.
func (r *Resolver) UpdateMetadata(ctx context.Context, trackID uuid.UUID, updates map[string]interface{}) error {
	if err := r.db.WithContext(ctx).Model(&models.Track{ID: trackID}).Updates(updates).Error; err != nil {
		return detecterrors.Wrap("identity", detecterrors.KindDBUnavailable, "track metadata update failed", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
