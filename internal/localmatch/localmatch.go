// Package localmatch implements the Local Matcher (C4): look up a
// window's fingerprint against the in-store Fingerprint index before
// falling back to an external provider. Grounded on a
// database package for query shape and on internal/fingerprint for
// the hash/Chromaprint comparison rules.
package localmatch

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/sodav/monitor-core/internal/fingerprint"
	"github.com/sodav/monitor-core/internal/models"
	"gorm.io/gorm"
)

const (
	chromaprintAlgorithm  = "chromaprint"
	similarityAcceptAbove = 0.70
)

// Match is the Local Matcher's answer to a lookup: which track, the
// fingerprint it matched on, how similar, and whether the hit was
// exact or a fuzzy scan.
type Match struct {
	TrackID    uuid.UUID
	Fingerprint string
	Similarity float64
	Source     string
	Exact      bool
}

// Matcher queries the Fingerprint index built up by the Identity
// Resolver (C6) as it registers new tracks.
type Matcher struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Matcher {
	return &Matcher{db: db}
}

// Find runs the three-step search order against fp: a Chromaprint
// exact match, then a spectral-hash exact match, then a Chromaprint
// similarity scan accepting the best candidate at or above 0.70 with
// ties broken by most recently created.
func (m *Matcher) Find(ctx context.Context, fp *fingerprint.Result) (*Match, error) {
	if match, err := m.findChromaprintExact(ctx, fp); err != nil {
		return nil, err
	} else if match != nil {
		return match, nil
	}

	if match, err := m.findHashExact(ctx, fp); err != nil {
		return nil, err
	} else if match != nil {
		return match, nil
	}

	return m.findSimilarityScan(ctx, fp)
}

func (m *Matcher) findChromaprintExact(ctx context.Context, fp *fingerprint.Result) (*Match, error) {
	if fp.Chromaprint == "" {
		return nil, nil
	}
	prefix := fingerprint.ChromaprintIndexPrefix(fp.Chromaprint)

	var row models.Fingerprint
	err := m.db.WithContext(ctx).
		Where("algorithm = ? AND hash = ?", chromaprintAlgorithm, prefix).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Match{
		TrackID:     row.TrackID,
		Fingerprint: fp.Chromaprint,
		Similarity:  1.0,
		Source:      "local",
		Exact:       true,
	}, nil
}

func (m *Matcher) findHashExact(ctx context.Context, fp *fingerprint.Result) (*Match, error) {
	var row models.Fingerprint
	err := m.db.WithContext(ctx).
		Where("hash = ? AND algorithm <> ?", fp.Hash, chromaprintAlgorithm).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &Match{
		TrackID:     row.TrackID,
		Fingerprint: fp.Hash,
		Similarity:  1.0,
		Source:      "local",
		Exact:       true,
	}, nil
}

// findSimilarityScan only produces a hit when fp itself carries a
// Chromaprint; without one the only comparison compare() can make is
// exact-hash equality, which the previous step already tried.
func (m *Matcher) findSimilarityScan(ctx context.Context, fp *fingerprint.Result) (*Match, error) {
	if fp.Chromaprint == "" {
		return nil, nil
	}

	var rows []models.Fingerprint
	if err := m.db.WithContext(ctx).
		Where("algorithm = ?", chromaprintAlgorithm).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	type scored struct {
		row        models.Fingerprint
		similarity float64
	}
	candidates := make([]scored, 0, len(rows))
	for _, row := range rows {
		candidate := &fingerprint.Result{Chromaprint: string(row.RawBytes)}
		similarity := fingerprint.Compare(fp, candidate)
		if similarity >= similarityAcceptAbove {
			candidates = append(candidates, scored{row: row, similarity: similarity})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].row.CreatedAt.After(candidates[j].row.CreatedAt)
	})

	best := candidates[0]
	return &Match{
		TrackID:     best.row.TrackID,
		Fingerprint: fp.Chromaprint,
		Similarity:  best.similarity,
		Source:      "local",
		Exact:       false,
	}, nil
}
