package localmatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sodav/monitor-core/internal/fingerprint"
	"github.com/sodav/monitor-core/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestDB creates tables by hand with SQLite-compatible syntax:
// AutoMigrate would otherwise emit Postgres-only defaults like
// gen_random_uuid() that SQLite can't evaluate.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`
		CREATE TABLE artists (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_lower TEXT NOT NULL,
			label TEXT,
			total_play_count INTEGER DEFAULT 0,
			total_play_time_s REAL DEFAULT 0,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE tracks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			artist_id TEXT NOT NULL,
			isrc TEXT,
			label TEXT,
			album TEXT,
			release_date DATETIME,
			duration_s REAL,
			fingerprint_hash TEXT,
			fingerprint_raw BLOB,
			chromaprint TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE fingerprints (
			id TEXT PRIMARY KEY,
			track_id TEXT NOT NULL,
			hash TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			raw_bytes BLOB,
			offset REAL DEFAULT 0,
			created_at DATETIME
		)
	`).Error)

	return db
}

func seedTrack(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	artist := models.Artist{ID: uuid.New(), Name: "Test Artist", NameLower: "test artist"}
	require.NoError(t, db.Create(&artist).Error)

	track := models.Track{ID: uuid.New(), Title: "Test Track", ArtistID: artist.ID}
	require.NoError(t, db.Create(&track).Error)
	return track.ID
}

func TestFindMatchesOnSpectralHashExact(t *testing.T) {
	db := newTestDB(t)
	trackID := seedTrack(t, db)

	require.NoError(t, db.Create(&models.Fingerprint{
		ID: uuid.New(), TrackID: trackID, Hash: "abc123", Algorithm: "spectral-sha256",
	}).Error)

	matcher := New(db)
	match, err := matcher.Find(context.Background(), &fingerprint.Result{Hash: "abc123"})
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, trackID, match.TrackID)
	require.True(t, match.Exact)
	require.Equal(t, 1.0, match.Similarity)
}

func TestFindMatchesOnChromaprintExactPrefix(t *testing.T) {
	db := newTestDB(t)
	trackID := seedTrack(t, db)

	fullChromaprint := "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345extra-tail-symbols"
	prefix := fingerprint.ChromaprintIndexPrefix(fullChromaprint)

	require.NoError(t, db.Create(&models.Fingerprint{
		ID: uuid.New(), TrackID: trackID, Hash: prefix, Algorithm: chromaprintAlgorithm,
		RawBytes: []byte(fullChromaprint),
	}).Error)

	matcher := New(db)
	match, err := matcher.Find(context.Background(), &fingerprint.Result{
		Hash:        "unrelated-hash",
		Chromaprint: fullChromaprint,
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, trackID, match.TrackID)
	require.True(t, match.Exact)
}

func TestFindFallsBackToSimilarityScanAboveThreshold(t *testing.T) {
	db := newTestDB(t)
	trackID := seedTrack(t, db)

	stored := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	require.NoError(t, db.Create(&models.Fingerprint{
		ID: uuid.New(), TrackID: trackID, Hash: fingerprint.ChromaprintIndexPrefix(stored),
		Algorithm: chromaprintAlgorithm, RawBytes: []byte(stored),
	}).Error)

	// Differs in the last few symbols only, similarity stays above 0.70.
	candidate := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAZZZ"

	matcher := New(db)
	match, err := matcher.Find(context.Background(), &fingerprint.Result{
		Hash:        "no-hash-match",
		Chromaprint: candidate,
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, trackID, match.TrackID)
	require.False(t, match.Exact)
	require.GreaterOrEqual(t, match.Similarity, similarityAcceptAbove)
}

func TestFindReturnsNilWhenNothingMatches(t *testing.T) {
	db := newTestDB(t)
	seedTrack(t, db)

	matcher := New(db)
	match, err := matcher.Find(context.Background(), &fingerprint.Result{Hash: "nope"})
	require.NoError(t, err)
	require.Nil(t, match)
}

func TestFindBreaksTiesByMostRecent(t *testing.T) {
	db := newTestDB(t)
	olderTrack := seedTrack(t, db)
	newerTrack := seedTrack(t, db)

	// 31 shared symbols plus a trailing mismatch: similar enough to pass
	// the threshold, not equal to the candidate's own prefix, so both
	// rows land in the similarity scan rather than the exact-match step.
	stored := "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCZ"
	candidate := "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"
	require.NoError(t, db.Create(&models.Fingerprint{
		ID: uuid.New(), TrackID: olderTrack, Hash: fingerprint.ChromaprintIndexPrefix(stored),
		Algorithm: chromaprintAlgorithm, RawBytes: []byte(stored),
		CreatedAt: time.Now().Add(-time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.Fingerprint{
		ID: uuid.New(), TrackID: newerTrack, Hash: fingerprint.ChromaprintIndexPrefix(stored),
		Algorithm: chromaprintAlgorithm, RawBytes: []byte(stored),
		CreatedAt: time.Now(),
	}).Error)

	matcher := New(db)
	match, err := matcher.Find(context.Background(), &fingerprint.Result{
		Hash:        "no-hash-match",
		Chromaprint: candidate,
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	require.Equal(t, newerTrack, match.TrackID)
}
