// Package seed populates a development or test database with
// plausible stations, artists, tracks, fingerprints, and detection
// history, so the pipeline and its operator tooling have something to
// run against without a live stream or a music-recognition provider key.
package seed

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sodav/monitor-core/internal/logger"
	"github.com/sodav/monitor-core/internal/models"
)

// Seeder handles database seeding operations.
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance.
func NewSeeder(db *gorm.DB) *Seeder {
	gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{db: db}
}

// SeedDev populates the database with a realistic-sized development
// fixture: enough stations, artists and tracks for the Supervisor and
// reporting layers to have something non-trivial to chew on.
func (s *Seeder) SeedDev() error {
	logger.Log.Info("creating stations...")
	stations, err := s.seedStations(8)
	if err != nil {
		return fmt.Errorf("failed to seed stations: %w", err)
	}

	logger.Log.Info("creating artists...")
	artists, err := s.seedArtists(40)
	if err != nil {
		return fmt.Errorf("failed to seed artists: %w", err)
	}

	logger.Log.Info("creating tracks...")
	tracks, err := s.seedTracks(artists, 200)
	if err != nil {
		return fmt.Errorf("failed to seed tracks: %w", err)
	}

	logger.Log.Info("creating fingerprints...")
	if err := s.seedFingerprints(tracks); err != nil {
		return fmt.Errorf("failed to seed fingerprints: %w", err)
	}

	logger.Log.Info("creating detection history...")
	if err := s.seedDetections(stations, tracks, 500); err != nil {
		return fmt.Errorf("failed to seed detections: %w", err)
	}

	logger.Log.Info("rolling up stats...")
	if err := s.rollUpStats(); err != nil {
		return fmt.Errorf("failed to roll up stats: %w", err)
	}

	return nil
}

// SeedTest creates a small, fixed fixture for e2e and manual testing:
// three named stations with predictable stream URLs, so tests can
// reference them by name instead of a random UUID.
func (s *Seeder) SeedTest() error {
	logger.Log.Info("creating test stations...")
	specs := []struct {
		name      string
		streamURL string
	}{
		{"Test FM", "https://stream.example.test/testfm.mp3"},
		{"Test AM", "https://stream.example.test/testam.mp3"},
		{"Test Dance Radio", "https://stream.example.test/testdance.mp3"},
	}

	var stations []models.Station
	for _, spec := range specs {
		var station models.Station
		err := s.db.Where("stream_url = ?", spec.streamURL).First(&station).Error
		if err == nil {
			stations = append(stations, station)
			continue
		}
		station = models.Station{ID: uuid.New(), Name: spec.name, StreamURL: spec.streamURL, Status: models.StationActive}
		if err := s.db.Create(&station).Error; err != nil {
			return fmt.Errorf("failed to create test station %s: %w", spec.name, err)
		}
		stations = append(stations, station)
	}

	logger.Log.Info("creating test artists and tracks...")
	artists, err := s.seedArtists(5)
	if err != nil {
		return fmt.Errorf("failed to seed test artists: %w", err)
	}
	tracks, err := s.seedTracks(artists, 10)
	if err != nil {
		return fmt.Errorf("failed to seed test tracks: %w", err)
	}
	if err := s.seedFingerprints(tracks); err != nil {
		return fmt.Errorf("failed to seed test fingerprints: %w", err)
	}

	logger.Log.Info("creating test detections...")
	if err := s.seedDetections(stations, tracks, 20); err != nil {
		return fmt.Errorf("failed to seed test detections: %w", err)
	}

	return s.rollUpStats()
}

// Clean removes all seed data, in reverse order of dependency.
func (s *Seeder) Clean() error {
	tables := []string{
		"detections",
		"station_track_stats",
		"track_stats",
		"artist_stats",
		"fingerprints",
		"tracks",
		"artists",
		"stations",
	}
	for _, table := range tables {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return nil
}

func (s *Seeder) seedStations(count int) ([]models.Station, error) {
	var stations []models.Station
	if err := s.db.Find(&stations).Error; err != nil {
		return nil, err
	}

	for len(stations) < count {
		name := gofakeit.Company() + " " + gofakeit.RandomString([]string{"FM", "Radio", "AM", "Live"})
		station := models.Station{
			ID:        uuid.New(),
			Name:      name,
			StreamURL: fmt.Sprintf("https://stream.example.com/%s.mp3", slugify(name)),
			Status:    models.StationActive,
		}
		if err := s.db.Where("stream_url = ?", station.StreamURL).FirstOrCreate(&station).Error; err != nil {
			return nil, err
		}
		stations = append(stations, station)
	}
	return stations, nil
}

func (s *Seeder) seedArtists(count int) ([]models.Artist, error) {
	var artists []models.Artist
	if err := s.db.Find(&artists).Error; err != nil {
		return nil, err
	}

	for len(artists) < count {
		name := gofakeit.Name()
		if gofakeit.Bool() {
			name = gofakeit.HipsterWord() + " " + gofakeit.HipsterWord()
		}
		label := gofakeit.Company()
		artist := models.Artist{
			ID:        uuid.New(),
			Name:      name,
			NameLower: strings.ToLower(name),
			Label:     &label,
		}
		if err := s.db.Where("name_lower = ?", artist.NameLower).FirstOrCreate(&artist).Error; err != nil {
			return nil, err
		}
		artists = append(artists, artist)
	}
	return artists, nil
}

func (s *Seeder) seedTracks(artists []models.Artist, count int) ([]models.Track, error) {
	var tracks []models.Track
	if err := s.db.Find(&tracks).Error; err != nil {
		return nil, err
	}

	for len(tracks) < count {
		artist := artists[rand.N(len(artists))]
		isrc := randomISRC()
		duration := 120.0 + rand.Float64()*180.0
		track := models.Track{
			ID:        uuid.New(),
			Title:     strings.Title(gofakeit.HipsterSentence(3)), //nolint:staticcheck
			ArtistID:  artist.ID,
			ISRC:      &isrc,
			Label:     artist.Label,
			DurationS: &duration,
		}
		if err := s.db.Create(&track).Error; err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

func (s *Seeder) seedFingerprints(tracks []models.Track) error {
	for _, track := range tracks {
		var existing int64
		if err := s.db.Model(&models.Fingerprint{}).Where("track_id = ?", track.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			continue
		}
		hash := randomHex(32)
		fp := models.Fingerprint{
			ID:        uuid.New(),
			TrackID:   track.ID,
			Hash:      hash,
			Algorithm: "spectral-sha256",
		}
		if err := s.db.Create(&fp).Error; err != nil {
			return err
		}
		if err := s.db.Model(&models.Track{}).Where("id = ?", track.ID).Update("fingerprint_hash", hash).Error; err != nil {
			return err
		}
	}
	return nil
}

// seedDetections backfills detection history across the last 30 days,
// so stats rollups and the reporting surface have a non-empty history
// to aggregate over.
func (s *Seeder) seedDetections(stations []models.Station, tracks []models.Track, count int) error {
	methods := []models.DetectionMethod{
		models.MethodLocalExact, models.MethodLocalFuzzy, models.MethodAcoustID, models.MethodAudD,
	}
	now := time.Now().UTC()

	for i := 0; i < count; i++ {
		station := stations[rand.N(len(stations))]
		track := tracks[rand.N(len(tracks))]
		detectedAt := now.Add(-time.Duration(rand.N(30*24)) * time.Hour)
		playDuration := 60 + rand.Float64()*180
		detection := models.Detection{
			ID:            uuid.New(),
			StationID:     station.ID,
			TrackID:       track.ID,
			DetectedAt:    detectedAt,
			EndTime:       detectedAt.Add(time.Duration(playDuration) * time.Second),
			PlayDurationS: playDuration,
			Confidence:    0.6 + rand.Float64()*0.4,
			Method:        methods[rand.N(len(methods))],
		}
		if err := s.db.Create(&detection).Error; err != nil {
			return err
		}
	}
	return nil
}

// rollUpStats recomputes StationTrackStats/TrackStats/ArtistStats from
// the Detection rows just seeded, so the seeded database looks like
// the output of the real Stats Aggregator rather than requiring a
// pipeline run to populate them.
func (s *Seeder) rollUpStats() error {
	var detections []models.Detection
	if err := s.db.Find(&detections).Error; err != nil {
		return err
	}

	stationTrack := make(map[[2]uuid.UUID]*models.StationTrackStats)
	trackAgg := make(map[uuid.UUID]*models.TrackStats)

	var tracks []models.Track
	if err := s.db.Find(&tracks).Error; err != nil {
		return err
	}
	artistOf := make(map[uuid.UUID]uuid.UUID, len(tracks))
	for _, t := range tracks {
		artistOf[t.ID] = t.ArtistID
	}
	artistAgg := make(map[uuid.UUID]*models.ArtistStats)

	for _, d := range detections {
		key := [2]uuid.UUID{d.StationID, d.TrackID}
		st, ok := stationTrack[key]
		if !ok {
			st = &models.StationTrackStats{ID: uuid.New(), StationID: d.StationID, TrackID: d.TrackID}
			stationTrack[key] = st
		}
		st.PlayCount++
		st.TotalPlayTimeS += d.PlayDurationS
		st.SumConfidence += d.Confidence
		detectedAt := d.DetectedAt
		st.LastPlayed = &detectedAt

		tr, ok := trackAgg[d.TrackID]
		if !ok {
			tr = &models.TrackStats{TrackID: d.TrackID}
			trackAgg[d.TrackID] = tr
		}
		tr.PlayCount++
		tr.TotalPlayTimeS += d.PlayDurationS
		tr.SumConfidence += d.Confidence
		tr.LastDetected = &detectedAt

		if artistID, ok := artistOf[d.TrackID]; ok {
			ar, ok := artistAgg[artistID]
			if !ok {
				ar = &models.ArtistStats{ArtistID: artistID}
				artistAgg[artistID] = ar
			}
			ar.PlayCount++
			ar.TotalPlayTimeS += d.PlayDurationS
			ar.SumConfidence += d.Confidence
			ar.LastDetected = &detectedAt
		}
	}

	// Create, not Save: every aggregate here is freshly computed from
	// scratch, and Save only updates an already-existing row when its
	// primary key is non-zero — it won't insert one that isn't there yet.
	for _, st := range stationTrack {
		if err := s.db.Create(st).Error; err != nil {
			return err
		}
	}
	for _, tr := range trackAgg {
		if err := s.db.Create(tr).Error; err != nil {
			return err
		}
	}
	for _, ar := range artistAgg {
		if err := s.db.Create(ar).Error; err != nil {
			return err
		}
	}
	return nil
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randomHex(n int) string {
	buf := make([]byte, n/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// randomISRC builds a syntactically valid ISRC (CC-XXX-YY-NNNNN) for
// fixture data; it is never checked against a real registry.
func randomISRC() string {
	return fmt.Sprintf("US%s%02d%05d",
		gofakeit.RandomString([]string{"RT1", "UMG", "S1A", "CA2"}),
		gofakeit.Number(0, 99),
		gofakeit.Number(0, 99999),
	)
}
