package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sodav/monitor-core/internal/analyzer"
	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/database"
	"github.com/sodav/monitor-core/internal/fingerprint"
	"github.com/sodav/monitor-core/internal/identity"
	"github.com/sodav/monitor-core/internal/logger"
	"github.com/sodav/monitor-core/internal/models"
	"github.com/sodav/monitor-core/internal/recognize"
	"github.com/sodav/monitor-core/internal/storage"
)

var replayCmd = &cobra.Command{
	Use:   "replay <detection-id>",
	Short: "Re-run an archived detection's snapshot through the recognizer",
	Long: `Fetches the PCM snapshot archived for a low-confidence or flagged
detection, re-analyzes it, and re-runs it through the external
recognizer chain, then reconciles the result onto the Track it
originally resolved to. Requires snapshot archiving (SNAPSHOT_S3_BUCKET)
to have been enabled when the detection was recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := connectDB()
		defer database.Close()
		return replayDetection(cfg, args[0])
	},
}

func replayDetection(cfg *config.DetectionConfig, rawID string) error {
	detectionID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid detection id %q: %w", rawID, err)
	}

	var detection models.Detection
	if err := database.DB.Where("id = ?", detectionID).First(&detection).Error; err != nil {
		return fmt.Errorf("failed to load detection %s: %w", detectionID, err)
	}
	if detection.SnapshotKey == nil {
		return fmt.Errorf("detection %s has no archived snapshot", detectionID)
	}

	ctx := context.Background()

	archiver, err := storage.NewSnapshotArchiver(ctx, cfg.S3Region, cfg.S3Bucket)
	if err != nil {
		return fmt.Errorf("failed to initialize snapshot archiver: %w", err)
	}
	if archiver.Disabled() {
		return fmt.Errorf("SNAPSHOT_S3_BUCKET is not configured, cannot fetch %s", *detection.SnapshotKey)
	}

	raw, err := archiver.Fetch(ctx, *detection.SnapshotKey)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot %s: %w", *detection.SnapshotKey, err)
	}
	pcm := bytesToFloat32PCM(raw)

	features, err := analyzer.Analyze(pcm, cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to analyze replayed snapshot: %w", err)
	}
	fp, err := fingerprint.Generate(ctx, features, pcm, cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to fingerprint replayed snapshot: %w", err)
	}

	onCircuitTrip := func(provider string) {
		fmt.Printf("warning: %s circuit breaker tripped during replay\n", provider)
	}
	recognizer := recognize.New(cfg, nil, logger.Log, onCircuitTrip)

	match, err := recognizer.Find(ctx, pcm, fp.Hash, detection.PlayDurationS)
	if err != nil {
		return fmt.Errorf("recognizer lookup failed: %w", err)
	}
	if match == nil {
		fmt.Printf("replay of detection %s: no match from any provider\n", detectionID)
		return nil
	}

	fmt.Printf("replay of detection %s: %s provider matched %q by %q (confidence %.2f)\n",
		detectionID, match.Source, match.Title, match.Artist, match.Confidence)

	resolver := identity.New(database.DB, logger.Log)
	meta := &identity.MatchMeta{
		Title:           match.Title,
		Artist:          match.Artist,
		Album:           match.Album,
		ISRC:            match.ISRC,
		Label:           match.Label,
		ReleaseDate:     match.ReleaseDate,
		FingerprintHash: fp.Hash,
		FingerprintRaw:  fp.Raw,
		Chromaprint:     fp.Chromaprint,
	}
	track, err := resolver.Reconcile(ctx, detectionID, meta)
	if err != nil {
		return fmt.Errorf("failed to reconcile replayed detection: %w", err)
	}

	fmt.Printf("reconciled detection %s onto track %s (%s)\n", detectionID, track.ID, track.Title)
	return nil
}

// bytesToFloat32PCM is the inverse of playstate's float32PCMToBytes:
// mono little-endian float32 samples as archived by SnapshotArchiver.
func bytesToFloat32PCM(raw []byte) []float32 {
	pcm := make([]float32, len(raw)/4)
	for i := range pcm {
		pcm[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return pcm
}
