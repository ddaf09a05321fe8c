package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sodav/monitor-core/internal/database"
	"github.com/sodav/monitor-core/internal/identity"
	"github.com/sodav/monitor-core/internal/logger"
)

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "Correct resolved track metadata",
}

var (
	updateTitle string
	updateLabel string
	updateISRC  string
)

var tracksUpdateMetadataCmd = &cobra.Command{
	Use:   "update-metadata <track-id>",
	Short: "Apply an operator correction to a resolved track's title, label, or ISRC",
	Long: `Writes one or more corrected fields directly onto a Track row,
bypassing the null-only backfill rule the pipeline applies during live
detection. Use this when a later MusicBrainz or label lookup turns up
better metadata than what the recognizer returned at detection time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connectDB()
		defer database.Close()
		return updateTrackMetadata(args[0])
	},
}

func init() {
	tracksUpdateMetadataCmd.Flags().StringVar(&updateTitle, "title", "", "corrected title")
	tracksUpdateMetadataCmd.Flags().StringVar(&updateLabel, "label", "", "corrected label")
	tracksUpdateMetadataCmd.Flags().StringVar(&updateISRC, "isrc", "", "corrected ISRC")
	tracksCmd.AddCommand(tracksUpdateMetadataCmd)
}

func updateTrackMetadata(rawID string) error {
	trackID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid track id %q: %w", rawID, err)
	}

	updates := map[string]interface{}{}
	if strings.TrimSpace(updateTitle) != "" {
		updates["title"] = updateTitle
	}
	if strings.TrimSpace(updateLabel) != "" {
		updates["label"] = updateLabel
	}
	if strings.TrimSpace(updateISRC) != "" {
		updates["isrc"] = updateISRC
	}
	if len(updates) == 0 {
		return fmt.Errorf("no fields given: pass at least one of --title, --label, --isrc")
	}

	resolver := identity.New(database.DB, logger.Log)
	if err := resolver.UpdateMetadata(context.Background(), trackID, updates); err != nil {
		return fmt.Errorf("failed to update track %s: %w", trackID, err)
	}
	fmt.Printf("updated track %s\n", trackID)
	return nil
}
