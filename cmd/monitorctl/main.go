// monitorctl is the operator CLI for the detection core: unlike a
// client talking to a remote API, it opens its own database connection
// (and S3 client, when configured) the same way cmd/server does, since
// the admin HTTP surface only exposes read-only debug endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/database"
	"github.com/sodav/monitor-core/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "monitorctl",
	Short: "Operator CLI for the SODAV Monitor detection core",
	Long: `monitorctl inspects and manages a detection core deployment directly
against its database: list and register monitored stations, replay an
archived detection through the recognizer for QA, and correct a
resolved track's metadata after the fact.`,
}

func init() {
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(tracksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connectDB opens the same database handle cmd/server uses, for
// subcommands that need to read or write station/detection rows.
func connectDB() *config.DetectionConfig {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: .env file not found, using system environment variables")
	}
	if err := logger.Initialize("info", ""); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	if err := database.Initialize(cfg.DatabaseURL, logger.Log); err != nil {
		logger.Log.Fatal("failed to connect to database", zap.Error(err))
	}
	return cfg
}
