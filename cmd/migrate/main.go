package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/database"
	"github.com/sodav/monitor-core/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, using system environment variables")
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		runMigrationsUp()
	case "down":
		runMigrationsDown()
	case "create":
		createMigration()
	default:
		fmt.Println("Usage: migrate [up|down|create]")
		fmt.Println("  up     - run all pending migrations")
		fmt.Println("  down   - rollback last migration (not implemented)")
		fmt.Println("  create - create a new migration file (not implemented)")
		os.Exit(1)
	}
}

func runMigrationsUp() {
	log.Println("connecting to database...")

	if err := logger.Initialize("info", ""); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	cfg := config.Load()
	if err := database.Initialize(cfg.DatabaseURL, logger.Log); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("running migrations...")
	if err := database.Migrate(logger.Log); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migrations completed")
}

func runMigrationsDown() {
	log.Println("migration rollback not implemented")
	log.Println("schema changes go through database.Migrate's AutoMigrate + raw index SQL")
	os.Exit(1)
}

func createMigration() {
	if len(os.Args) < 3 {
		log.Println("migration name required")
		log.Println("Usage: migrate create <migration_name>")
		os.Exit(1)
	}

	log.Println("migration file creation not implemented")
	log.Println("add the model to internal/models and internal/database.Migrate picks it up")
	os.Exit(1)
}
