package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/sodav/monitor-core/internal/config"
	"github.com/sodav/monitor-core/internal/database"
	"github.com/sodav/monitor-core/internal/logger"
	"github.com/sodav/monitor-core/internal/seed"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("warning: .env file not found, using system environment variables")
	}

	command := "dev"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "dev":
		seedDev()
	case "test":
		seedTest()
	case "clean":
		cleanSeed()
	default:
		fmt.Println("Usage: seed [dev|test|clean]")
		fmt.Println("  dev   - seed a development database with a realistic station/artist/track catalog")
		fmt.Println("  test  - seed a test database with a small, fixed fixture")
		fmt.Println("  clean - remove all seed data (use with caution)")
		os.Exit(1)
	}
}

func connectDB() {
	if err := logger.Initialize("info", ""); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	cfg := config.Load()
	if err := database.Initialize(cfg.DatabaseURL, logger.Log); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
}

func seedDev() {
	log.Println("seeding development database...")
	connectDB()
	defer database.Close()

	seeder := seed.NewSeeder(database.DB)
	if err := seeder.SeedDev(); err != nil {
		log.Fatalf("seeding failed: %v", err)
	}
	log.Println("development database seeded")
}

func seedTest() {
	log.Println("seeding test database...")
	connectDB()
	defer database.Close()

	seeder := seed.NewSeeder(database.DB)
	if err := seeder.SeedTest(); err != nil {
		log.Fatalf("seeding failed: %v", err)
	}
	log.Println("test database seeded")
}

func cleanSeed() {
	log.Println("cleaning seed data...")
	connectDB()
	defer database.Close()

	seeder := seed.NewSeeder(database.DB)
	if err := seeder.Clean(); err != nil {
		log.Fatalf("clean failed: %v", err)
	}
	log.Println("seed data cleaned")
}
