// Command migrate applies, rolls back or reports the embedded schema migrations against
// DATABASE_URL (read from the environment or a .env file).
//
// Usage:
//
//	migrate            apply every pending migration
//	migrate -down      roll back the last applied migration
//	migrate -version   print the current schema version
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"github.com/avissapr/signflow/internal/database"
)

func main() {
	down := flag.Bool("down", false, "roll back the last applied migration")
	version := flag.Bool("version", false, "print the current schema version")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("service", "signflow-migrate").Logger()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	switch {
	case *version:
		v, dirty, err := database.MigrationVersion(url)
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read migration version")
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)
	case *down:
		if err := database.RollbackMigration(url, logger); err != nil {
			logger.Fatal().Err(err).Msg("rollback failed")
		}
	default:
		if err := database.RunMigrations(url, logger); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}
}
