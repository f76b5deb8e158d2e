package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/avissapr/signflow/migrations"
)

func newMigrator(dbURL string) (*migrate.Migrate, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations embedded in the binary.
// A dirty schema is forced back to its recorded version before migrating.
func RunMigrations(dbURL string, logger zerolog.Logger) error {
	m, err := newMigrator(dbURL)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warn().Err(err).Msg("could not read migration version")
	}

	if dirty {
		logger.Warn().Uint("version", version).Msg("database in dirty state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Uint("version", version).Msg("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ = m.Version()
	logger.Info().Uint("version", version).Msg("migrations applied")
	return nil
}

// MigrationVersion returns the current schema version and dirty flag.
func MigrationVersion(dbURL string) (uint, bool, error) {
	m, err := newMigrator(dbURL)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	return m.Version()
}

// RollbackMigration rolls back the last applied migration.
func RollbackMigration(dbURL string, logger zerolog.Logger) error {
	m, err := newMigrator(dbURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info().Uint("version", version).Msg("rolled back migration")
	return nil
}
