package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// RunMigrations brings the schema up to date. With autoMigrate false it
// reports the current version without applying anything, so operators
// can run migrations out of band.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if dirty {
		if err := recoverDirty(m, version); err != nil {
			return err
		}
	}

	if !autoMigrate {
		slog.Info("[Migrations] Auto-migration disabled, leaving schema as is",
			"current_version", version)
		return nil
	}

	slog.Info("[Migrations] Applying pending migrations", "current_version", version)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version after migrate: %w", err)
	}
	slog.Info("[Migrations] Schema migrated",
		"from_version", version,
		"to_version", newVersion,
	)
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	drv, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to init postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, fmt.Errorf("failed to build migrator: %w", err)
	}
	return m, nil
}

// recoverDirty clears an interrupted migration by forcing the recorded
// version. Safe while the schema ships as a single baseline migration.
func recoverDirty(m *migrate.Migrate, version uint) error {
	slog.Warn("[Migrations] Dirty schema state detected, forcing recorded version",
		"version", version)
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("failed to recover dirty schema state at version %d: %w", version, err)
	}
	slog.Info("[Migrations] Recovered dirty schema state", "version", version)
	return nil
}
