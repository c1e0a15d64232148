package db

import (
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationStatus holds information about database migration state.
type MigrationStatus struct {
	CurrentVersion uint
	Dirty          bool
}

// migrationURL rewrites the DSN to the pgx/v5 driver scheme golang-migrate registers.
func migrationURL(cfg config.DBConfig) string {
	return "pgx5" + strings.TrimPrefix(DSN(cfg), "postgres")
}

func newMigrator(cfg config.DBConfig) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", source, migrationURL(cfg))
}

// RunMigrations applies all pending migrations.
func RunMigrations(cfg config.DBConfig, logger *zap.Logger) error {
	m, err := newMigrator(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("Migration failed", zap.Error(err))
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	logger.Info("Database schema up to date",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// GetMigrationStatus returns the current migration version.
func GetMigrationStatus(cfg config.DBConfig) (*MigrationStatus, error) {
	m, err := newMigrator(cfg)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, err
	}
	return &MigrationStatus{CurrentVersion: version, Dirty: dirty}, nil
}
