package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Revocation lookups run on every authenticated request, so idle connections
// are kept warm instead of being torn down between bursts
const (
	poolMaxConnIdleTime = 5 * time.Minute
	poolHealthCheck     = time.Minute
)

// Migrate brings the schema up to date from the embedded migration files.
// An already up-to-date schema is not an error.
// golang-migrate selects its driver from the DSN scheme and knows the pgx v5
// driver as 'pgx5', the usual postgres:// form is rewritten before handing it over
func Migrate(dsn string) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("can't read embedded migrations. Err: %w", err)
	}

	migratorDSN := strings.NewReplacer(
		"postgres://", "pgx5://",
		"postgresql://", "pgx5://",
	).Replace(dsn)

	migrator, err := migrate.NewWithSourceInstance("iofs", source, migratorDSN)
	if err != nil {
		return fmt.Errorf("can't prepare migrator. Err: %w", err)
	}

	err = migrator.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("can't apply migrations. Err: %w", err)
	}

	return nil
}

// Connect opens a pgx pool for the DSN. Pool sizing from the DSN query
// parameters is honored, only the idle and health check windows are pinned
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("can't parse database DSN. Err: %w", err)
	}

	cfg.MaxConnIdleTime = poolMaxConnIdleTime
	cfg.HealthCheckPeriod = poolHealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("can't initialize connection pool. Err: %w", err)
	}

	return pool, nil
}

// ConnectAndMigrate migrates first so the pool never serves a stale schema
func ConnectAndMigrate(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	return Connect(ctx, dsn)
}
