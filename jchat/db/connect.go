// Package db opens the embedded libsql database used for the tool invocation audit log.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens (creating if needed) the database at path and applies pending migrations.
func Connect(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory for %s: %w", path, err)
	}

	dsn := "file:" + path
	logger.Debug().Str("dsn", dsn).Msg("opening libsql database")

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		db.Close()
		return nil, fmt.Errorf("basic connectivity test failed: %w", err)
	}

	if err := Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectTurso, db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("applied migration")
	}
	return nil
}
