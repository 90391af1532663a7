// Package sqlite persists scheduler state in a SQLite database through the
// pure Go modernc.org/sqlite driver. The schema is embedded and migrated on Open.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/example/party-scheduler/internal/persistence"
	"github.com/example/party-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements persistence.Store on top of a single SQLite database.
// Reads outside a unit of work see committed data only.
type Store struct {
	reader
	db *sql.DB
}

var _ persistence.Store = (*Store)(nil)

// Open connects to the database described by config and applies pending migrations.
func Open(ctx context.Context, config migration.SQLiteConfig, logger *slog.Logger) (*Store, error) {
	db, err := migration.NewConnectionManager(config).GetConnection()
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: load migrations: %w", err)
	}
	manager := migration.NewMigrationManager(migration.NewFileScanner(), migration.NewSQLiteExecutor(db), files, logger)
	if err := manager.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Store{reader: reader{q: db}, db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a database transaction and commits when it succeeds.
func (s *Store) WithinTx(ctx context.Context, fn persistence.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return withTransaction(ctx, s.db, func(sqlTx *sql.Tx) error {
		return fn(ctx, &tx{reader: reader{q: sqlTx}})
	})
}
