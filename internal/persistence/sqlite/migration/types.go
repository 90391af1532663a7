package migration

import (
	"context"
	"io/fs"
	"time"
)

// Migration represents a database migration with its metadata and SQL content.
type Migration struct {
	Version     string // numeric identifier, e.g. "001"
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// FileScanner discovers and parses migration files.
type FileScanner interface {
	// ScanMigrations returns the migrations found in fsys ordered by version.
	ScanMigrations(fsys fs.FS) ([]Migration, error)

	// ValidateFileName checks the {version}_{description}.sql convention.
	ValidateFileName(filename string) error

	// ParseMigrationFile reads and parses a single migration file.
	ParseMigrationFile(fsys fs.FS, path string) (*Migration, error)
}

// Executor runs migrations against the database and tracks applied versions.
type Executor interface {
	// ExecuteMigration applies migration and records it in one transaction.
	ExecuteMigration(ctx context.Context, migration Migration) (time.Duration, error)
	InitializeVersionTable(ctx context.Context) error
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}

// MigrationStatus provides information about the current migration state.
type MigrationStatus struct {
	CurrentVersion    string
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// AppliedMigration represents a migration that has been successfully applied.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}
