package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteConfig holds SQLite-specific database configuration.
type SQLiteConfig struct {
	// DSN is the database file path, or ":memory:".
	DSN string

	// BusyTimeout sets how long to wait for database locks.
	BusyTimeout time.Duration

	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, MEMORY, ...).
	JournalMode string

	// Synchronous sets the synchronous mode (OFF, NORMAL, FULL, EXTRA).
	Synchronous string

	// CacheSize sets the page cache size; negative values are KiB.
	CacheSize int

	// MaxOpenConns bounds the pool. PRAGMAs are applied per connection, so
	// values above 1 only make sense for read-mostly workloads.
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ConnectionManager opens SQLite databases with a configured set of PRAGMAs.
type ConnectionManager struct {
	config SQLiteConfig
}

// NewConnectionManager creates a ConnectionManager for config.
func NewConnectionManager(config SQLiteConfig) *ConnectionManager {
	return &ConnectionManager{config: config}
}

// GetConnection opens, configures, and pings the database.
func (cm *ConnectionManager) GetConnection() (*sql.DB, error) {
	if err := cm.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid SQLite configuration: %w", err)
	}
	if err := cm.CreateDatabaseDir(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cm.config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open SQLite database: %w", err)
	}
	if cm.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cm.config.MaxOpenConns)
		db.SetMaxIdleConns(cm.config.MaxOpenConns)
	}
	if cm.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cm.config.ConnMaxLifetime)
	}

	if err := cm.ConfigureDatabase(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure SQLite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping SQLite database: %w", err)
	}
	return db, nil
}

// ConfigureDatabase applies the PRAGMA settings to db.
func (cm *ConnectionManager) ConfigureDatabase(db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("busy_timeout = %d", cm.config.BusyTimeout.Milliseconds()),
	}
	if cm.config.JournalMode != "" {
		pragmas = append(pragmas, "journal_mode = "+cm.config.JournalMode)
	}
	if cm.config.Synchronous != "" {
		pragmas = append(pragmas, "synchronous = "+cm.config.Synchronous)
	}
	if cm.config.EnableForeignKeys {
		pragmas = append(pragmas, "foreign_keys = ON")
	}
	if cm.config.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("cache_size = %d", cm.config.CacheSize))
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec("PRAGMA " + pragma); err != nil {
			return fmt.Errorf("set PRAGMA %s: %w", pragma, err)
		}
	}
	return nil
}

// CreateDatabaseDir creates the parent directory of a file database.
func (cm *ConnectionManager) CreateDatabaseDir() error {
	if isMemoryDSN(cm.config.DSN) {
		return nil
	}
	dir := filepath.Dir(strings.TrimPrefix(cm.config.DSN, "file:"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	return nil
}

// ValidateConfig validates the SQLite configuration.
func (cm *ConnectionManager) ValidateConfig() error {
	cfg := cm.config
	if cfg.DSN == "" {
		return errors.New("DSN cannot be empty")
	}
	if cfg.BusyTimeout < 0 {
		return errors.New("BusyTimeout cannot be negative")
	}
	switch cfg.JournalMode {
	case "", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF":
	default:
		return fmt.Errorf("invalid journal mode: %s", cfg.JournalMode)
	}
	switch cfg.Synchronous {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("invalid synchronous mode: %s", cfg.Synchronous)
	}
	if cfg.MaxOpenConns < 0 {
		return errors.New("MaxOpenConns cannot be negative")
	}
	if cfg.ConnMaxLifetime < 0 {
		return errors.New("ConnMaxLifetime cannot be negative")
	}
	return nil
}

// DefaultSQLiteConfig returns the production configuration for a file database.
func DefaultSQLiteConfig(databasePath string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               databasePath,
		BusyTimeout:       30 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		CacheSize:         -2000,
		MaxOpenConns:      1,
	}
}

// TempFileTestSQLiteConfig returns a configuration tuned for throwaway test databases.
func TempFileTestSQLiteConfig(tempFilePath string) SQLiteConfig {
	return SQLiteConfig{
		DSN:               tempFilePath,
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "MEMORY",
		Synchronous:       "OFF",
		CacheSize:         -1000,
		MaxOpenConns:      1,
	}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
