package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"time"
)

// Manager discovers migrations and applies the pending ones in version order.
type Manager struct {
	scanner  FileScanner
	executor Executor
	files    fs.FS
	logger   *slog.Logger
}

// NewMigrationManager creates a Manager reading migration files from files.
func NewMigrationManager(scanner FileScanner, executor Executor, files fs.FS, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		scanner:  scanner,
		executor: executor,
		files:    files,
		logger:   logger.With(slog.String("component", "migration")),
	}
}

// RunMigrations executes all pending migrations in sequential order. A failing
// migration stops the run; earlier migrations stay applied.
func (m *Manager) RunMigrations(ctx context.Context) error {
	started := time.Now()
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return fmt.Errorf("initialize version table: %w", err)
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date")
		return nil
	}

	for i, migration := range pending {
		elapsed, err := m.executor.ExecuteMigration(ctx, migration)
		if err != nil {
			m.logger.ErrorContext(ctx, "migration failed",
				slog.String("version", migration.Version),
				slog.String("file", migration.FilePath),
				slog.Any("error", err),
			)
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
		m.logger.InfoContext(ctx, "migration applied",
			slog.String("version", migration.Version),
			slog.String("description", migration.Description),
			slog.Int("position", i+1),
			slog.Int("pending", len(pending)),
			slog.Duration("elapsed", elapsed),
		)
	}

	m.logger.InfoContext(ctx, "migrations completed",
		slog.Int("count", len(pending)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// GetPendingMigrations returns the migrations that have not been applied yet.
// Applied migrations whose file disappeared or changed are reported as errors.
func (m *Manager) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	available, err := m.scanner.ScanMigrations(m.files)
	if err != nil {
		return nil, fmt.Errorf("scan migrations: %w", err)
	}
	if err := validateSequence(available); err != nil {
		return nil, err
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}

	byVersion := make(map[int]Migration, len(available))
	for _, migration := range available {
		byVersion[versionNumber(migration.Version)] = migration
	}

	done := make(map[int]bool, len(applied))
	for _, record := range applied {
		number := versionNumber(record.Version)
		migration, ok := byVersion[number]
		if !ok {
			return nil, NewMigrationError(record.Version, "", "verify history",
				fmt.Errorf("%w: applied version has no migration file", ErrVersionConflict))
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return nil, NewMigrationError(record.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
		done[number] = true
	}

	var pending []Migration
	for _, migration := range available {
		if !done[versionNumber(migration.Version)] {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// Status reports the applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (MigrationStatus, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return MigrationStatus{}, fmt.Errorf("initialize version table: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("get applied versions: %w", err)
	}
	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}

	status := MigrationStatus{AppliedMigrations: applied, PendingMigrations: pending}
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}
	return status, nil
}

// validateSequence requires versions to start at 1 and increase without gaps.
func validateSequence(migrations []Migration) error {
	for i, migration := range migrations {
		if got := versionNumber(migration.Version); got != i+1 {
			return NewMigrationError(migration.Version, migration.FilePath, "validate sequence",
				fmt.Errorf("%w: expected version %d, found %d", ErrVersionConflict, i+1, got))
		}
	}
	return nil
}
