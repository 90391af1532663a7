// Package migration applies versioned SQL files to a SQLite database.
//
// Migration files are named {version}_{description}.sql and are read from an
// fs.FS, usually an embedded directory. Applied versions are tracked in the
// schema_migrations table so each file runs exactly once, inside its own
// transaction.
//
//	manager := migration.NewMigrationManager(migration.NewFileScanner(), migration.NewSQLiteExecutor(db), files, logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
