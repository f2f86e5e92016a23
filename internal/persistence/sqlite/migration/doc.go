// Package migration applies the versioned SQLite schema embedded in the binary.
//
// Migration files live under sql/ and follow the naming convention
// {version}_{description}.sql (e.g. "001_initial_schema.sql"). Each file runs
// inside its own transaction and is recorded in the schema_migrations table so
// it is never applied twice.
//
// Example usage:
//
//	runner := NewRunner(db, logger)
//	if err := runner.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
