package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Runner applies pending migrations in version order.
type Runner struct {
	db     *sql.DB
	files  fs.FS
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner over the embedded schema files.
func NewRunner(db *sql.DB, logger *slog.Logger) *Runner {
	return NewRunnerFS(db, embedded, "sql", logger)
}

// NewRunnerFS creates a Runner reading migrations from dir inside files.
func NewRunnerFS(db *sql.DB, files fs.FS, dir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{db: db, files: files, dir: dir, logger: logger, now: time.Now}
}

// Run initialises the version table and applies every pending migration.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.initializeVersionTable(ctx); err != nil {
		return err
	}

	available, err := r.Scan()
	if err != nil {
		return err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}

	appliedByVersion := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}

	pending := make([]Migration, 0, len(available))
	for _, m := range available {
		prior, ok := appliedByVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if prior.Checksum != "" && prior.Checksum != m.Checksum {
			return NewMigrationError(m.Version, m.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}

	if len(pending) == 0 {
		r.logger.Debug("schema up to date", "applied", len(applied))
		return nil
	}

	for i, m := range pending {
		started := time.Now()
		r.logger.Info("applying migration",
			"version", m.Version,
			"description", m.Description,
			"position", i+1,
			"pending", len(pending),
		)
		if err := r.execute(ctx, m, started); err != nil {
			r.logger.Error("migration failed", "version", m.Version, "error", err)
			return NewMigrationError(m.Version, m.FilePath, "execute migration", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}
	}
	return nil
}

// Scan reads and orders the migration files.
func (r *Runner) Scan() ([]Migration, error) {
	entries, err := fs.ReadDir(r.files, r.dir)
	if err != nil {
		return nil, NewMigrationError("", r.dir, "read directory", err)
	}

	var migrations []Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		match := migrationFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			return nil, NewMigrationError("", entry.Name(), "validate filename", ErrInvalidMigrationFile)
		}
		version := match[1]
		if existing, ok := seen[version]; ok {
			return nil, NewMigrationError(version, entry.Name(), "check duplicates",
				fmt.Errorf("%w: version %s found in both %s and %s", ErrDuplicateVersion, version, existing, entry.Name()))
		}
		seen[version] = entry.Name()

		filePath := path.Join(r.dir, entry.Name())
		content, err := fs.ReadFile(r.files, filePath)
		if err != nil {
			return nil, NewMigrationError(version, filePath, "read file", err)
		}
		if len(parseSQL(string(content))) == 0 {
			return nil, NewMigrationError(version, filePath, "parse SQL", ErrInvalidMigrationFile)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:     version,
			Description: strings.ReplaceAll(match[2], "_", " "),
			SQL:         string(content),
			FilePath:    filePath,
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		vi, _ := strconv.Atoi(migrations[i].Version)
		vj, _ := strconv.Atoi(migrations[j].Version)
		return vi < vj
	})
	return migrations, nil
}

// Applied lists migrations recorded in schema_migrations.
func (r *Runner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	const query = `
		SELECT version, applied_at, COALESCE(execution_time_ms, 0), COALESCE(checksum, '')
		FROM schema_migrations
		ORDER BY version ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewDatabaseError("", query, "get applied versions", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			version, appliedAt, checksum string
			executionMs                  int64
		)
		if err := rows.Scan(&version, &appliedAt, &executionMs, &checksum); err != nil {
			return nil, NewDatabaseError("", query, "scan applied migration", err)
		}
		at, _ := time.Parse(time.RFC3339, appliedAt)
		applied = append(applied, AppliedMigration{
			Version:       version,
			AppliedAt:     at,
			ExecutionTime: time.Duration(executionMs) * time.Millisecond,
			Checksum:      checksum,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, NewDatabaseError("", query, "iterate applied migrations", err)
	}
	return applied, nil
}

func (r *Runner) initializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			checksum TEXT,
			execution_time_ms INTEGER
		)
	`
	if _, err := r.db.ExecContext(ctx, createTableSQL); err != nil {
		return NewDatabaseError("", createTableSQL, "create schema_migrations table", err)
	}
	return nil
}

// execute runs the statements and records the version in one transaction.
func (r *Runner) execute(ctx context.Context, m Migration, started time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return NewDatabaseError(m.Version, "", "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Warn("migration rollback failed", "version", m.Version, "error", rbErr)
			}
		}
	}()

	for i, stmt := range parseSQL(m.SQL) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return NewDatabaseError(m.Version, stmt, fmt.Sprintf("execute statement %d", i+1), execErr)
		}
	}

	const insertSQL = `
		INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms)
		VALUES (?, ?, ?, ?)
	`
	elapsed := time.Since(started)
	if _, err = tx.ExecContext(ctx, insertSQL, m.Version, r.now().UTC().Format(time.RFC3339), m.Checksum, elapsed.Milliseconds()); err != nil {
		return NewDatabaseError(m.Version, insertSQL, "record migration", err)
	}

	if err = tx.Commit(); err != nil {
		return NewDatabaseError(m.Version, "", "commit transaction", err)
	}
	return nil
}

// parseSQL splits SQL content into statements and drops comment-only lines.
func parseSQL(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
