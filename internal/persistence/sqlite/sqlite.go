package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SonJH7/Yakssok/internal/persistence/sqlite/migration"
)

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	*UserRepository
	*AppointmentRepository
	*ParticipationRepository

	pool   *ConnectionPool
	logger *slog.Logger
}

// Open opens the database file at path with default settings.
func Open(path string) (*Storage, error) {
	return OpenWithConfig(migration.DefaultSQLiteConfig(path), nil)
}

// OpenWithConfig opens a Storage using config.
func OpenWithConfig(config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		UserRepository:          NewUserRepository(pool),
		AppointmentRepository:   NewAppointmentRepository(pool),
		ParticipationRepository: NewParticipationRepository(pool),
		pool:                    pool,
		logger:                  logger,
	}, nil
}

// Migrate applies pending schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	if err := migration.NewRunner(s.pool.DB(), s.logger).Run(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
