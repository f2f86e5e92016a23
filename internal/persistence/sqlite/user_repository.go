package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SonJH7/Yakssok/internal/persistence"
)

// UserRepository implements persistence.UserRepository using SQLite.
type UserRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// UpsertUser inserts the user or refreshes its non-empty profile fields. The
// stored refresh token is left untouched.
func (r *UserRepository) UpsertUser(ctx context.Context, user persistence.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return persistence.ErrConstraintViolation
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	const query = `
		INSERT INTO users (id, email, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = CASE WHEN excluded.email = '' THEN users.email ELSE excluded.email END,
			display_name = CASE WHEN excluded.display_name = '' THEN users.display_name ELSE excluded.display_name END,
			updated_at = excluded.updated_at
	`
	_, err := r.helper.Exec(ctx, query,
		user.ID,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.DisplayName,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}

	const query = `
		SELECT id, email, display_name, google_refresh_token, created_at, updated_at
		FROM users
		WHERE id = ?
	`
	var (
		user                 persistence.User
		createdAt, updatedAt string
	)
	err := r.helper.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.RefreshToken,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return persistence.User{}, r.mapper.MapError(err)
	}

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.User{}, err
	}
	if len(user.RefreshToken) == 0 {
		user.RefreshToken = nil
	}
	return user, nil
}

// SetRefreshToken stores the sealed refresh token. A nil value clears it.
func (r *UserRepository) SetRefreshToken(ctx context.Context, userID string, sealed []byte, updatedAt time.Time) error {
	const query = `UPDATE users SET google_refresh_token = ?, updated_at = ? WHERE id = ?`

	var value any
	if len(sealed) > 0 {
		value = sealed
	}
	result, err := r.helper.Exec(ctx, query, value, formatTime(updatedAt), userID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
