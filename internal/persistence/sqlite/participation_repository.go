package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SonJH7/Yakssok/internal/persistence"
)

// ParticipationRepository implements persistence.ParticipationRepository using SQLite.
type ParticipationRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewParticipationRepository creates a new SQLite participation repository.
func NewParticipationRepository(pool *ConnectionPool) *ParticipationRepository {
	return &ParticipationRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

const participationColumns = `
	p.id, p.appointment_id, p.user_id, p.participation_status, p.available_slots,
	p.calendar_sync_status, p.calendar_sync_error, p.calendar_synced_at, p.google_event_id,
	p.created_at, p.updated_at
`

// CreateParticipation inserts a participation while enforcing the
// appointment's capacity inside the same write transaction.
func (r *ParticipationRepository) CreateParticipation(ctx context.Context, participation persistence.Participation, maxParticipants int) error {
	if participation.ID == "" || participation.AppointmentID == "" || participation.UserID == "" {
		return persistence.ErrConstraintViolation
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM participations WHERE appointment_id = ?`,
			participation.AppointmentID,
		).Scan(&count); err != nil {
			return r.mapper.MapError(err)
		}
		if maxParticipants > 0 && count >= maxParticipants {
			return persistence.ErrCapacityReached
		}
		return insertParticipation(ctx, tx, participation, r.mapper)
	})
}

func insertParticipation(ctx context.Context, tx *sql.Tx, p persistence.Participation, mapper *ErrorMapper) error {
	slots, err := encodeSlots(p.AvailableSlots, p.SlotsSubmitted)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO participations (id, appointment_id, user_id, participation_status, available_slots, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		p.ID,
		p.AppointmentID,
		p.UserID,
		p.Status,
		slots,
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	); err != nil {
		return mapper.MapError(err)
	}
	return nil
}

// GetParticipation retrieves the participation of userID in appointmentID.
func (r *ParticipationRepository) GetParticipation(ctx context.Context, appointmentID, userID string) (persistence.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations p WHERE p.appointment_id = ? AND p.user_id = ?`
	participation, err := scanParticipation(r.helper.QueryRow(ctx, query, appointmentID, userID))
	if err != nil {
		return persistence.Participation{}, r.mapper.MapError(err)
	}
	return participation, nil
}

// ListParticipations returns every participation of an appointment in join order.
func (r *ParticipationRepository) ListParticipations(ctx context.Context, appointmentID string) ([]persistence.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations p WHERE p.appointment_id = ? ORDER BY p.created_at ASC, p.id ASC`
	return r.list(ctx, query, appointmentID)
}

// UpdateAvailability replaces the participant's submitted intervals.
func (r *ParticipationRepository) UpdateAvailability(ctx context.Context, participationID string, slots []persistence.Slot, updatedAt time.Time) error {
	encoded, err := encodeSlots(slots, true)
	if err != nil {
		return err
	}
	result, err := r.helper.Exec(ctx,
		`UPDATE participations SET available_slots = ?, updated_at = ? WHERE id = ?`,
		encoded, formatTime(updatedAt), participationID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result)
}

// UpdateStatus changes whether the participant still attends.
func (r *ParticipationRepository) UpdateStatus(ctx context.Context, participationID, status string, updatedAt time.Time) error {
	result, err := r.helper.Exec(ctx,
		`UPDATE participations SET participation_status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(updatedAt), participationID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireRow(result)
}

// ClaimSync takes the sync lease when it is free or expired. Only one caller
// wins while the lease is held, so a participation never has two provider
// calls in flight.
func (r *ParticipationRepository) ClaimSync(ctx context.Context, participationID string, now, until time.Time) (bool, error) {
	const query = `
		UPDATE participations
		SET sync_lease_until = ?
		WHERE id = ? AND (sync_lease_until IS NULL OR sync_lease_until <= ?)
	`
	var claimed bool
	err := r.retry.WithRetry(ctx, func() error {
		result, err := r.helper.Exec(ctx, query, until.UnixMilli(), participationID, now.UnixMilli())
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		claimed = rows == 1
		return nil
	})
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	if claimed {
		return true, nil
	}
	// Tell a held lease apart from a missing row.
	var exists int
	if err := r.helper.QueryRow(ctx, `SELECT 1 FROM participations WHERE id = ?`, participationID).Scan(&exists); err != nil {
		return false, r.mapper.MapError(err)
	}
	return false, nil
}

// UpdateSync overwrites every sync field in one statement and releases the
// sync lease.
func (r *ParticipationRepository) UpdateSync(ctx context.Context, update persistence.SyncUpdate) error {
	const query = `
		UPDATE participations
		SET calendar_sync_status = ?,
			calendar_sync_error = ?,
			calendar_synced_at = ?,
			google_event_id = CASE WHEN ? = '' THEN google_event_id ELSE ? END,
			sync_lease_until = NULL,
			updated_at = ?
		WHERE id = ?
	`
	updatedAt := update.SyncedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.retry.WithRetry(ctx, func() error {
		result, err := r.helper.Exec(ctx, query,
			update.Status,
			update.ErrorCode,
			nullableTime(&update.SyncedAt),
			update.EventID,
			update.EventID,
			formatTime(updatedAt),
			update.ParticipationID,
		)
		if err != nil {
			return err
		}
		return requireRow(result)
	})
}

// ListResyncCandidates returns participations of confirmed appointments that
// were never synced or whose last attempt failed with one of filter.ErrorCodes.
// Rows with a sync run in flight are left out.
func (r *ParticipationRepository) ListResyncCandidates(ctx context.Context, filter persistence.ResyncFilter) ([]persistence.Participation, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	args := []any{string(persistence.AppointmentConfirmed), now.UnixMilli()}
	condition := `p.calendar_sync_status = ''`
	if len(filter.ErrorCodes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.ErrorCodes)), ",")
		condition = `(p.calendar_sync_status = '' OR (p.calendar_sync_status = 'failed' AND p.calendar_sync_error IN (` + placeholders + `)))`
		for _, code := range filter.ErrorCodes {
			args = append(args, code)
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `
		SELECT ` + participationColumns + `
		FROM participations p
		JOIN appointments a ON a.id = p.appointment_id
		WHERE a.status = ?
			AND (p.sync_lease_until IS NULL OR p.sync_lease_until <= ?)
			AND ` + condition + `
		ORDER BY p.updated_at ASC, p.id ASC
		LIMIT ?
	`
	return r.list(ctx, query, args...)
}

func (r *ParticipationRepository) list(ctx context.Context, query string, args ...any) ([]persistence.Participation, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var participations []persistence.Participation
	for rows.Next() {
		participation, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		participations = append(participations, participation)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return participations, nil
}

func scanParticipation(row rowScanner) (persistence.Participation, error) {
	var (
		p                    persistence.Participation
		slots, syncedAt      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.UserID,
		&p.Status,
		&slots,
		&p.SyncStatus,
		&p.SyncError,
		&syncedAt,
		&p.EventID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Participation{}, err
	}

	var err error
	if slots.Valid {
		p.SlotsSubmitted = true
		if err := json.Unmarshal([]byte(slots.String), &p.AvailableSlots); err != nil {
			return persistence.Participation{}, fmt.Errorf("decode available slots for %s: %w", p.ID, err)
		}
	}
	if p.SyncedAt, err = parseNullableTime(syncedAt); err != nil {
		return persistence.Participation{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Participation{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Participation{}, err
	}
	return p, nil
}

func encodeSlots(slots []persistence.Slot, submitted bool) (sql.NullString, error) {
	if !submitted {
		return sql.NullString{}, nil
	}
	if slots == nil {
		slots = []persistence.Slot{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode available slots: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
