package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/SonJH7/Yakssok/internal/persistence"
)

// AppointmentRepository implements persistence.AppointmentRepository using SQLite.
type AppointmentRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewAppointmentRepository creates a new SQLite appointment repository.
func NewAppointmentRepository(pool *ConnectionPool) *AppointmentRepository {
	return &AppointmentRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const appointmentColumns = `
	a.id, a.name, a.creator_id, a.max_participants, a.status, a.invite_code, a.time_zone,
	a.confirmed_date, a.confirmed_start, a.confirmed_end, a.confirmed_at,
	a.created_at, a.updated_at
`

// CreateAppointment inserts the appointment, its candidate dates and the
// creator's participation in one transaction.
func (r *AppointmentRepository) CreateAppointment(ctx context.Context, appointment persistence.Appointment, creator persistence.Participation) error {
	if appointment.ID == "" || creator.ID == "" || len(appointment.CandidateDates) == 0 {
		return persistence.ErrConstraintViolation
	}
	if appointment.Status == "" {
		appointment.Status = persistence.AppointmentOpen
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		const insertAppointment = `
			INSERT INTO appointments (id, name, creator_id, max_participants, status, invite_code, time_zone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, insertAppointment,
			appointment.ID,
			appointment.Name,
			appointment.CreatorID,
			appointment.MaxParticipants,
			string(appointment.Status),
			appointment.InviteCode,
			appointment.TimeZone,
			formatTime(appointment.CreatedAt),
			formatTime(appointment.UpdatedAt),
		); err != nil {
			return r.mapper.MapError(err)
		}

		const insertDate = `INSERT INTO appointment_dates (appointment_id, candidate_date) VALUES (?, ?)`
		for _, date := range appointment.CandidateDates {
			if _, err := tx.ExecContext(ctx, insertDate, appointment.ID, date); err != nil {
				return r.mapper.MapError(err)
			}
		}

		return insertParticipation(ctx, tx, creator, r.mapper)
	})
}

// GetAppointment retrieves an appointment by ID.
func (r *AppointmentRepository) GetAppointment(ctx context.Context, id string) (persistence.Appointment, error) {
	if id == "" {
		return persistence.Appointment{}, persistence.ErrNotFound
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments a WHERE a.id = ?`
	return r.getOne(ctx, query, id)
}

// GetAppointmentByInviteCode retrieves an appointment by its invite code.
func (r *AppointmentRepository) GetAppointmentByInviteCode(ctx context.Context, code string) (persistence.Appointment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return persistence.Appointment{}, persistence.ErrNotFound
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments a WHERE a.invite_code = ?`
	return r.getOne(ctx, query, code)
}

func (r *AppointmentRepository) getOne(ctx context.Context, query string, arg string) (persistence.Appointment, error) {
	appointment, err := scanAppointment(r.helper.QueryRow(ctx, query, arg))
	if err != nil {
		return persistence.Appointment{}, r.mapper.MapError(err)
	}
	dates, err := r.candidateDates(ctx, []string{appointment.ID})
	if err != nil {
		return persistence.Appointment{}, err
	}
	appointment.CandidateDates = dates[appointment.ID]
	return appointment, nil
}

// ListAppointmentsForUser returns appointments the user participates in,
// newest first.
func (r *AppointmentRepository) ListAppointmentsForUser(ctx context.Context, userID string) ([]persistence.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments a
		JOIN participations p ON p.appointment_id = a.id
		WHERE p.user_id = ?
		ORDER BY a.created_at DESC, a.id ASC
	`
	rows, err := r.helper.Query(ctx, query, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var appointments []persistence.Appointment
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	if len(appointments) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(appointments))
	for _, a := range appointments {
		ids = append(ids, a.ID)
	}
	dates, err := r.candidateDates(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range appointments {
		appointments[i].CandidateDates = dates[appointments[i].ID]
	}
	return appointments, nil
}

// DeleteAppointment removes an appointment with its dates and participations.
func (r *AppointmentRepository) DeleteAppointment(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM appointments WHERE id = ?`, id)
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

// ConfirmAppointment performs the guarded OPEN to CONFIRMED transition. The
// status predicate in the UPDATE makes the write a compare-and-set, so only
// one of several concurrent callers can succeed.
func (r *AppointmentRepository) ConfirmAppointment(ctx context.Context, id string, confirmation persistence.Confirmation) error {
	const query = `
		UPDATE appointments
		SET status = ?, confirmed_date = ?, confirmed_start = ?, confirmed_end = ?, confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.helper.Exec(ctx, query,
		string(persistence.AppointmentConfirmed),
		confirmation.Date,
		formatTime(confirmation.Start),
		formatTime(confirmation.End),
		formatTime(confirmation.ConfirmedAt),
		formatTime(confirmation.ConfirmedAt),
		id,
		string(persistence.AppointmentOpen),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = r.helper.QueryRow(ctx, `SELECT 1 FROM appointments WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return persistence.ErrConflict
}

func (r *AppointmentRepository) candidateDates(ctx context.Context, ids []string) (map[string][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT appointment_id, candidate_date FROM appointment_dates WHERE appointment_id IN (` + placeholders + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	dates := make(map[string][]string, len(ids))
	for rows.Next() {
		var appointmentID, date string
		if err := rows.Scan(&appointmentID, &date); err != nil {
			return nil, r.mapper.MapError(err)
		}
		dates[appointmentID] = append(dates[appointmentID], date)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	for id := range dates {
		sort.Strings(dates[id])
	}
	return dates, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (persistence.Appointment, error) {
	var (
		appointment                   persistence.Appointment
		status                        string
		confirmedDate, confirmedStart sql.NullString
		confirmedEnd, confirmedAt     sql.NullString
		createdAt, updatedAt          string
	)
	if err := row.Scan(
		&appointment.ID,
		&appointment.Name,
		&appointment.CreatorID,
		&appointment.MaxParticipants,
		&status,
		&appointment.InviteCode,
		&appointment.TimeZone,
		&confirmedDate,
		&confirmedStart,
		&confirmedEnd,
		&confirmedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Appointment{}, err
	}
	appointment.Status = persistence.AppointmentStatus(status)

	var err error
	if appointment.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Appointment{}, err
	}
	if appointment.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Appointment{}, err
	}

	if confirmedDate.Valid {
		confirmation := persistence.Confirmation{Date: confirmedDate.String}
		if confirmation.Start, err = parseTime(confirmedStart.String); err != nil {
			return persistence.Appointment{}, err
		}
		if confirmation.End, err = parseTime(confirmedEnd.String); err != nil {
			return persistence.Appointment{}, err
		}
		if confirmation.ConfirmedAt, err = parseTime(confirmedAt.String); err != nil {
			return persistence.Appointment{}, err
		}
		appointment.Confirmation = &confirmation
	}
	return appointment, nil
}
