package persistence

import (
	"context"
	"time"
)

// UserRepository stores accounts and their sealed calendar grants.
type UserRepository interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	SetRefreshToken(ctx context.Context, userID string, sealed []byte, updatedAt time.Time) error
}

// AppointmentRepository stores appointments and their candidate dates.
type AppointmentRepository interface {
	// CreateAppointment inserts the appointment together with the creator's
	// participation.
	CreateAppointment(ctx context.Context, appointment Appointment, creator Participation) error
	GetAppointment(ctx context.Context, id string) (Appointment, error)
	GetAppointmentByInviteCode(ctx context.Context, code string) (Appointment, error)
	ListAppointmentsForUser(ctx context.Context, userID string) ([]Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	// ConfirmAppointment moves an OPEN appointment to CONFIRMED. It returns
	// ErrConflict when the appointment is no longer OPEN.
	ConfirmAppointment(ctx context.Context, id string, confirmation Confirmation) error
}

// ParticipationRepository stores participations and their sync state.
type ParticipationRepository interface {
	// CreateParticipation inserts a participation unless the appointment has
	// reached maxParticipants.
	CreateParticipation(ctx context.Context, participation Participation, maxParticipants int) error
	GetParticipation(ctx context.Context, appointmentID, userID string) (Participation, error)
	ListParticipations(ctx context.Context, appointmentID string) ([]Participation, error)
	UpdateAvailability(ctx context.Context, participationID string, slots []Slot, updatedAt time.Time) error
	UpdateStatus(ctx context.Context, participationID, status string, updatedAt time.Time) error
	// ClaimSync takes the sync lease of a participation until the given time.
	// It returns false when another run holds an unexpired lease.
	ClaimSync(ctx context.Context, participationID string, now, until time.Time) (bool, error)
	// UpdateSync records a sync outcome and releases the lease.
	UpdateSync(ctx context.Context, update SyncUpdate) error
	ListResyncCandidates(ctx context.Context, filter ResyncFilter) ([]Participation, error)
}
