package application

import (
	"context"
	"time"

	"github.com/SonJH7/Yakssok/internal/google"
	"github.com/SonJH7/Yakssok/internal/scheduler"
)

// UserRegistry records users the first time they act.
type UserRegistry interface {
	EnsureUser(ctx context.Context, userID string) error
}

// AppointmentRepository captures the appointment persistence interactions.
type AppointmentRepository interface {
	CreateAppointment(ctx context.Context, appointment Appointment, creator Participation) error
	GetAppointment(ctx context.Context, id string) (Appointment, error)
	GetAppointmentByInviteCode(ctx context.Context, code string) (Appointment, error)
	ListAppointmentsForUser(ctx context.Context, userID string) ([]Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	// ConfirmAppointment must fail when the stored status is no longer OPEN.
	ConfirmAppointment(ctx context.Context, id string, confirmation Confirmation) error
}

// ParticipationRepository captures the participation persistence interactions.
type ParticipationRepository interface {
	CreateParticipation(ctx context.Context, participation Participation, maxParticipants int) error
	GetParticipation(ctx context.Context, appointmentID, userID string) (Participation, error)
	ListParticipations(ctx context.Context, appointmentID string) ([]Participation, error)
	UpdateAvailability(ctx context.Context, participationID string, intervals []scheduler.Interval, updatedAt time.Time) error
	UpdateStatus(ctx context.Context, participationID string, status ParticipationStatus, updatedAt time.Time) error
	// ClaimSync takes the sync lease of a participation until the given time
	// and reports false while another run holds it.
	ClaimSync(ctx context.Context, participationID string, now, until time.Time) (bool, error)
	// RecordSync overwrites every sync field in one write and releases the
	// lease. An empty EventID keeps the stored one.
	RecordSync(ctx context.Context, participationID string, state SyncState) error
	ListResyncCandidates(ctx context.Context, errorCodes []string, limit int) ([]Participation, error)
}

// CredentialStore keeps the long-lived Google refresh token of each user.
type CredentialStore interface {
	// RefreshToken returns "" when the user never granted calendar access.
	RefreshToken(ctx context.Context, userID string) (string, error)
	StoreRefreshToken(ctx context.Context, userID, refreshToken string) error
}

// TokenRefresher exchanges a refresh token for a short-lived access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// CalendarWriter creates or updates the confirmed event on a calendar.
type CalendarWriter interface {
	UpsertEvent(ctx context.Context, accessToken, eventID string, input google.EventInput) (string, error)
}

// CalendarReader lists events of a calendar.
type CalendarReader interface {
	ListEvents(ctx context.Context, accessToken string, opts google.ListOptions) (google.EventPage, error)
}

// SyncTrigger starts the initial calendar sync after confirmation.
type SyncTrigger interface {
	SyncAppointment(ctx context.Context, appointmentID string) (SyncSummary, error)
}
