package persistence

import "time"

// User represents an account that can create or join appointments.
type User struct {
	ID          string
	Email       string
	DisplayName string
	// RefreshToken holds the sealed Google refresh token, nil when the user
	// never granted calendar access.
	RefreshToken []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentOpen      AppointmentStatus = "OPEN"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
)

// Appointment is a group meeting being scheduled.
type Appointment struct {
	ID              string
	Name            string
	CreatorID       string
	MaxParticipants int
	Status          AppointmentStatus
	InviteCode      string
	TimeZone        string
	// CandidateDates are YYYY-MM-DD strings fixed at creation.
	CandidateDates []string
	Confirmation   *Confirmation
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Confirmation carries the fields written by the OPEN to CONFIRMED transition.
type Confirmation struct {
	Date        string
	Start       time.Time
	End         time.Time
	ConfirmedAt time.Time
}

// Slot is one stored availability interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Participation links a user to an appointment.
type Participation struct {
	ID            string
	AppointmentID string
	UserID        string
	Status        string
	// AvailableSlots is nil until the participant submits availability.
	AvailableSlots []Slot
	SlotsSubmitted bool
	SyncStatus     string
	SyncError      string
	SyncedAt       *time.Time
	EventID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SyncUpdate overwrites the sync fields of one participation. An empty EventID
// keeps the stored one.
type SyncUpdate struct {
	ParticipationID string
	Status          string
	ErrorCode       string
	SyncedAt        time.Time
	EventID         string
}

// ResyncFilter selects participations whose last sync should be re-driven.
type ResyncFilter struct {
	// ErrorCodes lists failure codes considered transient.
	ErrorCodes []string
	Limit      int
	// Now excludes rows whose sync lease is still held. Zero means time.Now.
	Now time.Time
}
