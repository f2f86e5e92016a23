package application

import (
	"time"

	"github.com/SonJH7/Yakssok/internal/scheduler"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
}

// AppointmentStatus is the lifecycle state of an appointment. The only
// transition is OPEN to CONFIRMED.
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
	CandidateDates  []scheduler.Date
	Confirmation    *Confirmation
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Location resolves the appointment's time zone, falling back to UTC.
func (a Appointment) Location() *time.Location {
	if a.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasCandidate reports whether date is one of the appointment's candidate dates.
func (a Appointment) HasCandidate(date scheduler.Date) bool {
	for _, candidate := range a.CandidateDates {
		if candidate == date {
			return true
		}
	}
	return false
}

// Confirmation is the slot fixed by the creator. Start and End are absolute
// instants; Date is the calendar date in the appointment's time zone.
type Confirmation struct {
	Date        scheduler.Date
	Start       time.Time
	End         time.Time
	ConfirmedAt time.Time
}

// ParticipationStatus tells whether a participant still attends.
type ParticipationStatus string

const (
	ParticipationJoined   ParticipationStatus = "JOINED"
	ParticipationDeclined ParticipationStatus = "DECLINED"
)

// SyncStatus is the outcome of the last calendar push for one participant.
// The zero value means no attempt has been recorded.
type SyncStatus string

const (
	SyncPending SyncStatus = ""
	SyncSuccess SyncStatus = "success"
	SyncSkipped SyncStatus = "skipped"
	SyncFailed  SyncStatus = "failed"
)

// SyncState holds the sync fields of a participation.
type SyncState struct {
	Status    SyncStatus
	ErrorCode string
	SyncedAt  *time.Time
	EventID   string
}

// Participation links a user to an appointment.
type Participation struct {
	ID            string
	AppointmentID string
	UserID        string
	Status        ParticipationStatus
	// Availability is meaningful only when AvailabilitySubmitted is true. An
	// empty submitted list means the participant is never available.
	Availability          []scheduler.Interval
	AvailabilitySubmitted bool
	Sync                  SyncState
	JoinedAt              time.Time
	UpdatedAt             time.Time
}

// AppointmentDetail is an appointment together with its participants.
type AppointmentDetail struct {
	Appointment  Appointment
	Participants []Participation
	IsCreator    bool
}

// OptimalTimes is the ranked result of an optimal-times computation.
type OptimalTimes struct {
	AppointmentID   string
	AppointmentName string
	// Location is the appointment's time zone; Windows are expressed in it.
	Location          *time.Location
	TotalParticipants int
	Submitted         int
	Windows           []scheduler.Window
	Completeness      scheduler.Completeness
}

// SyncSummary counts participants per sync status.
type SyncSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`
}

// ParticipantSync is the per-participant row of a sync report.
type ParticipantSync struct {
	UserID              string
	ParticipationStatus ParticipationStatus
	SyncStatus          SyncStatus
	SyncError           string
	SyncedAt            *time.Time
	NeedsReauth         bool
}

// SyncReport is returned by the sync status and retry operations.
type SyncReport struct {
	AppointmentID string
	InviteCode    string
	IsCreator     bool
	Summary       SyncSummary
	Participants  []ParticipantSync
	// ReauthURL is set when at least one listed participant needs to grant
	// calendar access again.
	ReauthURL string
}

// ResyncResult describes one background resync pass.
type ResyncResult struct {
	Appointments int
	Summary      SyncSummary
}

// CreateAppointmentParams wraps the data required to create an appointment.
type CreateAppointmentParams struct {
	Principal       Principal
	Name            string
	MaxParticipants int
	CandidateDates  []string
	TimeZone        string
}

// SubmitAvailabilityParams replaces the caller's availability.
type SubmitAvailabilityParams struct {
	Principal  Principal
	InviteCode string
	Intervals  []scheduler.Interval
}

// OptimalTimesParams drives ComputeOptimalTimes.
type OptimalTimesParams struct {
	Principal   Principal
	InviteCode  string
	MinDuration time.Duration
	RangeStart  *scheduler.TimeOfDay
	RangeEnd    *scheduler.TimeOfDay
}

// ConfirmParams fixes the appointment slot. Start and End are wall-clock times
// on Date in the appointment's time zone.
type ConfirmParams struct {
	Principal  Principal
	InviteCode string
	Date       string
	Start      string
	End        string
}

// RetrySyncParams drives RetrySync. Scope is "me" or "all"; empty means "me".
type RetrySyncParams struct {
	Principal  Principal
	InviteCode string
	Scope      string
}

// ScheduleSyncParams drives SyncMySchedules. Nil range bounds fall back to
// DefaultScheduleRangeStart and DefaultScheduleRangeEnd.
type ScheduleSyncParams struct {
	Principal  Principal
	RangeStart *scheduler.TimeOfDay
	RangeEnd   *scheduler.TimeOfDay
}

// ScheduleSyncResult counts the appointments SyncMySchedules worked on.
type ScheduleSyncResult struct {
	Total   int
	Updated int
	Failed  int
}
