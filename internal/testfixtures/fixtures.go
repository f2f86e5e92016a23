package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/persistence"
	"github.com/SonJH7/Yakssok/internal/scheduler"
)

var (
	appointmentCounter   uint64
	participationCounter uint64
)

var referenceTime = time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Seoul returns the Asia/Seoul location, panicking when tzdata is missing.
func Seoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(fmt.Sprintf("testfixtures: load Asia/Seoul: %v", err))
	}
	return loc
}

// ------------------------- Appointment fixtures -------------------------

// AppointmentFixture is a deterministic appointment that can be materialised
// for application or persistence tests.
type AppointmentFixture struct {
	ID              string
	Name            string
	CreatorID       string
	MaxParticipants int
	InviteCode      string
	TimeZone        string
	CandidateDates  []string
	Confirmation    *application.Confirmation
	CreatedAt       time.Time
}

// AppointmentOption configures the generated appointment fixture.
type AppointmentOption func(*AppointmentFixture)

// NewAppointmentFixture returns an open appointment with two candidate dates.
func NewAppointmentFixture(opts ...AppointmentOption) AppointmentFixture {
	idx := atomic.AddUint64(&appointmentCounter, 1)
	fixture := AppointmentFixture{
		ID:              fmt.Sprintf("appt-%03d", idx),
		Name:            fmt.Sprintf("Dinner %03d", idx),
		CreatorID:       "creator",
		MaxParticipants: 5,
		InviteCode:      fmt.Sprintf("invite-%03d", idx),
		TimeZone:        "Asia/Seoul",
		CandidateDates:  []string{"2024-05-01", "2024-05-02"},
		CreatedAt:       referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithAppointmentID overrides the generated identifier.
func WithAppointmentID(id string) AppointmentOption {
	return func(f *AppointmentFixture) { f.ID = id }
}

// WithCreator overrides the creator.
func WithCreator(userID string) AppointmentOption {
	return func(f *AppointmentFixture) { f.CreatorID = userID }
}

// WithInviteCode overrides the invite code.
func WithInviteCode(code string) AppointmentOption {
	return func(f *AppointmentFixture) { f.InviteCode = code }
}

// WithMaxParticipants overrides the capacity.
func WithMaxParticipants(n int) AppointmentOption {
	return func(f *AppointmentFixture) { f.MaxParticipants = n }
}

// WithCandidateDates replaces the candidate dates.
func WithCandidateDates(dates ...string) AppointmentOption {
	return func(f *AppointmentFixture) { f.CandidateDates = append([]string(nil), dates...) }
}

// WithConfirmation marks the appointment confirmed for start..end on the
// calendar date of start in the appointment's zone.
func WithConfirmation(start, end time.Time) AppointmentOption {
	return func(f *AppointmentFixture) {
		loc, err := time.LoadLocation(f.TimeZone)
		if err != nil {
			loc = time.UTC
		}
		f.Confirmation = &application.Confirmation{
			Date:        scheduler.DateOf(start.In(loc)),
			Start:       start,
			End:         end,
			ConfirmedAt: f.CreatedAt.Add(time.Hour),
		}
	}
}

// Application materialises the fixture as an application.Appointment.
func (f AppointmentFixture) Application() application.Appointment {
	dates := make([]scheduler.Date, 0, len(f.CandidateDates))
	for _, value := range f.CandidateDates {
		date, err := scheduler.ParseDate(value)
		if err != nil {
			panic(fmt.Sprintf("testfixtures: candidate date %q: %v", value, err))
		}
		dates = append(dates, date)
	}
	status := application.AppointmentOpen
	var confirmation *application.Confirmation
	if f.Confirmation != nil {
		status = application.AppointmentConfirmed
		c := *f.Confirmation
		confirmation = &c
	}
	return application.Appointment{
		ID:              f.ID,
		Name:            f.Name,
		CreatorID:       f.CreatorID,
		MaxParticipants: f.MaxParticipants,
		Status:          status,
		InviteCode:      f.InviteCode,
		TimeZone:        f.TimeZone,
		CandidateDates:  dates,
		Confirmation:    confirmation,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
	}
}

// Persistence materialises the fixture as a persistence.Appointment. The
// stored row is always OPEN; confirm it through the repository.
func (f AppointmentFixture) Persistence() persistence.Appointment {
	return persistence.Appointment{
		ID:              f.ID,
		Name:            f.Name,
		CreatorID:       f.CreatorID,
		MaxParticipants: f.MaxParticipants,
		Status:          persistence.AppointmentOpen,
		InviteCode:      f.InviteCode,
		TimeZone:        f.TimeZone,
		CandidateDates:  append([]string(nil), f.CandidateDates...),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
	}
}

// ------------------------ Participation fixtures ------------------------

// NewParticipation returns a JOINED participation of userID in appointmentID.
// Passing intervals marks availability as submitted.
func NewParticipation(appointmentID, userID string, intervals ...scheduler.Interval) application.Participation {
	idx := atomic.AddUint64(&participationCounter, 1)
	p := application.Participation{
		ID:            fmt.Sprintf("part-%03d", idx),
		AppointmentID: appointmentID,
		UserID:        userID,
		Status:        application.ParticipationJoined,
		JoinedAt:      referenceTime,
		UpdatedAt:     referenceTime,
	}
	if len(intervals) > 0 {
		p.Availability = append([]scheduler.Interval(nil), intervals...)
		p.AvailabilitySubmitted = true
	}
	return p
}

// Interval builds an interval on date between the given HH:MM clock times in
// loc. An end of "24:00" means midnight after date.
func Interval(loc *time.Location, date, start, end string) scheduler.Interval {
	return scheduler.Interval{
		Start: clockTime(loc, date, start),
		End:   clockTime(loc, date, end),
	}
}

func clockTime(loc *time.Location, date, clock string) time.Time {
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		panic(fmt.Sprintf("testfixtures: date %q: %v", date, err))
	}
	var hour, minute int
	if _, err := fmt.Sscanf(clock, "%d:%d", &hour, &minute); err != nil {
		panic(fmt.Sprintf("testfixtures: clock %q: %v", clock, err))
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}
