package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
)

func TestAppointmentFixture(t *testing.T) {
	open := NewAppointmentFixture(WithInviteCode("dinner"), WithMaxParticipants(3))
	app := open.Application()
	if app.Status != application.AppointmentOpen || app.Confirmation != nil {
		t.Fatalf("expected open appointment, got %+v", app)
	}
	if app.InviteCode != "dinner" || app.MaxParticipants != 3 || len(app.CandidateDates) != 2 {
		t.Fatalf("options not applied: %+v", app)
	}

	start := time.Date(2024, time.May, 1, 23, 0, 0, 0, Seoul())
	confirmed := NewAppointmentFixture(WithConfirmation(start, start.Add(time.Hour))).Application()
	if confirmed.Status != application.AppointmentConfirmed {
		t.Fatalf("expected confirmed appointment, got %q", confirmed.Status)
	}
	if got := confirmed.Confirmation.Date.String(); got != "2024-05-01" {
		t.Fatalf("expected confirmation date in Seoul, got %s", got)
	}
}

func TestIntervalMidnightEnd(t *testing.T) {
	iv := Interval(Seoul(), "2024-05-01", "22:00", "24:00")
	want := time.Date(2024, time.May, 2, 0, 0, 0, 0, Seoul())
	if !iv.End.Equal(want) {
		t.Fatalf("expected end at next midnight, got %v", iv.End)
	}
	if iv.End.Sub(iv.Start) != 2*time.Hour {
		t.Fatalf("unexpected duration %s", iv.End.Sub(iv.Start))
	}
}

func TestNewParticipation(t *testing.T) {
	bare := NewParticipation("appt", "alice")
	if bare.AvailabilitySubmitted || bare.Status != application.ParticipationJoined {
		t.Fatalf("unexpected participation: %+v", bare)
	}
	with := NewParticipation("appt", "bob", Interval(Seoul(), "2024-05-01", "10:00", "11:00"))
	if !with.AvailabilitySubmitted || len(with.Availability) != 1 || with.ID == bare.ID {
		t.Fatalf("unexpected participation: %+v", with)
	}
}

func TestSQLiteHarnessSeedAppointment(t *testing.T) {
	harness := NewSQLiteHarness(t)
	fixture := NewAppointmentFixture()
	seeded := harness.SeedAppointment(t, fixture)

	stored, err := harness.Appointments.GetAppointmentByInviteCode(context.Background(), fixture.InviteCode)
	if err != nil {
		t.Fatalf("GetAppointmentByInviteCode returned error: %v", err)
	}
	if stored.ID != seeded.ID || stored.CreatorID != fixture.CreatorID {
		t.Fatalf("unexpected stored appointment: %+v", stored)
	}
	participants, err := harness.Participations.ListParticipations(context.Background(), fixture.ID)
	if err != nil {
		t.Fatalf("ListParticipations returned error: %v", err)
	}
	if len(participants) != 1 || participants[0].UserID != fixture.CreatorID {
		t.Fatalf("expected the creator as sole participant, got %+v", participants)
	}
}

func TestServiceFactoryDefaults(t *testing.T) {
	factory := NewServiceFactory(WithClock(NewClock(time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))))
	if factory.Clock.Now().Year() != 2024 {
		t.Fatalf("expected injected clock")
	}
	if factory.NewAppointmentService(application.AppointmentServiceDeps{}) == nil {
		t.Fatalf("expected appointment service")
	}
	if factory.NewCalendarSyncService(application.CalendarSyncServiceDeps{}) == nil {
		t.Fatalf("expected calendar sync service")
	}
}
