package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/SonJH7/Yakssok/internal/persistence"
	"github.com/SonJH7/Yakssok/internal/persistence/sqlite"
	"github.com/SonJH7/Yakssok/internal/persistence/sqlite/migration"
)

// SQLiteHarness exposes a migrated SQLite storage in a temporary directory.
type SQLiteHarness struct {
	Storage        *sqlite.Storage
	Users          persistence.UserRepository
	Appointments   persistence.AppointmentRepository
	Participations persistence.ParticipationRepository

	cleanup func()
}

// Close releases the storage. It is also registered with tb.Cleanup.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a fresh database file.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "yakssok.db")
	storage, err := sqlite.OpenWithConfig(migration.TempFileTestSQLiteConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage:        storage,
		Users:          storage,
		Appointments:   storage,
		Participations: storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// SeedAppointment stores the creator user, the appointment and the creator's
// participation.
func (h *SQLiteHarness) SeedAppointment(tb testing.TB, fixture AppointmentFixture) persistence.Appointment {
	tb.Helper()
	ctx := context.Background()

	if err := h.Users.UpsertUser(ctx, persistence.User{ID: fixture.CreatorID}); err != nil {
		tb.Fatalf("failed to seed creator: %v", err)
	}
	appointment := fixture.Persistence()
	creator := persistence.Participation{
		ID:            "part-" + fixture.ID + "-creator",
		AppointmentID: fixture.ID,
		UserID:        fixture.CreatorID,
		Status:        "JOINED",
		CreatedAt:     fixture.CreatedAt,
		UpdatedAt:     fixture.CreatedAt,
	}
	if err := h.Appointments.CreateAppointment(ctx, appointment, creator); err != nil {
		tb.Fatalf("failed to seed appointment: %v", err)
	}
	return appointment
}
