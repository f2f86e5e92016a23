package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/config"
	"github.com/SonJH7/Yakssok/internal/google"
	httptransport "github.com/SonJH7/Yakssok/internal/http"
	"github.com/SonJH7/Yakssok/internal/persistence/sqlite"
	"github.com/SonJH7/Yakssok/internal/scheduler"
	"github.com/SonJH7/Yakssok/internal/testfixtures"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "yakssok.db")
	cfg.JWTSecret = "cli-secret"
	cfg.TokenKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.TokenKeyBase64 = base64.StdEncoding.EncodeToString(cfg.TokenKey)
	cfg.Google.ClientID = "client-id"
	cfg.Google.ClientSecret = "client-secret"
	cfg.Log.Level = "error"
	return cfg
}

func runCLI(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out, func() (config.Config, error) { return cfg, nil })
	return out.String(), err
}

func TestRunTokenIssue(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	out, err := runCLI(t, cfg, "token", "issue", "--user", "alice", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token issue returned error: %v", err)
	}
	principal, err := httptransport.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer).Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if principal.UserID != "alice" {
		t.Fatalf("expected subject alice, got %q", principal.UserID)
	}

	if _, err := runCLI(t, cfg, "token", "issue"); err == nil {
		t.Fatalf("expected missing --user to fail")
	}
}

func TestRunCredentialSetAndMigrate(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	out, err := runCLI(t, cfg, "migrate")
	if err != nil {
		t.Fatalf("migrate returned error: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Fatalf("unexpected migrate output %q", out)
	}

	out, err = runCLI(t, cfg, "credential", "set", "--user", "alice", "--refresh-token", "refresh-alice")
	if err != nil {
		t.Fatalf("credential set returned error: %v", err)
	}
	if !strings.Contains(out, "stored refresh token for alice") {
		t.Fatalf("unexpected credential output %q", out)
	}

	storage, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer storage.Close()
	store := newCredentialStoreAdapter(storage, newTestBox(t), time.Now)
	token, err := store.RefreshToken(context.Background(), "alice")
	if err != nil || token != "refresh-alice" {
		t.Fatalf("expected stored token, got %q, %v", token, err)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()
	if _, err := runCLI(t, testConfig(t), "launch"); err == nil {
		t.Fatalf("expected unknown command to fail")
	}
}

type tokenRefresherStub struct{}

func (tokenRefresherStub) Refresh(_ context.Context, refreshToken string) (string, error) {
	return "access-" + refreshToken, nil
}

type calendarWriterStub struct {
	mu     sync.Mutex
	calls  int
	inputs map[string]google.EventInput
}

func (w *calendarWriterStub) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *calendarWriterStub) UpsertEvent(_ context.Context, accessToken, eventID string, input google.EventInput) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.inputs == nil {
		w.inputs = make(map[string]google.EventInput)
	}
	w.inputs[accessToken] = input
	if eventID != "" {
		return eventID, nil
	}
	return "evt-" + accessToken, nil
}

// TestAppointmentFlowOverSQLite drives create, join, availability, optimal
// times, confirmation and the initial calendar sync through the storage
// adapters.
func TestAppointmentFlowOverSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	factory := testfixtures.NewServiceFactory()
	seoul := testfixtures.Seoul()

	appointments := newAppointmentRepositoryAdapter(harness.Appointments)
	participations := newParticipationRepositoryAdapter(harness.Participations)
	credentials := newCredentialStoreAdapter(harness.Users, newTestBox(t), factory.Clock.Now)
	writer := &calendarWriterStub{}

	syncService := factory.NewCalendarSyncService(application.CalendarSyncServiceDeps{
		Appointments:   appointments,
		Participations: participations,
		Credentials:    credentials,
		Tokens:         tokenRefresherStub{},
		Writer:         writer,
	})
	service := factory.NewAppointmentService(application.AppointmentServiceDeps{
		Appointments:    appointments,
		Participations:  participations,
		Users:           newUserRegistryAdapter(harness.Users, factory.Clock.Now),
		Sync:            syncService,
		DefaultTimeZone: "Asia/Seoul",
	})

	creator := application.Principal{UserID: "creator"}
	guest := application.Principal{UserID: "guest"}

	created, err := service.Create(ctx, application.CreateAppointmentParams{
		Principal:       creator,
		Name:            "Team dinner",
		MaxParticipants: 3,
		CandidateDates:  []string{"2024-05-02", "2024-05-01"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.InviteCode != "invite-1" {
		t.Fatalf("expected deterministic invite code, got %q", created.InviteCode)
	}
	if err := credentials.StoreRefreshToken(ctx, creator.UserID, "rt-creator"); err != nil {
		t.Fatalf("StoreRefreshToken returned error: %v", err)
	}

	if _, err := service.Join(ctx, guest, created.InviteCode); err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	submit := func(principal application.Principal, intervals ...scheduler.Interval) {
		t.Helper()
		if _, err := service.SubmitAvailability(ctx, application.SubmitAvailabilityParams{
			Principal:  principal,
			InviteCode: created.InviteCode,
			Intervals:  intervals,
		}); err != nil {
			t.Fatalf("SubmitAvailability(%s) returned error: %v", principal.UserID, err)
		}
	}
	submit(creator, testfixtures.Interval(seoul, "2024-05-01", "18:00", "22:00"))
	submit(guest,
		testfixtures.Interval(seoul, "2024-05-01", "19:00", "21:30"),
		testfixtures.Interval(seoul, "2024-05-02", "10:00", "11:00"),
	)

	optimal, err := service.ComputeOptimalTimes(ctx, application.OptimalTimesParams{
		Principal:   guest,
		InviteCode:  created.InviteCode,
		MinDuration: time.Hour,
	})
	if err != nil {
		t.Fatalf("ComputeOptimalTimes returned error: %v", err)
	}
	if optimal.TotalParticipants != 2 || optimal.Submitted != 2 || len(optimal.Windows) != 1 {
		t.Fatalf("unexpected optimal times: %+v", optimal)
	}
	best := optimal.Windows[0]
	wantStart := time.Date(2024, time.May, 1, 19, 0, 0, 0, seoul)
	wantEnd := time.Date(2024, time.May, 1, 21, 30, 0, 0, seoul)
	if !best.Start.Equal(wantStart) || !best.End.Equal(wantEnd) || best.ParticipantCount != 2 {
		t.Fatalf("unexpected best window: %+v", best)
	}

	factory.Clock.Advance(time.Hour)
	confirmed, err := service.Confirm(ctx, application.ConfirmParams{
		Principal:  creator,
		InviteCode: created.InviteCode,
		Date:       "2024-05-01",
		Start:      "19:00",
		End:        "21:00",
	})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if confirmed.Status != application.AppointmentConfirmed {
		t.Fatalf("expected confirmed status, got %q", confirmed.Status)
	}

	report, err := syncService.GetSyncStatus(ctx, creator, created.InviteCode)
	if err != nil {
		t.Fatalf("GetSyncStatus returned error: %v", err)
	}
	if report.Summary.Total != 2 || report.Summary.Success != 1 || report.Summary.Failed != 1 {
		t.Fatalf("unexpected sync summary: %+v", report.Summary)
	}
	for _, row := range report.Participants {
		switch row.UserID {
		case "creator":
			if row.SyncStatus != application.SyncSuccess {
				t.Fatalf("expected creator sync success, got %+v", row)
			}
		case "guest":
			if row.SyncError != google.CodeMissingRefreshToken || !row.NeedsReauth {
				t.Fatalf("expected guest to need calendar access, got %+v", row)
			}
		}
	}

	input, ok := writer.inputs["access-rt-creator"]
	if !ok {
		t.Fatalf("expected an event pushed with the creator's access token")
	}
	if !input.Start.Equal(wantStart) || input.Summary != "Team dinner" {
		t.Fatalf("unexpected event input: %+v", input)
	}
	stored, err := participations.GetParticipation(ctx, created.ID, creator.UserID)
	if err != nil {
		t.Fatalf("GetParticipation returned error: %v", err)
	}
	if stored.Sync.EventID != "evt-access-rt-creator" {
		t.Fatalf("expected stored event id, got %q", stored.Sync.EventID)
	}

	if _, err := service.Join(ctx, application.Principal{UserID: "late"}, created.InviteCode); err == nil {
		t.Fatalf("expected join after confirmation to fail")
	}
}

// TestSyncLeaseOverSQLite holds a participant's sync lease the way a stalled
// worker would and checks that retries leave the calendar alone until the
// lease runs out.
func TestSyncLeaseOverSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	factory := testfixtures.NewServiceFactory()
	factory.Clock.Step(time.Second)
	const lease = 5 * time.Minute

	appointments := newAppointmentRepositoryAdapter(harness.Appointments)
	participations := newParticipationRepositoryAdapter(harness.Participations)
	credentials := newCredentialStoreAdapter(harness.Users, newTestBox(t), factory.Clock.Now)
	writer := &calendarWriterStub{}

	syncService := factory.NewCalendarSyncService(application.CalendarSyncServiceDeps{
		Appointments:   appointments,
		Participations: participations,
		Credentials:    credentials,
		Tokens:         tokenRefresherStub{},
		Writer:         writer,
		SyncLease:      lease,
	})
	service := factory.NewAppointmentService(application.AppointmentServiceDeps{
		Appointments:    appointments,
		Participations:  participations,
		Users:           newUserRegistryAdapter(harness.Users, factory.Clock.Now),
		Sync:            syncService,
		DefaultTimeZone: "Asia/Seoul",
	})

	creator := application.Principal{UserID: "creator"}
	created, err := service.Create(ctx, application.CreateAppointmentParams{
		Principal:       creator,
		Name:            "Lease check",
		MaxParticipants: 2,
		CandidateDates:  []string{"2024-05-01"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := credentials.StoreRefreshToken(ctx, creator.UserID, "rt-creator"); err != nil {
		t.Fatalf("StoreRefreshToken returned error: %v", err)
	}
	if _, err := service.Confirm(ctx, application.ConfirmParams{
		Principal:  creator,
		InviteCode: created.InviteCode,
		Date:       "2024-05-01",
		Start:      "19:00",
		End:        "21:00",
	}); err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if writer.callCount() != 1 {
		t.Fatalf("expected the initial sync to push once, got %d", writer.callCount())
	}
	first, err := participations.GetParticipation(ctx, created.ID, creator.UserID)
	if err != nil {
		t.Fatalf("GetParticipation returned error: %v", err)
	}
	if first.Sync.Status != application.SyncSuccess || first.Sync.SyncedAt == nil {
		t.Fatalf("unexpected initial sync state: %+v", first.Sync)
	}

	claimedAt := factory.Clock.Now()
	claimed, err := participations.ClaimSync(ctx, first.ID, claimedAt, claimedAt.Add(lease))
	if err != nil || !claimed {
		t.Fatalf("expected to take the lease, got %v, %v", claimed, err)
	}

	retry := application.RetrySyncParams{Principal: creator, InviteCode: created.InviteCode}
	if _, err := syncService.RetrySync(ctx, retry); err != nil {
		t.Fatalf("RetrySync returned error: %v", err)
	}
	if writer.callCount() != 1 {
		t.Fatalf("expected a leased row to skip the calendar, got %d pushes", writer.callCount())
	}

	factory.Clock.ExpireLease(claimedAt, lease)
	if _, err := syncService.RetrySync(ctx, retry); err != nil {
		t.Fatalf("RetrySync returned error: %v", err)
	}
	if writer.callCount() != 2 {
		t.Fatalf("expected an expired lease to allow a push, got %d pushes", writer.callCount())
	}
	second, err := participations.GetParticipation(ctx, created.ID, creator.UserID)
	if err != nil {
		t.Fatalf("GetParticipation returned error: %v", err)
	}
	if second.Sync.EventID != first.Sync.EventID {
		t.Fatalf("expected the stored event to be updated, got %q and %q", first.Sync.EventID, second.Sync.EventID)
	}
	if second.Sync.SyncedAt == nil || !second.Sync.SyncedAt.After(claimedAt.Add(lease)) {
		t.Fatalf("expected a sync time past the lease, got %v", second.Sync.SyncedAt)
	}

	again, err := participations.ClaimSync(ctx, first.ID, factory.Clock.Now(), factory.Clock.Now().Add(lease))
	if err != nil || !again {
		t.Fatalf("expected the recorded sync to release the lease, got %v, %v", again, err)
	}
}
