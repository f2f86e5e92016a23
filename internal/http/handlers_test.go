package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/google"
	"github.com/SonJH7/Yakssok/internal/scheduler"
)

type appointmentServiceStub struct {
	err           error
	appointment   application.Appointment
	optimal       application.OptimalTimes
	lastOptimal   application.OptimalTimesParams
	lastConfirm   application.ConfirmParams
	lastSubmit    application.SubmitAvailabilityParams
	lastCreate    application.CreateAppointmentParams
	lastRespond   application.ParticipationStatus
	lastCode      string
	lastPrincipal application.Principal
}

func (s *appointmentServiceStub) Create(ctx context.Context, params application.CreateAppointmentParams) (application.Appointment, error) {
	s.lastCreate = params
	return s.appointment, s.err
}

func (s *appointmentServiceStub) Join(ctx context.Context, principal application.Principal, inviteCode string) (application.Participation, error) {
	s.lastCode = inviteCode
	s.lastPrincipal = principal
	return application.Participation{UserID: principal.UserID, Status: application.ParticipationJoined}, s.err
}

func (s *appointmentServiceStub) Get(ctx context.Context, principal application.Principal, inviteCode string) (application.AppointmentDetail, error) {
	s.lastCode = inviteCode
	return application.AppointmentDetail{Appointment: s.appointment, IsCreator: principal.UserID == s.appointment.CreatorID}, s.err
}

func (s *appointmentServiceStub) ListMine(ctx context.Context, principal application.Principal) ([]application.Appointment, error) {
	return []application.Appointment{s.appointment}, s.err
}

func (s *appointmentServiceStub) Delete(ctx context.Context, principal application.Principal, inviteCode string) error {
	s.lastCode = inviteCode
	return s.err
}

func (s *appointmentServiceStub) Respond(ctx context.Context, principal application.Principal, inviteCode string, status application.ParticipationStatus) (application.Participation, error) {
	s.lastRespond = status
	return application.Participation{UserID: principal.UserID, Status: status}, s.err
}

func (s *appointmentServiceStub) SubmitAvailability(ctx context.Context, params application.SubmitAvailabilityParams) (application.Participation, error) {
	s.lastSubmit = params
	return application.Participation{UserID: params.Principal.UserID, AvailabilitySubmitted: true, Availability: params.Intervals}, s.err
}

func (s *appointmentServiceStub) ComputeOptimalTimes(ctx context.Context, params application.OptimalTimesParams) (application.OptimalTimes, error) {
	s.lastOptimal = params
	return s.optimal, s.err
}

func (s *appointmentServiceStub) Confirm(ctx context.Context, params application.ConfirmParams) (application.Appointment, error) {
	s.lastConfirm = params
	return s.appointment, s.err
}

func (s *appointmentServiceStub) Confirmed(ctx context.Context, principal application.Principal, inviteCode string) (application.Appointment, error) {
	return s.appointment, s.err
}

type calendarServiceStub struct {
	err          error
	report       application.SyncReport
	page         google.EventPage
	schedules    application.ScheduleSyncResult
	lastRetry    application.RetrySyncParams
	lastList     google.ListOptions
	lastSchedule application.ScheduleSyncParams
}

func (s *calendarServiceStub) GetSyncStatus(ctx context.Context, principal application.Principal, inviteCode string) (application.SyncReport, error) {
	return s.report, s.err
}

func (s *calendarServiceStub) RetrySync(ctx context.Context, params application.RetrySyncParams) (application.SyncReport, error) {
	s.lastRetry = params
	return s.report, s.err
}

func (s *calendarServiceStub) SyncMySchedules(ctx context.Context, params application.ScheduleSyncParams) (application.ScheduleSyncResult, error) {
	s.lastSchedule = params
	return s.schedules, s.err
}

func (s *calendarServiceStub) ListMyEvents(ctx context.Context, principal application.Principal, opts google.ListOptions) (google.EventPage, error) {
	s.lastList = opts
	return s.page, s.err
}

type testServer struct {
	handler      http.Handler
	appointments *appointmentServiceStub
	calendar     *calendarServiceStub
	token        string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	verifier := NewTokenVerifier("test-secret", "yakssok")
	token, err := verifier.IssueToken("creator", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	appointments := &appointmentServiceStub{appointment: sampleAppointment()}
	calendar := &calendarServiceStub{}
	logger := discardLogger()
	handler := NewRouter(RouterConfig{
		Appointments: NewAppointmentHandler(appointments, logger),
		Calendar:     NewCalendarHandler(calendar, logger),
		Authenticate: RequireJWT(verifier, logger),
		Middleware:   []func(http.Handler) http.Handler{RequestLogger(logger)},
	})
	return &testServer{handler: handler, appointments: appointments, calendar: calendar, token: token}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.token)
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, req)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(recorder.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}

func seoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
	return loc
}

func sampleAppointment() application.Appointment {
	date, _ := scheduler.ParseDate("2024-05-01")
	loc := seoul()
	return application.Appointment{
		ID:              "appt-1",
		Name:            "Team dinner",
		CreatorID:       "creator",
		MaxParticipants: 5,
		Status:          application.AppointmentConfirmed,
		InviteCode:      "invite-1",
		TimeZone:        "Asia/Seoul",
		CandidateDates:  []scheduler.Date{date},
		Confirmation: &application.Confirmation{
			Date:        date,
			Start:       time.Date(2024, 5, 1, 19, 0, 0, 0, loc),
			End:         time.Date(2024, 5, 1, 21, 0, 0, 0, loc),
			ConfirmedAt: time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC),
		},
		CreatedAt: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRouterRequiresAuthentication(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	health := httptest.NewRecorder()
	server.handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("expected health check to be public, got %d", health.Code)
	}
}

func TestAppointmentHandlers(t *testing.T) {
	t.Parallel()

	t.Run("create returns the stored appointment", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodPost, "/appointments",
			`{"name":"Team dinner","max_participants":5,"candidate_dates":["2024-05-01"],"time_zone":"Asia/Seoul"}`)
		if recorder.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
		}
		body := decode[appointmentResponse](t, recorder)
		if body.Appointment.InviteCode != "invite-1" || body.Appointment.ConfirmedStartTime != "19:00" {
			t.Fatalf("unexpected appointment body: %+v", body.Appointment)
		}
		if server.appointments.lastCreate.Principal.UserID != "creator" {
			t.Fatalf("expected principal from token, got %+v", server.appointments.lastCreate.Principal)
		}
		if got := server.appointments.lastCreate.CandidateDates; len(got) != 1 || got[0] != "2024-05-01" {
			t.Fatalf("unexpected candidate dates %v", got)
		}
	})

	t.Run("create rejects malformed JSON", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodPost, "/appointments", `{`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
	})

	t.Run("join requires an invite code", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		if recorder := server.do(t, http.MethodPost, "/appointments/join", `{}`); recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
		if recorder := server.do(t, http.MethodPost, "/appointments/join", `{"invite_code":" invite-1 "}`); recorder.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", recorder.Code)
		}
		if server.appointments.lastCode != "invite-1" {
			t.Fatalf("expected trimmed invite code, got %q", server.appointments.lastCode)
		}
	})

	t.Run("respond upper-cases the status", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodPut, "/appointments/invite-1/participation", `{"status":"declined"}`)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if server.appointments.lastRespond != application.ParticipationDeclined {
			t.Fatalf("unexpected status %q", server.appointments.lastRespond)
		}
	})

	t.Run("availability parses RFC 3339 intervals", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodPut, "/appointments/invite-1/availability",
			`{"intervals":[{"start":"2024-05-01T10:00:00+09:00","end":"2024-05-01T12:00:00+09:00"}]}`)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		got := server.appointments.lastSubmit
		if got.InviteCode != "invite-1" || len(got.Intervals) != 1 || got.Intervals[0].Duration() != 2*time.Hour {
			t.Fatalf("unexpected submission: %+v", got)
		}
	})

	t.Run("availability rejects bad timestamps", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodPut, "/appointments/invite-1/availability",
			`{"intervals":[{"start":"yesterday","end":"2024-05-01T12:00:00+09:00"}]}`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
		body := decode[errorResponse](t, recorder)
		if _, ok := body.Errors["intervals[0]"]; !ok || body.ErrorCode != "validation_failed" {
			t.Fatalf("unexpected error body: %+v", body)
		}
	})

	t.Run("optimal times parses query parameters", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		loc := seoul()
		server.appointments.optimal = application.OptimalTimes{
			AppointmentID:     "appt-1",
			Location:          loc,
			TotalParticipants: 2,
			Submitted:         2,
			Completeness:      scheduler.CompletenessComplete,
			Windows: []scheduler.Window{{
				Start:            time.Date(2024, 5, 1, 22, 0, 0, 0, loc),
				End:              time.Date(2024, 5, 2, 0, 0, 0, 0, loc),
				ParticipantCount: 2,
			}},
		}
		recorder := server.do(t, http.MethodGet, "/appointments/invite-1/optimal-times?min_duration_minutes=90&time_range_start=09:00&time_range_end=24:00", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		params := server.appointments.lastOptimal
		if params.MinDuration != 90*time.Minute || params.RangeStart == nil || *params.RangeStart != 9*60 || params.RangeEnd == nil || *params.RangeEnd != scheduler.EndOfDay {
			t.Fatalf("unexpected params: %+v", params)
		}
		body := decode[optimalTimesDTO](t, recorder)
		if len(body.OptimalTimes) != 1 {
			t.Fatalf("expected one window, got %+v", body)
		}
		window := body.OptimalTimes[0]
		if window.Date != "2024-05-01" || window.StartTime != "22:00" || window.EndTime != "24:00" || window.DurationMinutes != 120 {
			t.Fatalf("unexpected window: %+v", window)
		}
		if body.Completeness != "complete" || body.TimeZone != "Asia/Seoul" {
			t.Fatalf("unexpected body: %+v", body)
		}
	})

	t.Run("optimal times rejects bad query parameters", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodGet, "/appointments/invite-1/optimal-times?min_duration_minutes=-5&time_range_start=9am", "")
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}
		body := decode[errorResponse](t, recorder)
		if len(body.Errors) != 2 {
			t.Fatalf("expected two field errors, got %+v", body.Errors)
		}
	})

	t.Run("optimal times caps the minimum duration at one day", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		for _, minutes := range []string{"1441", "9223372036854775807", "153722867280912931"} {
			recorder := server.do(t, http.MethodGet, "/appointments/invite-1/optimal-times?min_duration_minutes="+minutes, "")
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("min_duration_minutes=%s: expected 400, got %d", minutes, recorder.Code)
			}
		}
		if server.appointments.lastOptimal.MinDuration != 0 {
			t.Fatalf("expected rejected requests not to reach the service, got %+v", server.appointments.lastOptimal)
		}

		recorder := server.do(t, http.MethodGet, "/appointments/invite-1/optimal-times?min_duration_minutes=1440", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200 for a full day, got %d", recorder.Code)
		}
		if server.appointments.lastOptimal.MinDuration != 24*time.Hour {
			t.Fatalf("unexpected min duration %v", server.appointments.lastOptimal.MinDuration)
		}
	})

	t.Run("confirm forwards wall-clock fields", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodPost, "/appointments/invite-1/confirm",
			`{"confirmed_date":"2024-05-01","confirmed_start_time":"19:00","confirmed_end_time":"21:00"}`)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		got := server.appointments.lastConfirm
		if got.Date != "2024-05-01" || got.Start != "19:00" || got.End != "21:00" || got.InviteCode != "invite-1" {
			t.Fatalf("unexpected confirm params: %+v", got)
		}
	})

	t.Run("calendar export serves iCalendar", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodGet, "/appointments/invite-1/calendar.ics", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if ct := recorder.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
			t.Fatalf("unexpected content type %q", ct)
		}
		if !strings.Contains(recorder.Body.String(), "BEGIN:VEVENT") {
			t.Fatalf("expected VEVENT in body")
		}
	})

	t.Run("delete returns no content", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		if recorder := server.do(t, http.MethodDelete, "/appointments/invite-1", ""); recorder.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", recorder.Code)
		}
	})
}

func TestServiceErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err            error
		expectedStatus int
		expectedCode   string
		expectReauth   bool
	}{
		{err: application.ErrAppointmentNotFound, expectedStatus: http.StatusNotFound, expectedCode: "appointment_not_found"},
		{err: application.ErrNotParticipant, expectedStatus: http.StatusForbidden, expectedCode: "not_participant"},
		{err: application.ErrCreatorOnly, expectedStatus: http.StatusForbidden, expectedCode: "creator_only"},
		{err: application.ErrInvalidScope, expectedStatus: http.StatusBadRequest, expectedCode: "invalid_scope"},
		{err: application.ErrNotConfirmed, expectedStatus: http.StatusConflict, expectedCode: "appointment_not_confirmed"},
		{err: fmt.Errorf("wrapped: %w", application.ErrNotOpen), expectedStatus: http.StatusConflict, expectedCode: "appointment_not_open"},
		{err: application.ErrCalendarScopeMissing, expectedStatus: http.StatusBadRequest, expectedCode: "calendar_scope_missing", expectReauth: true},
		{err: &application.ValidationError{FieldErrors: map[string]string{"name": "name is required"}}, expectedStatus: http.StatusBadRequest, expectedCode: "validation_failed"},
		{err: &google.ProviderError{Class: google.ClassAuth, Code: "invalid_grant", StatusCode: 400}, expectedStatus: http.StatusUnauthorized, expectedCode: "invalid_grant", expectReauth: true},
		{err: &google.ProviderError{Class: google.ClassReauthRequired, Code: "google_reauth_required", StatusCode: 401}, expectedStatus: http.StatusUnauthorized, expectedCode: "google_reauth_required", expectReauth: true},
		{err: &google.ProviderError{Class: google.ClassForbidden, Code: "insufficient_scope", StatusCode: 403}, expectedStatus: http.StatusForbidden, expectedCode: "insufficient_scope", expectReauth: true},
		{err: &google.ProviderError{Class: google.ClassTransient, Code: "rate_limited", StatusCode: 429}, expectedStatus: http.StatusTooManyRequests, expectedCode: "rate_limited"},
		{err: &google.ProviderError{Class: google.ClassProvider, Code: "calendar_sync_failed", StatusCode: 500}, expectedStatus: http.StatusBadGateway, expectedCode: "calendar_sync_failed"},
		{err: errors.New("disk on fire"), expectedStatus: http.StatusInternalServerError, expectedCode: "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.expectedCode, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(t)
			server.calendar.err = tc.err

			recorder := server.do(t, http.MethodGet, "/calendar/events", "")
			if recorder.Code != tc.expectedStatus {
				t.Fatalf("expected status %d, got %d", tc.expectedStatus, recorder.Code)
			}
			body := decode[errorResponse](t, recorder)
			if body.ErrorCode != tc.expectedCode {
				t.Fatalf("expected code %q, got %q", tc.expectedCode, body.ErrorCode)
			}
			if tc.expectReauth != (body.ReauthURL == application.ReauthURL) {
				t.Fatalf("unexpected reauth url %q", body.ReauthURL)
			}
		})
	}
}

func TestCalendarHandlers(t *testing.T) {
	t.Parallel()

	t.Run("retry forwards scope and renders report", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		syncedAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		server.calendar.report = application.SyncReport{
			AppointmentID: "appt-1",
			InviteCode:    "invite-1",
			IsCreator:     true,
			Summary:       application.SyncSummary{Total: 2, Success: 1, Pending: 1},
			Participants: []application.ParticipantSync{
				{UserID: "creator", ParticipationStatus: application.ParticipationJoined, SyncStatus: application.SyncSuccess, SyncedAt: &syncedAt},
				{UserID: "alice", ParticipationStatus: application.ParticipationJoined, SyncStatus: application.SyncPending},
			},
		}

		recorder := server.do(t, http.MethodPost, "/appointments/invite-1/calendar-sync?scope=all", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if got := server.calendar.lastRetry; got.Scope != "all" || got.InviteCode != "invite-1" || got.Principal.UserID != "creator" {
			t.Fatalf("unexpected retry params: %+v", got)
		}
		body := decode[syncReportDTO](t, recorder)
		if body.Summary.Total != 2 || len(body.Participants) != 2 {
			t.Fatalf("unexpected report: %+v", body)
		}
		if body.Participants[1].SyncStatus != "pending" {
			t.Fatalf("expected pending status label, got %q", body.Participants[1].SyncStatus)
		}
		if body.Participants[0].SyncedAt != "2024-05-01T00:00:00Z" {
			t.Fatalf("unexpected synced_at %q", body.Participants[0].SyncedAt)
		}
	})

	t.Run("list events validates query", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodGet, "/calendar/events?max_results=0&time_min=tomorrow", "")
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}

		recorder = server.do(t, http.MethodGet, "/calendar/events?max_results=10&time_min=2024-05-01T00:00:00Z&page_token=abc", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		got := server.calendar.lastList
		if got.MaxResults != 10 || got.TimeMin != "2024-05-01T00:00:00Z" || got.PageToken != "abc" {
			t.Fatalf("unexpected list options: %+v", got)
		}
		body := decode[google.EventPage](t, recorder)
		if body.Events == nil {
			t.Fatalf("expected empty events array, not null")
		}
	})
	t.Run("sync my schedules reports counts", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		server.calendar.schedules = application.ScheduleSyncResult{Total: 3, Updated: 2, Failed: 1}

		recorder := server.do(t, http.MethodPost, "/appointments/sync-my-schedules?time_range_start=08:00", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
		}
		got := server.calendar.lastSchedule
		if got.Principal.UserID != "creator" || got.RangeStart == nil || *got.RangeStart != 8*60 || got.RangeEnd != nil {
			t.Fatalf("unexpected params: %+v", got)
		}
		body := decode[map[string]int](t, recorder)
		if body["total_appointments"] != 3 || body["updated_count"] != 2 || body["failed_count"] != 1 {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("sync my schedules rejects bad range and maps provider errors", func(t *testing.T) {
		t.Parallel()
		server := newTestServer(t)
		recorder := server.do(t, http.MethodPost, "/appointments/sync-my-schedules?time_range_end=late", "")
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", recorder.Code)
		}

		server.calendar.err = &google.ProviderError{Class: google.ClassAuth, Code: google.CodeInvalidGrant, StatusCode: http.StatusBadRequest}
		recorder = server.do(t, http.MethodPost, "/appointments/sync-my-schedules", "")
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", recorder.Code)
		}
		if body := decode[errorResponse](t, recorder); body.ReauthURL != application.ReauthURL {
			t.Fatalf("expected reauth url, got %+v", body)
		}
	})
}
