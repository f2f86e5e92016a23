package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/google"
)

const maxEventResults = 250

type calendarSyncService interface {
	GetSyncStatus(ctx context.Context, principal application.Principal, inviteCode string) (application.SyncReport, error)
	RetrySync(ctx context.Context, params application.RetrySyncParams) (application.SyncReport, error)
	ListMyEvents(ctx context.Context, principal application.Principal, opts google.ListOptions) (google.EventPage, error)
	SyncMySchedules(ctx context.Context, params application.ScheduleSyncParams) (application.ScheduleSyncResult, error)
}

// CalendarHandler serves calendar sync status, retry, event listing and the
// availability refresh from the caller's calendar.
type CalendarHandler struct {
	service   calendarSyncService
	responder responder
	logger    *slog.Logger
}

func NewCalendarHandler(service calendarSyncService, logger *slog.Logger) *CalendarHandler {
	base := defaultLogger(logger)
	return &CalendarHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *CalendarHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "CalendarHandler", operation, attrs...)
}

func (h *CalendarHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	code := strings.TrimSpace(r.PathValue("code"))
	principal, _ := PrincipalFromContext(r.Context())

	report, err := h.service.GetSyncStatus(r.Context(), principal, code)
	if err != nil {
		h.log(r.Context(), "SyncStatus", "invite_code", code).WarnContext(r.Context(), "sync status failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSyncReportDTO(report))
}

func (h *CalendarHandler) RetrySync(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	code := strings.TrimSpace(r.PathValue("code"))
	principal, _ := PrincipalFromContext(r.Context())
	scope := r.URL.Query().Get("scope")

	logger := h.log(r.Context(), "RetrySync", "invite_code", code, "scope", scope)
	report, err := h.service.RetrySync(r.Context(), application.RetrySyncParams{
		Principal:  principal,
		InviteCode: code,
		Scope:      scope,
	})
	if err != nil {
		logger.WarnContext(r.Context(), "sync retry rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "sync retried",
		"success", report.Summary.Success,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
	)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSyncReportDTO(report))
}

func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	opts, err := parseListOptions(r)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	page, err := h.service.ListMyEvents(r.Context(), principal, opts)
	if err != nil {
		h.log(r.Context(), "ListEvents").WarnContext(r.Context(), "event listing failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if page.Events == nil {
		page.Events = []google.Event{}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, page)
}

// SyncMySchedules refreshes the caller's availability on every open
// appointment from their calendar.
func (h *CalendarHandler) SyncMySchedules(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	fieldErrors := make(map[string]string)
	rangeStart, rangeEnd := parseTimeRange(r.URL.Query(), fieldErrors)
	if len(fieldErrors) > 0 {
		h.responder.handleServiceError(r.Context(), w, &application.ValidationError{FieldErrors: fieldErrors})
		return
	}

	logger := h.log(r.Context(), "SyncMySchedules")
	result, err := h.service.SyncMySchedules(r.Context(), application.ScheduleSyncParams{
		Principal:  principal,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
	})
	if err != nil {
		logger.WarnContext(r.Context(), "schedule sync failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleSyncDTO{
		TotalAppointments: result.Total,
		UpdatedCount:      result.Updated,
		FailedCount:       result.Failed,
	})
}

func parseListOptions(r *http.Request) (google.ListOptions, error) {
	query := r.URL.Query()
	fieldErrors := make(map[string]string)
	opts := google.ListOptions{
		TimeMin:   strings.TrimSpace(query.Get("time_min")),
		TimeMax:   strings.TrimSpace(query.Get("time_max")),
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}
	for name, value := range map[string]string{"time_min": opts.TimeMin, "time_max": opts.TimeMax} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			fieldErrors[name] = "must be an RFC 3339 timestamp"
		}
	}
	if raw := strings.TrimSpace(query.Get("max_results")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxEventResults {
			fieldErrors["max_results"] = "must be between 1 and " + strconv.Itoa(maxEventResults)
		} else {
			opts.MaxResults = n
		}
	}
	if len(fieldErrors) > 0 {
		return google.ListOptions{}, &application.ValidationError{FieldErrors: fieldErrors}
	}
	return opts, nil
}

type scheduleSyncDTO struct {
	TotalAppointments int `json:"total_appointments"`
	UpdatedCount      int `json:"updated_count"`
	FailedCount       int `json:"failed_count"`
}

type syncReportDTO struct {
	AppointmentID string                  `json:"appointment_id"`
	InviteCode    string                  `json:"invite_code"`
	IsCreator     bool                    `json:"is_creator"`
	Summary       application.SyncSummary `json:"summary"`
	Participants  []participantSyncDTO    `json:"participants"`
	ReauthURL     string                  `json:"reauth_url,omitempty"`
}

type participantSyncDTO struct {
	UserID              string `json:"user_id"`
	ParticipationStatus string `json:"participation_status"`
	SyncStatus          string `json:"sync_status"`
	SyncError           string `json:"sync_error,omitempty"`
	SyncedAt            string `json:"synced_at,omitempty"`
	NeedsReauth         bool   `json:"needs_reauth"`
}

func toSyncReportDTO(report application.SyncReport) syncReportDTO {
	rows := make([]participantSyncDTO, 0, len(report.Participants))
	for _, p := range report.Participants {
		status := string(p.SyncStatus)
		if p.SyncStatus == application.SyncPending {
			status = "pending"
		}
		row := participantSyncDTO{
			UserID:              p.UserID,
			ParticipationStatus: string(p.ParticipationStatus),
			SyncStatus:          status,
			SyncError:           p.SyncError,
			NeedsReauth:         p.NeedsReauth,
		}
		if p.SyncedAt != nil {
			row.SyncedAt = p.SyncedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return syncReportDTO{
		AppointmentID: report.AppointmentID,
		InviteCode:    report.InviteCode,
		IsCreator:     report.IsCreator,
		Summary:       report.Summary,
		Participants:  rows,
		ReauthURL:     report.ReauthURL,
	}
}
