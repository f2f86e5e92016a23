package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/ics"
	"github.com/SonJH7/Yakssok/internal/scheduler"
)

type appointmentService interface {
	Create(ctx context.Context, params application.CreateAppointmentParams) (application.Appointment, error)
	Join(ctx context.Context, principal application.Principal, inviteCode string) (application.Participation, error)
	Get(ctx context.Context, principal application.Principal, inviteCode string) (application.AppointmentDetail, error)
	ListMine(ctx context.Context, principal application.Principal) ([]application.Appointment, error)
	Delete(ctx context.Context, principal application.Principal, inviteCode string) error
	Respond(ctx context.Context, principal application.Principal, inviteCode string, status application.ParticipationStatus) (application.Participation, error)
	SubmitAvailability(ctx context.Context, params application.SubmitAvailabilityParams) (application.Participation, error)
	ComputeOptimalTimes(ctx context.Context, params application.OptimalTimesParams) (application.OptimalTimes, error)
	Confirm(ctx context.Context, params application.ConfirmParams) (application.Appointment, error)
	Confirmed(ctx context.Context, principal application.Principal, inviteCode string) (application.Appointment, error)
}

// AppointmentHandler serves the appointment endpoints.
type AppointmentHandler struct {
	service   appointmentService
	responder responder
	logger    *slog.Logger
}

func NewAppointmentHandler(service appointmentService, logger *slog.Logger) *AppointmentHandler {
	base := defaultLogger(logger)
	return &AppointmentHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AppointmentHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AppointmentHandler", operation, attrs...)
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID)
	appointment, err := h.service.Create(r.Context(), application.CreateAppointmentParams{
		Principal:       principal,
		Name:            req.Name,
		MaxParticipants: req.MaxParticipants,
		CandidateDates:  req.CandidateDates,
		TimeZone:        req.TimeZone,
	})
	if err != nil {
		logger.WarnContext(r.Context(), "appointment creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("appointment_id", appointment.ID).InfoContext(r.Context(), "appointment created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, appointmentResponse{Appointment: toAppointmentDTO(appointment)})
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "List", "principal_id", principal.UserID)
	appointments, err := h.service.ListMine(r.Context(), principal)
	if err != nil {
		logger.WarnContext(r.Context(), "appointment list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]appointmentDTO, 0, len(appointments))
	for _, appointment := range appointments {
		dtos = append(dtos, toAppointmentDTO(appointment))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listAppointmentsResponse{Appointments: dtos})
}

func (h *AppointmentHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	code := strings.TrimSpace(req.InviteCode)
	if code == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errMissingCode)
		return
	}

	logger := h.log(r.Context(), "Join", "principal_id", principal.UserID, "invite_code", code)
	participation, err := h.service.Join(r.Context(), principal, code)
	if err != nil {
		logger.WarnContext(r.Context(), "join failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "appointment joined")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, participationResponse{Participation: toParticipantDTO(participation, time.UTC)})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	code, principal, ok := h.target(w, r)
	if !ok {
		return
	}

	detail, err := h.service.Get(r.Context(), principal, code)
	if err != nil {
		h.log(r.Context(), "Get", "invite_code", code).WarnContext(r.Context(), "appointment lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	loc := detail.Appointment.Location()
	participants := make([]participantDTO, 0, len(detail.Participants))
	for _, p := range detail.Participants {
		participants = append(participants, toParticipantDTO(p, loc))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, appointmentDetailResponse{
		Appointment:  toAppointmentDTO(detail.Appointment),
		Participants: participants,
		IsCreator:    detail.IsCreator,
	})
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	code, principal, ok := h.target(w, r)
	if !ok {
		return
	}

	logger := h.log(r.Context(), "Delete", "invite_code", code)
	if err := h.service.Delete(r.Context(), principal, code); err != nil {
		logger.WarnContext(r.Context(), "appointment delete failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "appointment deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *AppointmentHandler) Respond(w http.ResponseWriter, r *http.Request) {
	code, principal, ok := h.target(w, r)
	if !ok {
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	status := application.ParticipationStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	participation, err := h.service.Respond(r.Context(), principal, code, status)
	if err != nil {
		h.log(r.Context(), "Respond", "invite_code", code).WarnContext(r.Context(), "participation update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, participationResponse{Participation: toParticipantDTO(participation, time.UTC)})
}

func (h *AppointmentHandler) SubmitAvailability(w http.ResponseWriter, r *http.Request) {
	code, principal, ok := h.target(w, r)
	if !ok {
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}
	intervals, vErr := req.toIntervals()
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}

	logger := h.log(r.Context(), "SubmitAvailability", "invite_code", code, "interval_count", len(intervals))
	participation, err := h.service.SubmitAvailability(r.Context(), application.SubmitAvailabilityParams{
		Principal:  principal,
		InviteCode: code,
		Intervals:  intervals,
	})
	if err != nil {
		logger.WarnContext(r.Context(), "availability submission failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "availability submitted")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, participationResponse{Participation: toParticipantDTO(participation, time.UTC)})
}

func (h *AppointmentHandler) OptimalTimes(w http.ResponseWriter, r *http.Request) {
	code, principal, ok := h.target(w, r)
	if !ok {
		return
	}

	params, vErr := parseOptimalTimesQuery(r)
	if vErr != nil {
		h.responder.handleServiceError(r.Context(), w, vErr)
		return
	}
	params.Principal = principal
	params.InviteCode = code

	result, err := h.service.ComputeOptimalTimes(r.Context(), params)
	if err != nil {
		h.log(r.Context(), "OptimalTimes", "invite_code", code).WarnContext(r.Context(), "optimal times failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toOptimalTimesDTO(result))
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	code, principal, ok := h.target(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Confirm", "invite_code", code)
	appointment, err := h.service.Confirm(r.Context(), application.ConfirmParams{
		Principal:  principal,
		InviteCode: code,
		Date:       req.Date,
		Start:      req.StartTime,
		End:        req.EndTime,
	})
	if err != nil {
		logger.WarnContext(r.Context(), "confirm failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("appointment_id", appointment.ID).InfoContext(r.Context(), "appointment confirmed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, appointmentResponse{Appointment: toAppointmentDTO(appointment)})
}

// Calendar renders the confirmed slot as an iCalendar attachment.
func (h *AppointmentHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	code, principal, ok := h.target(w, r)
	if !ok {
		return
	}

	appointment, err := h.service.Confirmed(r.Context(), principal, code)
	if err != nil {
		h.log(r.Context(), "Calendar", "invite_code", code).WarnContext(r.Context(), "calendar export failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	body, err := ics.Export(ics.Event{
		UID:         appointment.ID + "@yakssok",
		Summary:     appointment.Name,
		Description: "Yakssok appointment " + appointment.InviteCode,
		Start:       appointment.Confirmation.Start,
		End:         appointment.Confirmation.End,
		Stamp:       appointment.Confirmation.ConfirmedAt,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+appointment.InviteCode+`.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		h.log(r.Context(), "Calendar").ErrorContext(r.Context(), "failed to write calendar", "error", err)
	}
}

// target resolves the invite code path value and the principal.
func (h *AppointmentHandler) target(w http.ResponseWriter, r *http.Request) (string, application.Principal, bool) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", application.Principal{}, false
	}
	code := strings.TrimSpace(r.PathValue("code"))
	if code == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, "bad_request", errMissingCode)
		return "", application.Principal{}, false
	}
	principal, _ := PrincipalFromContext(r.Context())
	return code, principal, true
}

// maxMinDurationMinutes is one day; no window can be longer.
const maxMinDurationMinutes = 24 * 60

func parseOptimalTimesQuery(r *http.Request) (application.OptimalTimesParams, error) {
	query := r.URL.Query()
	fieldErrors := make(map[string]string)
	var params application.OptimalTimesParams

	if raw := strings.TrimSpace(query.Get("min_duration_minutes")); raw != "" {
		minutes, err := strconv.Atoi(raw)
		switch {
		case err != nil || minutes <= 0:
			fieldErrors["min_duration_minutes"] = "must be a positive integer"
		case minutes > maxMinDurationMinutes:
			fieldErrors["min_duration_minutes"] = fmt.Sprintf("must be at most %d", maxMinDurationMinutes)
		default:
			params.MinDuration = time.Duration(minutes) * time.Minute
		}
	}
	params.RangeStart, params.RangeEnd = parseTimeRange(query, fieldErrors)

	if len(fieldErrors) > 0 {
		return application.OptimalTimesParams{}, &application.ValidationError{FieldErrors: fieldErrors}
	}
	return params, nil
}

// parseTimeRange reads the optional time_range_start and time_range_end query
// parameters. Bad values are reported in fieldErrors.
func parseTimeRange(query url.Values, fieldErrors map[string]string) (start, end *scheduler.TimeOfDay) {
	for _, field := range []struct {
		name   string
		target **scheduler.TimeOfDay
	}{
		{"time_range_start", &start},
		{"time_range_end", &end},
	} {
		raw := strings.TrimSpace(query.Get(field.name))
		if raw == "" {
			continue
		}
		tod, err := scheduler.ParseTimeOfDay(raw)
		if err != nil {
			fieldErrors[field.name] = "must be HH:MM"
			continue
		}
		*field.target = &tod
	}
	return start, end
}

type createAppointmentRequest struct {
	Name            string   `json:"name"`
	MaxParticipants int      `json:"max_participants"`
	CandidateDates  []string `json:"candidate_dates"`
	TimeZone        string   `json:"time_zone"`
}

type joinRequest struct {
	InviteCode string `json:"invite_code"`
}

type respondRequest struct {
	Status string `json:"status"`
}

type availabilityRequest struct {
	Intervals []intervalDTO `json:"intervals"`
}

func (r availabilityRequest) toIntervals() ([]scheduler.Interval, error) {
	intervals := make([]scheduler.Interval, 0, len(r.Intervals))
	fieldErrors := make(map[string]string)
	for i, dto := range r.Intervals {
		start, startErr := time.Parse(time.RFC3339, strings.TrimSpace(dto.Start))
		end, endErr := time.Parse(time.RFC3339, strings.TrimSpace(dto.End))
		if err := errors.Join(startErr, endErr); err != nil {
			fieldErrors["intervals["+strconv.Itoa(i)+"]"] = "start and end must be RFC 3339 timestamps"
			continue
		}
		intervals = append(intervals, scheduler.Interval{Start: start, End: end})
	}
	if len(fieldErrors) > 0 {
		return nil, &application.ValidationError{FieldErrors: fieldErrors}
	}
	return intervals, nil
}

type confirmRequest struct {
	Date      string `json:"confirmed_date"`
	StartTime string `json:"confirmed_start_time"`
	EndTime   string `json:"confirmed_end_time"`
}

type appointmentResponse struct {
	Appointment appointmentDTO `json:"appointment"`
}

type listAppointmentsResponse struct {
	Appointments []appointmentDTO `json:"appointments"`
}

type appointmentDetailResponse struct {
	Appointment  appointmentDTO   `json:"appointment"`
	Participants []participantDTO `json:"participants"`
	IsCreator    bool             `json:"is_creator"`
}

type participationResponse struct {
	Participation participantDTO `json:"participation"`
}

type appointmentDTO struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	CreatorID          string   `json:"creator_id"`
	MaxParticipants    int      `json:"max_participants"`
	Status             string   `json:"status"`
	InviteCode         string   `json:"invite_code"`
	TimeZone           string   `json:"time_zone"`
	CandidateDates     []string `json:"candidate_dates"`
	ConfirmedDate      string   `json:"confirmed_date,omitempty"`
	ConfirmedStartTime string   `json:"confirmed_start_time,omitempty"`
	ConfirmedEndTime   string   `json:"confirmed_end_time,omitempty"`
	ConfirmedAt        string   `json:"confirmed_at,omitempty"`
	CreatedAt          string   `json:"created_at"`
}

func toAppointmentDTO(appointment application.Appointment) appointmentDTO {
	dates := make([]string, 0, len(appointment.CandidateDates))
	for _, date := range appointment.CandidateDates {
		dates = append(dates, date.String())
	}
	dto := appointmentDTO{
		ID:              appointment.ID,
		Name:            appointment.Name,
		CreatorID:       appointment.CreatorID,
		MaxParticipants: appointment.MaxParticipants,
		Status:          string(appointment.Status),
		InviteCode:      appointment.InviteCode,
		TimeZone:        appointment.TimeZone,
		CandidateDates:  dates,
		CreatedAt:       appointment.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c := appointment.Confirmation; c != nil {
		loc := appointment.Location()
		dto.ConfirmedDate = c.Date.String()
		dto.ConfirmedStartTime = c.Start.In(loc).Format("15:04")
		dto.ConfirmedEndTime = c.End.In(loc).Format("15:04")
		dto.ConfirmedAt = c.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

type intervalDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type participantDTO struct {
	UserID                string        `json:"user_id"`
	Status                string        `json:"status"`
	AvailabilitySubmitted bool          `json:"availability_submitted"`
	Availability          []intervalDTO `json:"availability,omitempty"`
	SyncStatus            string        `json:"sync_status,omitempty"`
	SyncError             string        `json:"sync_error,omitempty"`
}

func toParticipantDTO(p application.Participation, loc *time.Location) participantDTO {
	dto := participantDTO{
		UserID:                p.UserID,
		Status:                string(p.Status),
		AvailabilitySubmitted: p.AvailabilitySubmitted,
		SyncStatus:            string(p.Sync.Status),
		SyncError:             p.Sync.ErrorCode,
	}
	for _, iv := range p.Availability {
		dto.Availability = append(dto.Availability, intervalDTO{
			Start: iv.Start.In(loc).Format(time.RFC3339),
			End:   iv.End.In(loc).Format(time.RFC3339),
		})
	}
	return dto
}

type optimalTimesDTO struct {
	AppointmentID         string      `json:"appointment_id"`
	AppointmentName       string      `json:"appointment_name"`
	TimeZone              string      `json:"time_zone"`
	TotalParticipants     int         `json:"total_participants"`
	SubmittedParticipants int         `json:"submitted_participants"`
	Completeness          string      `json:"completeness"`
	OptimalTimes          []windowDTO `json:"optimal_times"`
}

type windowDTO struct {
	Date             string `json:"date"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Start            string `json:"start"`
	End              string `json:"end"`
	DurationMinutes  int    `json:"duration_minutes"`
	ParticipantCount int    `json:"participant_count"`
}

func toOptimalTimesDTO(result application.OptimalTimes) optimalTimesDTO {
	loc := result.Location
	if loc == nil {
		loc = time.UTC
	}
	windows := make([]windowDTO, 0, len(result.Windows))
	for _, w := range result.Windows {
		start, end := w.Start.In(loc), w.End.In(loc)
		endTime := end.Format("15:04")
		if end.Hour() == 0 && end.Minute() == 0 && scheduler.DateOf(end) != scheduler.DateOf(start) {
			endTime = "24:00"
		}
		windows = append(windows, windowDTO{
			Date:             scheduler.DateOf(start).String(),
			StartTime:        start.Format("15:04"),
			EndTime:          endTime,
			Start:            start.Format(time.RFC3339),
			End:              end.Format(time.RFC3339),
			DurationMinutes:  int(w.Duration() / time.Minute),
			ParticipantCount: w.ParticipantCount,
		})
	}
	return optimalTimesDTO{
		AppointmentID:         result.AppointmentID,
		AppointmentName:       result.AppointmentName,
		TimeZone:              loc.String(),
		TotalParticipants:     result.TotalParticipants,
		SubmittedParticipants: result.Submitted,
		Completeness:          string(result.Completeness),
		OptimalTimes:          windows,
	}
}
