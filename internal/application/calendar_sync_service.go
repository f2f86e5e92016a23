package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/SonJH7/Yakssok/internal/google"
)

const (
	// ReauthURL is where users grant calendar access again.
	ReauthURL = "/user/google/login?force=1"

	tracerName             = "github.com/SonJH7/Yakssok/internal/application"
	defaultSyncConcurrency = 4
	defaultResyncLimit     = 100
	defaultSyncLease       = 2 * time.Minute

	scopeMe  = "me"
	scopeAll = "all"
)

// CalendarSyncServiceDeps lists the collaborators of CalendarSyncService.
type CalendarSyncServiceDeps struct {
	Appointments   AppointmentRepository
	Participations ParticipationRepository
	Credentials    CredentialStore
	Tokens         TokenRefresher
	Writer         CalendarWriter
	Reader         CalendarReader
	Now            func() time.Time
	// Concurrency bounds the number of participants synced at once.
	Concurrency int
	// ResyncLimit bounds the participations picked up by one ResyncPending pass.
	ResyncLimit int
	// SyncLease bounds how long one run owns a participation before another
	// run may retry it. It must outlast the provider timeouts.
	SyncLease time.Duration
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// CalendarSyncService pushes confirmed appointments to participants' calendars
// and reports the per-participant outcome.
type CalendarSyncService struct {
	appointments   AppointmentRepository
	participations ParticipationRepository
	credentials    CredentialStore
	tokens         TokenRefresher
	writer         CalendarWriter
	reader         CalendarReader
	tracker        *SyncTracker
	now            func() time.Time
	concurrency    int
	resyncLimit    int
	syncLease      time.Duration
	tracer         trace.Tracer
	logger         *slog.Logger
}

// NewCalendarSyncService wires dependencies for calendar sync operations.
func NewCalendarSyncService(deps CalendarSyncServiceDeps) *CalendarSyncService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = defaultSyncConcurrency
	}
	if deps.ResyncLimit <= 0 {
		deps.ResyncLimit = defaultResyncLimit
	}
	if deps.SyncLease <= 0 {
		deps.SyncLease = defaultSyncLease
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &CalendarSyncService{
		appointments:   deps.Appointments,
		participations: deps.Participations,
		credentials:    deps.Credentials,
		tokens:         deps.Tokens,
		writer:         deps.Writer,
		reader:         deps.Reader,
		tracker:        NewSyncTracker(deps.Participations, deps.Now),
		now:            deps.Now,
		concurrency:    deps.Concurrency,
		resyncLimit:    deps.ResyncLimit,
		syncLease:      deps.SyncLease,
		tracer:         deps.Tracer,
		logger:         defaultLogger(deps.Logger),
	}
}

// GetSyncStatus reports sync outcomes. The creator sees every participant,
// anyone else only their own row.
func (s *CalendarSyncService) GetSyncStatus(ctx context.Context, principal Principal, inviteCode string) (SyncReport, error) {
	if s == nil {
		return SyncReport{}, fmt.Errorf("CalendarSyncService is nil")
	}
	appointment, err := s.appointmentByCode(ctx, inviteCode)
	if err != nil {
		return SyncReport{}, err
	}
	own, err := s.ownParticipation(ctx, appointment.ID, principal)
	if err != nil {
		return SyncReport{}, err
	}

	isCreator := appointment.CreatorID == principal.UserID
	rows := []Participation{own}
	if isCreator {
		if rows, err = s.participations.ListParticipations(ctx, appointment.ID); err != nil {
			return SyncReport{}, mapRepoError(err, ErrAppointmentNotFound)
		}
	}
	return buildReport(appointment, rows, isCreator), nil
}

// RetrySync re-runs the calendar push for the caller (scope "me") or, for the
// creator, for every participant (scope "all"). One participant's failure never
// affects the others.
func (s *CalendarSyncService) RetrySync(ctx context.Context, params RetrySyncParams) (SyncReport, error) {
	if s == nil {
		return SyncReport{}, fmt.Errorf("CalendarSyncService is nil")
	}
	ctx, span := s.tracer.Start(ctx, "calendar_sync.retry")
	defer span.End()

	appointment, err := s.appointmentByCode(ctx, params.InviteCode)
	if err != nil {
		return SyncReport{}, err
	}
	if appointment.Status != AppointmentConfirmed || appointment.Confirmation == nil {
		return SyncReport{}, ErrNotConfirmed
	}
	own, err := s.ownParticipation(ctx, appointment.ID, params.Principal)
	if err != nil {
		return SyncReport{}, err
	}

	scope := strings.ToLower(strings.TrimSpace(params.Scope))
	if scope == "" {
		scope = scopeMe
	}
	if scope != scopeMe && scope != scopeAll {
		return SyncReport{}, ErrInvalidScope
	}
	isCreator := appointment.CreatorID == params.Principal.UserID
	if scope == scopeAll && !isCreator {
		return SyncReport{}, ErrCreatorOnly
	}

	span.SetAttributes(
		attribute.String("appointment.id", appointment.ID),
		attribute.String("sync.scope", scope),
	)
	logger := serviceLogger(ctx, s.logger, "CalendarSyncService", "RetrySync",
		"user_id", params.Principal.UserID,
		"appointment_id", appointment.ID,
		"scope", scope,
	)

	targets := []Participation{own}
	if scope == scopeAll {
		if targets, err = s.participations.ListParticipations(ctx, appointment.ID); err != nil {
			return SyncReport{}, mapRepoError(err, ErrAppointmentNotFound)
		}
	}

	s.syncParticipants(ctx, appointment, targets)

	rows, err := s.reload(ctx, appointment.ID, scope, params.Principal.UserID)
	if err != nil {
		return SyncReport{}, err
	}
	report := buildReport(appointment, rows, isCreator)
	logger.Info("calendar sync retried",
		"success", report.Summary.Success,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
	)
	return report, nil
}

// SyncAppointment pushes a confirmed appointment to every participant. It is
// the initial sync triggered by confirmation.
func (s *CalendarSyncService) SyncAppointment(ctx context.Context, appointmentID string) (SyncSummary, error) {
	if s == nil {
		return SyncSummary{}, fmt.Errorf("CalendarSyncService is nil")
	}
	ctx, span := s.tracer.Start(ctx, "calendar_sync.appointment",
		trace.WithAttributes(attribute.String("appointment.id", appointmentID)))
	defer span.End()

	appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return SyncSummary{}, mapRepoError(err, ErrAppointmentNotFound)
	}
	if appointment.Status != AppointmentConfirmed || appointment.Confirmation == nil {
		return SyncSummary{}, ErrNotConfirmed
	}
	targets, err := s.participations.ListParticipations(ctx, appointment.ID)
	if err != nil {
		return SyncSummary{}, mapRepoError(err, ErrAppointmentNotFound)
	}

	s.syncParticipants(ctx, appointment, targets)

	rows, err := s.participations.ListParticipations(ctx, appointment.ID)
	if err != nil {
		return SyncSummary{}, mapRepoError(err, ErrAppointmentNotFound)
	}
	return Summarize(rows), nil
}

// ResyncPending re-drives participations of confirmed appointments that were
// never synced or whose last attempt failed transiently.
func (s *CalendarSyncService) ResyncPending(ctx context.Context) (ResyncResult, error) {
	if s == nil {
		return ResyncResult{}, fmt.Errorf("CalendarSyncService is nil")
	}
	ctx, span := s.tracer.Start(ctx, "calendar_sync.resync_pending")
	defer span.End()
	logger := serviceLogger(ctx, s.logger, "CalendarSyncService", "ResyncPending")

	candidates, err := s.participations.ListResyncCandidates(ctx, transientCodes, s.resyncLimit)
	if err != nil {
		span.SetStatus(codes.Error, "list candidates")
		return ResyncResult{}, fmt.Errorf("list resync candidates: %w", err)
	}
	if len(candidates) == 0 {
		return ResyncResult{}, nil
	}

	byAppointment := make(map[string][]Participation)
	order := make([]string, 0)
	for _, p := range candidates {
		if _, seen := byAppointment[p.AppointmentID]; !seen {
			order = append(order, p.AppointmentID)
		}
		byAppointment[p.AppointmentID] = append(byAppointment[p.AppointmentID], p)
	}

	var result ResyncResult
	for _, appointmentID := range order {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(mapRepoError(err, ErrAppointmentNotFound), ErrAppointmentNotFound) {
				continue
			}
			return result, fmt.Errorf("load appointment %s: %w", appointmentID, err)
		}
		if appointment.Status != AppointmentConfirmed || appointment.Confirmation == nil {
			continue
		}

		states := s.syncParticipants(ctx, appointment, byAppointment[appointmentID])
		result.Appointments++
		for _, state := range states {
			result.Summary.Total++
			switch state.Status {
			case SyncSuccess:
				result.Summary.Success++
			case SyncSkipped:
				result.Summary.Skipped++
			case SyncPending:
				result.Summary.Pending++
			default:
				result.Summary.Failed++
			}
		}
	}

	span.SetAttributes(attribute.Int("sync.attempted", result.Summary.Total))
	logger.Info("resync pass finished",
		"appointments", result.Appointments,
		"attempted", result.Summary.Total,
		"success", result.Summary.Success,
		"failed", result.Summary.Failed,
	)
	return result, nil
}

// ListMyEvents lists events on the principal's primary calendar.
func (s *CalendarSyncService) ListMyEvents(ctx context.Context, principal Principal, opts google.ListOptions) (google.EventPage, error) {
	if s == nil {
		return google.EventPage{}, fmt.Errorf("CalendarSyncService is nil")
	}
	if principal.UserID == "" {
		return google.EventPage{}, ErrUnauthorized
	}
	logger := serviceLogger(ctx, s.logger, "CalendarSyncService", "ListMyEvents", "user_id", principal.UserID)

	accessToken, err := s.accessToken(ctx, principal.UserID)
	if err != nil {
		logger.Warn("calendar access unavailable", "error_kind", ErrorKind(err))
		return google.EventPage{}, err
	}
	page, err := s.reader.ListEvents(ctx, accessToken, opts)
	if err != nil {
		logger.Warn("event listing failed", "error_kind", ErrorKind(err))
		return google.EventPage{}, err
	}
	return page, nil
}

// syncParticipants runs the per-participant routine with bounded parallelism
// and returns the recorded states in target order.
func (s *CalendarSyncService) syncParticipants(ctx context.Context, appointment Appointment, targets []Participation) []SyncState {
	states := make([]SyncState, len(targets))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			states[i] = s.syncParticipant(ctx, appointment, target)
			return nil
		})
	}
	_ = g.Wait()
	return states
}

func (s *CalendarSyncService) syncParticipant(ctx context.Context, appointment Appointment, p Participation) SyncState {
	ctx, span := s.tracer.Start(ctx, "calendar_sync.participant", trace.WithAttributes(
		attribute.String("appointment.id", appointment.ID),
		attribute.String("participation.id", p.ID),
	))
	defer span.End()
	logger := serviceLogger(ctx, s.logger, "CalendarSyncService", "SyncParticipant",
		"appointment_id", appointment.ID,
		"user_id", p.UserID,
	)

	now := s.now()
	claimed, err := s.participations.ClaimSync(ctx, p.ID, now, now.Add(s.syncLease))
	if err != nil {
		logger.Error("failed to claim sync lease", "error", err)
		span.SetStatus(codes.Error, "claim lease")
		at := now.UTC()
		return SyncState{Status: SyncFailed, ErrorCode: google.CodeCalendarSyncFailed, SyncedAt: &at, EventID: p.Sync.EventID}
	}
	if !claimed {
		// Another run owns this participation and records its own outcome.
		logger.Info("calendar sync already in flight")
		span.SetAttributes(attribute.Bool("sync.in_flight", true))
		return p.Sync
	}

	outcome := s.attempt(ctx, logger, appointment, p)
	span.SetAttributes(attribute.String("sync.status", string(outcome.Status)))
	if outcome.Status == SyncFailed {
		span.SetAttributes(attribute.String("sync.error", outcome.ErrorCode))
		span.SetStatus(codes.Error, outcome.ErrorCode)
	}

	state, err := s.tracker.RecordOutcome(ctx, p.ID, outcome)
	if err != nil {
		logger.Error("failed to record sync outcome", "error", err, "status", outcome.Status)
		at := s.now().UTC()
		return SyncState{Status: outcome.Status, ErrorCode: outcome.ErrorCode, SyncedAt: &at, EventID: outcome.EventID}
	}
	if outcome.Status == SyncFailed {
		logger.Warn("calendar sync failed", "error_code", outcome.ErrorCode, "needs_reauth", NeedsReauth(outcome.ErrorCode))
	} else {
		logger.Debug("calendar sync recorded", "status", outcome.Status)
	}
	return state
}

func (s *CalendarSyncService) attempt(ctx context.Context, logger *slog.Logger, appointment Appointment, p Participation) Outcome {
	if p.Status == ParticipationDeclined {
		return Outcome{Status: SyncSkipped}
	}

	refreshToken, err := s.credentials.RefreshToken(ctx, p.UserID)
	if err != nil {
		logger.Error("failed to load refresh token", "error", err)
		return Outcome{Status: SyncFailed, ErrorCode: google.CodeCalendarSyncFailed}
	}
	if refreshToken == "" {
		return Outcome{Status: SyncFailed, ErrorCode: google.CodeMissingRefreshToken}
	}

	accessToken, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		return Outcome{Status: SyncFailed, ErrorCode: codeOr(err, google.CodeRefreshFailed)}
	}

	input := eventInput(appointment)
	eventID, err := s.writer.UpsertEvent(ctx, accessToken, p.Sync.EventID, input)
	if err != nil && p.Sync.EventID != "" && providerStatus(err) == http.StatusNotFound {
		logger.Info("stored event is gone, creating a new one", "event_id", p.Sync.EventID)
		eventID, err = s.writer.UpsertEvent(ctx, accessToken, "", input)
	}
	if err != nil {
		return Outcome{Status: SyncFailed, ErrorCode: codeOr(err, google.CodeCalendarSyncFailed)}
	}
	return Outcome{Status: SyncSuccess, EventID: eventID}
}

// accessToken exchanges the user's stored refresh token for an access token.
func (s *CalendarSyncService) accessToken(ctx context.Context, userID string) (string, error) {
	refreshToken, err := s.credentials.RefreshToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load refresh token: %w", err)
	}
	if refreshToken == "" {
		return "", ErrCalendarScopeMissing
	}
	return s.tokens.Refresh(ctx, refreshToken)
}

func (s *CalendarSyncService) reload(ctx context.Context, appointmentID, scope, userID string) ([]Participation, error) {
	if scope == scopeAll {
		rows, err := s.participations.ListParticipations(ctx, appointmentID)
		if err != nil {
			return nil, mapRepoError(err, ErrAppointmentNotFound)
		}
		return rows, nil
	}
	row, err := s.participations.GetParticipation(ctx, appointmentID, userID)
	if err != nil {
		return nil, mapRepoError(err, ErrNotParticipant)
	}
	return []Participation{row}, nil
}

func (s *CalendarSyncService) appointmentByCode(ctx context.Context, inviteCode string) (Appointment, error) {
	inviteCode = strings.TrimSpace(inviteCode)
	if inviteCode == "" {
		return Appointment{}, ErrAppointmentNotFound
	}
	appointment, err := s.appointments.GetAppointmentByInviteCode(ctx, inviteCode)
	if err != nil {
		return Appointment{}, mapRepoError(err, ErrAppointmentNotFound)
	}
	return appointment, nil
}

func (s *CalendarSyncService) ownParticipation(ctx context.Context, appointmentID string, principal Principal) (Participation, error) {
	if principal.UserID == "" {
		return Participation{}, ErrNotParticipant
	}
	participation, err := s.participations.GetParticipation(ctx, appointmentID, principal.UserID)
	if err != nil {
		return Participation{}, mapRepoError(err, ErrNotParticipant)
	}
	return participation, nil
}

func buildReport(appointment Appointment, rows []Participation, isCreator bool) SyncReport {
	report := SyncReport{
		AppointmentID: appointment.ID,
		InviteCode:    appointment.InviteCode,
		IsCreator:     isCreator,
		Summary:       Summarize(rows),
		Participants:  make([]ParticipantSync, 0, len(rows)),
	}
	for _, row := range rows {
		needsReauth := NeedsReauth(row.Sync.ErrorCode)
		if needsReauth {
			report.ReauthURL = ReauthURL
		}
		report.Participants = append(report.Participants, ParticipantSync{
			UserID:              row.UserID,
			ParticipationStatus: row.Status,
			SyncStatus:          row.Sync.Status,
			SyncError:           row.Sync.ErrorCode,
			SyncedAt:            row.Sync.SyncedAt,
			NeedsReauth:         needsReauth,
		})
	}
	return report
}

func eventInput(appointment Appointment) google.EventInput {
	return google.EventInput{
		Summary:     appointment.Name,
		Description: "Yakssok appointment " + appointment.InviteCode,
		Start:       appointment.Confirmation.Start,
		End:         appointment.Confirmation.End,
		TimeZone:    appointment.TimeZone,
	}
}

func codeOr(err error, fallback string) string {
	if code := google.CodeOf(err); code != "" {
		return code
	}
	return fallback
}

func providerStatus(err error) int {
	var providerErr *google.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode
	}
	return 0
}
