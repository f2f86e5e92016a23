package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/SonJH7/Yakssok/internal/persistence"
	"github.com/SonJH7/Yakssok/internal/scheduler"
)

const (
	maxNameLength        = 100
	maxParticipantsLimit = 100
	maxCandidateDates    = 31
	inviteCodeAttempts   = 3
	// DefaultMinDuration applies when optimal times are requested without one.
	DefaultMinDuration = 60 * time.Minute
)

// AppointmentServiceDeps lists the collaborators of AppointmentService.
type AppointmentServiceDeps struct {
	Appointments   AppointmentRepository
	Participations ParticipationRepository
	Users          UserRegistry
	// Sync receives the initial calendar sync after confirmation. Optional.
	Sync            SyncTrigger
	IDGenerator     func() string
	InviteCodes     func() string
	Now             func() time.Time
	DefaultTimeZone string
	// Dispatch runs background work. It defaults to starting a goroutine.
	Dispatch func(func())
	Logger   *slog.Logger
}

// AppointmentService orchestrates validation and persistence for appointments.
type AppointmentService struct {
	appointments    AppointmentRepository
	participations  ParticipationRepository
	users           UserRegistry
	sync            SyncTrigger
	idGenerator     func() string
	inviteCodes     func() string
	now             func() time.Time
	defaultTimeZone string
	dispatch        func(func())
	background      sync.WaitGroup
	logger          *slog.Logger
}

// NewAppointmentService wires dependencies for appointment operations.
func NewAppointmentService(deps AppointmentServiceDeps) *AppointmentService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "" }
	}
	if deps.InviteCodes == nil {
		deps.InviteCodes = deps.IDGenerator
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultTimeZone == "" {
		deps.DefaultTimeZone = "UTC"
	}
	if deps.Dispatch == nil {
		deps.Dispatch = func(fn func()) { go fn() }
	}
	return &AppointmentService{
		appointments:    deps.Appointments,
		participations:  deps.Participations,
		users:           deps.Users,
		sync:            deps.Sync,
		idGenerator:     deps.IDGenerator,
		inviteCodes:     deps.InviteCodes,
		now:             deps.Now,
		defaultTimeZone: deps.DefaultTimeZone,
		dispatch:        deps.Dispatch,
		logger:          defaultLogger(deps.Logger),
	}
}

// Create validates the request and stores the appointment with the creator as
// its first participant.
func (s *AppointmentService) Create(ctx context.Context, params CreateAppointmentParams) (Appointment, error) {
	if s == nil {
		return Appointment{}, fmt.Errorf("AppointmentService is nil")
	}
	if params.Principal.UserID == "" {
		return Appointment{}, ErrUnauthorized
	}
	logger := serviceLogger(ctx, s.logger, "AppointmentService", "Create", "user_id", params.Principal.UserID)

	vErr := &ValidationError{}
	name := strings.TrimSpace(params.Name)
	switch {
	case name == "":
		vErr.add("name", "name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		vErr.add("name", fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if params.MaxParticipants < 1 || params.MaxParticipants > maxParticipantsLimit {
		vErr.add("max_participants", fmt.Sprintf("max participants must be between 1 and %d", maxParticipantsLimit))
	}
	dates, dateErr := parseCandidateDates(params.CandidateDates)
	vErr.merge(dateErr)

	timeZone := strings.TrimSpace(params.TimeZone)
	if timeZone == "" {
		timeZone = s.defaultTimeZone
	}
	if _, err := time.LoadLocation(timeZone); err != nil {
		vErr.add("time_zone", "unknown time zone")
	}
	if vErr.HasErrors() {
		logger.Warn("appointment validation failed", "error_kind", ErrorKind(vErr))
		return Appointment{}, vErr
	}

	if err := s.ensureUser(ctx, params.Principal.UserID); err != nil {
		return Appointment{}, err
	}

	createdAt := s.now().UTC()
	appointment := Appointment{
		ID:              s.idGenerator(),
		Name:            name,
		CreatorID:       params.Principal.UserID,
		MaxParticipants: params.MaxParticipants,
		Status:          AppointmentOpen,
		TimeZone:        timeZone,
		CandidateDates:  dates,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	creator := Participation{
		ID:            s.idGenerator(),
		AppointmentID: appointment.ID,
		UserID:        params.Principal.UserID,
		Status:        ParticipationJoined,
		JoinedAt:      createdAt,
		UpdatedAt:     createdAt,
	}

	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		appointment.InviteCode = s.inviteCodes()
		err := s.appointments.CreateAppointment(ctx, appointment, creator)
		if err == nil {
			logger.Info("appointment created", "appointment_id", appointment.ID, "candidate_dates", len(dates))
			return appointment, nil
		}
		if !errors.Is(err, persistence.ErrDuplicate) {
			logger.Error("failed to create appointment", "error", err, "error_kind", ErrorKind(err))
			return Appointment{}, mapRepoError(err, ErrAppointmentNotFound)
		}
		logger.Warn("invite code collision, retrying", "attempt", attempt+1)
	}
	return Appointment{}, fmt.Errorf("create appointment: could not allocate a unique invite code")
}

// Join adds the principal to an OPEN appointment identified by its invite code.
func (s *AppointmentService) Join(ctx context.Context, principal Principal, inviteCode string) (Participation, error) {
	if s == nil {
		return Participation{}, fmt.Errorf("AppointmentService is nil")
	}
	if principal.UserID == "" {
		return Participation{}, ErrUnauthorized
	}
	logger := serviceLogger(ctx, s.logger, "AppointmentService", "Join", "user_id", principal.UserID)

	appointment, err := s.appointmentByCode(ctx, inviteCode)
	if err != nil {
		return Participation{}, err
	}
	if appointment.Status != AppointmentOpen {
		return Participation{}, ErrNotOpen
	}
	if _, err := s.participations.GetParticipation(ctx, appointment.ID, principal.UserID); err == nil {
		return Participation{}, ErrAlreadyJoined
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return Participation{}, err
	}

	if err := s.ensureUser(ctx, principal.UserID); err != nil {
		return Participation{}, err
	}

	joinedAt := s.now().UTC()
	participation := Participation{
		ID:            s.idGenerator(),
		AppointmentID: appointment.ID,
		UserID:        principal.UserID,
		Status:        ParticipationJoined,
		JoinedAt:      joinedAt,
		UpdatedAt:     joinedAt,
	}
	if err := s.participations.CreateParticipation(ctx, participation, appointment.MaxParticipants); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			return Participation{}, ErrAlreadyJoined
		}
		mapped := mapRepoError(err, ErrAppointmentNotFound)
		logger.Warn("join rejected", "appointment_id", appointment.ID, "error_kind", ErrorKind(mapped))
		return Participation{}, mapped
	}

	logger.Info("participant joined", "appointment_id", appointment.ID)
	return participation, nil
}

// Get returns the appointment and its participants. Any authenticated user
// holding the invite code may view it.
func (s *AppointmentService) Get(ctx context.Context, principal Principal, inviteCode string) (AppointmentDetail, error) {
	if s == nil {
		return AppointmentDetail{}, fmt.Errorf("AppointmentService is nil")
	}
	appointment, err := s.appointmentByCode(ctx, inviteCode)
	if err != nil {
		return AppointmentDetail{}, err
	}
	participants, err := s.participations.ListParticipations(ctx, appointment.ID)
	if err != nil {
		return AppointmentDetail{}, mapRepoError(err, ErrAppointmentNotFound)
	}
	return AppointmentDetail{
		Appointment:  appointment,
		Participants: participants,
		IsCreator:    principal.UserID != "" && principal.UserID == appointment.CreatorID,
	}, nil
}

// ListMine returns the appointments the principal participates in.
func (s *AppointmentService) ListMine(ctx context.Context, principal Principal) ([]Appointment, error) {
	if s == nil {
		return nil, fmt.Errorf("AppointmentService is nil")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	appointments, err := s.appointments.ListAppointmentsForUser(ctx, principal.UserID)
	if err != nil {
		return nil, mapRepoError(err, ErrNotFound)
	}
	return appointments, nil
}

// Delete removes an appointment. Only its creator may do so.
func (s *AppointmentService) Delete(ctx context.Context, principal Principal, inviteCode string) error {
	if s == nil {
		return fmt.Errorf("AppointmentService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "AppointmentService", "Delete", "user_id", principal.UserID)

	appointment, err := s.appointmentByCode(ctx, inviteCode)
	if err != nil {
		return err
	}
	if appointment.CreatorID != principal.UserID {
		return ErrCreatorOnly
	}
	if err := s.appointments.DeleteAppointment(ctx, appointment.ID); err != nil {
		return mapRepoError(err, ErrAppointmentNotFound)
	}
	logger.Info("appointment deleted", "appointment_id", appointment.ID)
	return nil
}

// Respond records whether the principal still attends. The creator always
// attends.
func (s *AppointmentService) Respond(ctx context.Context, principal Principal, inviteCode string, status ParticipationStatus) (Participation, error) {
	if s == nil {
		return Participation{}, fmt.Errorf("AppointmentService is nil")
	}
	if status != ParticipationJoined && status != ParticipationDeclined {
		vErr := &ValidationError{}
		vErr.add("status", "status must be JOINED or DECLINED")
		return Participation{}, vErr
	}

	appointment, participation, err := s.participant(ctx, principal, inviteCode)
	if err != nil {
		return Participation{}, err
	}
	if status == ParticipationDeclined && appointment.CreatorID == principal.UserID {
		vErr := &ValidationError{}
		vErr.add("status", "the creator cannot decline")
		return Participation{}, vErr
	}
	if participation.Status == status {
		return participation, nil
	}

	updatedAt := s.now().UTC()
	if err := s.participations.UpdateStatus(ctx, participation.ID, status, updatedAt); err != nil {
		return Participation{}, mapRepoError(err, ErrNotParticipant)
	}
	participation.Status = status
	participation.UpdatedAt = updatedAt
	serviceLogger(ctx, s.logger, "AppointmentService", "Respond", "user_id", principal.UserID).
		Info("participation updated", "appointment_id", appointment.ID, "status", status)
	return participation, nil
}

// SubmitAvailability replaces the principal's availability. An empty list is a
// valid submission meaning "never available".
func (s *AppointmentService) SubmitAvailability(ctx context.Context, params SubmitAvailabilityParams) (Participation, error) {
	if s == nil {
		return Participation{}, fmt.Errorf("AppointmentService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "AppointmentService", "SubmitAvailability", "user_id", params.Principal.UserID)

	appointment, participation, err := s.participant(ctx, params.Principal, params.InviteCode)
	if err != nil {
		return Participation{}, err
	}
	if appointment.Status != AppointmentOpen {
		return Participation{}, ErrNotOpen
	}

	loc := appointment.Location()
	vErr := &ValidationError{}
	intervals := make([]scheduler.Interval, 0, len(params.Intervals))
	for idx, iv := range params.Intervals {
		field := fmt.Sprintf("intervals[%d]", idx)
		local := scheduler.Interval{Start: iv.Start.In(loc), End: iv.End.In(loc)}
		if err := scheduler.ValidateInterval(local); err != nil {
			vErr.add(field, strings.TrimPrefix(err.Error(), "scheduler: "))
			continue
		}
		if !appointment.HasCandidate(scheduler.DateOf(local.Start)) {
			vErr.add(field, "interval must fall on a candidate date")
			continue
		}
		intervals = append(intervals, local)
	}
	if vErr.HasErrors() {
		logger.Warn("availability validation failed", "appointment_id", appointment.ID, "error_kind", ErrorKind(vErr))
		return Participation{}, vErr
	}

	updatedAt := s.now().UTC()
	if err := s.participations.UpdateAvailability(ctx, participation.ID, intervals, updatedAt); err != nil {
		return Participation{}, mapRepoError(err, ErrNotParticipant)
	}
	participation.Availability = intervals
	participation.AvailabilitySubmitted = true
	participation.UpdatedAt = updatedAt

	logger.Info("availability submitted", "appointment_id", appointment.ID, "intervals", len(intervals))
	return participation, nil
}

// ComputeOptimalTimes ranks the windows in which every participant that
// submitted availability is free. Declined participants are left out.
func (s *AppointmentService) ComputeOptimalTimes(ctx context.Context, params OptimalTimesParams) (OptimalTimes, error) {
	if s == nil {
		return OptimalTimes{}, fmt.Errorf("AppointmentService is nil")
	}
	appointment, _, err := s.participant(ctx, params.Principal, params.InviteCode)
	if err != nil {
		return OptimalTimes{}, err
	}
	participations, err := s.participations.ListParticipations(ctx, appointment.ID)
	if err != nil {
		return OptimalTimes{}, mapRepoError(err, ErrAppointmentNotFound)
	}

	minDuration := params.MinDuration
	if minDuration == 0 {
		minDuration = DefaultMinDuration
	}

	loc := appointment.Location()
	query := scheduler.Query{
		CandidateDates: appointment.CandidateDates,
		MinDuration:    minDuration,
		RangeStart:     params.RangeStart,
		RangeEnd:       params.RangeEnd,
		Location:       loc,
	}
	for _, p := range participations {
		if p.Status == ParticipationDeclined {
			continue
		}
		intervals := make([]scheduler.Interval, 0, len(p.Availability))
		for _, iv := range p.Availability {
			intervals = append(intervals, scheduler.Interval{Start: iv.Start.In(loc), End: iv.End.In(loc)})
		}
		query.Participants = append(query.Participants, scheduler.ParticipantIntervals{
			ParticipantID: p.UserID,
			Submitted:     p.AvailabilitySubmitted,
			Intervals:     intervals,
		})
	}

	result, err := scheduler.ComputeOptimalWindows(query)
	if err != nil {
		return OptimalTimes{}, schedulerValidationError(err)
	}

	serviceLogger(ctx, s.logger, "AppointmentService", "ComputeOptimalTimes", "user_id", params.Principal.UserID).
		Debug("optimal times computed",
			"appointment_id", appointment.ID,
			"windows", len(result.Windows),
			"completeness", result.Completeness,
		)

	return OptimalTimes{
		AppointmentID:     appointment.ID,
		AppointmentName:   appointment.Name,
		Location:          loc,
		TotalParticipants: result.Total,
		Submitted:         result.Submitted,
		Windows:           result.Windows,
		Completeness:      result.Completeness,
	}, nil
}

// Confirm fixes the appointment slot and starts the initial calendar sync.
// Only the creator may confirm, and only once.
func (s *AppointmentService) Confirm(ctx context.Context, params ConfirmParams) (Appointment, error) {
	if s == nil {
		return Appointment{}, fmt.Errorf("AppointmentService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "AppointmentService", "Confirm", "user_id", params.Principal.UserID)

	appointment, err := s.appointmentByCode(ctx, params.InviteCode)
	if err != nil {
		return Appointment{}, err
	}
	if params.Principal.UserID == "" || appointment.CreatorID != params.Principal.UserID {
		return Appointment{}, ErrUnauthorized
	}
	if appointment.Status != AppointmentOpen {
		return Appointment{}, ErrNotOpen
	}

	vErr := &ValidationError{}
	date, err := scheduler.ParseDate(params.Date)
	if err != nil {
		vErr.add("confirmed_date", "date must use YYYY-MM-DD")
	} else if !appointment.HasCandidate(date) {
		vErr.add("confirmed_date", "date must be one of the candidate dates")
	}
	start, startErr := scheduler.ParseTimeOfDay(params.Start)
	if startErr != nil {
		vErr.add("confirmed_start_time", "time must use HH:MM")
	}
	end, endErr := scheduler.ParseTimeOfDay(params.End)
	if endErr != nil {
		vErr.add("confirmed_end_time", "time must use HH:MM")
	}
	if startErr == nil && endErr == nil && end <= start {
		vErr.add("confirmed_end_time", "end must be after start")
	}
	if vErr.HasErrors() {
		return Appointment{}, vErr
	}

	loc := appointment.Location()
	confirmation := Confirmation{
		Date:        date,
		Start:       start.On(date, loc),
		End:         end.On(date, loc),
		ConfirmedAt: s.now().UTC(),
	}
	if err := s.appointments.ConfirmAppointment(ctx, appointment.ID, confirmation); err != nil {
		mapped := mapRepoError(err, ErrAppointmentNotFound)
		logger.Warn("confirm rejected", "appointment_id", appointment.ID, "error_kind", ErrorKind(mapped))
		return Appointment{}, mapped
	}

	appointment.Status = AppointmentConfirmed
	appointment.Confirmation = &confirmation
	appointment.UpdatedAt = confirmation.ConfirmedAt
	logger.Info("appointment confirmed",
		"appointment_id", appointment.ID,
		"start", confirmation.Start,
		"end", confirmation.End,
	)

	s.startInitialSync(ctx, appointment.ID)
	return appointment, nil
}

// Confirmed returns a confirmed appointment visible to the principal.
func (s *AppointmentService) Confirmed(ctx context.Context, principal Principal, inviteCode string) (Appointment, error) {
	if s == nil {
		return Appointment{}, fmt.Errorf("AppointmentService is nil")
	}
	appointment, _, err := s.participant(ctx, principal, inviteCode)
	if err != nil {
		return Appointment{}, err
	}
	if appointment.Status != AppointmentConfirmed || appointment.Confirmation == nil {
		return Appointment{}, ErrNotConfirmed
	}
	return appointment, nil
}

// Drain waits for background work such as initial calendar syncs. It returns
// ctx.Err() when ctx ends first.
func (s *AppointmentService) Drain(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("AppointmentService is nil")
	}
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AppointmentService) startInitialSync(ctx context.Context, appointmentID string) {
	if s.sync == nil {
		return
	}
	syncCtx := context.WithoutCancel(ctx)
	logger := serviceLogger(ctx, s.logger, "AppointmentService", "InitialSync", "appointment_id", appointmentID)
	s.background.Add(1)
	s.dispatch(func() {
		defer s.background.Done()
		summary, err := s.sync.SyncAppointment(syncCtx, appointmentID)
		if err != nil {
			logger.Error("initial calendar sync failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("initial calendar sync finished",
			"success", summary.Success,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
		)
	})
}

func (s *AppointmentService) appointmentByCode(ctx context.Context, inviteCode string) (Appointment, error) {
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

func (s *AppointmentService) participant(ctx context.Context, principal Principal, inviteCode string) (Appointment, Participation, error) {
	appointment, err := s.appointmentByCode(ctx, inviteCode)
	if err != nil {
		return Appointment{}, Participation{}, err
	}
	if principal.UserID == "" {
		return Appointment{}, Participation{}, ErrNotParticipant
	}
	participation, err := s.participations.GetParticipation(ctx, appointment.ID, principal.UserID)
	if err != nil {
		return Appointment{}, Participation{}, mapRepoError(err, ErrNotParticipant)
	}
	return appointment, participation, nil
}

func (s *AppointmentService) ensureUser(ctx context.Context, userID string) error {
	if s.users == nil {
		return nil
	}
	if err := s.users.EnsureUser(ctx, userID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func parseCandidateDates(values []string) ([]scheduler.Date, *ValidationError) {
	vErr := &ValidationError{}
	if len(values) == 0 {
		vErr.add("candidate_dates", "at least one candidate date is required")
		return nil, vErr
	}
	if len(values) > maxCandidateDates {
		vErr.add("candidate_dates", fmt.Sprintf("at most %d candidate dates are allowed", maxCandidateDates))
		return nil, vErr
	}

	seen := make(map[scheduler.Date]struct{}, len(values))
	dates := make([]scheduler.Date, 0, len(values))
	for idx, value := range values {
		date, err := scheduler.ParseDate(value)
		if err != nil {
			vErr.add(fmt.Sprintf("candidate_dates[%d]", idx), "date must use YYYY-MM-DD")
			continue
		}
		if _, dup := seen[date]; dup {
			vErr.add(fmt.Sprintf("candidate_dates[%d]", idx), "duplicate candidate date")
			continue
		}
		seen[date] = struct{}{}
		dates = append(dates, date)
	}
	if vErr.HasErrors() {
		return nil, vErr
	}
	sortDates(dates)
	return dates, nil
}

func sortDates(dates []scheduler.Date) {
	slices.SortFunc(dates, func(a, b scheduler.Date) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
}

func schedulerValidationError(err error) error {
	vErr := &ValidationError{}
	switch {
	case errors.Is(err, scheduler.ErrInvalidDuration):
		vErr.add("min_duration_minutes", "minimum duration must be positive")
	case errors.Is(err, scheduler.ErrInvalidRange):
		vErr.add("time_range", "range end must be after range start")
	case errors.Is(err, scheduler.ErrInvalidInterval):
		vErr.add("availability", strings.TrimPrefix(err.Error(), "scheduler: "))
	default:
		return err
	}
	return vErr
}
