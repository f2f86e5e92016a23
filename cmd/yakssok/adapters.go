package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/persistence"
	"github.com/SonJH7/Yakssok/internal/scheduler"
	"github.com/SonJH7/Yakssok/internal/secrets"
)

type appointmentRepositoryAdapter struct {
	repo persistence.AppointmentRepository
}

func newAppointmentRepositoryAdapter(repo persistence.AppointmentRepository) *appointmentRepositoryAdapter {
	return &appointmentRepositoryAdapter{repo: repo}
}

func (a *appointmentRepositoryAdapter) CreateAppointment(ctx context.Context, appointment application.Appointment, creator application.Participation) error {
	return a.repo.CreateAppointment(ctx, toPersistenceAppointment(appointment), toPersistenceParticipation(creator))
}

func (a *appointmentRepositoryAdapter) GetAppointment(ctx context.Context, id string) (application.Appointment, error) {
	stored, err := a.repo.GetAppointment(ctx, id)
	if err != nil {
		return application.Appointment{}, err
	}
	return toApplicationAppointment(stored)
}

func (a *appointmentRepositoryAdapter) GetAppointmentByInviteCode(ctx context.Context, code string) (application.Appointment, error) {
	stored, err := a.repo.GetAppointmentByInviteCode(ctx, code)
	if err != nil {
		return application.Appointment{}, err
	}
	return toApplicationAppointment(stored)
}

func (a *appointmentRepositoryAdapter) ListAppointmentsForUser(ctx context.Context, userID string) ([]application.Appointment, error) {
	models, err := a.repo.ListAppointmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	appointments := make([]application.Appointment, 0, len(models))
	for _, model := range models {
		appointment, err := toApplicationAppointment(model)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, appointment)
	}
	return appointments, nil
}

func (a *appointmentRepositoryAdapter) DeleteAppointment(ctx context.Context, id string) error {
	return a.repo.DeleteAppointment(ctx, id)
}

func (a *appointmentRepositoryAdapter) ConfirmAppointment(ctx context.Context, id string, confirmation application.Confirmation) error {
	return a.repo.ConfirmAppointment(ctx, id, persistence.Confirmation{
		Date:        confirmation.Date.String(),
		Start:       confirmation.Start,
		End:         confirmation.End,
		ConfirmedAt: confirmation.ConfirmedAt,
	})
}

type participationRepositoryAdapter struct {
	repo persistence.ParticipationRepository
}

func newParticipationRepositoryAdapter(repo persistence.ParticipationRepository) *participationRepositoryAdapter {
	return &participationRepositoryAdapter{repo: repo}
}

func (a *participationRepositoryAdapter) CreateParticipation(ctx context.Context, participation application.Participation, maxParticipants int) error {
	return a.repo.CreateParticipation(ctx, toPersistenceParticipation(participation), maxParticipants)
}

func (a *participationRepositoryAdapter) GetParticipation(ctx context.Context, appointmentID, userID string) (application.Participation, error) {
	stored, err := a.repo.GetParticipation(ctx, appointmentID, userID)
	if err != nil {
		return application.Participation{}, err
	}
	return toApplicationParticipation(stored), nil
}

func (a *participationRepositoryAdapter) ListParticipations(ctx context.Context, appointmentID string) ([]application.Participation, error) {
	models, err := a.repo.ListParticipations(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return toApplicationParticipations(models), nil
}

func (a *participationRepositoryAdapter) UpdateAvailability(ctx context.Context, participationID string, intervals []scheduler.Interval, updatedAt time.Time) error {
	slots := make([]persistence.Slot, 0, len(intervals))
	for _, iv := range intervals {
		slots = append(slots, persistence.Slot{Start: iv.Start, End: iv.End})
	}
	return a.repo.UpdateAvailability(ctx, participationID, slots, updatedAt)
}

func (a *participationRepositoryAdapter) UpdateStatus(ctx context.Context, participationID string, status application.ParticipationStatus, updatedAt time.Time) error {
	return a.repo.UpdateStatus(ctx, participationID, string(status), updatedAt)
}

func (a *participationRepositoryAdapter) ClaimSync(ctx context.Context, participationID string, now, until time.Time) (bool, error) {
	return a.repo.ClaimSync(ctx, participationID, now, until)
}

func (a *participationRepositoryAdapter) RecordSync(ctx context.Context, participationID string, state application.SyncState) error {
	update := persistence.SyncUpdate{
		ParticipationID: participationID,
		Status:          string(state.Status),
		ErrorCode:       state.ErrorCode,
		EventID:         state.EventID,
	}
	if state.SyncedAt != nil {
		update.SyncedAt = *state.SyncedAt
	}
	return a.repo.UpdateSync(ctx, update)
}

func (a *participationRepositoryAdapter) ListResyncCandidates(ctx context.Context, errorCodes []string, limit int) ([]application.Participation, error) {
	models, err := a.repo.ListResyncCandidates(ctx, persistence.ResyncFilter{
		ErrorCodes: append([]string(nil), errorCodes...),
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return toApplicationParticipations(models), nil
}

// userRegistryAdapter creates a user row the first time a principal acts.
type userRegistryAdapter struct {
	repo persistence.UserRepository
	now  func() time.Time
}

func newUserRegistryAdapter(repo persistence.UserRepository, now func() time.Time) *userRegistryAdapter {
	return &userRegistryAdapter{repo: repo, now: now}
}

func (a *userRegistryAdapter) EnsureUser(ctx context.Context, userID string) error {
	now := a.now().UTC()
	return a.repo.UpsertUser(ctx, persistence.User{ID: userID, CreatedAt: now, UpdatedAt: now})
}

// credentialStoreAdapter seals refresh tokens before they reach the users table.
type credentialStoreAdapter struct {
	repo persistence.UserRepository
	box  *secrets.Box
	now  func() time.Time
}

func newCredentialStoreAdapter(repo persistence.UserRepository, box *secrets.Box, now func() time.Time) *credentialStoreAdapter {
	return &credentialStoreAdapter{repo: repo, box: box, now: now}
}

func (a *credentialStoreAdapter) RefreshToken(ctx context.Context, userID string) (string, error) {
	user, err := a.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if len(user.RefreshToken) == 0 {
		return "", nil
	}
	plain, err := a.box.Open(user.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("open refresh token for %s: %w", userID, err)
	}
	return string(plain), nil
}

func (a *credentialStoreAdapter) StoreRefreshToken(ctx context.Context, userID, refreshToken string) error {
	now := a.now().UTC()
	if err := a.repo.UpsertUser(ctx, persistence.User{ID: userID, CreatedAt: now, UpdatedAt: now}); err != nil {
		return err
	}
	var sealed []byte
	if refreshToken != "" {
		var err error
		if sealed, err = a.box.Seal([]byte(refreshToken)); err != nil {
			return err
		}
	}
	return a.repo.SetRefreshToken(ctx, userID, sealed, now)
}

func toPersistenceAppointment(appointment application.Appointment) persistence.Appointment {
	dates := make([]string, 0, len(appointment.CandidateDates))
	for _, date := range appointment.CandidateDates {
		dates = append(dates, date.String())
	}
	model := persistence.Appointment{
		ID:              appointment.ID,
		Name:            appointment.Name,
		CreatorID:       appointment.CreatorID,
		MaxParticipants: appointment.MaxParticipants,
		Status:          persistence.AppointmentStatus(appointment.Status),
		InviteCode:      appointment.InviteCode,
		TimeZone:        appointment.TimeZone,
		CandidateDates:  dates,
		CreatedAt:       appointment.CreatedAt,
		UpdatedAt:       appointment.UpdatedAt,
	}
	if c := appointment.Confirmation; c != nil {
		model.Confirmation = &persistence.Confirmation{
			Date:        c.Date.String(),
			Start:       c.Start,
			End:         c.End,
			ConfirmedAt: c.ConfirmedAt,
		}
	}
	return model
}

func toApplicationAppointment(model persistence.Appointment) (application.Appointment, error) {
	dates := make([]scheduler.Date, 0, len(model.CandidateDates))
	for _, value := range model.CandidateDates {
		date, err := scheduler.ParseDate(value)
		if err != nil {
			return application.Appointment{}, fmt.Errorf("appointment %s: %w", model.ID, err)
		}
		dates = append(dates, date)
	}
	appointment := application.Appointment{
		ID:              model.ID,
		Name:            model.Name,
		CreatorID:       model.CreatorID,
		MaxParticipants: model.MaxParticipants,
		Status:          application.AppointmentStatus(model.Status),
		InviteCode:      model.InviteCode,
		TimeZone:        model.TimeZone,
		CandidateDates:  dates,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
	if c := model.Confirmation; c != nil {
		date, err := scheduler.ParseDate(c.Date)
		if err != nil {
			return application.Appointment{}, fmt.Errorf("appointment %s: %w", model.ID, err)
		}
		appointment.Confirmation = &application.Confirmation{
			Date:        date,
			Start:       c.Start,
			End:         c.End,
			ConfirmedAt: c.ConfirmedAt,
		}
	}
	return appointment, nil
}

func toPersistenceParticipation(p application.Participation) persistence.Participation {
	model := persistence.Participation{
		ID:             p.ID,
		AppointmentID:  p.AppointmentID,
		UserID:         p.UserID,
		Status:         string(p.Status),
		SlotsSubmitted: p.AvailabilitySubmitted,
		SyncStatus:     string(p.Sync.Status),
		SyncError:      p.Sync.ErrorCode,
		SyncedAt:       cloneTime(p.Sync.SyncedAt),
		EventID:        p.Sync.EventID,
		CreatedAt:      p.JoinedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.AvailabilitySubmitted {
		model.AvailableSlots = make([]persistence.Slot, 0, len(p.Availability))
		for _, iv := range p.Availability {
			model.AvailableSlots = append(model.AvailableSlots, persistence.Slot{Start: iv.Start, End: iv.End})
		}
	}
	return model
}

func toApplicationParticipation(model persistence.Participation) application.Participation {
	p := application.Participation{
		ID:                    model.ID,
		AppointmentID:         model.AppointmentID,
		UserID:                model.UserID,
		Status:                application.ParticipationStatus(model.Status),
		AvailabilitySubmitted: model.SlotsSubmitted,
		Sync: application.SyncState{
			Status:    application.SyncStatus(model.SyncStatus),
			ErrorCode: model.SyncError,
			SyncedAt:  cloneTime(model.SyncedAt),
			EventID:   model.EventID,
		},
		JoinedAt:  model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	for _, slot := range model.AvailableSlots {
		p.Availability = append(p.Availability, scheduler.Interval{Start: slot.Start, End: slot.End})
	}
	return p
}

func toApplicationParticipations(models []persistence.Participation) []application.Participation {
	out := make([]application.Participation, 0, len(models))
	for _, model := range models {
		out = append(out, toApplicationParticipation(model))
	}
	return out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
