package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/SonJH7/Yakssok/internal/google"
	"github.com/SonJH7/Yakssok/internal/scheduler"
)

const (
	// DefaultScheduleRangeStart and DefaultScheduleRangeEnd bound the part of
	// each candidate day that SyncMySchedules offers when the calendar is free.
	DefaultScheduleRangeStart scheduler.TimeOfDay = 9 * 60
	DefaultScheduleRangeEnd   scheduler.TimeOfDay = 22 * 60

	maxSchedulePages = 10
)

type scheduleTarget struct {
	appointment   Appointment
	participation Participation
}

// SyncMySchedules re-derives the caller's availability on every OPEN
// appointment they take part in from their primary calendar. Busy events on
// each candidate date are cut out of the daily range and what is left replaces
// the submitted availability. One appointment's failure never affects the
// others.
func (s *CalendarSyncService) SyncMySchedules(ctx context.Context, params ScheduleSyncParams) (ScheduleSyncResult, error) {
	if s == nil {
		return ScheduleSyncResult{}, fmt.Errorf("CalendarSyncService is nil")
	}
	userID := params.Principal.UserID
	if userID == "" {
		return ScheduleSyncResult{}, ErrUnauthorized
	}
	rangeStart, rangeEnd, err := scheduleRange(params)
	if err != nil {
		return ScheduleSyncResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "calendar_sync.my_schedules")
	defer span.End()
	logger := serviceLogger(ctx, s.logger, "CalendarSyncService", "SyncMySchedules", "user_id", userID)

	accessToken, err := s.accessToken(ctx, userID)
	if err != nil {
		logger.Warn("calendar access unavailable", "error_kind", ErrorKind(err))
		return ScheduleSyncResult{}, err
	}

	targets, err := s.scheduleTargets(ctx, userID)
	if err != nil {
		return ScheduleSyncResult{}, err
	}

	updated := make([]bool, len(targets))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			if err := s.syncSchedule(ctx, accessToken, target, rangeStart, rangeEnd); err != nil {
				logger.Warn("schedule sync failed",
					"appointment_id", target.appointment.ID,
					"error", err,
					"error_kind", ErrorKind(err),
				)
				return nil
			}
			updated[i] = true
			return nil
		})
	}
	_ = g.Wait()

	result := ScheduleSyncResult{Total: len(targets)}
	for _, ok := range updated {
		if ok {
			result.Updated++
		} else {
			result.Failed++
		}
	}
	span.SetAttributes(
		attribute.Int("schedule.total", result.Total),
		attribute.Int("schedule.failed", result.Failed),
	)
	logger.Info("schedules synced", "total", result.Total, "updated", result.Updated, "failed", result.Failed)
	return result, nil
}

// scheduleTargets lists the OPEN appointments where the user still attends.
func (s *CalendarSyncService) scheduleTargets(ctx context.Context, userID string) ([]scheduleTarget, error) {
	appointments, err := s.appointments.ListAppointmentsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	targets := make([]scheduleTarget, 0, len(appointments))
	for _, appointment := range appointments {
		if appointment.Status != AppointmentOpen || len(appointment.CandidateDates) == 0 {
			continue
		}
		participation, err := s.participations.GetParticipation(ctx, appointment.ID, userID)
		if err != nil {
			if errors.Is(mapRepoError(err, ErrNotParticipant), ErrNotParticipant) {
				continue
			}
			return nil, fmt.Errorf("load participation in %s: %w", appointment.ID, err)
		}
		if participation.Status == ParticipationDeclined {
			continue
		}
		targets = append(targets, scheduleTarget{appointment: appointment, participation: participation})
	}
	return targets, nil
}

func (s *CalendarSyncService) syncSchedule(ctx context.Context, accessToken string, target scheduleTarget, rangeStart, rangeEnd scheduler.TimeOfDay) error {
	appointment := target.appointment
	loc := appointment.Location()

	dates := slices.Clone(appointment.CandidateDates)
	slices.SortFunc(dates, func(a, b scheduler.Date) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	dates = slices.Compact(dates)

	from := dates[0].Start(loc)
	to := dates[len(dates)-1].Start(loc).AddDate(0, 0, 1)
	busy, err := s.busyIntervals(ctx, accessToken, google.ListOptions{
		TimeMin:    from.Format(time.RFC3339),
		TimeMax:    to.Format(time.RFC3339),
		MaxResults: google.DefaultMaxResults,
		TimeZone:   appointment.TimeZone,
	}, loc)
	if err != nil {
		return err
	}

	free := make([]scheduler.Interval, 0, len(dates))
	for _, date := range dates {
		day := scheduler.Interval{Start: rangeStart.On(date, loc), End: rangeEnd.On(date, loc)}
		free = append(free, scheduler.FreeIntervals(day, busy)...)
	}
	if err := s.participations.UpdateAvailability(ctx, target.participation.ID, free, s.now().UTC()); err != nil {
		return mapRepoError(err, ErrNotParticipant)
	}
	return nil
}

// busyIntervals pages through the listing. A listing that does not end within
// maxSchedulePages is an error, since a partial list would overstate free time.
func (s *CalendarSyncService) busyIntervals(ctx context.Context, accessToken string, opts google.ListOptions, loc *time.Location) ([]scheduler.Interval, error) {
	var busy []scheduler.Interval
	for range maxSchedulePages {
		page, err := s.reader.ListEvents(ctx, accessToken, opts)
		if err != nil {
			return nil, err
		}
		for _, event := range page.Events {
			if iv, ok := eventInterval(event, loc); ok {
				busy = append(busy, iv)
			}
		}
		if page.NextPageToken == "" {
			return busy, nil
		}
		opts.PageToken = page.NextPageToken
	}
	return nil, fmt.Errorf("event listing did not finish within %d pages", maxSchedulePages)
}

// eventInterval returns the span an event blocks. All-day events block whole
// days in loc; their end date is exclusive.
func eventInterval(event google.Event, loc *time.Location) (scheduler.Interval, bool) {
	if event.Start.DateTime != "" {
		start, err := time.Parse(time.RFC3339, event.Start.DateTime)
		if err != nil {
			return scheduler.Interval{}, false
		}
		end, err := time.Parse(time.RFC3339, event.End.DateTime)
		if err != nil || !end.After(start) {
			return scheduler.Interval{}, false
		}
		return scheduler.Interval{Start: start, End: end}, true
	}
	if event.Start.Date == "" {
		return scheduler.Interval{}, false
	}
	first, err := scheduler.ParseDate(event.Start.Date)
	if err != nil {
		return scheduler.Interval{}, false
	}
	start := first.Start(loc)
	end := start.AddDate(0, 0, 1)
	if last, err := scheduler.ParseDate(event.End.Date); err == nil && first.Before(last) {
		end = last.Start(loc)
	}
	return scheduler.Interval{Start: start, End: end}, true
}

func scheduleRange(params ScheduleSyncParams) (scheduler.TimeOfDay, scheduler.TimeOfDay, error) {
	start, end := DefaultScheduleRangeStart, DefaultScheduleRangeEnd
	if params.RangeStart != nil {
		start = *params.RangeStart
	}
	if params.RangeEnd != nil {
		end = *params.RangeEnd
	}
	vErr := &ValidationError{}
	switch {
	case end <= start:
		vErr.add("time_range", "range end must be after range start")
	case start == 0 && end == scheduler.EndOfDay:
		vErr.add("time_range", "range must not cover the whole day")
	}
	if vErr.HasErrors() {
		return 0, 0, vErr
	}
	return start, end, nil
}
