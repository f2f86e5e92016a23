package testfixtures

import (
	"log/slog"
	"time"

	"github.com/SonJH7/Yakssok/internal/application"
)

// ServiceFactory builds application services with deterministic identifiers,
// invite codes and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDs         *Sequence
	InviteCodes *Sequence
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDs:         NewSequence("id"),
		InviteCodes: NewSequence("invite"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if clock != nil {
			factory.Clock = clock
		}
	}
}

// NewAppointmentService fills unset clock, identifier and dispatch
// dependencies. Dispatch runs inline so confirmation sync completes before
// Confirm returns.
func (f *ServiceFactory) NewAppointmentService(deps application.AppointmentServiceDeps) *application.AppointmentService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = f.IDs.Func()
	}
	if deps.InviteCodes == nil {
		deps.InviteCodes = f.InviteCodes.Func()
	}
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	if deps.Dispatch == nil {
		deps.Dispatch = func(fn func()) { fn() }
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	return application.NewAppointmentService(deps)
}

// NewCalendarSyncService fills the clock and a single-worker concurrency.
func (f *ServiceFactory) NewCalendarSyncService(deps application.CalendarSyncServiceDeps) *application.CalendarSyncService {
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	if deps.Concurrency == 0 {
		deps.Concurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	return application.NewCalendarSyncService(deps)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
