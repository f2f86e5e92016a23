package http

import (
	"net/http"
)

// RouterConfig collects the handlers and middleware served by NewRouter.
// Authenticate guards every route except the health check.
type RouterConfig struct {
	Appointments *AppointmentHandler
	Calendar     *CalendarHandler
	Health       http.HandlerFunc
	Authenticate func(http.Handler) http.Handler
	Middleware   []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	protect := func(h http.HandlerFunc) http.Handler {
		if cfg.Authenticate == nil {
			return h
		}
		return cfg.Authenticate(h)
	}

	health := cfg.Health
	if health == nil {
		health = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}
	}
	mux.Handle("GET /healthz", health)

	if a := cfg.Appointments; a != nil {
		mux.Handle("POST /appointments", protect(a.Create))
		mux.Handle("GET /appointments", protect(a.List))
		mux.Handle("POST /appointments/join", protect(a.Join))
		mux.Handle("GET /appointments/{code}", protect(a.Get))
		mux.Handle("DELETE /appointments/{code}", protect(a.Delete))
		mux.Handle("PUT /appointments/{code}/participation", protect(a.Respond))
		mux.Handle("PUT /appointments/{code}/availability", protect(a.SubmitAvailability))
		mux.Handle("GET /appointments/{code}/optimal-times", protect(a.OptimalTimes))
		mux.Handle("POST /appointments/{code}/confirm", protect(a.Confirm))
		mux.Handle("GET /appointments/{code}/calendar.ics", protect(a.Calendar))
	}

	if c := cfg.Calendar; c != nil {
		mux.Handle("GET /appointments/{code}/calendar-sync", protect(c.SyncStatus))
		mux.Handle("POST /appointments/{code}/calendar-sync", protect(c.RetrySync))
		mux.Handle("POST /appointments/sync-my-schedules", protect(c.SyncMySchedules))
		mux.Handle("GET /calendar/events", protect(c.ListEvents))
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}

	return handler
}
