package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/SonJH7/Yakssok/internal/application"
	httptransport "github.com/SonJH7/Yakssok/internal/http"
	"github.com/SonJH7/Yakssok/internal/telemetry"
)

type serveCmd struct{}

func (c *serveCmd) Run(rc *runContext) error {
	env, err := rc.bootstrap()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.logger

	shutdownTelemetry, err := telemetry.Setup(rc.ctx, telemetry.Options{
		Endpoint:    env.cfg.Telemetry.OTLPEndpoint,
		ServiceName: env.cfg.Telemetry.ServiceName,
		Insecure:    env.cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("configure telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), env.cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	svc, err := env.services()
	if err != nil {
		return err
	}
	// Runs after the server has stopped and before storage is closed.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), env.cfg.ShutdownTimeout)
		defer cancel()
		if err := svc.appointments.Drain(ctx); err != nil {
			logger.Warn("initial calendar sync still running at shutdown", "error", err)
		}
	}()

	resync, err := startResyncSchedule(rc.ctx, env.cfg.ResyncSchedule, svc.sync, logger)
	if err != nil {
		return err
	}
	defer func() {
		<-resync.Stop().Done()
	}()

	verifier := httptransport.NewTokenVerifier(env.cfg.JWTSecret, env.cfg.JWTIssuer)
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Appointments: httptransport.NewAppointmentHandler(svc.appointments, logger),
		Calendar:     httptransport.NewCalendarHandler(svc.sync, logger),
		Health:       healthHandler(env),
		Authenticate: httptransport.RequireJWT(verifier, logger),
		Middleware:   []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	server := &http.Server{
		Addr:              env.cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rc.ctx)
	g.Go(func() error {
		logger.Info("yakssok API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), env.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
			return err
		}
		logger.Info("yakssok API stopped")
		return nil
	})
	return g.Wait()
}

// startResyncSchedule runs ResyncPending on schedule. An empty schedule returns a
// started scheduler with no entries. Overlapping runs are skipped.
func startResyncSchedule(ctx context.Context, schedule string, sync *application.CalendarSyncService, logger *slog.Logger) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if strings.TrimSpace(schedule) != "" {
		_, err := scheduler.AddFunc(schedule, func() {
			result, err := sync.ResyncPending(ctx)
			if err != nil {
				logger.Error("scheduled resync failed", "error", err)
				return
			}
			if result.Appointments > 0 {
				logger.Info("scheduled resync finished",
					"appointments", result.Appointments,
					"success", result.Summary.Success,
					"failed", result.Summary.Failed,
					"skipped", result.Summary.Skipped,
				)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("resync schedule %q: %w", schedule, err)
		}
		logger.Info("calendar resync scheduled", "schedule", schedule)
	}
	scheduler.Start()
	return scheduler, nil
}

func healthHandler(env *environment) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := env.storage.Ping(r.Context()); err != nil {
			env.logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unavailable"}`)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}
}

type migrateCmd struct{}

func (c *migrateCmd) Run(rc *runContext) error {
	env, err := rc.bootstrap()
	if err != nil {
		return err
	}
	defer env.Close()
	fmt.Fprintf(rc.stdout, "database %s is up to date\n", env.cfg.SQLitePath)
	return nil
}

type resyncCmd struct{}

func (c *resyncCmd) Run(rc *runContext) error {
	env, err := rc.bootstrap()
	if err != nil {
		return err
	}
	defer env.Close()

	svc, err := env.services()
	if err != nil {
		return err
	}
	result, err := svc.sync.ResyncPending(rc.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(rc.stdout, "resynced %d appointment(s): %d success, %d failed, %d skipped\n",
		result.Appointments, result.Summary.Success, result.Summary.Failed, result.Summary.Skipped)
	return nil
}

type credentialSetCmd struct {
	User         string `help:"User ID (the bearer token subject)." required:""`
	RefreshToken string `help:"Google OAuth refresh token. Empty clears it." env:"YAKSSOK_REFRESH_TOKEN"`
}

func (c *credentialSetCmd) Run(rc *runContext) error {
	env, err := rc.bootstrap()
	if err != nil {
		return err
	}
	defer env.Close()

	svc, err := env.services()
	if err != nil {
		return err
	}
	if err := svc.credentials.StoreRefreshToken(rc.ctx, c.User, strings.TrimSpace(c.RefreshToken)); err != nil {
		return err
	}
	if strings.TrimSpace(c.RefreshToken) == "" {
		fmt.Fprintf(rc.stdout, "cleared refresh token for %s\n", c.User)
		return nil
	}
	fmt.Fprintf(rc.stdout, "stored refresh token for %s\n", c.User)
	return nil
}

type tokenIssueCmd struct {
	User string        `help:"User ID to put in the token subject." required:""`
	TTL  time.Duration `help:"Token lifetime." default:"24h"`
}

func (c *tokenIssueCmd) Run(rc *runContext) error {
	cfg, err := rc.loadConfig()
	if err != nil {
		return err
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	token, err := httptransport.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer).IssueToken(c.User, c.TTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(rc.stdout, token)
	return nil
}
