package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SonJH7/Yakssok/internal/application"
	"github.com/SonJH7/Yakssok/internal/config"
	"github.com/SonJH7/Yakssok/internal/google"
	"github.com/SonJH7/Yakssok/internal/logging"
	"github.com/SonJH7/Yakssok/internal/persistence/sqlite"
	"github.com/SonJH7/Yakssok/internal/persistence/sqlite/migration"
	"github.com/SonJH7/Yakssok/internal/secrets"
)

const inviteCodeLength = 10

// environment holds what every command needs: configuration, the root logger
// and a migrated storage.
type environment struct {
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	storage   *sqlite.Storage
	now       func() time.Time
}

func (rc *runContext) bootstrap() (*environment, error) {
	cfg, err := rc.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	storage, err := sqlite.OpenWithConfig(migration.DefaultSQLiteConfig(cfg.SQLitePath), logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Migrate(rc.ctx); err != nil {
		_ = storage.Close()
		_ = logCloser.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	now := rc.now
	if now == nil {
		now = time.Now
	}
	return &environment{cfg: cfg, logger: logger, logCloser: logCloser, storage: storage, now: now}, nil
}

func (e *environment) Close() error {
	return errors.Join(e.storage.Close(), e.logCloser.Close())
}

// services is the wired application layer.
type services struct {
	appointments *application.AppointmentService
	sync         *application.CalendarSyncService
	credentials  *credentialStoreAdapter
}

func (e *environment) services() (*services, error) {
	box, err := secrets.NewBox(e.cfg.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("token key: %w", err)
	}

	googleCfg := google.Config{
		ClientID:         e.cfg.Google.ClientID,
		ClientSecret:     e.cfg.Google.ClientSecret,
		TokenURL:         e.cfg.Google.TokenURL,
		CalendarEndpoint: e.cfg.Google.CalendarEndpoint,
		Timeout:          e.cfg.Google.HTTPTimeout,
		TimeZone:         e.cfg.Google.TimeZone,
	}
	events := google.NewEventClient(googleCfg, e.logger)

	appointments := newAppointmentRepositoryAdapter(e.storage)
	participations := newParticipationRepositoryAdapter(e.storage)
	credentials := newCredentialStoreAdapter(e.storage, box, e.now)

	syncService := application.NewCalendarSyncService(application.CalendarSyncServiceDeps{
		Appointments:   appointments,
		Participations: participations,
		Credentials:    credentials,
		Tokens:         google.NewTokenClient(googleCfg, e.logger),
		Writer:         events,
		Reader:         events,
		Now:            e.now,
		Concurrency:    e.cfg.SyncConcurrency,
		ResyncLimit:    e.cfg.ResyncLimit,
		Logger:         e.logger,
	})
	appointmentService := application.NewAppointmentService(application.AppointmentServiceDeps{
		Appointments:    appointments,
		Participations:  participations,
		Users:           newUserRegistryAdapter(e.storage, e.now),
		Sync:            syncService,
		IDGenerator:     uuid.NewString,
		InviteCodes:     newInviteCode,
		Now:             e.now,
		DefaultTimeZone: e.cfg.DefaultTimeZone,
		Logger:          e.logger,
	})
	return &services{appointments: appointmentService, sync: syncService, credentials: credentials}, nil
}

// newInviteCode derives a short shareable code from a random UUID.
func newInviteCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:inviteCodeLength]
}
