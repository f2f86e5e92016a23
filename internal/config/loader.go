package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable that points at an optional YAML config file.
// Values from the file are applied first; environment variables win.
const FileEnv = "YAKSSOK_CONFIG_FILE"

// TokenKeySize is the decoded length of YAKSSOK_TOKEN_KEY.
const TokenKeySize = 32

// Config captures the settings for the Yakssok service.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr" env:"YAKSSOK_HTTP_ADDR"`
	SQLitePath      string        `yaml:"sqlite_path" env:"YAKSSOK_SQLITE_PATH"`
	JWTSecret       string        `yaml:"jwt_secret" env:"YAKSSOK_JWT_SECRET"`
	JWTIssuer       string        `yaml:"jwt_issuer" env:"YAKSSOK_JWT_ISSUER"`
	TokenKeyBase64  string        `yaml:"token_key" env:"YAKSSOK_TOKEN_KEY"`
	DefaultTimeZone string        `yaml:"default_time_zone" env:"YAKSSOK_DEFAULT_TIME_ZONE"`
	SyncConcurrency int           `yaml:"sync_concurrency" env:"YAKSSOK_SYNC_CONCURRENCY"`
	ResyncSchedule  string        `yaml:"resync_schedule" env:"YAKSSOK_RESYNC_SCHEDULE"`
	ResyncLimit     int           `yaml:"resync_limit" env:"YAKSSOK_RESYNC_LIMIT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"YAKSSOK_SHUTDOWN_TIMEOUT"`

	Google    GoogleConfig    `yaml:"google"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// TokenKey is the decoded form of TokenKeyBase64.
	TokenKey []byte `yaml:"-"`
}

// GoogleConfig holds OAuth client settings and provider endpoints.
type GoogleConfig struct {
	ClientID         string        `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret     string        `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	TokenURL         string        `yaml:"token_url" env:"GOOGLE_TOKEN_URL"`
	CalendarEndpoint string        `yaml:"calendar_endpoint" env:"GOOGLE_CALENDAR_ENDPOINT"`
	HTTPTimeout      time.Duration `yaml:"http_timeout" env:"GOOGLE_HTTP_TIMEOUT"`
	TimeZone         string        `yaml:"time_zone" env:"GOOGLE_CALENDAR_TIME_ZONE"`
}

// LogConfig selects the log level, format and destination.
type LogConfig struct {
	Level      string `yaml:"level" env:"YAKSSOK_LOG_LEVEL"`
	Format     string `yaml:"format" env:"YAKSSOK_LOG_FORMAT"`
	File       string `yaml:"file" env:"YAKSSOK_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"YAKSSOK_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"YAKSSOK_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"YAKSSOK_LOG_MAX_AGE_DAYS"`
}

// TelemetryConfig enables trace export when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"YAKSSOK_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"YAKSSOK_SERVICE_NAME"`
	Insecure     bool   `yaml:"insecure" env:"YAKSSOK_OTLP_INSECURE"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		SQLitePath:      "yakssok.db",
		JWTIssuer:       "yakssok",
		DefaultTimeZone: "Asia/Seoul",
		SyncConcurrency: 4,
		ResyncSchedule:  "*/15 * * * *",
		ResyncLimit:     100,
		ShutdownTimeout: 10 * time.Second,
		Google: GoogleConfig{
			HTTPTimeout: 10 * time.Second,
			TimeZone:    "Asia/Seoul",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "yakssok",
		},
	}
}

// Load reads the optional YAML file named by YAKSSOK_CONFIG_FILE and then
// applies environment overrides on top of the defaults.
//
// Missing required values and invalid values are reported together so a
// single start-up attempt surfaces every problem.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	missing := make([]string, 0, 4)
	invalid := make([]string, 0, 4)

	if strings.TrimSpace(c.JWTSecret) == "" {
		missing = append(missing, "YAKSSOK_JWT_SECRET")
	}
	if strings.TrimSpace(c.TokenKeyBase64) == "" {
		missing = append(missing, "YAKSSOK_TOKEN_KEY")
	} else if key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.TokenKeyBase64)); err != nil || len(key) != TokenKeySize {
		invalid = append(invalid, "YAKSSOK_TOKEN_KEY")
	} else {
		c.TokenKey = key
	}
	if strings.TrimSpace(c.Google.ClientID) == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if strings.TrimSpace(c.Google.ClientSecret) == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	if _, err := time.LoadLocation(c.DefaultTimeZone); err != nil || c.DefaultTimeZone == "" {
		invalid = append(invalid, "YAKSSOK_DEFAULT_TIME_ZONE")
	}
	if _, err := time.LoadLocation(c.Google.TimeZone); err != nil || c.Google.TimeZone == "" {
		invalid = append(invalid, "GOOGLE_CALENDAR_TIME_ZONE")
	}
	if c.SyncConcurrency <= 0 {
		invalid = append(invalid, "YAKSSOK_SYNC_CONCURRENCY")
	}
	if c.ResyncLimit <= 0 {
		invalid = append(invalid, "YAKSSOK_RESYNC_LIMIT")
	}
	if c.ResyncSchedule != "" {
		if _, err := cron.ParseStandard(c.ResyncSchedule); err != nil {
			invalid = append(invalid, "YAKSSOK_RESYNC_SCHEDULE")
		}
	}
	if c.Google.HTTPTimeout <= 0 {
		invalid = append(invalid, "GOOGLE_HTTP_TIMEOUT")
	}
	if c.ShutdownTimeout <= 0 {
		invalid = append(invalid, "YAKSSOK_SHUTDOWN_TIMEOUT")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		invalid = append(invalid, "YAKSSOK_LOG_FORMAT")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("required configuration is missing: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("configuration values are invalid: %s", strings.Join(invalid, ", ")))
	}
	return errors.Join(errs...)
}
