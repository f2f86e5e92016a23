package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testTokenKey = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

// clearEnv unsets every variable the loader reads so tests do not pick up
// values from the host.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		FileEnv,
		"YAKSSOK_HTTP_ADDR", "YAKSSOK_SQLITE_PATH", "YAKSSOK_JWT_SECRET", "YAKSSOK_JWT_ISSUER",
		"YAKSSOK_TOKEN_KEY", "YAKSSOK_DEFAULT_TIME_ZONE", "YAKSSOK_SYNC_CONCURRENCY",
		"YAKSSOK_RESYNC_SCHEDULE", "YAKSSOK_RESYNC_LIMIT", "YAKSSOK_SHUTDOWN_TIMEOUT",
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_TOKEN_URL", "GOOGLE_CALENDAR_ENDPOINT",
		"GOOGLE_HTTP_TIMEOUT", "GOOGLE_CALENDAR_TIME_ZONE",
		"YAKSSOK_LOG_LEVEL", "YAKSSOK_LOG_FORMAT", "YAKSSOK_LOG_FILE",
		"YAKSSOK_OTLP_ENDPOINT", "YAKSSOK_SERVICE_NAME", "YAKSSOK_OTLP_INSECURE",
	}
	for _, key := range keys {
		// t.Setenv registers the restore; Unsetenv then removes it for this test.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("YAKSSOK_JWT_SECRET", "jwt-secret")
	t.Setenv("YAKSSOK_TOKEN_KEY", testTokenKey)
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		setRequired(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPAddr != ":8080" {
			t.Fatalf("expected default address :8080, got %q", cfg.HTTPAddr)
		}
		if cfg.DefaultTimeZone != "Asia/Seoul" {
			t.Fatalf("unexpected default time zone: %q", cfg.DefaultTimeZone)
		}
		if cfg.Google.HTTPTimeout != 10*time.Second {
			t.Fatalf("expected 10s provider timeout, got %s", cfg.Google.HTTPTimeout)
		}
		if cfg.SyncConcurrency != 4 || cfg.ResyncLimit != 100 {
			t.Fatalf("unexpected sync defaults: %+v", cfg)
		}
		if len(cfg.TokenKey) != TokenKeySize {
			t.Fatalf("expected decoded token key, got %d bytes", len(cfg.TokenKey))
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "required configuration is missing: YAKSSOK_JWT_SECRET, YAKSSOK_TOKEN_KEY, GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		setRequired(t)
		t.Setenv("YAKSSOK_HTTP_ADDR", "127.0.0.1:9090")
		t.Setenv("GOOGLE_HTTP_TIMEOUT", "3s")
		t.Setenv("YAKSSOK_SYNC_CONCURRENCY", "8")
		t.Setenv("YAKSSOK_RESYNC_SCHEDULE", "@every 5m")
		t.Setenv("YAKSSOK_OTLP_INSECURE", "true")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPAddr != "127.0.0.1:9090" {
			t.Fatalf("unexpected address %q", cfg.HTTPAddr)
		}
		if cfg.Google.HTTPTimeout != 3*time.Second {
			t.Fatalf("expected 3s timeout, got %s", cfg.Google.HTTPTimeout)
		}
		if cfg.SyncConcurrency != 8 {
			t.Fatalf("expected concurrency 8, got %d", cfg.SyncConcurrency)
		}
		if !cfg.Telemetry.Insecure {
			t.Fatalf("expected insecure exporter flag")
		}
	})

	t.Run("reports invalid values", func(t *testing.T) {
		clearEnv(t)
		setRequired(t)
		t.Setenv("YAKSSOK_TOKEN_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
		t.Setenv("YAKSSOK_DEFAULT_TIME_ZONE", "Mars/Olympus")
		t.Setenv("YAKSSOK_RESYNC_SCHEDULE", "every now and then")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected invalid values to fail")
		}
		for _, key := range []string{"YAKSSOK_TOKEN_KEY", "YAKSSOK_DEFAULT_TIME_ZONE", "YAKSSOK_RESYNC_SCHEDULE"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in %q", key, err.Error())
			}
		}
	})

	t.Run("environment overrides config file", func(t *testing.T) {
		clearEnv(t)
		setRequired(t)

		path := filepath.Join(t.TempDir(), "yakssok.yaml")
		content := strings.Join([]string{
			"http_addr: \":7070\"",
			"sqlite_path: /var/lib/yakssok.db",
			"google:",
			"  http_timeout: 5s",
			"log:",
			"  format: text",
		}, "\n")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		t.Setenv(FileEnv, path)
		t.Setenv("YAKSSOK_HTTP_ADDR", ":6060")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPAddr != ":6060" {
			t.Fatalf("expected environment to win, got %q", cfg.HTTPAddr)
		}
		if cfg.SQLitePath != "/var/lib/yakssok.db" {
			t.Fatalf("expected file value, got %q", cfg.SQLitePath)
		}
		if cfg.Google.HTTPTimeout != 5*time.Second {
			t.Fatalf("expected 5s from file, got %s", cfg.Google.HTTPTimeout)
		}
		if cfg.Log.Format != "text" {
			t.Fatalf("expected text format from file, got %q", cfg.Log.Format)
		}
	})
}
