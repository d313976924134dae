package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
	"github.com/nerrad567/habridge-core/internal/readiness"
)

// writeConfig writes a minimal config pointing at baseURL and sets
// HABRIDGE_CONFIG for the duration of the test. An empty dbPath selects a
// file in a temp dir; "-" writes an empty path.
func writeConfig(t *testing.T, baseURL, dbPath, extra string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	switch dbPath {
	case "":
		dbPath = filepath.Join(dir, "test.db")
	case "-":
		dbPath = ""
	}

	content := `
hass:
  base_url: "` + baseURL + `"
  websocket_url: "ws://127.0.0.1:1/websocket"
  token: "test-token"
  request_timeout: 2
  connect_timeout: 1
  readiness:
    max_attempts: 1
    base_delay: 1
    max_delay: 1
    recovery_interval: 60

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

notify:
  enabled: false
` + extra
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("HABRIDGE_CONFIG", path)
	t.Setenv("SUPERVISOR_TOKEN", "")
	t.Setenv("HABRIDGE_HASS_TOKEN", "")
}

// fakeHub answers the config probe with the given status.
func fakeHub(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/config") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"version":"2026.10.0","location_name":"Home"}`)) //nolint:errcheck
		} else {
			w.Write([]byte(`{"message":"denied"}`)) //nolint:errcheck
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HABRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation with an empty
// database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, "http://127.0.0.1:1/api", "-", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want database.path validation error", err)
	}
}

// TestRun_RejectedToken verifies startup stops when the hub refuses the token.
func TestRun_RejectedToken(t *testing.T) {
	hub := fakeHub(t, http.StatusUnauthorized)
	writeConfig(t, hub.URL+"/api", "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if !errors.Is(err, readiness.ErrInvalidToken) {
		t.Fatalf("run() error = %v, want %v", err, readiness.ErrInvalidToken)
	}
}

// TestRun_DegradedStartupAndShutdown starts with a reachable hub whose
// realtime endpoint is down, then shuts down cleanly on cancellation.
func TestRun_DegradedStartupAndShutdown(t *testing.T) {
	hub := fakeHub(t, http.StatusOK)
	writeConfig(t, hub.URL+"/api", "", `
scheduler:
  enabled: true
  check_interval: 30
`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("HABRIDGE_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("HABRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestStateOverrides(t *testing.T) {
	if got := stateOverrides(nil); got != nil {
		t.Errorf("stateOverrides(nil) = %v, want nil", got)
	}

	threshold := 5.0
	got := stateOverrides(map[string]config.StateOverride{
		"switch.washer": {RunningThresholdWatts: &threshold},
		"sensor.dryer":  {ActiveStates: []string{"drying"}, IdleStates: []string{"off"}},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if w := got["switch.washer"].RunningThresholdWatts; w == nil || *w != 5 {
		t.Errorf("washer threshold = %v, want 5", w)
	}
	if d := got["sensor.dryer"]; len(d.ActiveStates) != 1 || d.IdleStates[0] != "off" {
		t.Errorf("dryer = %+v", d)
	}
}
