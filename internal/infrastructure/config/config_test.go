package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Hass.Token = "abc"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("SUPERVISOR_TOKEN", "")
	t.Setenv("HABRIDGE_HASS_TOKEN", "")
	path := writeConfig(t, `
hass:
  base_url: "http://hub.local:8123/api"
  websocket_url: "ws://hub.local:8123/api/websocket"
  token: "file-token"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
  qos: 1
scheduler:
  check_interval: 15
state_overrides:
  sensor.washer_power:
    running_threshold_watts: 5
    idle_states: ["0"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hass.BaseURL != "http://hub.local:8123/api" {
		t.Errorf("Hass.BaseURL = %q, want %q", cfg.Hass.BaseURL, "http://hub.local:8123/api")
	}
	if cfg.Hass.Token != "file-token" {
		t.Errorf("Hass.Token = %q, want %q", cfg.Hass.Token, "file-token")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Scheduler.CheckInterval != 15 {
		t.Errorf("Scheduler.CheckInterval = %d, want 15", cfg.Scheduler.CheckInterval)
	}
	ovr, ok := cfg.StateOverrides["sensor.washer_power"]
	if !ok || ovr.RunningThresholdWatts == nil || *ovr.RunningThresholdWatts != 5 {
		t.Errorf("StateOverrides = %+v, want washer threshold 5", cfg.StateOverrides)
	}
	// Untouched sections keep defaults.
	if cfg.Hass.Readiness.MaxAttempts != 10 {
		t.Errorf("Readiness.MaxAttempts = %d, want 10", cfg.Hass.Readiness.MaxAttempts)
	}
	if cfg.Notify.DefaultThrottle != 60 {
		t.Errorf("Notify.DefaultThrottle = %d, want 60", cfg.Notify.DefaultThrottle)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("SUPERVISOR_TOKEN", "")
	t.Setenv("HABRIDGE_HASS_TOKEN", "")
	path := writeConfig(t, "database:\n  path: /tmp/x.db\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for missing token, got nil")
	}
	if !strings.Contains(err.Error(), "hass.token") {
		t.Errorf("error = %v, want mention of hass.token", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing token", func(c *Config) { c.Hass.Token = "" }, true},
		{"bad base url scheme", func(c *Config) { c.Hass.BaseURL = "ftp://hub/api" }, true},
		{"bad websocket scheme", func(c *Config) { c.Hass.WebSocketURL = "http://hub/ws" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"mqtt port out of range", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Port = 0 }, true},
		{"disabled mqtt ignores port", func(c *Config) { c.MQTT.Broker.Port = 0 }, false},
		{"api port high", func(c *Config) { c.API.Enabled = true; c.API.Port = 70000 }, true},
		{"zero readiness attempts", func(c *Config) { c.Hass.Readiness.MaxAttempts = 0 }, true},
		{"zero check interval", func(c *Config) { c.Scheduler.CheckInterval = 0 }, true},
		{"unknown clean strategy", func(c *Config) { c.Vacuum.CleanStrategy = "turbo" }, true},
		{"script strategy without script", func(c *Config) { c.Vacuum.CleanStrategy = CleanStrategyScript }, true},
		{"script entity without dot", func(c *Config) { c.Vacuum.ScriptEntityID = "clean_room" }, true},
		{"script entity with empty name", func(c *Config) { c.Vacuum.ScriptEntityID = "script." }, true},
		{"influx enabled without bucket", func(c *Config) { c.InfluxDB.Enabled = true }, true},
		{"influx enabled with bucket", func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "home" }, false},
		{"state override without dot", func(c *Config) {
			c.StateOverrides = map[string]StateOverride{"washer": {ActiveStates: []string{"wash"}}}
		}, true},
		{"state override for entity", func(c *Config) {
			c.StateOverrides = map[string]StateOverride{"sensor.washer_power": {IdleStates: []string{"0"}}}
		}, false},
		{"script strategy with script", func(c *Config) {
			c.Vacuum.CleanStrategy = CleanStrategyScript
			c.Vacuum.ScriptEntityID = "script.clean_room"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Hass.Token = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"hass.token", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(5); got != 5*time.Second {
		t.Errorf("Seconds(5) = %v, want 5s", got)
	}
	if got := Seconds(0); got != 0 {
		t.Errorf("Seconds(0) = %v, want 0", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()
	env := map[string]string{
		"SUPERVISOR_TOKEN":            "supervisor",
		"HABRIDGE_HASS_TOKEN":         "",
		"HABRIDGE_HASS_BASE_URL":      "http://10.0.0.2:8123/api",
		"HABRIDGE_HASS_WEBSOCKET_URL": "ws://10.0.0.2:8123/api/websocket",
		"HABRIDGE_DATABASE_PATH":      "/custom/path.db",
		"HABRIDGE_MQTT_HOST":          "mqtt.example.com",
		"HABRIDGE_MQTT_USERNAME":      "bridge",
		"HABRIDGE_MQTT_PASSWORD":      "hunter2",
		"HABRIDGE_INFLUXDB_TOKEN":     "influx-token",
		"HABRIDGE_JWT_SECRET":         "jwt-secret",
		"HABRIDGE_LOG_LEVEL":          "debug",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	applyEnvOverrides(cfg)

	checks := []struct {
		field, got, want string
	}{
		{"Hass.Token", cfg.Hass.Token, "supervisor"},
		{"Hass.BaseURL", cfg.Hass.BaseURL, env["HABRIDGE_HASS_BASE_URL"]},
		{"Hass.WebSocketURL", cfg.Hass.WebSocketURL, env["HABRIDGE_HASS_WEBSOCKET_URL"]},
		{"Database.Path", cfg.Database.Path, env["HABRIDGE_DATABASE_PATH"]},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, env["HABRIDGE_MQTT_HOST"]},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, env["HABRIDGE_MQTT_USERNAME"]},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, env["HABRIDGE_MQTT_PASSWORD"]},
		{"InfluxDB.Token", cfg.InfluxDB.Token, env["HABRIDGE_INFLUXDB_TOKEN"]},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, env["HABRIDGE_JWT_SECRET"]},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_Precedence(t *testing.T) {
	tests := []struct {
		name       string
		supervisor string
		explicit   string
		want       string
	}{
		{"explicit beats supervisor", "supervisor", "explicit", "explicit"},
		{"supervisor alone", "supervisor", "", "supervisor"},
		{"neither keeps file value", "", "", "from-file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Hass.Token = "from-file"
			t.Setenv("SUPERVISOR_TOKEN", tt.supervisor)
			t.Setenv("HABRIDGE_HASS_TOKEN", tt.explicit)

			applyEnvOverrides(cfg)

			if cfg.Hass.Token != tt.want {
				t.Errorf("Hass.Token = %q, want %q", cfg.Hass.Token, tt.want)
			}
		})
	}
}
