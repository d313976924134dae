package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for habridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hass      HassConfig      `yaml:"hass"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Notify    NotifyConfig    `yaml:"notify"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Vacuum    VacuumConfig    `yaml:"vacuum"`
	Security  SecurityConfig  `yaml:"security"`

	// StateOverrides adjusts how individual entities are shown, keyed by
	// entity id.
	StateOverrides map[string]StateOverride `yaml:"state_overrides"`
}

// HassConfig describes how to reach the home-automation hub.
//
// Token is never read from YAML output or logged; set it with
// HABRIDGE_HASS_TOKEN (or SUPERVISOR_TOKEN when running as an add-on).
type HassConfig struct {
	BaseURL      string `yaml:"base_url"`
	WebSocketURL string `yaml:"websocket_url"`
	Token        string `yaml:"token"`

	// Timeouts in seconds.
	RequestTimeout int `yaml:"request_timeout"`
	ConnectTimeout int `yaml:"connect_timeout"`
	CommandTimeout int `yaml:"command_timeout"`
	SyncTimeout    int `yaml:"sync_timeout"`

	Readiness ReadinessConfig `yaml:"readiness"`
}

// ReadinessConfig controls startup gating and the background recovery probe.
type ReadinessConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	BaseDelay        int `yaml:"base_delay"`
	MaxDelay         int `yaml:"max_delay"`
	RecoveryInterval int `yaml:"recovery_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the API's WebSocket hub.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// NotifyConfig contains notification engine settings.
type NotifyConfig struct {
	Enabled         bool `yaml:"enabled"`
	DefaultThrottle int  `yaml:"default_throttle"`
	MaxRetryAfter   int  `yaml:"max_retry_after"`
}

// SchedulerConfig contains cron scheduler settings.
type SchedulerConfig struct {
	Enabled       bool `yaml:"enabled"`
	CheckInterval int  `yaml:"check_interval"`
}

// VacuumConfig controls how room cleaning is requested.
type VacuumConfig struct {
	// CleanStrategy is one of "script", "service_data" or "start".
	CleanStrategy  string   `yaml:"clean_strategy"`
	ScriptEntityID string   `yaml:"script_entity_id"`
	RoomPresets    []string `yaml:"room_presets"`
}

// StateOverride changes the displayed state of one entity. A power
// threshold marks appliances RUNNING while they draw more than it.
type StateOverride struct {
	RunningThresholdWatts *float64 `yaml:"running_threshold_watts"`
	ActiveStates          []string `yaml:"active_states"`
	IdleStates            []string `yaml:"idle_states"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the HS256 secret used to verify API bearer tokens.
// An empty secret leaves the API open, which is only suitable for development.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Clean strategies accepted by VacuumConfig.
const (
	CleanStrategyScript      = "script"
	CleanStrategyServiceData = "service_data"
	CleanStrategyStart       = "start"
)

// Load builds the configuration in three layers: built-in defaults, the
// YAML file at path, then HABRIDGE_* environment variables. The result is
// validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hass: HassConfig{
			BaseURL:        "http://supervisor/core/api",
			WebSocketURL:   "ws://supervisor/core/websocket",
			RequestTimeout: 30,
			ConnectTimeout: 10,
			CommandTimeout: 15,
			SyncTimeout:    30,
			Readiness: ReadinessConfig{
				MaxAttempts:      10,
				BaseDelay:        2,
				MaxDelay:         60,
				RecoveryInterval: 60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/habridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "habridge-core",
			},
			QoS:         1,
			TopicPrefix: "habridge",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Notify: NotifyConfig{
			Enabled:         true,
			DefaultThrottle: 60,
			MaxRetryAfter:   30,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: 30,
		},
		Vacuum: VacuumConfig{
			CleanStrategy: CleanStrategyStart,
		},
	}
}

// envBindings maps environment variables onto string fields. Later
// entries win, so HABRIDGE_HASS_TOKEN beats the add-on SUPERVISOR_TOKEN.
func envBindings(cfg *Config) []struct {
	name   string
	target *string
} {
	return []struct {
		name   string
		target *string
	}{
		{"SUPERVISOR_TOKEN", &cfg.Hass.Token},
		{"HABRIDGE_HASS_TOKEN", &cfg.Hass.Token},
		{"HABRIDGE_HASS_BASE_URL", &cfg.Hass.BaseURL},
		{"HABRIDGE_HASS_WEBSOCKET_URL", &cfg.Hass.WebSocketURL},
		{"HABRIDGE_DATABASE_PATH", &cfg.Database.Path},
		{"HABRIDGE_MQTT_HOST", &cfg.MQTT.Broker.Host},
		{"HABRIDGE_MQTT_USERNAME", &cfg.MQTT.Auth.Username},
		{"HABRIDGE_MQTT_PASSWORD", &cfg.MQTT.Auth.Password},
		{"HABRIDGE_INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		{"HABRIDGE_JWT_SECRET", &cfg.Security.JWT.Secret},
		{"HABRIDGE_LOG_LEVEL", &cfg.Logging.Level},
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, b := range envBindings(cfg) {
		if v, ok := os.LookupEnv(b.name); ok && v != "" {
			*b.target = v
		}
	}
}

// problems collects validation failures so all of them are reported at once.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		p.addf(format, args...)
	}
}

// Validate reports every problem in c as a single error.
func (c *Config) Validate() error {
	var p problems

	if err := validateURL(c.Hass.BaseURL, "http", "https"); err != nil {
		p.addf("hass.base_url %v", err)
	}
	if err := validateURL(c.Hass.WebSocketURL, "ws", "wss"); err != nil {
		p.addf("hass.websocket_url %v", err)
	}
	p.check(c.Hass.Token != "", "hass.token is required (set HABRIDGE_HASS_TOKEN or SUPERVISOR_TOKEN)")
	p.check(c.Hass.Readiness.MaxAttempts >= 1, "hass.readiness.max_attempts must be >= 1")

	p.check(c.Database.Path != "", "database.path is required")

	p.check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	p.check(!c.MQTT.Enabled || validPort(c.MQTT.Broker.Port), "mqtt.broker.port must be between 1 and 65535")
	p.check(!c.API.Enabled || validPort(c.API.Port), "api.port must be between 1 and 65535")
	p.check(!c.InfluxDB.Enabled || c.InfluxDB.Bucket != "", "influxdb.bucket is required when influxdb is enabled")

	p.check(c.Notify.DefaultThrottle >= 0, "notify.default_throttle must be >= 0")
	p.check(c.Scheduler.CheckInterval >= 1, "scheduler.check_interval must be >= 1")

	strategies := []string{CleanStrategyScript, CleanStrategyServiceData, CleanStrategyStart}
	p.check(slices.Contains(strategies, c.Vacuum.CleanStrategy),
		"vacuum.clean_strategy must be one of %s", strings.Join(strategies, ", "))
	if id := c.Vacuum.ScriptEntityID; id != "" {
		p.check(isEntityID(id), "vacuum.script_entity_id=%q is not a valid entity_id (expected 'domain.name')", id)
	}
	p.check(c.Vacuum.CleanStrategy != CleanStrategyScript || c.Vacuum.ScriptEntityID != "",
		"vacuum.script_entity_id is required when clean_strategy is script")

	for _, id := range slices.Sorted(maps.Keys(c.StateOverrides)) {
		p.check(isEntityID(id), "state_overrides key %q is not a valid entity_id (expected 'domain.name')", id)
	}

	if len(p) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(p, "; "))
	}
	return nil
}

func validPort(n int) bool { return n >= 1 && n <= 65535 }

func isEntityID(s string) bool {
	domain, name, ok := strings.Cut(s, ".")
	return ok && domain != "" && name != ""
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return fmt.Errorf("is not a valid URL: %w", err)
	case !slices.Contains(schemes, u.Scheme):
		return fmt.Errorf("must use scheme %s", strings.Join(schemes, " or "))
	case u.Host == "":
		return errors.New("must include a host")
	}
	return nil
}

// Seconds converts a whole-second config value to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
