// habridge core - chat-bot backend for a home-automation hub
//
// This is the main entry point. It wires the resilient REST client, the
// realtime sessions, the registry synchronizer, the notification engine and
// the cron scheduler, and exposes them over the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/habridge-core/migrations"

	"github.com/nerrad567/habridge-core/internal/api"
	"github.com/nerrad567/habridge-core/internal/events"
	"github.com/nerrad567/habridge-core/internal/hass/realtime"
	"github.com/nerrad567/habridge-core/internal/hass/rest"
	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
	"github.com/nerrad567/habridge-core/internal/infrastructure/database"
	"github.com/nerrad567/habridge-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/habridge-core/internal/infrastructure/logging"
	"github.com/nerrad567/habridge-core/internal/infrastructure/metrics"
	"github.com/nerrad567/habridge-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/habridge-core/internal/notify"
	"github.com/nerrad567/habridge-core/internal/readiness"
	"github.com/nerrad567/habridge-core/internal/registry"
	"github.com/nerrad567/habridge-core/internal/schedule"
	"github.com/nerrad567/habridge-core/internal/statemap"
	"github.com/nerrad567/habridge-core/internal/store"
	"github.com/nerrad567/habridge-core/internal/vacuum"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// tokenCheckTimeout bounds the startup credential check.
const tokenCheckTimeout = 10 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting habridge core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// A local .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("ignoring unreadable .env file", "error", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if ms, msErr := db.MigrationStatus(ctx); msErr == nil && len(ms.Applied) > 0 {
		latest := ms.Applied[len(ms.Applied)-1]
		log.Info("database migrations complete", "applied", len(ms.Applied), "schema", latest.Version+"_"+latest.Name)
	}

	st := store.New(db.DB,
		store.WithDefaultThrottle(config.Seconds(cfg.Notify.DefaultThrottle)),
		store.WithLogger(log.Component("store")))
	m := metrics.New()

	checks := map[string]api.HealthCheck{
		"database": db.HealthCheck,
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient.HealthCheck
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influxClient.HealthCheck
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Hub clients
	hub := rest.New(cfg.Hass.BaseURL, cfg.Hass.Token,
		rest.WithTimeouts(
			config.Seconds(cfg.Hass.RequestTimeout),
			config.Seconds(cfg.Hass.ConnectTimeout),
			config.Seconds(cfg.Hass.RequestTimeout),
		),
		rest.WithLogger(log.Component("rest")),
		rest.WithMetrics(m),
	)
	session := realtime.Config{
		URL:              cfg.Hass.WebSocketURL,
		Token:            cfg.Hass.Token,
		HandshakeTimeout: config.Seconds(cfg.Hass.ConnectTimeout),
		CommandTimeout:   config.Seconds(cfg.Hass.CommandTimeout),
		Logger:           log.Component("realtime"),
	}

	wsHub := api.NewHub(cfg.WebSocket, log.Component("ws"))
	busOpts := []events.Option{events.WithBroadcaster(wsHub), events.WithLogger(log.Component("events"))}
	if mqttClient != nil {
		busOpts = append(busOpts, events.WithMQTT(mqttClient))
	}
	if influxClient != nil {
		busOpts = append(busOpts, events.WithPoints(influxClient))
	}
	bus := events.New(mqtt.NewTopics(cfg.MQTT.TopicPrefix), busOpts...)

	reg := registry.New(
		&registry.SessionFetcher{Config: session, Timeout: config.Seconds(cfg.Hass.SyncTimeout)},
		registry.WithStore(st),
		registry.WithRecorder(m),
		registry.WithLogger(log.Component("registry")),
	)
	reg.OnSync(bus.RegistrySynced)

	monitor := readiness.New(hub, reg,
		readiness.WithLogger(log.Component("readiness")),
		readiness.WithMetrics(m),
		readiness.WithAttempts(cfg.Hass.Readiness.MaxAttempts),
		readiness.WithBackoff(
			config.Seconds(cfg.Hass.Readiness.BaseDelay),
			config.Seconds(cfg.Hass.Readiness.MaxDelay),
		),
		readiness.WithRecoveryInterval(config.Seconds(cfg.Hass.Readiness.RecoveryInterval)),
		readiness.WithAvailability(bus),
	)
	checks["backend"] = func(context.Context) error {
		if !monitor.Ready() {
			return errors.New("unreachable")
		}
		return nil
	}

	if err := checkToken(ctx, monitor); err != nil {
		return err
	}

	vacuums := vacuum.New(hub, st, reg, cfg.Vacuum, vacuum.WithLogger(log.Component("vacuum")))

	var engine *notify.Engine
	if cfg.Notify.Enabled {
		if mqttClient == nil {
			log.Warn("notifications enabled without MQTT: messages have no outbox and will be dropped")
		}
		engine = notify.New(session, st, bus,
			notify.WithLogger(log.Component("notify")),
			notify.WithMetrics(m),
			notify.WithPublisher(bus),
			notify.WithServiceCaller(hub),
			notify.WithMaxRetryAfter(config.Seconds(cfg.Notify.MaxRetryAfter)),
			notify.WithSessionOptions(realtime.WithReconnectRecorder("notify", m)),
		)
	}

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Registry:  reg,
		Store:     st,
		Vacuums:   vacuums,
		States:    hub,
		Overrides: stateOverrides(cfg.StateOverrides),
		Metrics:   m,
		Checks:    checks,
		Hub:       wsHub,
		Version:   version,
	}
	if engine != nil {
		deps.Callbacks = engine
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if cfg.API.Enabled {
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Gate the background services on the first successful probe and sync.
	// On failure the recovery loop keeps trying.
	backendVersion, synced := monitor.WaitForBackend(ctx)
	log.Info("startup probe finished", "backend_version", backendVersion, "registry_synced", synced)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.RecoveryLoop(gctx) })

	if mqttClient != nil {
		if listenErr := bus.ListenCommands(gctx, mqttClient, reg); listenErr != nil {
			log.Warn("registry sync command unavailable", "error", listenErr)
		}
	}

	if engine != nil {
		g.Go(func() error { return engine.Run(gctx) })
	} else {
		log.Info("notifications disabled")
	}

	if cfg.Scheduler.Enabled {
		scheduler := schedule.New(st, hub,
			schedule.WithLogger(log.Component("schedule")),
			schedule.WithMetrics(m),
			schedule.WithInterval(config.Seconds(cfg.Scheduler.CheckInterval)),
			schedule.WithPublisher(bus),
		)
		g.Go(func() error { return scheduler.Run(gctx) })
	} else {
		log.Info("scheduler disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("background service failed: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("habridge core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HABRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HABRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// checkToken fails startup when the hub rejects the access token. Any other
// failure is left to the readiness probe.
func checkToken(ctx context.Context, m *readiness.Monitor) error {
	ctx, cancel := context.WithTimeout(ctx, tokenCheckTimeout)
	defer cancel()

	if err := m.ValidateToken(ctx); errors.Is(err, readiness.ErrInvalidToken) {
		return fmt.Errorf("checking hub token: %w", err)
	}
	return nil
}

// stateOverrides converts configured overrides to the mapper's form.
func stateOverrides(in map[string]config.StateOverride) map[string]statemap.Override {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]statemap.Override, len(in))
	for id, o := range in {
		out[id] = statemap.Override{
			RunningThresholdWatts: o.RunningThresholdWatts,
			ActiveStates:          o.ActiveStates,
			IdleStates:            o.IdleStates,
		}
	}
	return out
}
