package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/habridge-core/internal/hass"
	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
	"github.com/nerrad567/habridge-core/internal/infrastructure/logging"
	"github.com/nerrad567/habridge-core/internal/infrastructure/metrics"
	"github.com/nerrad567/habridge-core/internal/registry"
	"github.com/nerrad567/habridge-core/internal/statemap"
	"github.com/nerrad567/habridge-core/internal/store"
	"github.com/nerrad567/habridge-core/internal/vacuum"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry is the entity graph. *registry.Registry satisfies it.
type Registry interface {
	Snapshot() *registry.Graph
	Synced() bool
	Sync(ctx context.Context) bool
}

// Store holds subscriptions, mutes and tasks. *store.Store satisfies it.
type Store interface {
	ListNotifications(ctx context.Context, userID int64) ([]store.Subscription, error)
	ToggleNotification(ctx context.Context, userID int64, entityID string) (bool, error)
	GetNotification(ctx context.Context, userID int64, entityID string) (*store.Subscription, error)
	SetNotificationMode(ctx context.Context, userID int64, entityID string, mode store.NotificationMode) error
	SetThrottle(ctx context.Context, userID int64, entityID string, throttle time.Duration) error
	SetMute(ctx context.Context, userID int64, entityID string, until time.Time) error

	AddTask(ctx context.Context, t *store.Task) (int64, error)
	ListTasks(ctx context.Context, userID int64) ([]store.Task, error)
	ToggleTask(ctx context.Context, id, userID int64) (bool, error)
	DeleteTask(ctx context.Context, id, userID int64) (bool, error)
}

// Vacuums controls robot vacuums. *vacuum.Adapter satisfies it.
type Vacuums interface {
	Capabilities(ctx context.Context, vacuumID string) vacuum.Capabilities
	Rooms(ctx context.Context, vacuumID string) []store.RoomSegment
	SaveRooms(ctx context.Context, vacuumID string, segments []store.RoomSegment) error
	CleanSegment(ctx context.Context, vacuumID, segmentID string) error
	Execute(ctx context.Context, vacuumID, command string) error
	PressRoutine(ctx context.Context, buttonID string) error
	Routines(ctx context.Context, vacuumID string) []vacuum.Routine
	Status(ctx context.Context, vacuumID string) vacuum.Status
}

// CallbackHandler executes notification button presses.
// *notify.Engine satisfies it.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, userID int64, data string) error
}

// StateReader reads live entity state. *rest.Client satisfies it.
type StateReader interface {
	GetState(ctx context.Context, entityID string) (*hass.State, error)
}

// HealthCheck reports whether one dependency is healthy.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry Registry
	Store    Store

	// Optional collaborators.
	Vacuums   Vacuums
	Callbacks CallbackHandler
	States    StateReader
	Overrides map[string]statemap.Override
	Metrics   *metrics.Metrics
	Checks    map[string]HealthCheck
	Hub       *Hub // If set, the server uses this hub instead of creating its own
	Clock     func() time.Time
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	registry  Registry
	store     Store
	vacuums   Vacuums
	callbacks CallbackHandler
	states    StateReader
	overrides map[string]statemap.Override
	metrics   *metrics.Metrics
	checks    map[string]HealthCheck
	now       func() time.Time
	version   string
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		store:     deps.Store,
		vacuums:   deps.Vacuums,
		callbacks: deps.Callbacks,
		states:    deps.States,
		overrides: deps.Overrides,
		metrics:   deps.Metrics,
		checks:    deps.Checks,
		now:       deps.Clock,
		version:   deps.Version,
		hub:       deps.Hub,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring event publishers.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
	}

	if s.secCfg.JWT.Secret == "" {
		s.logger.Warn("API authentication disabled: security.jwt.secret is empty")
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
