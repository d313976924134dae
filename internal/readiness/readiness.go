// Package readiness gates startup on the hub answering REST requests and
// keeps probing in the background until the registry is synced.
package readiness

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/habridge-core/internal/hass/rest"
	"github.com/nerrad567/habridge-core/internal/infrastructure/metrics"
)

// Defaults.
const (
	DefaultMaxAttempts      = 10
	DefaultBaseDelay        = 2 * time.Second
	DefaultMaxDelay         = 60 * time.Second
	DefaultRecoveryInterval = 60 * time.Second
)

// ErrInvalidToken is returned by ValidateToken when the hub rejects the
// credential.
var ErrInvalidToken = errors.New("readiness: access token rejected")

// Logger defines the logging interface used by the Monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Prober fetches the hub configuration. *rest.Client satisfies it.
type Prober interface {
	GetConfig(ctx context.Context) (*rest.BackendConfig, error)
}

// Syncer is the registry. *registry.Registry satisfies it.
type Syncer interface {
	Sync(ctx context.Context) bool
	Synced() bool
}

// AvailabilityPublisher announces whether the backend is reachable.
type AvailabilityPublisher interface {
	PublishAvailability(online bool) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics reports backend reachability.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithAttempts sets how many probes WaitForBackend makes.
func WithAttempts(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// WithBackoff sets the first delay of WaitForBackend and its cap.
func WithBackoff(base, max time.Duration) Option {
	return func(m *Monitor) {
		if base > 0 {
			m.baseDelay = base
		}
		if max > 0 {
			m.maxDelay = max
		}
	}
}

// WithRecoveryInterval sets how often RecoveryLoop probes.
func WithRecoveryInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithAvailability publishes reachability changes.
func WithAvailability(p AvailabilityPublisher) Option {
	return func(m *Monitor) { m.availability = p }
}

// WithSleep replaces the delay function.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) { m.sleep = sleep }
}

// Monitor tracks whether the hub is reachable.
type Monitor struct {
	prober       Prober
	syncer       Syncer
	availability AvailabilityPublisher
	logger       Logger
	metrics      *metrics.Metrics
	sleep        func(ctx context.Context, d time.Duration) error

	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	interval  time.Duration

	mu      sync.RWMutex
	ready   bool
	version string
}

// New creates a monitor.
func New(prober Prober, syncer Syncer, opts ...Option) *Monitor {
	m := &Monitor{
		prober:    prober,
		syncer:    syncer,
		logger:    noopLogger{},
		sleep:     sleepCtx,
		attempts:  DefaultMaxAttempts,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		interval:  DefaultRecoveryInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ready reports whether the last probe succeeded.
func (m *Monitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Version is the backend version reported by the last successful probe.
func (m *Monitor) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// WaitForBackend probes the hub until it answers or the attempts run out,
// waiting base×2^(n-1) (capped) between attempts. When the hub answers it
// runs one registry sync. It returns the backend version and whether the
// sync succeeded; ("", false) means the hub never answered.
func (m *Monitor) WaitForBackend(ctx context.Context) (string, bool) {
	delay := m.baseDelay
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if version, ok := m.probe(ctx); ok {
			m.logger.Info("backend ready", "version", version, "attempt", attempt)
			return version, m.sync(ctx)
		}
		if attempt == m.attempts {
			break
		}

		m.logger.Warn("backend not ready, retrying",
			"attempt", attempt, "max_attempts", m.attempts, "delay", delay.String())
		if err := m.sleep(ctx, delay); err != nil {
			return "", false
		}
		delay = min(delay*2, m.maxDelay)
	}

	m.logger.Error("backend unreachable, continuing in degraded mode", "attempts", m.attempts)
	return "", false
}

// RecoveryLoop probes the hub every interval while it is unreachable or
// the registry is not synced, re-syncing once it answers. It returns nil
// when ctx is cancelled.
func (m *Monitor) RecoveryLoop(ctx context.Context) error {
	for {
		if err := m.sleep(ctx, m.interval); err != nil {
			return nil
		}
		if m.Ready() && m.syncer.Synced() {
			continue
		}

		version, ok := m.probe(ctx)
		if !ok {
			continue
		}
		m.logger.Info("backend recovered", "version", version)
		m.sync(ctx)
	}
}

// ValidateToken makes one request and returns ErrInvalidToken when the hub
// rejects the credential, or the request error for any other failure.
func (m *Monitor) ValidateToken(ctx context.Context) error {
	_, err := m.prober.GetConfig(ctx)
	var rerr *rest.Error
	if errors.As(err, &rerr) && (rerr.Status == http.StatusUnauthorized || rerr.Status == http.StatusForbidden) {
		return ErrInvalidToken
	}
	return err
}

// probe makes one GetConfig call and records the outcome.
func (m *Monitor) probe(ctx context.Context) (string, bool) {
	cfg, err := m.prober.GetConfig(ctx)
	ok := err == nil

	m.mu.Lock()
	changed := m.ready != ok
	m.ready = ok
	if ok {
		m.version = cfg.Version
	}
	m.mu.Unlock()

	m.metrics.BackendUp(ok)
	if err != nil {
		m.logger.Debug("backend probe failed", "error", err)
	}
	if changed && m.availability != nil {
		if perr := m.availability.PublishAvailability(ok); perr != nil {
			m.logger.Warn("publishing availability failed", "error", perr)
		}
	}
	if !ok {
		return "", false
	}
	return cfg.Version, true
}

func (m *Monitor) sync(ctx context.Context) bool {
	if m.syncer == nil {
		return false
	}
	ok := m.syncer.Sync(ctx)
	if !ok {
		m.logger.Warn("registry sync failed after backend became ready")
	}
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
