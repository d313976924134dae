// Package metrics exposes habridge's Prometheus collectors.
//
// Every recording method is safe to call on a nil *Metrics, so components
// can take an optional collector set without nil checks at call sites.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "habridge"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	requestAttempts   *prometheus.CounterVec
	sessionReconnects *prometheus.CounterVec
	registrySyncs     *prometheus.CounterVec
	registryEntities  prometheus.Gauge
	notifications     *prometheus.CounterVec
	tasks             *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	backendUp         prometheus.Gauge
}

// New creates the collector set, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hass_request_attempts_total",
			Help:      "REST attempts against the hub by outcome.",
		}, []string{"outcome"}),
		sessionReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hass_session_reconnects_total",
			Help:      "Realtime session restarts by session name.",
		}, []string{"session"}),
		registrySyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_syncs_total",
			Help:      "Registry synchronisation passes by result.",
		}, []string{"result"}),
		registryEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entities",
			Help:      "Entities in the published registry graph.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification decisions by outcome (sent, muted, throttled, unchanged, failed).",
		}, []string{"outcome"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_task_runs_total",
			Help:      "Scheduled task executions by result (ok, error, disabled).",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		backendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hass_backend_up",
			Help:      "1 when the hub answered the last readiness probe.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestAttempts,
		m.sessionReconnects,
		m.registrySyncs,
		m.registryEntities,
		m.notifications,
		m.tasks,
		m.httpRequests,
		m.backendUp,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RequestAttempt counts one REST attempt.
func (m *Metrics) RequestAttempt(outcome string) {
	if m == nil {
		return
	}
	m.requestAttempts.WithLabelValues(outcome).Inc()
}

// SessionReconnect counts a realtime session restart.
func (m *Metrics) SessionReconnect(session string) {
	if m == nil {
		return
	}
	m.sessionReconnects.WithLabelValues(session).Inc()
}

// RegistrySync counts a sync pass and, on success, records the entity count.
func (m *Metrics) RegistrySync(ok bool, entities int) {
	if m == nil {
		return
	}
	if !ok {
		m.registrySyncs.WithLabelValues("failed").Inc()
		return
	}
	m.registrySyncs.WithLabelValues("ok").Inc()
	m.registryEntities.Set(float64(entities))
}

// Notification counts a notification decision.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// TaskRun counts a scheduled task execution.
func (m *Metrics) TaskRun(result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
}

// BackendUp records the result of the last readiness probe.
func (m *Metrics) BackendUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.backendUp.Set(1)
	} else {
		m.backendUp.Set(0)
	}
}

// Middleware counts API requests by chi route pattern, so path parameters
// do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
