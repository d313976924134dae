package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// scrape returns the exposition text of m.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func assertLine(t *testing.T, body, line string) {
	t.Helper()
	if !strings.Contains(body, line+"\n") {
		t.Errorf("metrics output missing %q", line)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RequestAttempt("ok")
	m.SessionReconnect("notify")
	m.RegistrySync(true, 3)
	m.Notification("sent")
	m.TaskRun("ok")
	m.BackendUp(true)

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.RequestAttempt("server_error")
	m.RequestAttempt("server_error")
	m.RequestAttempt("ok")
	m.RegistrySync(true, 42)
	m.RegistrySync(false, 0)

	body := scrape(t, m)
	assertLine(t, body, `habridge_hass_request_attempts_total{outcome="server_error"} 2`)
	assertLine(t, body, `habridge_registry_entities 42`)
	assertLine(t, body, `habridge_registry_syncs_total{result="failed"} 1`)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/areas/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"kitchen", "hall"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/areas/"+id, nil))
	}

	assertLine(t, scrape(t, m), `habridge_http_requests_total{method="GET",route="/areas/{id}",status="204"} 2`)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.TaskRun("ok")

	assertLine(t, scrape(t, m), `habridge_scheduled_task_runs_total{result="ok"} 1`)
}
