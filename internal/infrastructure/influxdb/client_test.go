package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
	"github.com/nerrad567/habridge-core/internal/infrastructure/influxdb"
)

// ─── Server Emulator ───

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu        sync.Mutex
	lines     []string
	writeCode int
	srv       *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writeCode: http.StatusNoContent}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			code := f.writeCode
			if code == http.StatusNoContent {
				for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
					if line != "" {
						f.lines = append(f.lines, line)
					}
				}
			}
			f.mu.Unlock()
			if code != http.StatusNoContent {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"bad point"}`))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.srv.URL,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "habridge",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func (f *fakeInflux) setWriteCode(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCode = code
}

// waitLine polls until a received line contains every fragment.
func (f *fakeInflux) waitLine(t *testing.T, fragments ...string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, line := range f.lines {
			if containsAll(line, fragments) {
				f.mu.Unlock()
				return line
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("no line containing %q; got %q", fragments, f.lines)
	return ""
}

func (f *fakeInflux) lineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

func containsAll(s string, fragments []string) bool {
	for _, frag := range fragments {
		if !strings.Contains(s, frag) {
			return false
		}
	}
	return true
}

func connect(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// ─── Connection ───

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnectDisabled(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	f.srv.Close()

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectDefaultsBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()
}

func TestHealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

// ─── Writes ───

func TestWriteStateChange(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WriteStateChange("light.kitchen", "off", "on", time.Unix(1700000000, 0))
	client.Flush()

	line := f.waitLine(t, "state_change,")
	for _, want := range []string{"service=habridge", "domain=light", "entity_id=light.kitchen", `old_state="off"`, `new_state="on"`, "1700000000000000000"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteRegistrySync(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WriteRegistrySync(influxdb.SyncStats{OK: true, Floors: 2, Areas: 5, Devices: 9, Entities: 40, Added: 3}, time.Now())
	client.Flush()

	line := f.waitLine(t, "registry_sync,")
	for _, want := range []string{"ok=true", "floors=2i", "areas=5i", "entities=40i", "added=3i", "removed=0i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteTaskRun(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WriteTaskRun(7, "service_call", false, time.Now())
	client.Flush()

	f.waitLine(t, "task_run,", "action_type=service_call", "task_id=7i", "ok=false")
}

func TestWritePoint(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WritePoint("custom", map[string]string{"source": "test"}, map[string]any{"value": 1.5})
	client.Flush()

	f.waitLine(t, "custom,", "source=test", "service=habridge", "value=1.5")
}

func TestWriteAfterCloseDropped(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WriteStateChange("light.kitchen", "off", "on", time.Now())
	client.Flush()

	if n := f.lineCount(); n != 0 {
		t.Errorf("lines after Close = %d, want 0", n)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestOnErrorReceivesWriteFailures(t *testing.T) {
	f := newFakeInflux(t)
	f.setWriteCode(http.StatusBadRequest)
	client := connect(t, f)

	errCh := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WritePoint("custom", nil, map[string]any{"value": 1})
	client.Flush()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("onError called with nil error")
		}
		if n := client.WriteFailures(); n < 1 {
			t.Errorf("WriteFailures() = %d, want >= 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onError not called for rejected write")
	}
}

func TestCloseNil(t *testing.T) {
	var c influxdb.Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	c.Flush()
}
