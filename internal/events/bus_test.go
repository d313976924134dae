package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/habridge-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/habridge-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/habridge-core/internal/notify"
	"github.com/nerrad567/habridge-core/internal/registry"
	"github.com/nerrad567/habridge-core/internal/schedule"
)

// ─── Mock Dependencies ───

type published struct {
	topic    string
	v        any
	retained bool
}

type mockMQTT struct {
	mu       sync.Mutex
	messages []published
	err      error
	handlers map[string]mqtt.MessageHandler
	subErr   error
}

func (m *mockMQTT) PublishJSON(topic string, v any, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{topic, v, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	if m.handlers == nil {
		m.handlers = make(map[string]mqtt.MessageHandler)
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) handler(topic string) mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

func (m *mockMQTT) only(t *testing.T) published {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(m.messages))
	}
	return m.messages[0]
}

type broadcast struct {
	channel string
	payload any
}

type mockHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *mockHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, broadcast{channel, payload})
}

type mockPoints struct {
	stateChanges []string
	syncs        []influxdb.SyncStats
	taskRuns     []int64
}

func (p *mockPoints) WriteStateChange(entityID, oldState, newState string, _ time.Time) {
	p.stateChanges = append(p.stateChanges, entityID+":"+oldState+">"+newState)
}

func (p *mockPoints) WriteRegistrySync(s influxdb.SyncStats, _ time.Time) {
	p.syncs = append(p.syncs, s)
}

func (p *mockPoints) WriteTaskRun(taskID int64, _ string, _ bool, _ time.Time) {
	p.taskRuns = append(p.taskRuns, taskID)
}

type mockSyncer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *mockSyncer) Sync(ctx context.Context) bool {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	}
	return true
}

func newBus(m *mockMQTT, h *mockHub, p *mockPoints) *Bus {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return New(mqtt.NewTopics("home"),
		WithMQTT(m),
		WithBroadcaster(h),
		WithPoints(p),
		WithClock(func() time.Time { return fixed }),
	)
}

// ─── Fan-out ───

func TestPublishNotification(t *testing.T) {
	m, h, p := &mockMQTT{}, &mockHub{}, &mockPoints{}
	bus := newBus(m, h, p)

	f := notify.Fired{ID: "n1", UserID: 7, EntityID: "light.kitchen", OldState: "off", NewState: "on"}
	if err := bus.PublishNotification(context.Background(), f); err != nil {
		t.Fatalf("PublishNotification() error = %v", err)
	}

	msg := m.only(t)
	if msg.topic != "home/notifications/7/light.kitchen" {
		t.Errorf("topic = %q, want home/notifications/7/light.kitchen", msg.topic)
	}
	if msg.retained {
		t.Error("notification published retained")
	}
	if len(h.sent) != 1 || h.sent[0].channel != ChannelNotificationFired {
		t.Errorf("broadcasts = %+v, want one %s", h.sent, ChannelNotificationFired)
	}
	if len(p.stateChanges) != 1 || p.stateChanges[0] != "light.kitchen:off>on" {
		t.Errorf("state changes = %v, want [light.kitchen:off>on]", p.stateChanges)
	}
}

func TestPublishTaskRun(t *testing.T) {
	m, h, p := &mockMQTT{}, &mockHub{}, &mockPoints{}
	bus := newBus(m, h, p)

	run := schedule.Run{TaskID: 42, Action: schedule.ActionServiceCall, Result: schedule.ResultOK, OK: true}
	if err := bus.PublishTaskRun(context.Background(), run); err != nil {
		t.Fatalf("PublishTaskRun() error = %v", err)
	}

	if got := m.only(t).topic; got != "home/tasks/42/result" {
		t.Errorf("topic = %q, want home/tasks/42/result", got)
	}
	if len(h.sent) != 1 || h.sent[0].channel != ChannelTaskExecuted {
		t.Errorf("broadcasts = %+v, want one %s", h.sent, ChannelTaskExecuted)
	}
	if len(p.taskRuns) != 1 || p.taskRuns[0] != 42 {
		t.Errorf("task runs = %v, want [42]", p.taskRuns)
	}
}

func TestPublishAvailability(t *testing.T) {
	tests := []struct {
		online bool
		want   string
	}{
		{true, StateOnline},
		{false, StateOffline},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			m := &mockMQTT{}
			bus := newBus(m, &mockHub{}, &mockPoints{})

			if err := bus.PublishAvailability(tt.online); err != nil {
				t.Fatalf("PublishAvailability() error = %v", err)
			}
			msg := m.only(t)
			if msg.topic != "home/backend/availability" || !msg.retained {
				t.Errorf("published %q retained=%v, want retained availability", msg.topic, msg.retained)
			}
			a, ok := msg.v.(Availability)
			if !ok {
				t.Fatalf("payload type = %T, want Availability", msg.v)
			}
			if a.State != tt.want {
				t.Errorf("State = %q, want %q", a.State, tt.want)
			}
		})
	}
}

func TestRegistrySynced(t *testing.T) {
	m, h, p := &mockMQTT{}, &mockHub{}, &mockPoints{}
	bus := newBus(m, h, p)

	bus.RegistrySynced(registry.SyncResult{
		Counts:  registry.Counts{Floors: 1, Areas: 3, Devices: 4, Entities: 12},
		Added:   []string{"light.new", "switch.new"},
		Removed: []string{"light.old"},
	})

	msg := m.only(t)
	if msg.topic != "home/registry/sync" || !msg.retained {
		t.Errorf("published %q retained=%v, want retained home/registry/sync", msg.topic, msg.retained)
	}
	if len(h.sent) != 1 || h.sent[0].channel != ChannelRegistrySynced {
		t.Errorf("broadcasts = %+v, want one %s", h.sent, ChannelRegistrySynced)
	}
	want := influxdb.SyncStats{OK: true, Floors: 1, Areas: 3, Devices: 4, Entities: 12, Added: 2, Removed: 1}
	if len(p.syncs) != 1 || p.syncs[0] != want {
		t.Errorf("syncs = %+v, want [%+v]", p.syncs, want)
	}
}

func TestMQTTFailureDoesNotBlockOtherSinks(t *testing.T) {
	m := &mockMQTT{err: errors.New("broker down")}
	h, p := &mockHub{}, &mockPoints{}
	bus := newBus(m, h, p)

	err := bus.PublishNotification(context.Background(), notify.Fired{UserID: 1, EntityID: "lock.door"})
	if err == nil {
		t.Fatal("PublishNotification() error = nil, want broker error")
	}
	if len(h.sent) != 1 || len(p.stateChanges) != 1 {
		t.Errorf("broadcasts = %d, points = %d, want 1 and 1", len(h.sent), len(p.stateChanges))
	}
}

func TestNoSinks(t *testing.T) {
	bus := New(mqtt.NewTopics(""))

	if err := bus.PublishNotification(context.Background(), notify.Fired{}); err != nil {
		t.Errorf("PublishNotification() error = %v", err)
	}
	if err := bus.PublishTaskRun(context.Background(), schedule.Run{}); err != nil {
		t.Errorf("PublishTaskRun() error = %v", err)
	}
	if err := bus.PublishAvailability(true); err != nil {
		t.Errorf("PublishAvailability() error = %v", err)
	}
	bus.RegistrySynced(registry.SyncResult{})
}

// ─── Outbox ───

func TestSend(t *testing.T) {
	m := &mockMQTT{}
	bus := newBus(m, &mockHub{}, &mockPoints{})

	msg := notify.Message{UserID: 1001, Text: "hello", HTML: true}
	if err := bus.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := m.only(t)
	if got.topic != "home/outbox/1001" {
		t.Errorf("topic = %q, want home/outbox/1001", got.topic)
	}
	if sent, ok := got.v.(notify.Message); !ok || sent.Text != "hello" {
		t.Errorf("payload = %#v, want the message", got.v)
	}
}

func TestSendErrors(t *testing.T) {
	bus := New(mqtt.NewTopics("home"))
	if err := bus.Send(context.Background(), notify.Message{UserID: 1}); !errors.Is(err, ErrNoOutbox) {
		t.Errorf("Send() without mqtt error = %v, want ErrNoOutbox", err)
	}

	brokerErr := errors.New("not connected")
	bus = New(mqtt.NewTopics("home"), WithMQTT(&mockMQTT{err: brokerErr}))
	if err := bus.Send(context.Background(), notify.Message{UserID: 1}); !errors.Is(err, brokerErr) {
		t.Errorf("Send() error = %v, want wrapped broker error", err)
	}
}

// ─── Commands ───

func TestListenCommandsTriggersSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &mockMQTT{}
	syncer := &mockSyncer{started: make(chan struct{}, 4)}
	bus := newBus(m, &mockHub{}, &mockPoints{})

	if err := bus.ListenCommands(ctx, m, syncer); err != nil {
		t.Fatalf("ListenCommands() error = %v", err)
	}
	handler := m.handler("home/command/registry_sync")
	if handler == nil {
		t.Fatal("command topic not subscribed")
	}

	if err := handler("home/command/registry_sync", nil); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	select {
	case <-syncer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("sync not started")
	}
}

func TestListenCommandsCoalesces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &mockMQTT{}
	syncer := &mockSyncer{started: make(chan struct{}, 4), release: make(chan struct{})}
	bus := newBus(m, &mockHub{}, &mockPoints{})
	if err := bus.ListenCommands(ctx, m, syncer); err != nil {
		t.Fatalf("ListenCommands() error = %v", err)
	}
	handler := m.handler("home/command/registry_sync")

	_ = handler("", nil)
	<-syncer.started

	// Three requests while the first pass runs collapse into one.
	for range 3 {
		_ = handler("", nil)
	}
	syncer.release <- struct{}{}
	<-syncer.started
	syncer.release <- struct{}{}

	select {
	case <-syncer.started:
		t.Fatal("unexpected third sync pass")
	case <-time.After(50 * time.Millisecond):
	}
	if got := syncer.calls.Load(); got != 2 {
		t.Errorf("sync calls = %d, want 2", got)
	}
}

func TestListenCommandsSubscribeError(t *testing.T) {
	m := &mockMQTT{subErr: errors.New("not connected")}
	bus := newBus(m, &mockHub{}, &mockPoints{})

	if err := bus.ListenCommands(context.Background(), m, &mockSyncer{}); err == nil {
		t.Error("ListenCommands() error = nil, want subscribe error")
	}
}
