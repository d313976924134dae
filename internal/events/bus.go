package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/habridge-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/habridge-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/habridge-core/internal/notify"
	"github.com/nerrad567/habridge-core/internal/registry"
	"github.com/nerrad567/habridge-core/internal/schedule"
)

// WebSocket channels broadcast by the bus.
const (
	ChannelNotificationFired   = "notification.fired"
	ChannelTaskExecuted        = "task.executed"
	ChannelRegistrySynced      = "registry.synced"
	ChannelBackendAvailability = "backend.availability"
)

// Logger is the logging contract used by the bus.
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

// Publisher publishes JSON to MQTT. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Subscriber subscribes to MQTT topics. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Broadcaster pushes events to WebSocket clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// PointWriter records time series. *influxdb.Client satisfies it.
type PointWriter interface {
	WriteStateChange(entityID, oldState, newState string, at time.Time)
	WriteRegistrySync(s influxdb.SyncStats, at time.Time)
	WriteTaskRun(taskID int64, actionType string, ok bool, at time.Time)
}

// Syncer runs a registry sync pass. *registry.Registry satisfies it.
type Syncer interface {
	Sync(ctx context.Context) bool
}

// Availability is the payload published when backend reachability changes.
type Availability struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// Availability states.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Option configures a Bus.
type Option func(*Bus)

// WithMQTT publishes events to MQTT under the bus topics.
func WithMQTT(p Publisher) Option {
	return func(b *Bus) { b.mqtt = p }
}

// WithBroadcaster broadcasts events to WebSocket clients.
func WithBroadcaster(h Broadcaster) Option {
	return func(b *Bus) { b.hub = h }
}

// WithPoints writes events to a time-series store.
func WithPoints(w PointWriter) Option {
	return func(b *Bus) { b.points = w }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithClock overrides the time source used for availability payloads.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// Bus forwards events to every configured sink. It implements
// notify.Publisher, notify.Messenger, schedule.Publisher and
// readiness.AvailabilityPublisher.
type Bus struct {
	topics mqtt.Topics
	mqtt   Publisher
	hub    Broadcaster
	points PointWriter
	logger Logger
	now    func() time.Time
}

// New returns a bus publishing under topics.
func New(topics mqtt.Topics, opts ...Option) *Bus {
	b := &Bus{
		topics: topics,
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishNotification forwards a fired notification. The returned error
// reports only the MQTT publish; the other sinks do not fail.
func (b *Bus) PublishNotification(_ context.Context, f notify.Fired) error {
	if b.hub != nil {
		b.hub.Broadcast(ChannelNotificationFired, f)
	}
	if b.points != nil {
		b.points.WriteStateChange(f.EntityID, f.OldState, f.NewState, f.At)
	}
	return b.publish(b.topics.Notification(f.UserID, f.EntityID), f, false)
}

// PublishTaskRun forwards a scheduled task result.
func (b *Bus) PublishTaskRun(_ context.Context, r schedule.Run) error {
	if b.hub != nil {
		b.hub.Broadcast(ChannelTaskExecuted, r)
	}
	if b.points != nil {
		b.points.WriteTaskRun(r.TaskID, r.Action, r.OK, r.RanAt)
	}
	return b.publish(b.topics.TaskResult(r.TaskID), r, false)
}

// PublishAvailability announces backend reachability. The MQTT message is
// retained so late subscribers see the current state.
func (b *Bus) PublishAvailability(online bool) error {
	payload := Availability{State: StateOffline, At: b.now().UTC()}
	if online {
		payload.State = StateOnline
	}
	if b.hub != nil {
		b.hub.Broadcast(ChannelBackendAvailability, payload)
	}
	return b.publish(b.topics.Availability(), payload, true)
}

// RegistrySynced forwards a completed registry sync. Register it with
// registry.Registry.OnSync.
func (b *Bus) RegistrySynced(res registry.SyncResult) {
	if b.hub != nil {
		b.hub.Broadcast(ChannelRegistrySynced, res)
	}
	if b.points != nil {
		b.points.WriteRegistrySync(influxdb.SyncStats{
			OK:       true,
			Floors:   res.Floors,
			Areas:    res.Areas,
			Devices:  res.Devices,
			Entities: res.Entities,
			Added:    len(res.Added),
			Removed:  len(res.Removed),
		}, res.At)
	}
	if err := b.publish(b.topics.RegistrySync(), res, true); err != nil {
		b.logger.Warn("registry sync publish failed", "error", err)
	}
}

// Send queues a chat message on the recipient's MQTT outbox.
func (b *Bus) Send(_ context.Context, msg notify.Message) error {
	if b.mqtt == nil {
		return ErrNoOutbox
	}
	if err := b.mqtt.PublishJSON(b.topics.Outbox(msg.UserID), msg, false); err != nil {
		return fmt.Errorf("events: outbox for user %d: %w", msg.UserID, err)
	}
	return nil
}

// ListenCommands subscribes to the registry sync command topic. Each
// message requests one sync pass, run on a goroutine owned by ctx. Requests
// arriving while a pass is running collapse into a single follow-up pass.
func (b *Bus) ListenCommands(ctx context.Context, sub Subscriber, syncer Syncer) error {
	requests := make(chan struct{}, 1)
	topic := b.topics.CommandRegistrySync()

	err := sub.Subscribe(topic, 1, func(_ string, _ []byte) error {
		select {
		case requests <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("events: subscribing to %s: %w", topic, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-requests:
				b.logger.Info("registry sync requested over mqtt")
				if !syncer.Sync(ctx) {
					b.logger.Warn("requested registry sync failed")
				}
			}
		}
	}()
	return nil
}

func (b *Bus) publish(topic string, v any, retained bool) error {
	if b.mqtt == nil {
		return nil
	}
	if err := b.mqtt.PublishJSON(topic, v, retained); err != nil {
		b.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
		return fmt.Errorf("events: publishing %s: %w", topic, err)
	}
	return nil
}
