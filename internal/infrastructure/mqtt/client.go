package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one inbound message. It runs on a paho goroutine
// and should return quickly; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the bridge's broker connection. It announces a retained
// presence document on the status topic and replays subscriptions after
// every reconnect. Methods are safe for concurrent use.
type Client struct {
	paho      pahomqtt.Client
	cfg       config.MQTTConfig
	topics    Topics
	connected atomic.Bool

	mu           sync.Mutex
	subs         map[string]subscription
	log          Logger
	onConnect    func()
	onDisconnect func(error)
}

// Connect dials the broker and waits for the first session. Later drops
// are healed by paho's auto-reconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := clientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger().Info("mqtt reconnecting", "broker", brokerURL(cfg))
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := wait(c.paho.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The OnConnect handler may not have run yet.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		subs:   make(map[string]subscription),
		log:    noopLogger{},
	}
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

// SetOnConnect registers fn to run after the first connect and every
// reconnect, once subscriptions have been replayed.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.mu.Lock()
	replay := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		replay[topic] = s
	}
	hook := c.onConnect
	c.mu.Unlock()

	for topic, s := range replay {
		// A failed replay is retried on the next reconnect.
		c.paho.Subscribe(topic, s.qos, c.deliver(s.handler))
	}
	c.announce(presenceOnline, "")

	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.logger().Warn("mqtt connection lost", "error", err)

	c.mu.Lock()
	hook := c.onDisconnect
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

// IsConnected reports whether a broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// HealthCheck fails when the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close announces a graceful offline presence and disconnects. It is safe
// on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		// Best effort; the will covers a lost announcement.
		_ = wait(c.announce(presenceOffline, reasonShutdown), publishTimeout)
	}
	c.paho.Disconnect(disconnectQuiesceMs)
	c.connected.Store(false)
	return nil
}

// announce publishes the retained presence document without waiting.
func (c *Client) announce(state, reason string) pahomqtt.Token {
	return c.paho.Publish(c.topics.Status(), byte(c.cfg.QoS), true,
		presencePayload(state, c.cfg.Broker.ClientID, reason))
}
