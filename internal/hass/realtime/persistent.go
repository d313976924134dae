package realtime

import (
	"context"
	"errors"
	"time"
)

// Reconnect backoff defaults.
const (
	DefaultReconnectBase = 5 * time.Second
	DefaultReconnectMax  = 120 * time.Second
)

// ReconnectRecorder counts reconnect attempts. *metrics.Metrics satisfies it.
type ReconnectRecorder interface {
	SessionReconnect(session string)
}

// PersistentOption configures a Persistent session.
type PersistentOption func(*Persistent)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(base, maxDelay time.Duration) PersistentOption {
	return func(p *Persistent) {
		if base > 0 {
			p.base = base
		}
		if maxDelay >= p.base {
			p.max = maxDelay
		}
	}
}

// WithSleep replaces the context-aware sleep used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PersistentOption {
	return func(p *Persistent) {
		p.sleep = sleep
	}
}

// WithReconnectRecorder counts reconnects under the given session name.
func WithReconnectRecorder(name string, r ReconnectRecorder) PersistentOption {
	return func(p *Persistent) {
		p.name = name
		p.recorder = r
	}
}

// WithStatusFunc is called with true once a connection is subscribed and
// with false when it is lost.
func WithStatusFunc(fn func(connected bool)) PersistentOption {
	return func(p *Persistent) {
		p.onStatus = fn
	}
}

// Persistent keeps one subscribed session alive until its context ends.
type Persistent struct {
	cfg       Config
	eventType string
	handler   func(Event)

	base     time.Duration
	max      time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	name     string
	recorder ReconnectRecorder
	onStatus func(bool)
}

// NewPersistent creates a reconnecting subscription to eventType.
func NewPersistent(cfg Config, eventType string, handler func(Event), opts ...PersistentOption) *Persistent {
	p := &Persistent{
		cfg:       cfg.withDefaults(),
		eventType: eventType,
		handler:   handler,
		base:      DefaultReconnectBase,
		max:       DefaultReconnectMax,
		sleep:     sleepContext,
		name:      "events",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run connects, subscribes and streams until ctx is cancelled, reconnecting
// after every failure. The delay doubles from base up to max and falls back
// to base only after a connection got as far as a confirmed subscription.
// Run returns nil when ctx is cancelled.
func (p *Persistent) Run(ctx context.Context) error {
	logger := p.cfg.Logger
	delay := p.base

	for {
		established, err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			delay = p.base
		}

		logger.Warn("realtime session lost, reconnecting",
			"session", p.name,
			"error", err,
			"delay", delay.String(),
		)
		if p.recorder != nil {
			p.recorder.SessionReconnect(p.name)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return nil
		}
		delay = min(2*delay, p.max)
	}
}

// runOnce drives one connection. established reports whether the
// subscription was confirmed.
func (p *Persistent) runOnce(ctx context.Context) (established bool, err error) {
	sess, err := Dial(ctx, p.cfg)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			p.cfg.Logger.Error("realtime authentication rejected", "session", p.name)
		}
		return false, err
	}
	defer sess.Close()

	if err := sess.Subscribe(ctx, p.eventType, p.handler); err != nil {
		return false, err
	}

	p.cfg.Logger.Info("realtime session subscribed", "session", p.name, "event_type", p.eventType)
	p.status(true)
	defer p.status(false)

	return true, sess.Stream(ctx)
}

func (p *Persistent) status(connected bool) {
	if p.onStatus != nil {
		p.onStatus(connected)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
