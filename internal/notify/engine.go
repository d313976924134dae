package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/habridge-core/internal/hass"
	"github.com/nerrad567/habridge-core/internal/hass/realtime"
	"github.com/nerrad567/habridge-core/internal/infrastructure/metrics"
	"github.com/nerrad567/habridge-core/internal/store"
)

// Defaults.
const (
	DefaultMuteDuration  = time.Hour
	DefaultMaxRetryAfter = 5 * time.Minute
)

// Notification outcomes as counted in metrics.
const (
	OutcomeSent        = "sent"
	OutcomeMuted       = "muted"
	OutcomeThrottled   = "throttled"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnavailable = "recipient_unavailable"
	OutcomeFailed      = "failed"
)

// Logger defines the logging interface used by the Engine.
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

// Store is the subscription storage the engine reads and updates.
// *store.Store satisfies it.
type Store interface {
	ActiveNotificationsFor(ctx context.Context, entityID string) ([]store.Subscription, error)
	IsMuted(ctx context.Context, userID int64, entityID string, now time.Time) (bool, error)
	MarkNotificationSent(ctx context.Context, userID int64, entityID string, at time.Time) error
	SetMute(ctx context.Context, userID int64, entityID string, until time.Time) error
}

// Messenger delivers a message to a chat user. It returns a
// *RetryAfterError when rate limited and ErrRecipientUnavailable when the
// user cannot be reached.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// ServiceCaller invokes hub services for quick-action buttons.
// *rest.Client satisfies it.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Fired describes one notification that was dispatched.
type Fired struct {
	ID        string       `json:"id"`
	UserID    int64        `json:"user_id"`
	EntityID  string       `json:"entity_id"`
	OldState  string       `json:"old_state"`
	NewState  string       `json:"new_state"`
	Changes   []AttrChange `json:"changes,omitempty"`
	Text      string       `json:"text"`
	At        time.Time    `json:"at"`
	Delivered bool         `json:"delivered"`
}

// Publisher receives every fired notification after its dispatch attempt.
type Publisher interface {
	PublishNotification(ctx context.Context, f Fired) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, f Fired) error

// PublishNotification calls fn.
func (fn PublisherFunc) PublishNotification(ctx context.Context, f Fired) error {
	return fn(ctx, f)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics counts notification outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPublisher adds a publisher for fired notifications.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publishers = append(e.publishers, p) }
}

// WithServiceCaller enables quick-action callbacks.
func WithServiceCaller(c ServiceCaller) Option {
	return func(e *Engine) { e.services = c }
}

// WithMaxRetryAfter caps how long a rate limit may hold back a recipient.
func WithMaxRetryAfter(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxRetryAfter = d
		}
	}
}

// WithSessionOptions passes options to the underlying persistent session.
func WithSessionOptions(opts ...realtime.PersistentOption) Option {
	return func(e *Engine) { e.sessionOpts = append(e.sessionOpts, opts...) }
}

// Engine evaluates state changes against subscriptions and dispatches
// notifications.
type Engine struct {
	session     realtime.Config
	sessionOpts []realtime.PersistentOption

	store      Store
	messenger  Messenger
	services   ServiceCaller
	publishers []Publisher
	logger     Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	maxRetryAfter time.Duration

	// holdMu guards holdUntil, the per-recipient rate-limit deadline.
	holdMu    sync.Mutex
	holdUntil map[int64]time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine that subscribes through the given session config.
func New(session realtime.Config, st Store, messenger Messenger, opts ...Option) *Engine {
	e := &Engine{
		session:       session,
		store:         st,
		messenger:     messenger,
		logger:        noopLogger{},
		now:           time.Now,
		maxRetryAfter: DefaultMaxRetryAfter,
		holdUntil:     make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run subscribes to state_changed events and processes them until ctx is
// cancelled, reconnecting as needed. It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	opts := append([]realtime.PersistentOption{}, e.sessionOpts...)
	p := realtime.NewPersistent(e.session, realtime.EventStateChanged, func(ev realtime.Event) {
		e.HandleEvent(ctx, ev)
	}, opts...)

	e.logger.Info("notification listener started")
	err := p.Run(ctx)
	e.logger.Info("notification listener stopped")
	return err
}

// Start runs the engine in the background. Calling Start on a running
// engine does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	go func() {
		defer close(done)
		if err := e.Run(ctx); err != nil {
			e.logger.Error("notification listener exited", "error", err)
		}
	}()
}

// Stop cancels a running engine and waits for it to exit.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// HandleEvent processes one event. Events other than state_changed are
// ignored. Errors are logged; HandleEvent never fails.
func (e *Engine) HandleEvent(ctx context.Context, ev realtime.Event) {
	if ev.EventType != realtime.EventStateChanged {
		return
	}
	sc, err := ev.StateChange()
	if err != nil {
		e.logger.Warn("dropping malformed state_changed event", "error", err)
		return
	}
	if sc.EntityID == "" {
		return
	}
	e.HandleStateChange(ctx, sc)
}

// pending is a notification that passed evaluation.
type pending struct {
	sub     store.Subscription
	changes []AttrChange
}

// HandleStateChange evaluates a state change against every enabled
// subscription for the entity and dispatches the ones that fire.
func (e *Engine) HandleStateChange(ctx context.Context, sc *realtime.StateChange) {
	subs, err := e.store.ActiveNotificationsFor(ctx, sc.EntityID)
	if err != nil {
		e.logger.Error("loading subscriptions failed", "entity_id", sc.EntityID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	now := e.now()
	var fire []pending
	for _, sub := range subs {
		muted, err := e.store.IsMuted(ctx, sub.UserID, sub.EntityID, now)
		if err != nil {
			e.logger.Warn("mute check failed", "user_id", sub.UserID, "entity_id", sub.EntityID, "error", err)
		}
		if muted {
			e.metrics.Notification(OutcomeMuted)
			continue
		}

		if now.Sub(sub.LastSent) < sub.Throttle {
			e.metrics.Notification(OutcomeThrottled)
			continue
		}

		ok, changes := Evaluate(sub.Mode, sc.EntityID, sc.OldState, sc.NewState)
		if !ok {
			continue
		}
		fire = append(fire, pending{sub: sub, changes: changes})
	}

	if len(fire) == 0 {
		return
	}

	// Subscriptions are unique per (user, entity), so each goroutine owns
	// one recipient.
	var g errgroup.Group
	for _, p := range fire {
		g.Go(func() error {
			e.dispatch(ctx, sc, p, now)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // dispatch never returns an error
}

// dispatch sends one notification, records it as sent and publishes it.
// A delivery abandoned before reaching the messenger records nothing.
func (e *Engine) dispatch(ctx context.Context, sc *realtime.StateChange, p pending, now time.Time) {
	userID, entityID := p.sub.UserID, p.sub.EntityID
	msg := Message{
		UserID:   userID,
		Text:     Compose(entityID, sc.OldState, sc.NewState, p.changes, now),
		HTML:     true,
		Keyboard: Keyboard(entityID, userID),
	}

	delivered, attempted := e.send(ctx, msg)
	if !attempted {
		e.logger.Debug("notification abandoned", "user_id", userID, "entity_id", entityID, "error", ctx.Err())
		return
	}

	if err := e.store.MarkNotificationSent(ctx, userID, entityID, now); err != nil {
		e.logger.Warn("recording notification failed", "user_id", userID, "entity_id", entityID, "error", err)
	}

	fired := Fired{
		ID:        uuid.NewString(),
		UserID:    userID,
		EntityID:  entityID,
		OldState:  stateValue(sc.OldState),
		NewState:  stateValue(sc.NewState),
		Changes:   p.changes,
		Text:      msg.Text,
		At:        now,
		Delivered: delivered,
	}
	for _, pub := range e.publishers {
		if err := pub.PublishNotification(ctx, fired); err != nil {
			e.logger.Warn("publishing notification failed", "id", fired.ID, "error", err)
		}
	}
}

// send delivers msg, honouring any rate-limit hold on the recipient. It
// reports whether the messenger accepted the message and whether it was
// called at all.
func (e *Engine) send(ctx context.Context, msg Message) (delivered, attempted bool) {
	if err := e.waitHold(ctx, msg.UserID); err != nil {
		e.metrics.Notification(OutcomeFailed)
		return false, false
	}

	err := e.messenger.Send(ctx, msg)
	var retry *RetryAfterError
	switch {
	case err == nil:
		e.metrics.Notification(OutcomeSent)
		e.logger.Debug("notification sent", "user_id", msg.UserID)
		return true, true
	case errors.As(err, &retry):
		hold := min(retry.After, e.maxRetryAfter)
		e.logger.Warn("notification rate limited", "user_id", msg.UserID, "retry_after", hold.String())
		e.hold(msg.UserID, hold)
		e.metrics.Notification(OutcomeRateLimited)
	case errors.Is(err, ErrRecipientUnavailable):
		e.logger.Warn("cannot send notification", "user_id", msg.UserID, "error", err)
		e.metrics.Notification(OutcomeUnavailable)
	default:
		e.logger.Error("notification delivery failed", "user_id", msg.UserID, "error", err)
		e.metrics.Notification(OutcomeFailed)
	}
	return false, true
}

func (e *Engine) hold(userID int64, d time.Duration) {
	e.holdMu.Lock()
	defer e.holdMu.Unlock()
	until := e.now().Add(d)
	if until.After(e.holdUntil[userID]) {
		e.holdUntil[userID] = until
	}
}

// waitHold blocks until the recipient's rate-limit hold has passed.
func (e *Engine) waitHold(ctx context.Context, userID int64) error {
	e.holdMu.Lock()
	until, ok := e.holdUntil[userID]
	if ok && !until.After(e.now()) {
		delete(e.holdUntil, userID)
		ok = false
	}
	e.holdMu.Unlock()
	if !ok {
		return nil
	}

	t := time.NewTimer(until.Sub(e.now()))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleCallback executes a quick-action button press from a notification.
// It accepts "nact:<entity>:<service>" and "nmute:<entity>:<user>"; other
// callback data is rejected.
func (e *Engine) HandleCallback(ctx context.Context, userID int64, data string) error {
	kind, rest, _ := strings.Cut(data, ":")
	i := strings.LastIndex(rest, ":")
	if i <= 0 {
		return fmt.Errorf("%w: %q", ErrUnknownCallback, data)
	}
	entityID, arg := rest[:i], rest[i+1:]

	switch kind {
	case "nact":
		domain := hass.Domain(entityID)
		if !slices.Contains(ActionServices(domain), arg) || e.services == nil {
			return fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		return e.services.CallService(ctx, domain, arg, map[string]any{"entity_id": entityID})

	case "nmute":
		owner, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		if owner != userID {
			return ErrForeignCallback
		}
		return e.store.SetMute(ctx, userID, entityID, e.now().Add(DefaultMuteDuration))

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCallback, data)
	}
}
