package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session defaults.
const (
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultCommandTimeout     = 15 * time.Second
	DefaultMaxUnrelatedFrames = 20
	DefaultPingInterval       = 30 * time.Second

	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
	closeGracePeriod = time.Second
)

// Logger is the logging surface the session needs. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// State is the lifecycle position of a Session.
type State int32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateSubscribed
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config describes how to reach and authenticate with the hub.
type Config struct {
	URL   string
	Token string

	// HandshakeTimeout bounds the connect and each authentication frame.
	HandshakeTimeout time.Duration

	// CommandTimeout bounds each command round trip.
	CommandTimeout time.Duration

	// MaxUnrelatedFrames is how many non-matching frames a pending command
	// tolerates before it fails with ErrNoResponse.
	MaxUnrelatedFrames int

	// PingInterval is the WebSocket keepalive period. A connection that
	// stays silent for two intervals is treated as dead. Negative disables.
	PingInterval time.Duration

	Logger Logger
	Dialer *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.MaxUnrelatedFrames <= 0 {
		c.MaxUnrelatedFrames = DefaultMaxUnrelatedFrames
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			HandshakeTimeout: c.HandshakeTimeout,
			Proxy:            websocket.DefaultDialer.Proxy,
		}
	}
	return c
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// outcome is delivered to a waiting command.
type outcome struct {
	resp Response
	err  error
}

type pendingCommand struct {
	ch        chan outcome
	unrelated int
}

// Session is one authenticated WebSocket connection to the hub.
// Commands may be issued from multiple goroutines.
type Session struct {
	cfg    Config
	conn   *websocket.Conn
	logger Logger

	state atomic.Int32

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]*pendingCommand
	handler  func(Event)
	closeErr error

	subMu      sync.Mutex
	subscribed bool

	events chan Event
	done   *closeOnce
	wg     sync.WaitGroup
}

// Dial connects to the hub and completes the authentication handshake.
// The returned session is Ready. Cancelling ctx aborts the handshake.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:     cfg,
		logger:  cfg.Logger,
		pending: make(map[int64]*pendingCommand),
		events:  make(chan Event, eventBufferSize),
		done:    newCloseOnce(),
	}

	s.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := cfg.Dialer.DialContext(dialCtx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.setState(StateDisconnected)
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}
	s.conn = conn

	// Closing the socket is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.authenticate(); err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	s.setState(StateReady)
	s.startReader()
	return s, nil
}

func (s *Session) authenticate() error {
	s.setState(StateAuthenticating)

	first, err := s.readHandshakeFrame()
	if err != nil {
		return fmt.Errorf("reading auth_required: %w", err)
	}
	if first.Type != typeAuthRequired {
		return fmt.Errorf("%w: expected %s, got %q", ErrProtocol, typeAuthRequired, first.Type)
	}

	if err := s.writeJSON(map[string]any{"type": typeAuth, "access_token": s.cfg.Token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	reply, err := s.readHandshakeFrame()
	if err != nil {
		return fmt.Errorf("reading auth reply: %w", err)
	}
	switch reply.Type {
	case typeAuthOK:
		return s.conn.SetReadDeadline(time.Time{})
	case typeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthFailed, reply.Message)
	default:
		return fmt.Errorf("%w: expected %s, got %q", ErrProtocol, typeAuthOK, reply.Type)
	}
}

func (s *Session) readHandshakeFrame() (*inbound, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return nil, err
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err)
	}
	return &in, nil
}

func (s *Session) startReader() {
	if s.cfg.PingInterval > 0 {
		deadline := 2 * s.cfg.PingInterval
		_ = s.conn.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // failure surfaces on read
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(deadline))
		})
		s.wg.Add(1)
		go s.pingLoop()
	}

	s.wg.Add(1)
	go s.readLoop()
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.terminate(err)
			return
		}
		if s.cfg.PingInterval > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval)) //nolint:errcheck
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Debug("dropping malformed frame", "error", err)
			s.countUnrelated()
			continue
		}
		s.route(&in)
	}
}

func (s *Session) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.terminate(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// route delivers one inbound frame.
func (s *Session) route(in *inbound) {
	if in.Type == typeEvent {
		s.mu.Lock()
		subscribed := s.handler != nil
		s.mu.Unlock()

		if subscribed {
			var ev Event
			if err := json.Unmarshal(in.Event, &ev); err != nil {
				s.logger.Debug("dropping malformed event", "error", err)
				return
			}
			select {
			case s.events <- ev:
			case <-s.done.Done():
			}
			return
		}
	}

	if in.Type == typeResult && in.ID != 0 {
		s.mu.Lock()
		pc, ok := s.pending[in.ID]
		if ok {
			delete(s.pending, in.ID)
		}
		s.mu.Unlock()

		if ok {
			pc.ch <- outcome{resp: Response{ID: in.ID, Success: in.Success, Result: in.Result, Error: in.Error}}
			return
		}
	}

	s.logger.Debug("discarding unrelated frame", "type", in.Type, "id", in.ID)
	s.countUnrelated()
}

// countUnrelated charges one frame to every pending command and fails those
// that ran out of budget.
func (s *Session) countUnrelated() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, pc := range s.pending {
		pc.unrelated++
		if pc.unrelated >= s.cfg.MaxUnrelatedFrames {
			delete(s.pending, id)
			pc.ch <- outcome{err: fmt.Errorf("%w: %d unrelated frames while waiting for id %d",
				ErrNoResponse, pc.unrelated, id)}
		}
	}
}

// Command sends a command frame and waits for the matching result.
// fields are merged into the frame next to id and type.
//
// Every registered command is resolved exactly once: by its result, by the
// unrelated-frame budget, or by session teardown.
func (s *Session) Command(ctx context.Context, cmdType string, fields map[string]any) (*Response, error) {
	pc := &pendingCommand{ch: make(chan outcome, 1)}
	s.mu.Lock()
	if s.closeErr != nil {
		s.mu.Unlock()
		return nil, s.closedError()
	}
	s.nextID++
	id := s.nextID
	s.pending[id] = pc
	s.mu.Unlock()

	frame := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		frame[k] = v
	}
	frame["id"] = id
	frame["type"] = cmdType

	if err := s.writeJSON(frame); err != nil {
		s.forget(id)
		s.terminate(err)
		return nil, fmt.Errorf("sending %s: %w", cmdType, err)
	}

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case out := <-pc.ch:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", cmdType, out.err)
		}
		return &out.resp, nil
	case <-timer.C:
		s.forget(id)
		return nil, fmt.Errorf("%s: %w after %s", cmdType, ErrCommandTimeout, s.cfg.CommandTimeout)
	case <-ctx.Done():
		s.forget(id)
		return nil, fmt.Errorf("%s: %w", cmdType, ctx.Err())
	}
}

// List runs a command whose result is a list of records.
//
// A command the hub rejects, or one whose result is buried under more than
// MaxUnrelatedFrames other frames, yields an empty list and a warning. A
// timeout, a transport failure or cancellation is an error.
func (s *Session) List(ctx context.Context, cmdType string) ([]json.RawMessage, error) {
	resp, err := s.Command(ctx, cmdType, nil)
	if errors.Is(err, ErrNoResponse) {
		s.logger.Warn("no response to command", "command", cmdType, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		s.logger.Warn("command failed", "command", cmdType, "error", resp.Error.String())
		return nil, nil
	}

	var records []json.RawMessage
	if len(resp.Result) > 0 && string(resp.Result) != "null" {
		if err := json.Unmarshal(resp.Result, &records); err != nil {
			s.logger.Warn("command result is not a list", "command", cmdType, "error", err)
			return nil, nil
		}
	}
	return records, nil
}

// Subscribe subscribes to eventType and delivers each event to handler on a
// dedicated goroutine, in arrival order.
//
// A session subscribes at most once; later calls return nil without sending
// anything. The handler must not block on commands issued to this session.
func (s *Session) Subscribe(ctx context.Context, eventType string, handler func(Event)) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.subscribed {
		return nil
	}

	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	resp, err := s.Command(ctx, typeSubscribeEvents, map[string]any{"event_type": eventType})
	if err == nil && !resp.Success {
		err = fmt.Errorf("%w: %s", ErrSubscribeFailed, resp.Error.String())
	} else if err != nil {
		err = fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if err != nil {
		s.mu.Lock()
		s.handler = nil
		s.mu.Unlock()
		return err
	}

	s.subscribed = true
	s.setState(StateSubscribed)
	go s.dispatchEvents(handler)
	return nil
}

func (s *Session) dispatchEvents(handler func(Event)) {
	deliver := func(ev Event) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("event handler panic", "panic", fmt.Sprint(r))
			}
		}()
		handler(ev)
	}

	for {
		select {
		case ev := <-s.events:
			deliver(ev)
		case <-s.done.Done():
			for {
				select {
				case ev := <-s.events:
					deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// Stream marks the session Streaming and blocks until it terminates or ctx
// is cancelled, in which case the session is closed. It returns the cause
// of termination.
func (s *Session) Stream(ctx context.Context) error {
	s.setState(StateStreaming)
	select {
	case <-s.done.Done():
		return s.closedError()
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done.Done()
}

// Err returns why the session terminated, or nil while it is alive.
func (s *Session) Err() error {
	select {
	case <-s.done.Done():
		return s.closedError()
	default:
		return nil
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Close sends a close frame, closes the socket and fails pending commands.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best effort
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	s.writeMu.Unlock()

	s.terminate(ErrSessionClosed)
	s.wg.Wait()
	return nil
}

// terminate records the first termination cause and tears everything down.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	first := s.closeErr == nil
	if first {
		s.closeErr = cause
	}
	pending := s.pending
	s.pending = make(map[int64]*pendingCommand)
	s.mu.Unlock()

	if !first {
		return
	}

	s.setState(StateDisconnected)
	s.done.Close()
	s.conn.Close()

	for _, pc := range pending {
		pc.ch <- outcome{err: s.closedError()}
	}
}

func (s *Session) closedError() error {
	s.mu.Lock()
	cause := s.closeErr
	s.mu.Unlock()

	if cause == nil || errors.Is(cause, ErrSessionClosed) {
		return ErrSessionClosed
	}
	return fmt.Errorf("%w: %w", ErrSessionClosed, cause)
}

func (s *Session) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}
