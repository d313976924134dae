package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/habridge-core/internal/infrastructure/metrics"
)

// Client defaults.
const (
	DefaultBaseURL     = "http://supervisor/core/api"
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second

	defaultTotalTimeout   = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 20 * time.Second

	// maxErrorBody is how much of a failed response body goes into the error.
	maxErrorBody = 300

	// maxResponseBody bounds how much of a response is read.
	maxResponseBody = 16 << 20
)

// Logger is the logging surface the client needs. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Payload is the raw JSON body of a successful response. It is never empty:
// a missing or non-JSON body reads as "{}".
type Payload = json.RawMessage

var emptyObject = Payload(`{}`)

// Client talks to the hub's REST API. It is safe for concurrent use.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      Logger
	metrics     *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeouts sets the total, connect and response-header timeouts.
// Zero values keep the defaults.
func WithTimeouts(total, connect, read time.Duration) Option {
	return func(c *Client) {
		c.httpClient = newHTTPClient(
			orDefault(total, defaultTotalTimeout),
			orDefault(connect, defaultConnectTimeout),
			orDefault(read, defaultReadTimeout),
		)
	}
}

// WithMaxAttempts sets the attempt limit. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.baseDelay = d
		}
	}
}

// WithSleep replaces the backoff wait. Tests use it to skip real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records every attempt's outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a Client for baseURL authenticating with token.
// An empty baseURL selects DefaultBaseURL.
func New(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  newHTTPClient(defaultTotalTimeout, defaultConnectTimeout, defaultReadTimeout),
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepContext,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient(total, connect, read time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: total,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: read,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Execute sends method to path (relative to the base URL) with an optional
// JSON body and applies the retry policy.
//
// On failure the returned error is a *Error, except when ctx is cancelled,
// in which case ctx.Err() is returned wrapped and no further attempts are made.
func (c *Client) Execute(ctx context.Context, method, path string, body any) (Payload, error) {
	var reqBody []byte
	if body != nil {
		var err error
		if reqBody, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var last *Error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		payload, failure, err := c.attempt(ctx, method, url, reqBody)
		if err != nil {
			return nil, err
		}
		if failure == nil {
			c.metrics.RequestAttempt("ok")
			c.logger.Debug("request succeeded",
				"method", method, "path", path, "attempt", attempt)
			return payload, nil
		}

		failure.Attempts = attempt
		last = failure

		if errors.Is(failure.class, ErrPermanent) {
			c.metrics.RequestAttempt("client_error")
			c.logger.Error("client error (no retry)",
				"method", method, "path", path, "error", failure.Message)
			return nil, failure
		}

		c.metrics.RequestAttempt(outcomeLabel(failure))
		c.logger.Warn("request failed",
			"method", method, "path", path,
			"attempt", attempt, "max_attempts", c.maxAttempts,
			"error", failure.Message)

		if attempt < c.maxAttempts {
			if err := c.sleep(ctx, c.backoff(attempt, failure.Status)); err != nil {
				return nil, fmt.Errorf("waiting to retry %s %s: %w", method, path, err)
			}
		}
	}

	last.exhausted = true
	c.logger.Error("request failed after all attempts",
		"method", method, "path", path, "attempts", c.maxAttempts, "error", last.Message)
	return nil, last
}

// attempt performs one request. It returns a payload on success, a *Error
// for a classified failure, or a plain error when ctx was cancelled.
func (c *Client) attempt(ctx context.Context, method, url string, body []byte) (Payload, *Error, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, classifyTransport(err), nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, classifyTransport(err), nil
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 || !json.Valid(trimmed) {
			return emptyObject, nil, nil
		}
		return Payload(trimmed), nil, nil
	}

	failure := &Error{
		Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(data), maxErrorBody)),
		Status:  resp.StatusCode,
		class:   ErrServer,
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		failure.class = ErrPermanent
	}
	return nil, failure, nil
}

// backoff returns the wait after the given failed attempt: base*2^(attempt-1),
// doubled again when the hub answered 502 or 503.
func (c *Client) backoff(attempt, status int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	if status == http.StatusBadGateway || status == http.StatusServiceUnavailable {
		delay *= 2
	}
	return delay
}

func classifyTransport(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Message: "Request timed out", class: ErrTimeout}
	}
	return &Error{Message: "Connection error: " + err.Error(), class: ErrConnection}
}

func outcomeLabel(e *Error) string {
	switch {
	case errors.Is(e.class, ErrTimeout):
		return "timeout"
	case errors.Is(e.class, ErrConnection):
		return "connection"
	default:
		return "server_error"
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
