package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// ServiceTag is added to every point so several bridges can share a bucket.
const ServiceTag = "habridge"

// Client writes bridge events to InfluxDB through the non-blocking batch
// API. Points written after Close are dropped. Safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected atomic.Bool
	failures  atomic.Int64

	errMu   sync.RWMutex
	onError func(err error)
}

// Connect pings the server and prepares the batched write API for the
// configured org and bucket.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	c.connected.Store(true)
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

// writeOptions maps batch settings onto client options. Non-positive
// values select the defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = config.Seconds(cfg.FlushInterval)
	}

	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		AddDefaultTag("service", ServiceTag)
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// drainErrors forwards asynchronous write failures until the API closes
// its error channel.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)

		c.errMu.RLock()
		fn := c.onError
		c.errMu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers a callback for asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

// WriteFailures returns how many batches the server rejected.
func (c *Client) WriteFailures() int64 {
	return c.failures.Load()
}

// IsConnected reports whether the client has not been closed.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends buffered points now. It does nothing after Close.
func (c *Client) Flush() {
	if c.writeAPI != nil && c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and releases the client. The zero Client
// closes cleanly.
func (c *Client) Close() error {
	if c.client == nil || !c.connected.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
