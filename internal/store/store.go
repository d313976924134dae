package store

import (
	"database/sql"
	"math"
	"time"
)

// DefaultThrottle is the throttle window given to newly created subscriptions.
const DefaultThrottle = 60 * time.Second

// Logger is the logging surface the store needs. *logging.Logger satisfies it.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Store is the SQLite-backed implementation of every repository in this package.
type Store struct {
	db              *sql.DB
	now             func() time.Time
	defaultThrottle time.Duration
	logger          Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultThrottle sets the throttle window for new subscriptions.
func WithDefaultThrottle(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.defaultThrottle = d
		}
	}
}

// WithClock replaces time.Now for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger for rows skipped while listing.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Store using db. The schema must already be migrated.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:              db,
		now:             time.Now,
		defaultThrottle: DefaultThrottle,
		logger:          noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// toUnix converts t to fractional unix seconds. The zero time maps to 0.
func toUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

// fromUnix is the inverse of toUnix.
func fromUnix(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(math.Round(ts * 1000))).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
