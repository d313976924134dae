// Package store persists the state habridge needs across restarts:
// notification subscriptions and mutes, scheduled tasks, and the
// denormalised caches rebuilt by the registry synchronizer.
//
// All methods take a context and are safe for concurrent use; SQLite
// serialises writers and the database package limits the pool to one
// connection.
//
// Timestamps are stored as REAL unix seconds with millisecond precision.
// A zero time.Time is stored as 0 and read back as the zero value.
package store
