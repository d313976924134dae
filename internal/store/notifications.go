package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NotificationMode selects which changes fire a notification.
type NotificationMode string

// Notification modes.
const (
	// ModeStateOnly fires only when the raw state string changes.
	ModeStateOnly NotificationMode = "state_only"

	// ModeStateAndKeyAttrs also fires when a domain key attribute changes.
	ModeStateAndKeyAttrs NotificationMode = "state_and_key_attrs"
)

// Valid reports whether m is a known mode.
func (m NotificationMode) Valid() bool {
	return m == ModeStateOnly || m == ModeStateAndKeyAttrs
}

// Subscription is one user's interest in one entity's state changes.
type Subscription struct {
	UserID   int64            `json:"user_id"`
	EntityID string           `json:"entity_id"`
	Enabled  bool             `json:"enabled"`
	Mode     NotificationMode `json:"mode"`
	Throttle time.Duration    `json:"throttle"`
	LastSent time.Time        `json:"last_sent,omitempty"`
}

const subscriptionColumns = `user_id, entity_id, enabled, mode, throttle_seconds, last_sent_ts`

// ToggleNotification flips the subscription for (user, entity) and returns
// the new enabled flag. The first call creates the row enabled, in
// ModeStateOnly, with the default throttle.
func (s *Store) ToggleNotification(ctx context.Context, userID int64, entityID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var enabled int
	err = tx.QueryRowContext(ctx,
		`SELECT enabled FROM notification_subscriptions WHERE user_id = ? AND entity_id = ?`,
		userID, entityID,
	).Scan(&enabled)

	var now bool
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO notification_subscriptions
				(user_id, entity_id, enabled, mode, throttle_seconds, last_sent_ts, created_at)
			VALUES (?, ?, 1, ?, ?, 0, ?)`,
			userID, entityID, string(ModeStateOnly), int(s.defaultThrottle/time.Second),
			s.now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return false, fmt.Errorf("creating subscription: %w", err)
		}
		now = true
	case err != nil:
		return false, fmt.Errorf("querying subscription: %w", err)
	default:
		now = enabled == 0
		if _, err = tx.ExecContext(ctx,
			`UPDATE notification_subscriptions SET enabled = ? WHERE user_id = ? AND entity_id = ?`,
			boolToInt(now), userID, entityID,
		); err != nil {
			return false, fmt.Errorf("toggling subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing toggle: %w", err)
	}
	return now, nil
}

// GetNotification returns the subscription for (user, entity) or ErrNotFound.
func (s *Store) GetNotification(ctx context.Context, userID int64, entityID string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE user_id = ? AND entity_id = ?`,
		userID, entityID,
	)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

// SetNotificationMode changes the mode of an existing subscription.
func (s *Store) SetNotificationMode(ctx context.Context, userID int64, entityID string, mode NotificationMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return s.updateSubscription(ctx, userID, entityID, `mode = ?`, string(mode))
}

// SetThrottle changes the throttle window of an existing subscription.
// Sub-second precision is dropped.
func (s *Store) SetThrottle(ctx context.Context, userID int64, entityID string, throttle time.Duration) error {
	if throttle < 0 {
		throttle = 0
	}
	return s.updateSubscription(ctx, userID, entityID, `throttle_seconds = ?`, int(throttle/time.Second))
}

func (s *Store) updateSubscription(ctx context.Context, userID int64, entityID, set string, value any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_subscriptions SET `+set+` WHERE user_id = ? AND entity_id = ?`,
		value, userID, entityID,
	)
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrNotFound
	}
	return nil
}

// ListNotifications returns every subscription of a user, enabled or not,
// ordered by entity id.
func (s *Store) ListNotifications(ctx context.Context, userID int64) ([]Subscription, error) {
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE user_id = ? ORDER BY entity_id`,
		userID,
	)
}

// ActiveNotifications returns every enabled subscription.
func (s *Store) ActiveNotifications(ctx context.Context) ([]Subscription, error) {
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE enabled = 1 ORDER BY entity_id, user_id`,
	)
}

// ActiveNotificationsFor returns the enabled subscriptions watching entityID.
func (s *Store) ActiveNotificationsFor(ctx context.Context, entityID string) ([]Subscription, error) {
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM notification_subscriptions WHERE enabled = 1 AND entity_id = ? ORDER BY user_id`,
		entityID,
	)
}

// MarkNotificationSent records a dispatch attempt at the given time.
// The stored timestamp only moves forward; an older value is ignored.
func (s *Store) MarkNotificationSent(ctx context.Context, userID int64, entityID string, at time.Time) error {
	ts := toUnix(at)
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_subscriptions SET last_sent_ts = ?
		WHERE user_id = ? AND entity_id = ? AND last_sent_ts < ?`,
		ts, userID, entityID, ts,
	)
	if err != nil {
		return fmt.Errorf("marking notification sent: %w", err)
	}
	return nil
}

// SetMute suppresses notifications for (user, entity) until the given time.
func (s *Store) SetMute(ctx context.Context, userID int64, entityID string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_mutes (user_id, entity_id, mute_until) VALUES (?, ?, ?)
		ON CONFLICT (user_id, entity_id) DO UPDATE SET mute_until = excluded.mute_until`,
		userID, entityID, toUnix(until),
	)
	if err != nil {
		return fmt.Errorf("setting mute: %w", err)
	}
	return nil
}

// IsMuted reports whether a mute for (user, entity) is still in force at now.
// An expired entry reads as absent and is deleted.
func (s *Store) IsMuted(ctx context.Context, userID int64, entityID string, now time.Time) (bool, error) {
	var until float64
	err := s.db.QueryRowContext(ctx,
		`SELECT mute_until FROM notification_mutes WHERE user_id = ? AND entity_id = ?`,
		userID, entityID,
	).Scan(&until)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying mute: %w", err)
	}

	if until > toUnix(now) {
		return true, nil
	}

	// Expired. Cleanup failure does not change the answer.
	_, _ = s.db.ExecContext(ctx, //nolint:errcheck // opportunistic delete
		`DELETE FROM notification_mutes WHERE user_id = ? AND entity_id = ? AND mute_until <= ?`,
		userID, entityID, toUnix(now),
	)
	return false, nil
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*Subscription, error) {
	var (
		sub      Subscription
		enabled  int
		mode     string
		throttle int
		lastSent float64
	)
	if err := row.Scan(&sub.UserID, &sub.EntityID, &enabled, &mode, &throttle, &lastSent); err != nil {
		return nil, err
	}
	sub.Enabled = enabled != 0
	sub.Mode = NotificationMode(mode)
	sub.Throttle = time.Duration(throttle) * time.Second
	sub.LastSent = fromUnix(lastSent)
	return &sub, nil
}
