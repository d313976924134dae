package realtime

import (
	"context"
	"fmt"
	"time"
)

// Batch opens a session, runs fn against it and closes it. The whole
// exchange, handshake included, is bounded by timeout.
func Batch(ctx context.Context, cfg Config, timeout time.Duration, fn func(ctx context.Context, s *Session) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess, err := Dial(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening batch session: %w", err)
	}
	defer sess.Close()

	// Cancellation must unblock commands waiting on a silent hub.
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	return fn(ctx, sess)
}
