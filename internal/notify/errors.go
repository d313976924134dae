package notify

import (
	"errors"
	"fmt"
	"time"
)

// ErrRecipientUnavailable is returned by a Messenger when the recipient
// cannot be reached: the bot was blocked or the chat no longer exists.
var ErrRecipientUnavailable = errors.New("notify: recipient unavailable")

// Quick-action callback errors.
var (
	ErrUnknownCallback = errors.New("notify: unknown callback")
	ErrForeignCallback = errors.New("notify: callback belongs to another user")
)

// RetryAfterError is returned by a Messenger when the chat service asks the
// sender to back off.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("notify: rate limited, retry after %s", e.After)
}
