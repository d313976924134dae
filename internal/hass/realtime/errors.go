package realtime

import "errors"

var (
	// ErrProtocol is returned when the hub sends an unexpected handshake frame.
	ErrProtocol = errors.New("realtime: protocol violation")

	// ErrAuthFailed is returned when the hub rejects the access token.
	ErrAuthFailed = errors.New("realtime: authentication failed")

	// ErrSubscribeFailed is returned when the hub does not acknowledge a
	// subscription.
	ErrSubscribeFailed = errors.New("realtime: subscribe failed")

	// ErrSessionClosed is returned to every pending command when the session
	// terminates, and to commands issued after that.
	ErrSessionClosed = errors.New("realtime: session closed")

	// ErrNoResponse is returned when a command's response did not arrive
	// within its unrelated-frame budget.
	ErrNoResponse = errors.New("realtime: no response")

	// ErrCommandTimeout is returned when a command's response did not arrive
	// within the command timeout.
	ErrCommandTimeout = errors.New("realtime: command timed out")
)
