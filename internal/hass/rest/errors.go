package rest

import "errors"

// Error classes. A *Error returned by the client matches exactly one of the
// first four with errors.Is, and additionally ErrRetriesExhausted when it
// was retried the maximum number of times.
var (
	// ErrPermanent is a 4xx response other than 429. It is never retried.
	ErrPermanent = errors.New("rest: permanent request error")

	// ErrServer is a 429 or 5xx response.
	ErrServer = errors.New("rest: server error")

	// ErrTimeout is a request that exceeded its deadline.
	ErrTimeout = errors.New("rest: request timed out")

	// ErrConnection is a transport failure before a response arrived.
	ErrConnection = errors.New("rest: connection error")

	// ErrRetriesExhausted marks the final error after the last attempt.
	ErrRetriesExhausted = errors.New("rest: retries exhausted")

	// ErrUnexpectedPayload is returned by typed helpers when a successful
	// response does not decode into the expected shape.
	ErrUnexpectedPayload = errors.New("rest: unexpected payload")
)

// Error is a failed request. Its message is suitable for showing to a user
// and never contains the credential.
type Error struct {
	// Message is "HTTP <status>: <body>", "Request timed out" or
	// "Connection error: <cause>".
	Message string

	// Status is the HTTP status, or 0 when no response was received.
	Status int

	// Attempts is how many requests were made.
	Attempts int

	class     error
	exhausted bool
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the error class for errors.Is.
func (e *Error) Unwrap() []error {
	if e.exhausted {
		return []error{e.class, ErrRetriesExhausted}
	}
	return []error{e.class}
}
