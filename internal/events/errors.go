package events

import "errors"

// ErrNoOutbox is returned by Send when no MQTT client is configured.
var ErrNoOutbox = errors.New("events: no outbox configured")
