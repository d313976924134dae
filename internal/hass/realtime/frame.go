package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/habridge-core/internal/hass"
)

// Frame types used on the wire.
const (
	typeAuthRequired    = "auth_required"
	typeAuth            = "auth"
	typeAuthOK          = "auth_ok"
	typeAuthInvalid     = "auth_invalid"
	typeResult          = "result"
	typeEvent           = "event"
	typeSubscribeEvents = "subscribe_events"
)

// EventStateChanged is the only event type the bridge subscribes to.
const EventStateChanged = "state_changed"

// inbound is the union of every frame the hub sends.
type inbound struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
	Event   json.RawMessage `json:"event"`
	Message string          `json:"message"`
}

// RemoteError is the error object of a failed command.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) String() string {
	if e == nil {
		return "unknown error"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response is the result frame matching a command id.
type Response struct {
	ID      int64
	Success bool
	Result  json.RawMessage
	Error   *RemoteError
}

// Event is the payload of an event frame.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
	Origin    string          `json:"origin"`
}

// StateChange is the data of a state_changed event. Either state may be nil:
// OldState for a newly added entity, NewState for a removed one.
type StateChange struct {
	EntityID string      `json:"entity_id"`
	OldState *hass.State `json:"old_state"`
	NewState *hass.State `json:"new_state"`
}

// StateChange decodes the event data. It fails for other event types.
func (e Event) StateChange() (*StateChange, error) {
	if e.EventType != EventStateChanged {
		return nil, fmt.Errorf("event type %q is not %s", e.EventType, EventStateChanged)
	}
	var sc StateChange
	if err := json.Unmarshal(e.Data, &sc); err != nil {
		return nil, fmt.Errorf("decoding state_changed data: %w", err)
	}
	return &sc, nil
}
