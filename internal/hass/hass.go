// Package hass holds the value types shared by the hub's REST and realtime
// clients.
package hass

import (
	"strings"
	"time"
)

// State is an entity's state object as returned by GET /states/<id> and
// carried in state_changed events.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// FriendlyName returns the friendly_name attribute, or the entity id when
// the attribute is missing or not a string.
func (s *State) FriendlyName() string {
	if s == nil {
		return ""
	}
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

// Attr returns an attribute value, or nil when s is nil or the key is absent.
func (s *State) Attr(key string) any {
	if s == nil {
		return nil
	}
	return s.Attributes[key]
}

// Domain returns the part of an entity id before the first dot.
// "light.kitchen" -> "light". An id without a dot is returned unchanged.
func Domain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

// ObjectID returns the part of an entity id after the first dot, or "" when
// there is none.
func ObjectID(entityID string) string {
	_, object, _ := strings.Cut(entityID, ".")
	return object
}
