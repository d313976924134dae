// Package statemap maps raw entity states to the normalised states the UI
// and notifications show.
//
// Mapping is pure: no I/O, no package state beyond the lookup tables.
package statemap

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/habridge-core/internal/hass"
)

// UI states.
const (
	UIOn          = "ON"
	UIOff         = "OFF"
	UIIdle        = "IDLE"
	UIRunning     = "RUNNING"
	UIUnavailable = "UNAVAILABLE"
)

// MappedState is a normalised entity state.
type MappedState struct {
	UIState  string `json:"ui_state"`
	Label    string `json:"label"`
	Active   bool   `json:"active"`
	ReadOnly bool   `json:"read_only"`
}

// Override adjusts the mapping of one entity.
type Override struct {
	// RunningThresholdWatts marks the entity RUNNING while its power reading
	// is above the threshold.
	RunningThresholdWatts *float64 `yaml:"running_threshold_watts" json:"running_threshold_watts,omitempty"`
	ActiveStates          []string `yaml:"active_states" json:"active_states,omitempty"`
	IdleStates            []string `yaml:"idle_states" json:"idle_states,omitempty"`
}

// States that mean the entity is doing something, per domain.
var domainActive = map[string][]string{
	"light":         {"on"},
	"switch":        {"on"},
	"fan":           {"on"},
	"input_boolean": {"on"},
	"cover":         {"open", "opening", "closing"},
	"lock":          {"unlocked"},
	"vacuum":        {"cleaning", "returning"},
	"media_player":  {"playing", "buffering"},
	"climate":       {"heating", "cooling", "drying", "heat", "cool", "heat_cool", "auto"},
	"water_heater":  {"heating", "on"},
	"binary_sensor": {"on"},
}

var inactiveStates = []string{
	"off", "closed", "docked", "idle", "standby", "paused",
	"locked", "not_home", "below_horizon",
}

var unavailableStates = []string{"unavailable", "unknown"}

var readOnlyDomains = []string{"sensor", "binary_sensor", "event"}

var labels = map[string]string{
	"on":          "Вкл",
	"off":         "Выкл",
	"unavailable": "Недоступен",
	"unknown":     "Неизвестно",
	"cleaning":    "Уборка",
	"returning":   "Возврат",
	"docked":      "На базе",
	"idle":        "Простой",
	"paused":      "Пауза",
	"playing":     "Воспроизведение",
	"buffering":   "Буферизация",
	"standby":     "Ожидание",
	"heating":     "Нагрев",
	"cooling":     "Охлаждение",
	"drying":      "Сушка",
	"open":        "Открыто",
	"opening":     "Открывается",
	"closed":      "Закрыто",
	"closing":     "Закрывается",
	"locked":      "Заблокирован",
	"unlocked":    "Разблокирован",
	"home":        "Дома",
	"not_home":    "Нет дома",
	"heat":        "Обогрев",
	"cool":        "Охлаждение",
	"auto":        "Авто",
}

// Label returns the human label for a raw state, or the state itself.
func Label(state string) string {
	if l, ok := labels[state]; ok {
		return l
	}
	return state
}

// IsReadOnly reports whether entities of the domain take no actions.
func IsReadOnly(domain string) bool {
	return slices.Contains(readOnlyDomains, domain)
}

// Map normalises an entity state. attrs and overrides may be nil.
func Map(entityID, state string, attrs map[string]any, overrides map[string]Override) MappedState {
	domain := hass.Domain(entityID)
	readOnly := IsReadOnly(domain)

	if slices.Contains(unavailableStates, state) {
		return MappedState{UIState: UIUnavailable, Label: Label(state), ReadOnly: readOnly}
	}

	if ovr, ok := overrides[entityID]; ok {
		if ovr.RunningThresholdWatts != nil {
			if power, ok := extractPower(state, attrs); ok {
				if power > *ovr.RunningThresholdWatts {
					return MappedState{UIState: UIRunning, Label: fmt.Sprintf("%.0f W", power), Active: true, ReadOnly: readOnly}
				}
				return MappedState{UIState: UIIdle, Label: Label(state), ReadOnly: readOnly}
			}
		}
		if slices.Contains(ovr.ActiveStates, state) {
			return MappedState{UIState: UIOn, Label: Label(state), Active: true}
		}
		if slices.Contains(ovr.IdleStates, state) {
			return MappedState{UIState: UIIdle, Label: Label(state)}
		}
	}

	var active bool
	if states, ok := domainActive[domain]; ok {
		active = slices.Contains(states, state)
	} else {
		active = state == "on"
	}

	ui := strings.ToUpper(state)
	switch {
	case active:
		ui = UIOn
	case slices.Contains(inactiveStates, state):
		ui = UIOff
	}

	return MappedState{UIState: ui, Label: Label(state), Active: active, ReadOnly: readOnly}
}

// MapState is Map for a state object.
func MapState(s *hass.State, overrides map[string]Override) MappedState {
	if s == nil {
		return Map("", "unavailable", nil, nil)
	}
	return Map(s.EntityID, s.State, s.Attributes, overrides)
}

// extractPower reads a wattage from the state itself, else from a power
// attribute.
func extractPower(state string, attrs map[string]any) (float64, bool) {
	if v, err := strconv.ParseFloat(strings.TrimSpace(state), 64); err == nil {
		return v, true
	}
	for _, key := range []string{"current_power_w", "power", "current_power"} {
		switch v := attrs[key].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// junkSuffixes mark connectivity and housekeeping entities.
var junkSuffixes = []string{
	"_signal_strength", "_linkquality", "_link_quality",
	"_connectivity", "_rssi", "_battery_level",
	"_ip_address", "_mac_address", "_firmware",
}

// IsJunkPrimary reports whether an entity is a connectivity or diagnostic
// reading that should not represent its device.
func IsJunkPrimary(entityID string) bool {
	object := hass.ObjectID(entityID)
	for _, s := range junkSuffixes {
		if strings.HasSuffix(object, s) {
			return true
		}
	}
	return false
}
