package notify

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/nerrad567/habridge-core/internal/hass"
	"github.com/nerrad567/habridge-core/internal/store"
)

// maxCallbackLen is the chat service's limit on button callback data.
const maxCallbackLen = 64

// Key attributes per domain for ModeStateAndKeyAttrs, sorted.
var keyAttributes = map[string][]string{
	"vacuum":       {"battery_level", "error", "fan_speed", "status"},
	"climate":      {"current_temperature", "hvac_action", "temperature"},
	"media_player": {"media_title", "source"},
}

// KeyAttributes returns the key attributes of a domain in sorted order.
func KeyAttributes(domain string) []string {
	return keyAttributes[domain]
}

// action is one quick-action button offered for a domain.
type action struct {
	label   string
	service string
}

var domainActions = map[string][]action{
	"vacuum": {
		{"🏠 Dock", "return_to_base"},
		{"📍 Locate", "locate"},
		{"⏸ Pause", "pause"},
	},
	"light": {
		{"🟢 ON", "turn_on"},
		{"⚪ OFF", "turn_off"},
	},
	"switch": {
		{"🟢 ON", "turn_on"},
		{"⚪ OFF", "turn_off"},
	},
	"cover": {
		{"⬆ Open", "open_cover"},
		{"⏹ Stop", "stop_cover"},
		{"⬇ Close", "close_cover"},
	},
}

// Button is an inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Message is one outbound chat message.
type Message struct {
	UserID   int64      `json:"user_id"`
	Text     string     `json:"text"`
	HTML     bool       `json:"html"`
	Keyboard [][]Button `json:"keyboard,omitempty"`
}

// AttrChange is one key attribute that changed.
type AttrChange struct {
	Name string `json:"name"`
	Old  any    `json:"old"`
	New  any    `json:"new"`
}

// Evaluate applies the mode rule to one state change and reports whether
// it fires. For ModeStateAndKeyAttrs it also returns the key attributes
// that changed, in sorted order. Domains without key attributes behave like
// ModeStateOnly.
func Evaluate(mode store.NotificationMode, entityID string, oldState, newState *hass.State) (bool, []AttrChange) {
	stateChanged := stateValue(oldState) != stateValue(newState)
	if mode != store.ModeStateAndKeyAttrs {
		return stateChanged, nil
	}

	var changes []AttrChange
	for _, name := range KeyAttributes(hass.Domain(entityID)) {
		ov, nv := oldState.Attr(name), newState.Attr(name)
		if !reflect.DeepEqual(ov, nv) {
			changes = append(changes, AttrChange{Name: name, Old: ov, New: nv})
		}
	}
	return stateChanged || len(changes) > 0, changes
}

func stateValue(s *hass.State) string {
	if s == nil {
		return ""
	}
	return s.State
}

// Compose renders the notification text.
func Compose(entityID string, oldState, newState *hass.State, changes []AttrChange, at time.Time) string {
	friendly := entityID
	if newState != nil {
		if name, ok := newState.Attributes["friendly_name"].(string); ok && name != "" {
			friendly = name
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔔 <b>%s</b>\n", sanitize(friendly))
	fmt.Fprintf(&b, "%s → %s\n", sanitize(stateValue(oldState)), sanitize(stateValue(newState)))
	fmt.Fprintf(&b, "<i>%s UTC</i>", at.UTC().Format("15:04:05"))

	for _, c := range changes {
		fmt.Fprintf(&b, "\n  %s: %s → %s", c.Name, sanitize(formatValue(c.Old)), sanitize(formatValue(c.New)))
	}
	return b.String()
}

func formatValue(v any) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprint(v)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func sanitize(s string) string {
	return htmlEscaper.Replace(s)
}

// Keyboard builds the quick-action rows for a notification: the domain's
// actions, then mute and open. Buttons whose callback data would exceed the
// chat service's limit are left out.
func Keyboard(entityID string, userID int64) [][]Button {
	var rows [][]Button

	var actionRow []Button
	for _, a := range domainActions[hass.Domain(entityID)] {
		cb := "nact:" + entityID + ":" + a.service
		if len(cb) <= maxCallbackLen {
			actionRow = append(actionRow, Button{Text: a.label, CallbackData: cb})
		}
	}
	if len(actionRow) > 0 {
		rows = append(rows, actionRow)
	}

	mute := fmt.Sprintf("nmute:%s:%d", entityID, userID)
	if len(mute) <= maxCallbackLen {
		rows = append(rows, []Button{
			{Text: "🔕 Mute 1h", CallbackData: mute},
			{Text: "→ Open", CallbackData: "ent:" + entityID},
		})
	}
	return rows
}

// ActionServices lists the services offered as quick actions for a domain.
func ActionServices(domain string) []string {
	var out []string
	for _, a := range domainActions[domain] {
		out = append(out, a.service)
	}
	return out
}
