package statemap

import (
	"testing"

	"github.com/nerrad567/habridge-core/internal/hass"
)

func ptr(f float64) *float64 { return &f }

func TestMap(t *testing.T) {
	tests := []struct {
		name   string
		entity string
		state  string
		want   MappedState
	}{
		{"light on", "light.kitchen", "on", MappedState{UIOn, "Вкл", true, false}},
		{"light off", "light.kitchen", "off", MappedState{UIOff, "Выкл", false, false}},
		{"vacuum cleaning", "vacuum.robby", "cleaning", MappedState{UIOn, "Уборка", true, false}},
		{"vacuum docked", "vacuum.robby", "docked", MappedState{UIOff, "На базе", false, false}},
		{"vacuum error", "vacuum.robby", "error", MappedState{"ERROR", "error", false, false}},
		{"cover opening", "cover.blind", "opening", MappedState{UIOn, "Открывается", true, false}},
		{"sensor numeric", "sensor.temp", "21.5", MappedState{"21.5", "21.5", false, true}},
		{"binary sensor on", "binary_sensor.door", "on", MappedState{UIOn, "Вкл", true, true}},
		{"unknown domain on", "input_select.mode", "on", MappedState{UIOn, "Вкл", true, false}},
		{"unavailable", "sensor.temp", "unavailable", MappedState{UIUnavailable, "Недоступен", false, true}},
		{"unknown", "light.x", "unknown", MappedState{UIUnavailable, "Неизвестно", false, false}},
		{"person away", "person.me", "not_home", MappedState{UIOff, "Нет дома", false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Map(tt.entity, tt.state, nil, nil); got != tt.want {
				t.Errorf("Map(%q, %q) = %+v, want %+v", tt.entity, tt.state, got, tt.want)
			}
		})
	}
}

func TestMapPowerThreshold(t *testing.T) {
	overrides := map[string]Override{
		"sensor.dishwasher_power": {RunningThresholdWatts: ptr(10)},
		"switch.washer":           {RunningThresholdWatts: ptr(5)},
	}

	got := Map("sensor.dishwasher_power", "1200.4", nil, overrides)
	want := MappedState{UIRunning, "1200 W", true, true}
	if got != want {
		t.Errorf("running = %+v, want %+v", got, want)
	}

	got = Map("sensor.dishwasher_power", "3", nil, overrides)
	if got.UIState != UIIdle || got.Active {
		t.Errorf("idle = %+v", got)
	}

	got = Map("switch.washer", "on", map[string]any{"current_power_w": 250.0}, overrides)
	if got.UIState != UIRunning || got.Label != "250 W" {
		t.Errorf("attribute power = %+v", got)
	}

	// No power reading at all falls through to domain rules.
	got = Map("switch.washer", "on", nil, overrides)
	if got.UIState != UIOn {
		t.Errorf("no power = %+v", got)
	}
}

func TestMapStateLists(t *testing.T) {
	overrides := map[string]Override{
		"sensor.printer": {ActiveStates: []string{"printing"}, IdleStates: []string{"ready"}},
	}
	if got := Map("sensor.printer", "printing", nil, overrides); got.UIState != UIOn || !got.Active || got.ReadOnly {
		t.Errorf("active override = %+v", got)
	}
	if got := Map("sensor.printer", "ready", nil, overrides); got.UIState != UIIdle || got.Active {
		t.Errorf("idle override = %+v", got)
	}
	// Unavailable wins over overrides.
	if got := Map("sensor.printer", "unavailable", nil, overrides); got.UIState != UIUnavailable {
		t.Errorf("unavailable override = %+v", got)
	}
}

func TestMapStateNil(t *testing.T) {
	if got := MapState(nil, nil); got.UIState != UIUnavailable {
		t.Errorf("MapState(nil) = %+v", got)
	}
	s := &hass.State{EntityID: "fan.ceiling", State: "on"}
	if got := MapState(s, nil); !got.Active {
		t.Errorf("MapState(fan on) = %+v", got)
	}
}

func TestIsJunkPrimary(t *testing.T) {
	tests := map[string]bool{
		"sensor.plug_rssi":           true,
		"sensor.robot_battery_level": true,
		"sensor.router_ip_address":   true,
		"light.kitchen":              false,
		"sensor.battery":             false,
		"nodot_rssi":                 false,
	}
	for id, want := range tests {
		if got := IsJunkPrimary(id); got != want {
			t.Errorf("IsJunkPrimary(%q) = %v, want %v", id, got, want)
		}
	}
}
