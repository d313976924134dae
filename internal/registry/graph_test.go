package registry

import (
	"encoding/json"
	"slices"
	"testing"
)

// ─── Fixtures ───────────────────────────────────────────────────────

func records(t *testing.T, items ...map[string]any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			t.Fatalf("marshal fixture: %v", err)
		}
		out = append(out, data)
	}
	return out
}

// homeFixture is a two-floor home with a vacuum, a lamp and some noise.
func homeFixture(t *testing.T) *Raw {
	t.Helper()
	return &Raw{
		Floors: records(t,
			map[string]any{"floor_id": "upstairs", "name": "Upstairs", "level": 1},
			map[string]any{"floor_id": "ground", "name": "Ground", "level": 0},
			map[string]any{"floor_id": "attic", "name": nil, "level": nil},
		),
		Areas: records(t,
			map[string]any{"area_id": "kitchen", "name": "Kitchen", "floor_id": "ground"},
			map[string]any{"area_id": "hall", "name": "Прихожая", "floor_id": "ground"},
			map[string]any{"area_id": "bedroom", "name": "Bedroom", "floor_id": "upstairs"},
			map[string]any{"area_id": "garage", "name": "Garage", "floor_id": nil},
			map[string]any{"area_id": "shed", "name": "Shed", "floor_id": "missing"},
		),
		Devices: records(t,
			map[string]any{"id": "dev-robot", "name": "Roborock S7", "name_by_user": "Robby", "area_id": "hall", "manufacturer": "Roborock", "model": "S7"},
			map[string]any{"id": "dev-lamp", "name": "Lamp", "area_id": "kitchen"},
			map[string]any{"id": "dev-plug", "name": nil, "area_id": nil},
		),
		Entities: records(t,
			map[string]any{"entity_id": "vacuum.robby", "platform": "roborock", "device_id": "dev-robot"},
			map[string]any{"entity_id": "button.robby_morning_routine", "original_name": "Morning routine", "device_id": "dev-robot"},
			map[string]any{"entity_id": "button.robby_reset_filter", "original_name": "Reset filter", "device_id": "dev-robot"},
			map[string]any{"entity_id": "button.robby_dock_wash", "original_name": "Dock wash", "device_id": "dev-robot"},
			map[string]any{"entity_id": "button.robby_old", "original_name": "Old program", "device_id": "dev-robot", "disabled_by": "user"},
			map[string]any{"entity_id": "sensor.robby_rssi", "device_id": "dev-robot", "entity_category": "diagnostic"},
			map[string]any{"entity_id": "light.kitchen", "name": "Kitchen Light", "device_id": "dev-lamp"},
			map[string]any{"entity_id": "sensor.kitchen_temp", "original_name": "Temperature", "area_id": "kitchen"},
			map[string]any{"entity_id": "switch.bedroom_fan", "area_id": "bedroom", "device_id": "dev-lamp"},
			map[string]any{"entity_id": "switch.plug", "device_id": "dev-plug"},
			map[string]any{"entity_id": "sensor.plug_linkquality", "device_id": "dev-plug", "entity_category": "diagnostic"},
			map[string]any{"entity_id": "light.ghost", "disabled_by": "integration", "area_id": "kitchen"},
			map[string]any{"entity_id": "sun.sun"},
			map[string]any{"entity_id": "", "name": "no id"},
		),
	}
}

func buildFixture(t *testing.T) *Graph {
	t.Helper()
	return Build(homeFixture(t), nil)
}

// ─── Build ──────────────────────────────────────────────────────────

func TestBuildDefaults(t *testing.T) {
	g := buildFixture(t)

	want := Counts{Floors: 3, Areas: 5, Devices: 3, Entities: 13}
	if got := g.Counts(); got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}

	attic, ok := g.Floor("attic")
	if !ok {
		t.Fatal("Floor(attic) missing")
	}
	if attic.Name != "attic" || attic.Level != 0 {
		t.Errorf("attic = %+v, want name defaulted to id and level 0", attic)
	}

	robot, _ := g.Device("dev-robot")
	if robot.Name != "Robby" {
		t.Errorf("device name = %q, want name_by_user", robot.Name)
	}
	plug, _ := g.Device("dev-plug")
	if plug.Name != "dev-plug" {
		t.Errorf("device name = %q, want id fallback", plug.Name)
	}
}

func TestBuildSkipsMalformedRecords(t *testing.T) {
	raw := &Raw{
		Areas: []json.RawMessage{
			json.RawMessage(`{"area_id":"ok","name":"OK"}`),
			json.RawMessage(`{"area_id":42}`),
			json.RawMessage(`not json`),
		},
	}
	g := Build(raw, nil)
	if got := g.Counts().Areas; got != 1 {
		t.Errorf("Areas = %d, want 1", got)
	}
}

func TestBuildNil(t *testing.T) {
	g := Build(nil, nil)
	if g.Counts() != (Counts{}) {
		t.Errorf("Build(nil) counts = %+v", g.Counts())
	}
	if g.HasFloors() {
		t.Error("empty graph HasFloors() = true")
	}
}

func TestCrossReferences(t *testing.T) {
	g := buildFixture(t)

	ground, _ := g.Floor("ground")
	if !slices.Equal(ground.AreaIDs, []string{"kitchen", "hall"}) {
		t.Errorf("ground areas = %v", ground.AreaIDs)
	}

	kitchen, _ := g.Area("kitchen")
	want := []string{"light.kitchen", "sensor.kitchen_temp"}
	if !slices.Equal(kitchen.EntityIDs, want) {
		t.Errorf("kitchen entities = %v, want %v", kitchen.EntityIDs, want)
	}

	// An entity's own area wins over its device's area.
	bedroom, _ := g.Area("bedroom")
	if !slices.Equal(bedroom.EntityIDs, []string{"switch.bedroom_fan"}) {
		t.Errorf("bedroom entities = %v", bedroom.EntityIDs)
	}
}

func TestEntityAreaFallsBackToDevice(t *testing.T) {
	g := buildFixture(t)

	tests := []struct {
		entity string
		want   string
		wantOK bool
	}{
		{"light.kitchen", "kitchen", true},
		{"vacuum.robby", "hall", true},
		{"switch.bedroom_fan", "bedroom", true},
		{"switch.plug", "", false},
		{"sun.sun", "", false},
		{"light.nope", "", false},
	}
	for _, tt := range tests {
		got, ok := g.EntityArea(tt.entity)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("EntityArea(%q) = (%q, %v), want (%q, %v)", tt.entity, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDisabledEntityStaysAddressable(t *testing.T) {
	g := buildFixture(t)

	e, ok := g.Entity("light.ghost")
	if !ok || !e.Disabled() {
		t.Fatalf("Entity(light.ghost) = %+v, %v", e, ok)
	}
	kitchen, _ := g.Area("kitchen")
	if slices.Contains(kitchen.EntityIDs, "light.ghost") {
		t.Error("disabled entity listed in area")
	}
}

// ─── Queries ────────────────────────────────────────────────────────

func TestFloorsSorted(t *testing.T) {
	g := buildFixture(t)
	var ids []string
	for _, f := range g.Floors() {
		ids = append(ids, f.ID)
	}
	// Same level sorts by name, byte-wise: "Ground" before "attic".
	if want := []string{"ground", "attic", "upstairs"}; !slices.Equal(ids, want) {
		t.Errorf("Floors() = %v, want %v", ids, want)
	}
}

func TestAreasForFloor(t *testing.T) {
	g := buildFixture(t)
	var names []string
	for _, a := range g.AreasForFloor("ground") {
		names = append(names, a.Name)
	}
	if want := []string{"Kitchen", "Прихожая"}; !slices.Equal(names, want) {
		t.Errorf("AreasForFloor(ground) = %v, want %v", names, want)
	}
	if got := g.AreasForFloor("nope"); got != nil {
		t.Errorf("AreasForFloor(nope) = %v", got)
	}
}

func TestUnassignedAreas(t *testing.T) {
	g := buildFixture(t)
	var ids []string
	for _, a := range g.UnassignedAreas() {
		ids = append(ids, a.ID)
	}
	if want := []string{"garage", "shed"}; !slices.Equal(ids, want) {
		t.Errorf("UnassignedAreas() = %v, want %v", ids, want)
	}
}

func TestAreaEntitiesFilters(t *testing.T) {
	g := buildFixture(t)

	if got := g.AreaEntities("kitchen", []string{"light"}, false); !slices.Equal(got, []string{"light.kitchen"}) {
		t.Errorf("AreaEntities(kitchen, light) = %v", got)
	}

	hall := g.AreaEntities("hall", nil, false)
	if slices.Contains(hall, "sensor.robby_rssi") {
		t.Error("diagnostic entity listed without showAll")
	}
	hallAll := g.AreaEntities("hall", nil, true)
	if !slices.Contains(hallAll, "sensor.robby_rssi") {
		t.Error("diagnostic entity missing with showAll")
	}
	if slices.Contains(hallAll, "button.robby_old") {
		t.Error("disabled entity listed with showAll")
	}
}

func TestUnassignedEntities(t *testing.T) {
	g := buildFixture(t)

	if got, want := g.UnassignedEntities(nil, false), []string{"sun.sun", "switch.plug"}; !slices.Equal(got, want) {
		t.Errorf("UnassignedEntities() = %v, want %v", got, want)
	}
	if got, want := g.UnassignedEntities([]string{"sensor"}, true), []string{"sensor.plug_linkquality"}; !slices.Equal(got, want) {
		t.Errorf("UnassignedEntities(sensor, all) = %v, want %v", got, want)
	}
}

func TestDisplayName(t *testing.T) {
	g := buildFixture(t)
	tests := map[string]string{
		"light.kitchen":       "Kitchen Light",
		"sensor.kitchen_temp": "Temperature",
		"sun.sun":             "sun.sun",
		"light.unknown":       "light.unknown",
	}
	for id, want := range tests {
		if got := g.DisplayName(id); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestMatchSegmentToArea(t *testing.T) {
	g := buildFixture(t)
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"kitchen", "kitchen", true},
		{"Кухня", "kitchen", true},
		{"hallway", "hall", true},
		{"Спальня", "bedroom", true},
		{"garage", "garage", true},
		{"balcony", "", false},
	}
	for _, tt := range tests {
		got, ok := g.MatchSegmentToArea(tt.name)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("MatchSegmentToArea(%q) = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

// ─── Devices and vacuums ────────────────────────────────────────────

func TestDevicesForArea(t *testing.T) {
	g := buildFixture(t)

	groups := g.DevicesForArea("hall", nil, true)
	if len(groups) != 1 {
		t.Fatalf("DevicesForArea(hall) = %d groups, want 1", len(groups))
	}
	robot := groups[0]
	if robot.DeviceID != "dev-robot" || robot.Name != "Robby" || !robot.IsVacuum {
		t.Errorf("robot group = %+v", robot)
	}
	if robot.PrimaryEntityID != "vacuum.robby" || robot.PrimaryDomain != "vacuum" {
		t.Errorf("primary = %s (%s), want vacuum.robby", robot.PrimaryEntityID, robot.PrimaryDomain)
	}

	kitchen := g.DevicesForArea("kitchen", nil, false)
	var names []string
	for _, d := range kitchen {
		names = append(names, d.Name)
	}
	// The sensor has no device, so it forms a virtual device named after itself.
	if want := []string{"Lamp", "Temperature"}; !slices.Equal(names, want) {
		t.Errorf("kitchen devices = %v, want %v", names, want)
	}
}

func TestUnassignedDevicesPrimaryPenalisesJunk(t *testing.T) {
	g := buildFixture(t)

	groups := g.UnassignedDevices([]string{"sensor", "switch"}, true)
	var plug *DeviceGroup
	for i := range groups {
		if groups[i].DeviceID == "dev-plug" {
			plug = &groups[i]
		}
	}
	if plug == nil {
		t.Fatalf("dev-plug missing from %+v", groups)
	}
	if plug.PrimaryEntityID != "switch.plug" {
		t.Errorf("primary = %s, want switch.plug", plug.PrimaryEntityID)
	}
	if !slices.Equal(plug.EntityIDs, []string{"sensor.plug_linkquality", "switch.plug"}) {
		t.Errorf("entities = %v", plug.EntityIDs)
	}
}

func TestPrimaryEntityPenalty(t *testing.T) {
	raw := &Raw{Entities: records(t,
		map[string]any{"entity_id": "sensor.a_rssi", "device_id": "d"},
		map[string]any{"entity_id": "sensor.b_status", "device_id": "d", "entity_category": "diagnostic"},
		map[string]any{"entity_id": "sensor.c_power", "device_id": "d"},
	)}
	g := Build(raw, nil)
	if got := g.primaryEntity([]string{"sensor.a_rssi", "sensor.b_status", "sensor.c_power"}); got != "sensor.c_power" {
		t.Errorf("primaryEntity() = %s, want sensor.c_power", got)
	}
	if got := g.primaryEntity([]string{"sensor.a_rssi", "sensor.b_status"}); got != "sensor.a_rssi" {
		t.Errorf("primaryEntity() = %s, want sensor.a_rssi", got)
	}
}

func TestPrimaryDomainUnknownDomains(t *testing.T) {
	if got := primaryDomain([]string{"zzz.one", "aaa.two"}); got != "aaa" {
		t.Errorf("primaryDomain() = %q, want aaa", got)
	}
	if got := primaryDomain(nil); got != "unknown" {
		t.Errorf("primaryDomain(nil) = %q, want unknown", got)
	}
}

func TestDeviceEntityIDs(t *testing.T) {
	g := buildFixture(t)
	got := g.DeviceEntityIDs("dev-robot", []string{"button"})
	want := []string{"button.robby_dock_wash", "button.robby_morning_routine", "button.robby_reset_filter"}
	if !slices.Equal(got, want) {
		t.Errorf("DeviceEntityIDs() = %v, want %v", got, want)
	}
}

func TestVacuumLookups(t *testing.T) {
	g := buildFixture(t)

	if id, ok := g.VacuumEntityForDevice("dev-robot"); !ok || id != "vacuum.robby" {
		t.Errorf("VacuumEntityForDevice() = %q, %v", id, ok)
	}
	if g.IsVacuumDevice("dev-lamp") {
		t.Error("IsVacuumDevice(dev-lamp) = true")
	}
	if got := g.VacuumPlatform("vacuum.robby"); got != "roborock" {
		t.Errorf("VacuumPlatform() = %q", got)
	}
	if got := g.Vacuums(); !slices.Equal(got, []string{"vacuum.robby"}) {
		t.Errorf("Vacuums() = %v", got)
	}
}

func TestVacuumRoutines(t *testing.T) {
	g := buildFixture(t)

	// Registry order; the reset button is maintenance and the disabled one
	// is skipped. "Dock wash" matches nothing and is included.
	want := []string{"button.robby_morning_routine", "button.robby_dock_wash"}
	if got := g.VacuumRoutines("vacuum.robby"); !slices.Equal(got, want) {
		t.Errorf("VacuumRoutines() = %v, want %v", got, want)
	}
	if got := g.VacuumRoutines("vacuum.none"); got != nil {
		t.Errorf("VacuumRoutines(unknown) = %v", got)
	}
}
