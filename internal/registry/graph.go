package registry

import (
	"cmp"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/habridge-core/internal/hass"
	"github.com/nerrad567/habridge-core/internal/statemap"
)

// Raw holds the four record lists as the hub returned them.
type Raw struct {
	Floors   []json.RawMessage
	Areas    []json.RawMessage
	Devices  []json.RawMessage
	Entities []json.RawMessage
}

// Graph is an immutable snapshot of the registries with derived
// cross-references. All methods are safe for concurrent use. Returned slices
// and structs must not be modified.
type Graph struct {
	floors   map[string]*Floor
	areas    map[string]*Area
	devices  map[string]*Device
	entities map[string]*Entity

	// Source order, for deterministic iteration.
	areaOrder   []string
	entityOrder []string

	vacuumByDevice map[string]string
	routines       map[string][]string
	platforms      map[string]string

	syncedAt time.Time
}

func emptyGraph() *Graph {
	return &Graph{
		floors:         map[string]*Floor{},
		areas:          map[string]*Area{},
		devices:        map[string]*Device{},
		entities:       map[string]*Entity{},
		vacuumByDevice: map[string]string{},
		routines:       map[string][]string{},
		platforms:      map[string]string{},
	}
}

// ─── Raw record shapes ──────────────────────────────────────────────

type floorRecord struct {
	FloorID string `json:"floor_id"`
	Name    string `json:"name"`
	Level   *int   `json:"level"`
}

type areaRecord struct {
	AreaID  string `json:"area_id"`
	Name    string `json:"name"`
	FloorID string `json:"floor_id"`
}

type deviceRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	NameByUser   string `json:"name_by_user"`
	AreaID       string `json:"area_id"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

type entityRecord struct {
	EntityID       string `json:"entity_id"`
	Name           string `json:"name"`
	OriginalName   string `json:"original_name"`
	Platform       string `json:"platform"`
	DeviceID       string `json:"device_id"`
	AreaID         string `json:"area_id"`
	DisabledBy     string `json:"disabled_by"`
	HiddenBy       string `json:"hidden_by"`
	TranslationKey string `json:"translation_key"`
	EntityCategory string `json:"entity_category"`
}

// Build turns raw records into a Graph. Records without an id or that fail
// to decode are skipped. A duplicate id replaces the earlier record.
func Build(raw *Raw, logger Logger) *Graph {
	if logger == nil {
		logger = noopLogger{}
	}
	g := emptyGraph()
	if raw == nil {
		return g
	}

	for _, rec := range decodeAll[floorRecord](raw.Floors, "floor", logger) {
		if rec.FloorID == "" {
			continue
		}
		f := &Floor{ID: rec.FloorID, Name: cmp.Or(rec.Name, rec.FloorID)}
		if rec.Level != nil {
			f.Level = *rec.Level
		}
		g.floors[f.ID] = f
	}

	for _, rec := range decodeAll[areaRecord](raw.Areas, "area", logger) {
		if rec.AreaID == "" {
			continue
		}
		if _, dup := g.areas[rec.AreaID]; !dup {
			g.areaOrder = append(g.areaOrder, rec.AreaID)
		}
		g.areas[rec.AreaID] = &Area{ID: rec.AreaID, Name: cmp.Or(rec.Name, rec.AreaID), FloorID: rec.FloorID}
	}

	for _, rec := range decodeAll[deviceRecord](raw.Devices, "device", logger) {
		if rec.ID == "" {
			continue
		}
		g.devices[rec.ID] = &Device{
			ID:           rec.ID,
			Name:         cmp.Or(rec.NameByUser, rec.Name, rec.ID),
			AreaID:       rec.AreaID,
			Manufacturer: rec.Manufacturer,
			Model:        rec.Model,
		}
	}

	for _, rec := range decodeAll[entityRecord](raw.Entities, "entity", logger) {
		if rec.EntityID == "" {
			continue
		}
		if _, dup := g.entities[rec.EntityID]; !dup {
			g.entityOrder = append(g.entityOrder, rec.EntityID)
		}
		g.entities[rec.EntityID] = &Entity{
			ID:             rec.EntityID,
			Name:           rec.Name,
			OriginalName:   rec.OriginalName,
			Platform:       rec.Platform,
			DeviceID:       rec.DeviceID,
			AreaID:         rec.AreaID,
			DisabledBy:     rec.DisabledBy,
			HiddenBy:       rec.HiddenBy,
			TranslationKey: rec.TranslationKey,
			EntityCategory: rec.EntityCategory,
		}
	}

	g.linkCrossReferences()
	g.detectVacuumRoutines(logger)
	return g
}

func decodeAll[T any](records []json.RawMessage, kind string, logger Logger) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			logger.Debug("skipping malformed registry record", "kind", kind, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// linkCrossReferences fills Floor.AreaIDs and Area.EntityIDs.
func (g *Graph) linkCrossReferences() {
	for _, id := range g.areaOrder {
		a := g.areas[id]
		if f, ok := g.floors[a.FloorID]; ok {
			f.AreaIDs = append(f.AreaIDs, a.ID)
		}
	}

	for _, id := range g.entityOrder {
		e := g.entities[id]
		if e.Disabled() {
			continue
		}
		if a, ok := g.areas[g.effectiveArea(e)]; ok {
			a.EntityIDs = append(a.EntityIDs, e.ID)
		}
	}
}

// detectVacuumRoutines indexes the routine buttons of every vacuum device.
func (g *Graph) detectVacuumRoutines(logger Logger) {
	for _, id := range g.entityOrder {
		e := g.entities[id]
		if e.Domain() == "vacuum" && e.DeviceID != "" && !e.Disabled() {
			g.vacuumByDevice[e.DeviceID] = e.ID
			g.platforms[e.ID] = e.Platform
		}
	}

	for _, id := range g.entityOrder {
		e := g.entities[id]
		if e.Domain() != "button" || e.Disabled() {
			continue
		}
		vacuumID, ok := g.vacuumByDevice[e.DeviceID]
		if !ok {
			continue
		}
		name := cmp.Or(e.OriginalName, e.Name, e.ID)
		if ClassifyButton(name, e.TranslationKey).IsRoutine() {
			g.routines[vacuumID] = append(g.routines[vacuumID], e.ID)
		}
	}

	for _, vacuumID := range sortedKeys(g.routines) {
		logger.Info("vacuum routines detected", "vacuum", vacuumID, "buttons", len(g.routines[vacuumID]))
	}
}

func (g *Graph) effectiveArea(e *Entity) string {
	if e.AreaID != "" {
		return e.AreaID
	}
	if d, ok := g.devices[e.DeviceID]; ok {
		return d.AreaID
	}
	return ""
}

// ─── Lookups ────────────────────────────────────────────────────────

// SyncedAt is when the graph was published. Zero for the empty graph.
func (g *Graph) SyncedAt() time.Time { return g.syncedAt }

// Counts returns the number of records of each kind.
func (g *Graph) Counts() Counts {
	return Counts{
		Floors:   len(g.floors),
		Areas:    len(g.areas),
		Devices:  len(g.devices),
		Entities: len(g.entities),
	}
}

// HasFloors reports whether the hub defines any floors.
func (g *Graph) HasFloors() bool { return len(g.floors) > 0 }

// Floor returns a floor by id.
func (g *Graph) Floor(id string) (*Floor, bool) {
	f, ok := g.floors[id]
	return f, ok
}

// Area returns an area by id.
func (g *Graph) Area(id string) (*Area, bool) {
	a, ok := g.areas[id]
	return a, ok
}

// Device returns a device by id.
func (g *Graph) Device(id string) (*Device, bool) {
	d, ok := g.devices[id]
	return d, ok
}

// Entity returns an entity by id. Disabled entities are still addressable.
func (g *Graph) Entity(id string) (*Entity, bool) {
	e, ok := g.entities[id]
	return e, ok
}

// EntityIDs returns every entity id in registry order.
func (g *Graph) EntityIDs() []string {
	return slices.Clone(g.entityOrder)
}

// EntityArea returns the entity's own area, else its device's area.
func (g *Graph) EntityArea(entityID string) (string, bool) {
	e, ok := g.entities[entityID]
	if !ok {
		return "", false
	}
	area := g.effectiveArea(e)
	return area, area != ""
}

// DisplayName returns the best name for an entity, or the id itself.
func (g *Graph) DisplayName(entityID string) string {
	if e, ok := g.entities[entityID]; ok {
		return e.DisplayName()
	}
	return entityID
}

// ─── Floors and areas ───────────────────────────────────────────────

// Floors returns all floors ordered by level, then name.
func (g *Graph) Floors() []*Floor {
	out := make([]*Floor, 0, len(g.floors))
	for _, f := range g.floors {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *Floor) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// AreasForFloor returns the floor's areas ordered by name.
func (g *Graph) AreasForFloor(floorID string) []*Area {
	f, ok := g.floors[floorID]
	if !ok {
		return nil
	}
	out := make([]*Area, 0, len(f.AreaIDs))
	for _, id := range f.AreaIDs {
		if a, ok := g.areas[id]; ok {
			out = append(out, a)
		}
	}
	sortAreas(out)
	return out
}

// UnassignedAreas returns areas that no known floor lists, ordered by name.
func (g *Graph) UnassignedAreas() []*Area {
	assigned := make(map[string]bool)
	for _, f := range g.floors {
		for _, id := range f.AreaIDs {
			assigned[id] = true
		}
	}
	var out []*Area
	for _, a := range g.areas {
		if !assigned[a.ID] {
			out = append(out, a)
		}
	}
	sortAreas(out)
	return out
}

// Areas returns every area ordered by name.
func (g *Graph) Areas() []*Area {
	out := make([]*Area, 0, len(g.areas))
	for _, a := range g.areas {
		out = append(out, a)
	}
	sortAreas(out)
	return out
}

func sortAreas(areas []*Area) {
	slices.SortFunc(areas, func(a, b *Area) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
}

// MatchSegmentToArea resolves a cleaning segment or room name to an area id,
// first by normalised name, then through the room alias table.
func (g *Graph) MatchSegmentToArea(name string) (string, bool) {
	norm := Normalize(name)
	for _, id := range g.areaOrder {
		if Normalize(g.areas[id].Name) == norm {
			return id, true
		}
	}

	group, ok := RoomGroup(norm)
	if !ok {
		return "", false
	}
	for _, id := range g.areaOrder {
		if areaGroup, ok := RoomGroup(g.areas[id].Name); ok && areaGroup == group {
			return id, true
		}
	}
	return "", false
}

// ─── Entities ───────────────────────────────────────────────────────

// AreaEntities returns the enabled entities of an area, sorted. domains
// restricts the result when non-empty. Diagnostic and config entities are
// hidden unless showAll is set.
func (g *Graph) AreaEntities(areaID string, domains []string, showAll bool) []string {
	a, ok := g.areas[areaID]
	if !ok {
		return nil
	}
	out := g.filterEntities(a.EntityIDs, newDomainFilter(domains), showAll)
	slices.Sort(out)
	return out
}

// UnassignedEntities returns enabled entities that belong to no area, sorted.
func (g *Graph) UnassignedEntities(domains []string, showAll bool) []string {
	assigned := make(map[string]bool)
	for _, a := range g.areas {
		for _, id := range a.EntityIDs {
			assigned[id] = true
		}
	}

	filter := newDomainFilter(domains)
	var out []string
	for _, id := range g.entityOrder {
		e := g.entities[id]
		if assigned[id] || e.Disabled() || !filter.admits(id) {
			continue
		}
		if !showAll && e.Auxiliary() {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (g *Graph) filterEntities(ids []string, filter domainFilter, showAll bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !filter.admits(id) {
			continue
		}
		if e, ok := g.entities[id]; ok && !showAll && e.Auxiliary() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ─── Device grouping ────────────────────────────────────────────────

// domainPriority orders domains by how well they represent a device.
var domainPriority = []string{
	"vacuum", "media_player", "climate", "light", "cover", "fan",
	"switch", "lock", "water_heater", "scene", "script", "select",
	"number", "button", "sensor", "binary_sensor",
}

var domainRank = func() map[string]int {
	m := make(map[string]int, len(domainPriority))
	for i, d := range domainPriority {
		m[d] = i
	}
	return m
}()

func rankOf(domain string) int {
	if r, ok := domainRank[domain]; ok {
		return r
	}
	return len(domainPriority)
}

// primaryEntity picks the most representative entity of a device.
func (g *Graph) primaryEntity(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	penalty := func(id string) int {
		if e, ok := g.entities[id]; ok && e.Auxiliary() {
			return 2
		}
		if statemap.IsJunkPrimary(id) {
			return 1
		}
		return 0
	}
	return slices.MinFunc(ids, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(rankOf(hass.Domain(a)), rankOf(hass.Domain(b))),
			cmp.Compare(penalty(a), penalty(b)),
			cmp.Compare(a, b),
		)
	})
}

func primaryDomain(ids []string) string {
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[hass.Domain(id)] = true
	}
	for _, d := range domainPriority {
		if present[d] {
			return d
		}
	}
	if len(ids) == 0 {
		return "unknown"
	}
	return slices.Sorted(maps.Keys(present))[0]
}

// DevicesForArea groups an area's entities by device.
func (g *Graph) DevicesForArea(areaID string, domains []string, showAll bool) []DeviceGroup {
	a, ok := g.areas[areaID]
	if !ok {
		return nil
	}
	return g.groupByDevice(g.filterEntities(a.EntityIDs, newDomainFilter(domains), showAll))
}

// UnassignedDevices groups the unassigned entities by device.
func (g *Graph) UnassignedDevices(domains []string, showAll bool) []DeviceGroup {
	return g.groupByDevice(g.UnassignedEntities(domains, showAll))
}

// groupByDevice returns groups ordered vacuums first, then by name
// case-insensitively.
func (g *Graph) groupByDevice(ids []string) []DeviceGroup {
	if len(ids) == 0 {
		return nil
	}

	var order []string
	members := make(map[string][]string)
	for _, id := range ids {
		key := id
		if e, ok := g.entities[id]; ok && e.DeviceID != "" {
			key = e.DeviceID
		}
		if _, seen := members[key]; !seen {
			order = append(order, key)
		}
		members[key] = append(members[key], id)
	}

	out := make([]DeviceGroup, 0, len(order))
	for _, key := range order {
		eids := members[key]
		primary := g.primaryEntity(eids)

		name := g.DisplayName(primary)
		if d, ok := g.devices[key]; ok {
			name = d.Name
		}

		sorted := slices.Clone(eids)
		slices.Sort(sorted)
		out = append(out, DeviceGroup{
			DeviceID:        key,
			Name:            name,
			EntityIDs:       sorted,
			PrimaryEntityID: primary,
			PrimaryDomain:   primaryDomain(eids),
			IsVacuum: slices.ContainsFunc(eids, func(id string) bool {
				return hass.Domain(id) == "vacuum"
			}),
		})
	}

	slices.SortStableFunc(out, func(a, b DeviceGroup) int {
		if a.IsVacuum != b.IsVacuum {
			if a.IsVacuum {
				return -1
			}
			return 1
		}
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out
}

// DeviceEntityIDs returns the enabled entities of a device, sorted.
func (g *Graph) DeviceEntityIDs(deviceID string, domains []string) []string {
	filter := newDomainFilter(domains)
	var out []string
	for _, id := range g.entityOrder {
		e := g.entities[id]
		if e.Disabled() || e.DeviceID != deviceID || !filter.admits(id) {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// VacuumEntityForDevice returns the first enabled vacuum entity on a device.
func (g *Graph) VacuumEntityForDevice(deviceID string) (string, bool) {
	for _, id := range g.entityOrder {
		e := g.entities[id]
		if e.DeviceID == deviceID && e.Domain() == "vacuum" && !e.Disabled() {
			return id, true
		}
	}
	return "", false
}

// IsVacuumDevice reports whether the device hosts an enabled vacuum entity.
func (g *Graph) IsVacuumDevice(deviceID string) bool {
	_, ok := g.VacuumEntityForDevice(deviceID)
	return ok
}

// ─── Vacuums ────────────────────────────────────────────────────────

// Vacuums returns every enabled vacuum entity that sits on a device, sorted.
func (g *Graph) Vacuums() []string {
	return sortedKeys(g.platforms)
}

// VacuumRoutines returns the routine buttons on a vacuum's device in
// registry order.
func (g *Graph) VacuumRoutines(vacuumID string) []string {
	return g.routines[vacuumID]
}

// VacuumPlatform returns the integration platform of a vacuum entity.
func (g *Graph) VacuumPlatform(vacuumID string) string {
	return g.platforms[vacuumID]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
