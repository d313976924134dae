package registry

import (
	"strings"

	"github.com/nerrad567/habridge-core/internal/hass"
)

// Entity categories hidden from normal listings.
const (
	CategoryDiagnostic = "diagnostic"
	CategoryConfig     = "config"
)

// Floor is one level of the home.
type Floor struct {
	ID      string   `json:"floor_id"`
	Name    string   `json:"name"`
	Level   int      `json:"level"`
	AreaIDs []string `json:"area_ids"`
}

// Area is a room or zone. FloorID is kept as reported even when the floor
// is unknown; only known floors list the area.
type Area struct {
	ID        string   `json:"area_id"`
	Name      string   `json:"name"`
	FloorID   string   `json:"floor_id,omitempty"`
	EntityIDs []string `json:"entity_ids"`
}

// Device is a physical or virtual device hosting entities.
type Device struct {
	ID           string `json:"device_id"`
	Name         string `json:"name"`
	AreaID       string `json:"area_id,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Entity is one registry entry.
type Entity struct {
	ID             string `json:"entity_id"`
	Name           string `json:"name,omitempty"`
	OriginalName   string `json:"original_name,omitempty"`
	Platform       string `json:"platform,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
	AreaID         string `json:"area_id,omitempty"`
	DisabledBy     string `json:"disabled_by,omitempty"`
	HiddenBy       string `json:"hidden_by,omitempty"`
	TranslationKey string `json:"translation_key,omitempty"`
	EntityCategory string `json:"entity_category,omitempty"`
}

// Domain returns the part of the entity id before the dot.
func (e *Entity) Domain() string {
	return hass.Domain(e.ID)
}

// Disabled reports whether the entity is disabled in the registry.
func (e *Entity) Disabled() bool {
	return e.DisabledBy != ""
}

// Hidden reports whether the entity is hidden in the registry.
func (e *Entity) Hidden() bool {
	return e.HiddenBy != ""
}

// Auxiliary reports whether the entity is a diagnostic or config entity.
func (e *Entity) Auxiliary() bool {
	return e.EntityCategory == CategoryDiagnostic || e.EntityCategory == CategoryConfig
}

// DisplayName is the name, else the original name, else the id.
func (e *Entity) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	if e.OriginalName != "" {
		return e.OriginalName
	}
	return e.ID
}

// DeviceGroup is a set of entities shown together as one device.
// Entities without a device form a virtual device keyed by their own id.
type DeviceGroup struct {
	DeviceID        string   `json:"device_id"`
	Name            string   `json:"name"`
	EntityIDs       []string `json:"entity_ids"`
	PrimaryEntityID string   `json:"primary_entity_id"`
	PrimaryDomain   string   `json:"primary_domain"`
	IsVacuum        bool     `json:"is_vacuum"`
}

// Counts summarises a graph.
type Counts struct {
	Floors   int `json:"floors"`
	Areas    int `json:"areas"`
	Devices  int `json:"devices"`
	Entities int `json:"entities"`
}

// domainFilter is a set of domains; nil admits every domain.
type domainFilter map[string]struct{}

func newDomainFilter(domains []string) domainFilter {
	if len(domains) == 0 {
		return nil
	}
	f := make(domainFilter, len(domains))
	for _, d := range domains {
		f[strings.TrimSpace(d)] = struct{}{}
	}
	return f
}

func (f domainFilter) admits(entityID string) bool {
	if f == nil {
		return true
	}
	_, ok := f[hass.Domain(entityID)]
	return ok
}
