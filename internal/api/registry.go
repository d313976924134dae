package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/habridge-core/internal/registry"
	"github.com/nerrad567/habridge-core/internal/statemap"
)

// graph returns the current registry graph, or writes 503 before the first
// successful sync.
func (s *Server) graph(w http.ResponseWriter) (*registry.Graph, bool) {
	if !s.registry.Synced() {
		writeUnavailable(w, "registry not synced yet")
		return nil, false
	}
	return s.registry.Snapshot(), true
}

func (s *Server) handleListFloors(w http.ResponseWriter, _ *http.Request) {
	g, ok := s.graph(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"floors":     g.Floors(),
		"has_floors": g.HasFloors(),
		"counts":     g.Counts(),
	})
}

func (s *Server) handleFloorAreas(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	floor, found := g.Floor(id)
	if !found {
		writeNotFound(w, "floor not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"floor": floor,
		"areas": g.AreasForFloor(id),
	})
}

func (s *Server) handleUnassignedAreas(w http.ResponseWriter, _ *http.Request) {
	g, ok := s.graph(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"areas": g.UnassignedAreas()})
}

func (s *Server) handleAreaEntities(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, found := g.Area(id); !found {
		writeNotFound(w, "area not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"area_id":  id,
		"entities": g.AreaEntities(id, domainsParam(r), boolParam(r, "all")),
	})
}

func (s *Server) handleAreaDevices(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, found := g.Area(id); !found {
		writeNotFound(w, "area not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"area_id": id,
		"devices": g.DevicesForArea(id, domainsParam(r), boolParam(r, "all")),
	})
}

func (s *Server) handleUnassignedEntities(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w)
	if !ok {
		return
	}
	domains, all := domainsParam(r), boolParam(r, "all")
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": g.UnassignedEntities(domains, all),
		"devices":  g.UnassignedDevices(domains, all),
	})
}

// entityResponse is an entity with its effective area and, when a state
// reader is configured, its live and mapped state.
type entityResponse struct {
	Entity      *registry.Entity      `json:"entity"`
	DisplayName string                `json:"display_name"`
	AreaID      string                `json:"area_id,omitempty"`
	State       any                   `json:"state,omitempty"`
	Mapped      *statemap.MappedState `json:"mapped,omitempty"`
	StateError  string                `json:"state_error,omitempty"`
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	entity, found := g.Entity(id)
	if !found {
		writeNotFound(w, "entity not found")
		return
	}

	resp := entityResponse{Entity: entity, DisplayName: g.DisplayName(id)}
	resp.AreaID, _ = g.EntityArea(id)

	if s.states != nil {
		st, err := s.states.GetState(r.Context(), id)
		if err != nil {
			resp.StateError = err.Error()
		} else {
			mapped := statemap.MapState(st, s.overrides)
			resp.State = st
			resp.Mapped = &mapped
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegistrySync(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Sync(r.Context()) {
		writeUpstream(w, "registry sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"synced": true,
		"counts": s.registry.Snapshot().Counts(),
	})
}
