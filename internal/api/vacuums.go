package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/habridge-core/internal/hass"
	"github.com/nerrad567/habridge-core/internal/store"
	"github.com/nerrad567/habridge-core/internal/vacuum"
)

// vacuumID reads the {id} path parameter and checks the collaborator is
// configured.
func (s *Server) vacuumID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.vacuums == nil {
		writeUnavailable(w, "vacuum control is not configured")
		return "", false
	}
	id := chi.URLParam(r, "id")
	if hass.Domain(id) != "vacuum" {
		writeBadRequest(w, "id must be a vacuum entity")
		return "", false
	}
	return id, true
}

func (s *Server) handleVacuum(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vacuumID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id":    id,
		"status":       s.vacuums.Status(ctx, id),
		"capabilities": s.vacuums.Capabilities(ctx, id),
		"routines":     s.vacuums.Routines(ctx, id),
	})
}

func (s *Server) handleVacuumRooms(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vacuumID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.vacuums.Rooms(r.Context(), id)})
}

// saveSegmentsRequest is the request body for PUT /vacuums/{id}/segments.
type saveSegmentsRequest struct {
	Segments []store.RoomSegment `json:"segments"`
}

func (s *Server) handleSaveSegments(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vacuumID(w, r)
	if !ok {
		return
	}
	var req saveSegmentsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.vacuums.SaveRooms(r.Context(), id, req.Segments)
	if errors.Is(err, vacuum.ErrInvalidSegment) {
		writeValidation(w, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("saving vacuum segments failed", "vacuum", id, "error", err)
		writeInternalError(w, "failed to save segments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.vacuums.Rooms(r.Context(), id)})
}

// cleanRequest is the request body for POST /vacuums/{id}/clean.
type cleanRequest struct {
	SegmentID string `json:"segment_id"`
}

func (s *Server) handleCleanSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vacuumID(w, r)
	if !ok {
		return
	}
	var req cleanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SegmentID == "" {
		writeValidation(w, "segment_id is required")
		return
	}
	if err := s.vacuums.CleanSegment(r.Context(), id, req.SegmentID); err != nil {
		s.logger.Warn("segment clean failed", "vacuum", id, "segment", req.SegmentID, "error", err)
		writeUpstream(w, "clean request failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleVacuumCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vacuumID(w, r)
	if !ok {
		return
	}
	command := chi.URLParam(r, "command")
	err := s.vacuums.Execute(r.Context(), id, command)
	if errors.Is(err, vacuum.ErrUnknownCommand) {
		writeBadRequest(w, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("vacuum command failed", "vacuum", id, "command", command, "error", err)
		writeUpstream(w, "command failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handlePressRoutine(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vacuumID(w, r)
	if !ok {
		return
	}
	button := chi.URLParam(r, "button")
	if hass.Domain(button) != "button" {
		writeBadRequest(w, "routine must be a button entity")
		return
	}
	if err := s.vacuums.PressRoutine(r.Context(), button); err != nil {
		s.logger.Warn("routine press failed", "vacuum", id, "button", button, "error", err)
		writeUpstream(w, "routine failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}
