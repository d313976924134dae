package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/habridge-core/internal/notify"
	"github.com/nerrad567/habridge-core/internal/schedule"
	"github.com/nerrad567/habridge-core/internal/store"
)

// userID parses the {uid} path parameter, writing a 400 on failure.
func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	uid, err := pathID(r, "uid")
	if err != nil {
		writeBadRequest(w, err.Error())
		return 0, false
	}
	return uid, true
}

// ─── Schedules ───

// createScheduleRequest is the request body for POST /users/{uid}/schedules.
type createScheduleRequest struct {
	Name       string         `json:"name"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload"`
	CronExpr   string         `json:"cron_expr"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), uid)
	if err != nil {
		s.logger.Error("listing tasks failed", "user_id", uid, "error", err)
		writeInternalError(w, "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": tasks})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	switch req.ActionType {
	case schedule.ActionServiceCall, schedule.ActionAutomationTrigger, schedule.ActionHAAutomation:
	default:
		writeValidation(w, "unknown action_type '"+req.ActionType+"'")
		return
	}
	req.CronExpr = strings.TrimSpace(req.CronExpr)
	if err := schedule.Validate(req.CronExpr); err != nil {
		writeValidation(w, err.Error())
		return
	}

	task := &store.Task{
		UserID:     uid,
		Name:       req.Name,
		ActionType: req.ActionType,
		Payload:    req.Payload,
		CronExpr:   req.CronExpr,
		NextRun:    schedule.NextRun(req.CronExpr, s.now()),
	}
	if _, err := s.store.AddTask(r.Context(), task); err != nil {
		if errors.Is(err, store.ErrInvalidTask) {
			writeValidation(w, err.Error())
			return
		}
		s.logger.Error("adding task failed", "user_id", uid, "error", err)
		writeInternalError(w, "failed to create schedule")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	enabled, err := s.store.ToggleTask(r.Context(), id, uid)
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w, "schedule not found")
		return
	}
	if err != nil {
		s.logger.Error("toggling task failed", "task_id", id, "error", err)
		writeInternalError(w, "failed to toggle schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	deleted, err := s.store.DeleteTask(r.Context(), id, uid)
	if err != nil {
		s.logger.Error("deleting task failed", "task_id", id, "error", err)
		writeInternalError(w, "failed to delete schedule")
		return
	}
	if !deleted {
		writeNotFound(w, "schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateCronRequest is the request body for POST /cron/validate.
type validateCronRequest struct {
	CronExpr string `json:"cron_expr"`
}

func (s *Server) handleValidateCron(w http.ResponseWriter, r *http.Request) {
	var req validateCronRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := schedule.Validate(req.CronExpr); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	resp := map[string]any{"valid": true}
	if next := schedule.NextRun(req.CronExpr, s.now()); !next.IsZero() {
		resp["next_run"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Notifications ───

// updateNotificationRequest is the request body for
// POST /users/{uid}/notifications. With neither mode nor throttle set the
// subscription is toggled.
type updateNotificationRequest struct {
	EntityID        string                  `json:"entity_id"`
	Mode            *store.NotificationMode `json:"mode"`
	ThrottleSeconds *int                    `json:"throttle_seconds"`
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	subs, err := s.store.ListNotifications(r.Context(), uid)
	if err != nil {
		s.logger.Error("listing notifications failed", "user_id", uid, "error", err)
		writeInternalError(w, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": subs})
}

func (s *Server) handleUpdateNotification(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req updateNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !strings.Contains(req.EntityID, ".") {
		writeValidation(w, "entity_id must look like 'domain.name'")
		return
	}
	if req.ThrottleSeconds != nil && *req.ThrottleSeconds < 0 {
		writeValidation(w, "throttle_seconds must be >= 0")
		return
	}

	ctx := r.Context()
	var err error
	switch {
	case req.Mode == nil && req.ThrottleSeconds == nil:
		_, err = s.store.ToggleNotification(ctx, uid, req.EntityID)
	default:
		if req.Mode != nil {
			err = s.store.SetNotificationMode(ctx, uid, req.EntityID, *req.Mode)
		}
		if err == nil && req.ThrottleSeconds != nil {
			err = s.store.SetThrottle(ctx, uid, req.EntityID, time.Duration(*req.ThrottleSeconds)*time.Second)
		}
	}
	switch {
	case errors.Is(err, store.ErrInvalidMode):
		writeValidation(w, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w, "notification subscription not found")
		return
	case err != nil:
		s.logger.Error("updating notification failed", "user_id", uid, "entity_id", req.EntityID, "error", err)
		writeInternalError(w, "failed to update notification")
		return
	}

	sub, err := s.store.GetNotification(ctx, uid, req.EntityID)
	if err != nil {
		s.logger.Error("reading notification failed", "user_id", uid, "entity_id", req.EntityID, "error", err)
		writeInternalError(w, "failed to read notification")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// muteRequest is the request body for POST /users/{uid}/mutes.
type muteRequest struct {
	EntityID        string `json:"entity_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req muteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !strings.Contains(req.EntityID, ".") {
		writeValidation(w, "entity_id must look like 'domain.name'")
		return
	}
	if req.DurationSeconds < 0 {
		writeValidation(w, "duration_seconds must be >= 0")
		return
	}

	d := notify.DefaultMuteDuration
	if req.DurationSeconds > 0 {
		d = time.Duration(req.DurationSeconds) * time.Second
	}
	until := s.now().Add(d).UTC()
	if err := s.store.SetMute(r.Context(), uid, req.EntityID, until); err != nil {
		s.logger.Error("setting mute failed", "user_id", uid, "entity_id", req.EntityID, "error", err)
		writeInternalError(w, "failed to mute")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_id": req.EntityID, "muted_until": until})
}

// callbackRequest is the request body for POST /users/{uid}/callbacks.
type callbackRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.callbacks == nil {
		writeUnavailable(w, "notifications are disabled")
		return
	}
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req callbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.callbacks.HandleCallback(r.Context(), uid, req.Data)
	switch {
	case errors.Is(err, notify.ErrUnknownCallback):
		writeBadRequest(w, err.Error())
	case errors.Is(err, notify.ErrForeignCallback):
		writeForbidden(w, err.Error())
	case err != nil:
		s.logger.Warn("callback failed", "user_id", uid, "error", err)
		writeUpstream(w, "callback action failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
