package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "flock/internal/api/context"
	"flock/internal/engine/scheduling"
	"flock/internal/pkg/errors"
	"flock/internal/platform/audit"
	"flock/internal/platform/auth"
	"flock/internal/platform/database"
	"flock/internal/platform/models"
)

type SchedulingHandler struct {
	svc   *scheduling.Service
	audit *audit.Logger
}

func NewSchedulingHandler(svc *scheduling.Service, auditLog *audit.Logger) *SchedulingHandler {
	return &SchedulingHandler{svc: svc, audit: auditLog}
}

func (h *SchedulingHandler) CreateMinistry(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		LeaderID    string `json:"leader_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.LeaderID == "" {
		req.LeaderID = claims.UserID
	}

	ministry, err := h.svc.CreateMinistry(tenant.DB, req.Name, req.Description, req.LeaderID)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	h.audit.Log(r.Context(), "ministry.created", "ministry", ministry.ID, nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ministry)
}

func (h *SchedulingHandler) ListMinistries(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)

	ministries, err := h.svc.ListMinistries(tenant.DB)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ministries)
}

func (h *SchedulingHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req models.Event
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.CreatedBy = claims.UserID

	event, err := h.svc.CreateEvent(tenant.DB, &req)
	if err != nil {
		if err == scheduling.ErrMinistryNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	h.audit.Log(r.Context(), "event.created", "event", event.ID, map[string]interface{}{"title": event.Title})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(event)
}

func (h *SchedulingHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)

	events, err := h.svc.ListUpcomingEvents(tenant.DB)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *SchedulingHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	event, err := h.svc.GetEvent(tenant.DB, params.ByName("event_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

func (h *SchedulingHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	eventID := params.ByName("event_id")

	var req models.Event
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	event, err := h.svc.UpdateEvent(tenant.DB, eventID, &req)
	if err != nil {
		if err == scheduling.ErrEventNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	h.audit.Log(r.Context(), "event.updated", "event", eventID, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

func (h *SchedulingHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	eventID := params.ByName("event_id")

	if err := h.svc.CancelEvent(tenant.DB, eventID); err != nil {
		if err == scheduling.ErrEventNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	h.audit.Log(r.Context(), "event.cancelled", "event", eventID, nil)

	w.WriteHeader(http.StatusOK)
}

func (h *SchedulingHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	eventID := params.ByName("event_id")

	var req struct {
		VolunteerID string `json:"volunteer_id"`
		Position    string `json:"position"`
		Notes       string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	assignment, err := h.svc.AssignVolunteer(tenant.DB, eventID, req.VolunteerID, req.Position, req.Notes)
	if err != nil {
		switch err {
		case scheduling.ErrEventNotFound:
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
		case scheduling.ErrEventFull, scheduling.ErrAlreadyAssigned, scheduling.ErrEventNotScheduled:
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), nil)
		default:
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		}
		return
	}

	h.audit.Log(r.Context(), "assignment.created", "assignment", assignment.ID, map[string]interface{}{
		"event_id":     eventID,
		"volunteer_id": req.VolunteerID,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(assignment)
}

func (h *SchedulingHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	assignments, err := h.svc.ListAssignments(tenant.DB, params.ByName("event_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assignments)
}

// RespondToAssignment lets the assigned volunteer confirm or decline.
func (h *SchedulingHandler) RespondToAssignment(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	assignmentID := params.ByName("assignment_id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	existing, err := h.svc.ListVolunteerAssignments(tenant.DB, claims.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	mine := false
	for _, a := range existing {
		if a.ID == assignmentID {
			mine = true
			break
		}
	}
	if !mine && claims.Role == "volunteer" {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Not your assignment", nil)
		return
	}

	assignment, err := h.svc.RespondToAssignment(tenant.DB, assignmentID, req.Status)
	if err != nil {
		if err == scheduling.ErrAssignmentNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assignment)
}

func (h *SchedulingHandler) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	assignmentID := params.ByName("assignment_id")

	if err := h.svc.CancelAssignment(tenant.DB, assignmentID); err != nil {
		if err == scheduling.ErrAssignmentNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	h.audit.Log(r.Context(), "assignment.cancelled", "assignment", assignmentID, nil)

	w.WriteHeader(http.StatusOK)
}

// MyAssignments returns the calling volunteer's own assignments.
func (h *SchedulingHandler) MyAssignments(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*database.TenantContext)
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	assignments, err := h.svc.ListVolunteerAssignments(tenant.DB, claims.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assignments)
}
