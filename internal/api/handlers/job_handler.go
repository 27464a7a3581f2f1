package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "flock/internal/api/context"
	"flock/internal/engine/jobs"
	"flock/internal/pkg/errors"
	"flock/internal/platform/audit"
)

type JobHandler struct {
	manager *jobs.Manager
	audit   *audit.Logger
}

func NewJobHandler(manager *jobs.Manager, auditLog *audit.Logger) *JobHandler {
	return &JobHandler{manager: manager, audit: auditLog}
}

type AddJobRequest struct {
	Queue       string                 `json:"queue"`
	Type        string                 `json:"type"`
	Data        map[string]interface{} `json:"data"`
	Priority    int                    `json:"priority"`
	MaxAttempts int                    `json:"max_attempts"`
}

func (h *JobHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	job, err := h.manager.Add(req.Queue, jobs.Type(req.Type), req.Data, jobs.AddOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	h.audit.Log(r.Context(), "job.added", "job", job.ID, map[string]interface{}{"queue": req.Queue, "type": req.Type})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	queue := r.URL.Query().Get("queue")
	status := jobs.Status(r.URL.Query().Get("status"))

	list, err := h.manager.Jobs(queue, status)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	job := h.manager.Job(params.ByName("job_id"))
	if job == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Job not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	jobID := params.ByName("job_id")

	if !h.manager.Cancel(jobID) {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Job cannot be cancelled", nil)
		return
	}

	h.audit.Log(r.Context(), "job.cancelled", "job", jobID, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"cancelled": true})
}

func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.manager.Stats())
}
