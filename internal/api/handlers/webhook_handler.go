package handlers

import (
	"encoding/json"
	"net/http"

	"flock/internal/engine/webhooks"
	"flock/internal/pkg/errors"
	"flock/internal/platform/audit"
)

type WebhookHandler struct {
	manager *webhooks.Manager
	audit   *audit.Logger
}

func NewWebhookHandler(manager *webhooks.Manager, auditLog *audit.Logger) *WebhookHandler {
	return &WebhookHandler{manager: manager, audit: auditLog}
}

// List returns registered endpoints, or delivery records when the
// endpoint_id or status query parameters are present.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	endpointID := r.URL.Query().Get("endpoint_id")
	status := r.URL.Query().Get("status")

	w.Header().Set("Content-Type", "application/json")

	if endpointID != "" || status != "" {
		deliveries := h.manager.Deliveries(endpointID, webhooks.DeliveryStatus(status))
		if deliveries == nil {
			deliveries = []*webhooks.Delivery{}
		}
		json.NewEncoder(w).Encode(deliveries)
		return
	}

	endpoints, err := h.manager.Endpoints()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list endpoints", nil)
		return
	}
	if endpoints == nil {
		endpoints = []*webhooks.Endpoint{}
	}
	json.NewEncoder(w).Encode(endpoints)
}

type RegisterWebhookRequest struct {
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
}

func (h *WebhookHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	endpoint, err := h.manager.RegisterEndpoint(req.URL, req.Events, isActive)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	h.audit.Log(r.Context(), "webhook.registered", "webhook_endpoint", endpoint.ID, map[string]interface{}{"url": endpoint.URL})

	// The secret appears only in this response; store it now or never.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(endpoint)
}

func (h *WebhookHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "id query parameter is required", nil)
		return
	}

	if !h.manager.UnregisterEndpoint(id) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook endpoint not found", nil)
		return
	}

	h.audit.Log(r.Context(), "webhook.unregistered", "webhook_endpoint", id, nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
}

type TriggerTestRequest struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// TriggerTest lets admins fire an event by hand to verify an
// integration end to end.
func (h *WebhookHandler) TriggerTest(w http.ResponseWriter, r *http.Request) {
	var req TriggerTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if err := h.manager.TriggerEvent(req.Type, req.Data, "manual"); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "triggered"})
}
