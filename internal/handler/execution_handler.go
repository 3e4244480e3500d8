package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"campaignservice/internal/service"
)

// ExecutionHandler exposes campaign execution triggers and management
type ExecutionHandler struct {
	executions *service.ExecutionService
}

// NewExecutionHandler creates an execution handler
func NewExecutionHandler(executions *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// ExecutionActionRequest is the body of an execution action
type ExecutionActionRequest struct {
	Action service.ExecutionAction `json:"action"`
}

// Trigger handles POST /campaigns/{id}/executions
func (h *ExecutionHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	scope := requireScope(w, r)
	if scope == nil {
		return
	}

	result, err := h.executions.Trigger(r.Context(), mux.Vars(r)["id"], scope)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	if result.Enqueued {
		_ = WriteAccepted(w, result)
		return
	}
	_ = WriteOK(w, result)
}

// List handles GET /campaigns/{id}/executions?page=&per_page=
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	scope := requireScope(w, r)
	if scope == nil {
		return
	}

	query := r.URL.Query()
	page := 1
	if p, err := strconv.Atoi(query.Get("page")); err == nil && p > 0 {
		page = p
	}
	perPage := 20
	if pp, err := strconv.Atoi(query.Get("per_page")); err == nil && pp > 0 {
		perPage = pp
	}
	if perPage > 100 {
		perPage = 100
	}

	result, err := h.executions.List(r.Context(), mux.Vars(r)["id"], scope, page, perPage)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	_ = WriteOK(w, result)
}

// Manage handles POST /campaigns/{id}/executions/{executionId} with {"action": "retry|stop"}
func (h *ExecutionHandler) Manage(w http.ResponseWriter, r *http.Request) {
	scope := requireScope(w, r)
	if scope == nil {
		return
	}

	var req ExecutionActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	execution, err := h.executions.Manage(r.Context(), vars["id"], vars["executionId"], scope, req.Action)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	_ = WriteOK(w, execution)
}

// Recipients handles GET /campaigns/{id}/executions/{executionId}/steps/{stepId}/recipients
func (h *ExecutionHandler) Recipients(w http.ResponseWriter, r *http.Request) {
	scope := requireScope(w, r)
	if scope == nil {
		return
	}

	vars := mux.Vars(r)
	recipients, err := h.executions.StepRecipients(r.Context(), vars["id"], vars["executionId"], vars["stepId"], scope)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	_ = WriteOK(w, map[string]interface{}{"recipients": recipients})
}
