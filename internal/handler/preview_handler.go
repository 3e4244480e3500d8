package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"campaignservice/internal/models"
	"campaignservice/internal/service"
)

// PreviewHandler handles HTTP requests for template previews
type PreviewHandler struct {
	campaignService *service.CampaignService
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(campaignService *service.CampaignService) *PreviewHandler {
	return &PreviewHandler{
		campaignService: campaignService,
	}
}

// PreviewRequest is the user a step template is rendered against
type PreviewRequest struct {
	User *models.User `json:"user"`
}

// Preview handles POST /campaigns/{id}/steps/{stepId}/preview
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	scope := requireScope(w, r)
	if scope == nil {
		return
	}

	var req PreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.User == nil {
		WriteValidationError(w, "user is required")
		return
	}

	vars := mux.Vars(r)
	result, err := h.campaignService.PreviewStep(r.Context(), vars["id"], vars["stepId"], scope, req.User)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	_ = WriteOK(w, result)
}
