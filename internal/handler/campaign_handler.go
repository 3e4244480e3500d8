package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"campaignservice/internal/service"
)

// CampaignHandler handles HTTP requests for campaign lifecycle operations
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// GetByID handles GET /campaigns/{id}
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	scope := requireScope(w, r)
	if scope == nil {
		return
	}

	campaign, err := h.campaignService.GetCampaign(r.Context(), mux.Vars(r)["id"], scope)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	_ = WriteOK(w, campaign)
}

// Manage handles POST /campaigns/{id}/actions with
// {"action": "start|stop|pause|resume|reschedule", "payload": {"startAt", "endAt"}}
func (h *CampaignHandler) Manage(w http.ResponseWriter, r *http.Request) {
	scope := requireScope(w, r)
	if scope == nil {
		return
	}

	var req service.ManageCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.Manage(r.Context(), mux.Vars(r)["id"], scope, &req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	_ = WriteOK(w, campaign)
}
