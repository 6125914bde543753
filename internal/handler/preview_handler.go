package handler

import (
	"net/http"

	"taxdesk/internal/service"
)

// PreviewHandler renders a campaign for one address without sending
type PreviewHandler struct {
	campaignService CampaignManager
}

// NewPreviewHandler creates a new PreviewHandler instance
func NewPreviewHandler(campaignService CampaignManager) *PreviewHandler {
	return &PreviewHandler{campaignService: campaignService}
}

// Preview handles POST /campaigns/{id}/preview. Unknown tokens are reported
// in the result's errors field with a 200.
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req service.PreviewMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.campaignService.PreviewMessage(r.Context(), id, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, result)
}
