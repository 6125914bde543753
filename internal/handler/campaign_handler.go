package handler

import (
	"context"
	"net/http"

	"taxdesk/internal/models"
	"taxdesk/internal/repository"
	"taxdesk/internal/service"
)

// CampaignManager is the campaign administration surface the API exposes
type CampaignManager interface {
	CreateCampaign(ctx context.Context, req *service.CreateCampaignRequest) (*models.Campaign, error)
	GetCampaignWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error)
	ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *service.PaginationInfo, error)
	ListRecipients(ctx context.Context, campaignID int64, filters repository.RecipientFilters) ([]*models.Recipient, *service.PaginationInfo, error)
	AddRecipients(ctx context.Context, campaignID int64, req *service.AddRecipientsRequest) (*service.AddRecipientsResult, error)
	LaunchCampaign(ctx context.Context, campaignID int64, req *service.LaunchCampaignRequest) (*models.Campaign, error)
	RetryFailed(ctx context.Context, campaignID int64) (*service.RetryResult, error)
	ResendAsCopy(ctx context.Context, campaignID int64) (*service.ResendResult, error)
	PreviewMessage(ctx context.Context, campaignID int64, req *service.PreviewMessageRequest) (*service.PreviewMessageResult, error)
}

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService CampaignManager
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService CampaignManager) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService}
}

// Create handles POST /campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, campaign)
}

// List handles GET /campaigns
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	filters := repository.CampaignFilters{Page: page, PageSize: perPage}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := models.ParseCampaignStatus(raw)
		if !ok {
			WriteValidationError(w, "invalid status: must be one of draft, scheduled, sending, sent, failed")
			return
		}
		filters.Status = &status
	}

	campaigns, info, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListCampaignsResponse{Campaigns: campaigns, Pagination: info})
}

// GetByID handles GET /campaigns/{id}
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaignWithStats(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// AddRecipients handles POST /campaigns/{id}/recipients
func (h *CampaignHandler) AddRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req service.AddRecipientsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.campaignService.AddRecipients(r.Context(), id, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, result)
}

// ListRecipients handles GET /campaigns/{id}/recipients
func (h *CampaignHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	page, perPage := pagination(r)
	filters := repository.RecipientFilters{Page: page, PageSize: perPage}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := models.ParseRecipientStatus(raw)
		if !ok {
			WriteValidationError(w, "invalid status: must be one of queued, sending, sent, failed, unsubscribed")
			return
		}
		filters.Status = &status
	}

	recipients, info, err := h.campaignService.ListRecipients(r.Context(), id, filters)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, ListRecipientsResponse{Recipients: recipients, Pagination: info})
}

// Launch handles POST /campaigns/{id}/launch. An empty body launches now.
func (h *CampaignHandler) Launch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req service.LaunchCampaignRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.LaunchCampaign(r.Context(), id, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, campaign)
}

// Retry handles POST /campaigns/{id}/retry
func (h *CampaignHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.campaignService.RetryFailed(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, result)
}

// Resend handles POST /campaigns/{id}/resend
func (h *CampaignHandler) Resend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	result, err := h.campaignService.ResendAsCopy(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, result)
}

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.Campaign      `json:"campaigns"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// ListRecipientsResponse is the recipient audit page
type ListRecipientsResponse struct {
	Recipients []*models.Recipient     `json:"recipients"`
	Pagination *service.PaginationInfo `json:"pagination"`
}
