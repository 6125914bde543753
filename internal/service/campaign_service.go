package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"taxdesk/internal/models"
	"taxdesk/internal/render"
	"taxdesk/internal/repository"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RunPublisher requests an on-demand delivery run
type RunPublisher interface {
	PublishRun(ctx context.Context, campaignID *int64) error
}

// CampaignService handles campaign business logic
type CampaignService struct {
	campaignRepo    repository.CampaignRepository
	recipientRepo   repository.RecipientRepository
	suppressionRepo repository.SuppressionRepository
	templateSvc     *TemplateService
	publisher       RunPublisher
	tx              repository.Transactor
	logger          *log.Logger
	now             func() time.Time
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	suppressionRepo repository.SuppressionRepository,
	templateSvc *TemplateService,
	publisher RunPublisher,
	tx repository.Transactor,
	logger *log.Logger,
) *CampaignService {
	if logger == nil {
		logger = log.Default()
	}
	return &CampaignService{
		campaignRepo:    campaignRepo,
		recipientRepo:   recipientRepo,
		suppressionRepo: suppressionRepo,
		templateSvc:     templateSvc,
		publisher:       publisher,
		tx:              tx,
		logger:          logger,
		now:             time.Now,
	}
}

// CreateCampaign creates a new campaign
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	if err := validate.Struct(req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.templateSvc.ValidateTemplate(req.Subject, req.HTMLBody, req.TextBody); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	now := s.now()
	campaign := &models.Campaign{
		Name:          strings.TrimSpace(req.Name),
		Subject:       req.Subject,
		HTMLBody:      req.HTMLBody,
		TextBody:      req.TextBody,
		Status:        models.CampaignStatusDraft,
		ScheduledAt:   req.ScheduledAt,
		SchedulerName: req.SchedulerName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if campaign.ScheduledAt != nil {
		campaign.Status = models.CampaignStatusScheduled
	}

	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	return campaign, nil
}

// GetCampaign retrieves a campaign by ID
func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(id, err)
	}
	return campaign, nil
}

// GetCampaignWithStats retrieves a campaign with statistics
func (s *CampaignService) GetCampaignWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	campaign, err := s.campaignRepo.GetWithStats(ctx, id)
	if err != nil {
		return nil, s.lookupError(id, err)
	}
	return campaign, nil
}

// ListCampaigns lists campaigns with filters
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, newPagination(filters.Page, filters.PageSize, total), nil
}

// ListRecipients returns the recipient audit list of a campaign
func (s *CampaignService) ListRecipients(ctx context.Context, campaignID int64, filters repository.RecipientFilters) ([]*models.Recipient, *PaginationInfo, error) {
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		return nil, nil, err
	}
	recipients, total, err := s.recipientRepo.ListByCampaign(ctx, campaignID, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, newPagination(filters.Page, filters.PageSize, total), nil
}

// AddRecipients queues addresses on a campaign with fresh unsubscribe tokens
func (s *CampaignService) AddRecipients(ctx context.Context, campaignID int64, req *AddRecipientsRequest) (*AddRecipientsResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.AcceptsRecipients() {
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("campaign cannot accept recipients: status is %s", campaign.Status),
		}
	}

	recipients := make([]*models.Recipient, 0, len(req.Recipients))
	for _, in := range req.Recipients {
		token := uuid.NewString()
		recipients = append(recipients, &models.Recipient{
			CampaignID: campaign.ID,
			Email:      models.NormalizeEmail(in.Email),
			UnsubToken: &token,
			Status:     models.RecipientStatusQueued,
			Variables:  in.Variables,
		})
	}

	if err := s.recipientRepo.CreateBatch(ctx, recipients); err != nil {
		return nil, fmt.Errorf("failed to add recipients: %w", err)
	}

	return &AddRecipientsResult{CampaignID: campaign.ID, Queued: len(recipients)}, nil
}

// LaunchCampaign starts a campaign now or schedules it for later
func (s *CampaignService) LaunchCampaign(ctx context.Context, campaignID int64, req *LaunchCampaignRequest) (*models.Campaign, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.CanLaunch() {
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("campaign cannot be launched: status is %s", campaign.Status),
		}
	}

	queued, err := s.recipientRepo.CountByStatus(ctx, campaign.ID, models.RecipientStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to count recipients: %w", err)
	}
	if queued == 0 {
		return nil, &BusinessLogicError{Message: "campaign has no queued recipients"}
	}

	now := s.now()
	if req != nil && req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		if err := s.campaignRepo.Schedule(ctx, campaign.ID, *req.ScheduledAt, req.SchedulerName); err != nil {
			return nil, fmt.Errorf("failed to schedule campaign: %w", err)
		}
	} else {
		if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusSending); err != nil {
			return nil, fmt.Errorf("failed to update campaign status: %w", err)
		}
		s.triggerRun(ctx, campaign.ID)
	}

	return s.GetCampaign(ctx, campaign.ID)
}

// RetryFailed re-queues the failed recipients of a campaign and schedules it
// to run immediately. It returns the number of recipients reset.
func (s *CampaignService) RetryFailed(ctx context.Context, campaignID int64) (*RetryResult, error) {
	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var reset int64
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		n, err := s.recipientRepo.ResetFailed(ctx, campaign.ID)
		if err != nil {
			return err
		}
		reset = n
		if n == 0 {
			return nil
		}
		return s.campaignRepo.Schedule(ctx, campaign.ID, s.now(), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retry campaign: %w", err)
	}

	if reset > 0 {
		s.logger.Printf("campaign %d: %d failed recipient(s) re-queued", campaign.ID, reset)
		s.triggerRun(ctx, campaign.ID)
	}
	return &RetryResult{CampaignID: campaign.ID, Requeued: reset}, nil
}

// ResendAsCopy creates a draft copy of a campaign addressed to the distinct,
// still-subscribed targets of the original. The original is untouched.
func (s *CampaignService) ResendAsCopy(ctx context.Context, campaignID int64) (*ResendResult, error) {
	original, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	result := &ResendResult{SourceCampaignID: original.ID}
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		copied := &models.Campaign{
			Name:      original.Name + " (resend)",
			Subject:   original.Subject,
			HTMLBody:  original.HTMLBody,
			TextBody:  original.TextBody,
			Status:    models.CampaignStatusDraft,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.campaignRepo.Create(ctx, copied); err != nil {
			return err
		}

		targets, err := s.recipientRepo.DistinctTargets(ctx, original.ID)
		if err != nil {
			return err
		}
		emails := make([]string, 0, len(targets))
		for _, t := range targets {
			emails = append(emails, models.NormalizeEmail(t.Email))
		}
		suppressed, err := s.suppressionRepo.Suppressed(ctx, emails)
		if err != nil {
			return err
		}

		seen := map[string]bool{}
		fresh := make([]*models.Recipient, 0, len(targets))
		for _, t := range targets {
			email := models.NormalizeEmail(t.Email)
			if email == "" || seen[email] {
				continue
			}
			seen[email] = true
			if suppressed[email] {
				result.Suppressed++
				continue
			}
			token := uuid.NewString()
			fresh = append(fresh, &models.Recipient{
				CampaignID: copied.ID,
				Email:      email,
				UnsubToken: &token,
				Status:     models.RecipientStatusQueued,
				Variables:  t.Variables,
			})
		}
		if err := s.recipientRepo.CreateBatch(ctx, fresh); err != nil {
			return err
		}

		result.Campaign = copied
		result.Queued = len(fresh)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resend campaign: %w", err)
	}
	return result, nil
}

// PreviewMessage renders a campaign for one address without sending it or
// issuing an invite
func (s *CampaignService) PreviewMessage(ctx context.Context, campaignID int64, req *PreviewMessageRequest) (*PreviewMessageResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	campaign, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	draft := *campaign
	if req.OverrideSubject != nil {
		draft.Subject = *req.OverrideSubject
	}
	if req.OverrideHTML != nil {
		draft.HTMLBody = *req.OverrideHTML
	}
	if req.OverrideText != nil {
		draft.TextBody = *req.OverrideText
	}

	compiled, err := s.templateSvc.Compile(&draft)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	token := "preview"
	recipient := &models.Recipient{
		CampaignID: campaign.ID,
		Email:      models.NormalizeEmail(req.Email),
		UnsubToken: &token,
		Variables:  req.Variables,
	}
	inviteURL := ""
	if s.templateSvc.NeedsInvite(compiled) {
		inviteURL = s.templateSvc.InviteURL("preview")
	}

	msg, err := s.templateSvc.Render(compiled, &draft, recipient, inviteURL)
	if err != nil {
		var gate *render.UnknownTokenError
		if errors.As(err, &gate) {
			return &PreviewMessageResult{Subject: draft.Subject, Errors: []string{err.Error()}}, nil
		}
		return nil, &ValidationError{Message: err.Error()}
	}

	return &PreviewMessageResult{
		Subject:      msg.Subject,
		HTML:         msg.HTML,
		Text:         msg.Text,
		Placeholders: compiledPlaceholders(&draft),
	}, nil
}

func (s *CampaignService) triggerRun(ctx context.Context, campaignID int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRun(ctx, &campaignID); err != nil {
		// the periodic run still picks the campaign up
		s.logger.Printf("Warning: failed to publish run trigger for campaign %d: %v", campaignID, err)
	}
}

func (s *CampaignService) lookupError(id int64, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &NotFoundError{Resource: "campaign", ID: id}
	}
	return fmt.Errorf("failed to get campaign: %w", err)
}

func compiledPlaceholders(c *models.Campaign) []string {
	seen := map[string]bool{}
	var out []string
	for _, src := range []string{c.Subject, c.HTMLBody, c.TextBody} {
		t, err := render.Parse(src)
		if err != nil {
			continue
		}
		for _, name := range t.Placeholders() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func newPagination(page, pageSize, total int) *PaginationInfo {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	return &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	Name          string     `json:"name" validate:"required,max=255"`
	Subject       string     `json:"subject" validate:"required"`
	HTMLBody      string     `json:"html_body" validate:"required"`
	TextBody      string     `json:"text_body"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	SchedulerName *string    `json:"scheduler_name,omitempty"`
}

// RecipientInput is one address to queue
type RecipientInput struct {
	Email     string            `json:"email" validate:"required,email"`
	Variables map[string]string `json:"variables,omitempty"`
}

// AddRecipientsRequest represents a request to queue recipients
type AddRecipientsRequest struct {
	Recipients []RecipientInput `json:"recipients" validate:"required,min=1,max=10000,dive"`
}

// AddRecipientsResult reports how many recipients were queued
type AddRecipientsResult struct {
	CampaignID int64 `json:"campaign_id"`
	Queued     int   `json:"queued"`
}

// LaunchCampaignRequest optionally defers a launch
type LaunchCampaignRequest struct {
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	SchedulerName *string    `json:"scheduler_name,omitempty"`
}

// RetryResult reports a retry
type RetryResult struct {
	CampaignID int64 `json:"campaign_id"`
	Requeued   int64 `json:"requeued"`
}

// ResendResult reports a resend-as-copy
type ResendResult struct {
	SourceCampaignID int64            `json:"source_campaign_id"`
	Campaign         *models.Campaign `json:"campaign"`
	Queued           int              `json:"queued"`
	Suppressed       int              `json:"suppressed"`
}

// PreviewMessageRequest represents a request to preview a message
type PreviewMessageRequest struct {
	Email           string            `json:"email" validate:"required,email"`
	Variables       map[string]string `json:"variables,omitempty"`
	OverrideSubject *string           `json:"override_subject,omitempty"`
	OverrideHTML    *string           `json:"override_html,omitempty"`
	OverrideText    *string           `json:"override_text,omitempty"`
}

// PreviewMessageResult represents the result of previewing a message
type PreviewMessageResult struct {
	Subject      string   `json:"subject"`
	HTML         string   `json:"html,omitempty"`
	Text         string   `json:"text,omitempty"`
	Placeholders []string `json:"placeholders,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
