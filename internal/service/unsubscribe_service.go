package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxdesk/internal/models"
	"taxdesk/internal/repository"
)

// UnsubscribeService adds addresses to the global unsubscribe set
type UnsubscribeService struct {
	recipients   repository.RecipientRepository
	suppressions repository.SuppressionRepository
	now          func() time.Time
}

// NewUnsubscribeService creates a new unsubscribe service
func NewUnsubscribeService(recipients repository.RecipientRepository, suppressions repository.SuppressionRepository) *UnsubscribeService {
	return &UnsubscribeService{
		recipients:   recipients,
		suppressions: suppressions,
		now:          time.Now,
	}
}

// UnsubscribeResult describes the address behind a token
type UnsubscribeResult struct {
	Email        string `json:"email"`
	CampaignID   int64  `json:"campaign_id"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// Lookup resolves a token without changing anything
func (s *UnsubscribeService) Lookup(ctx context.Context, token string) (*UnsubscribeResult, error) {
	recipient, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	suppressed, err := s.suppressions.Suppressed(ctx, []string{recipient.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to check suppression: %w", err)
	}
	return &UnsubscribeResult{
		Email:        recipient.Email,
		CampaignID:   recipient.CampaignID,
		Unsubscribed: suppressed[models.NormalizeEmail(recipient.Email)],
	}, nil
}

// Unsubscribe suppresses the address behind token. Repeating it is harmless.
func (s *UnsubscribeService) Unsubscribe(ctx context.Context, token string) (*UnsubscribeResult, error) {
	recipient, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	campaignID := recipient.CampaignID
	err = s.suppressions.Add(ctx, &models.Suppression{
		Email:      models.NormalizeEmail(recipient.Email),
		Reason:     models.SuppressionReasonUnsubscribe,
		CampaignID: &campaignID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unsubscribe: %w", err)
	}

	return &UnsubscribeResult{
		Email:        models.NormalizeEmail(recipient.Email),
		CampaignID:   recipient.CampaignID,
		Unsubscribed: true,
	}, nil
}

func (s *UnsubscribeService) resolve(ctx context.Context, token string) (*models.Recipient, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &ValidationError{Message: "token is required"}
	}
	recipient, err := s.recipients.GetByUnsubToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "unsubscribe token", ID: 0}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve unsubscribe token: %w", err)
	}
	return recipient, nil
}
