package handler

import (
	"context"
	"time"

	"taxdesk/internal/models"
	"taxdesk/internal/repository"
	"taxdesk/internal/service"
)

// mockCampaignManager mocks CampaignManager
type mockCampaignManager struct {
	CreateFunc  func(ctx context.Context, req *service.CreateCampaignRequest) (*models.Campaign, error)
	GetFunc     func(ctx context.Context, id int64) (*models.CampaignWithStats, error)
	ListFunc    func(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *service.PaginationInfo, error)
	RecipsFunc  func(ctx context.Context, id int64, filters repository.RecipientFilters) ([]*models.Recipient, *service.PaginationInfo, error)
	AddFunc     func(ctx context.Context, id int64, req *service.AddRecipientsRequest) (*service.AddRecipientsResult, error)
	LaunchFunc  func(ctx context.Context, id int64, req *service.LaunchCampaignRequest) (*models.Campaign, error)
	RetryFunc   func(ctx context.Context, id int64) (*service.RetryResult, error)
	ResendFunc  func(ctx context.Context, id int64) (*service.ResendResult, error)
	PreviewFunc func(ctx context.Context, id int64, req *service.PreviewMessageRequest) (*service.PreviewMessageResult, error)

	Calls map[string]int
}

func newMockCampaignManager() *mockCampaignManager {
	return &mockCampaignManager{Calls: make(map[string]int)}
}

func testCampaign(id int64, status models.CampaignStatus) *models.Campaign {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &models.Campaign{
		ID:        id,
		Name:      "March newsletter",
		Subject:   "Hello {{first_name}}",
		HTMLBody:  "<p>Hi {{first_name}}</p>",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *mockCampaignManager) CreateCampaign(ctx context.Context, req *service.CreateCampaignRequest) (*models.Campaign, error) {
	m.Calls["CreateCampaign"]++
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	c := testCampaign(1, models.CampaignStatusDraft)
	c.Name = req.Name
	return c, nil
}

func (m *mockCampaignManager) GetCampaignWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	m.Calls["GetCampaignWithStats"]++
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return &models.CampaignWithStats{Campaign: *testCampaign(id, models.CampaignStatusSending)}, nil
}

func (m *mockCampaignManager) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *service.PaginationInfo, error) {
	m.Calls["ListCampaigns"]++
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filters)
	}
	return []*models.Campaign{testCampaign(1, models.CampaignStatusDraft)},
		&service.PaginationInfo{Page: filters.Page, PageSize: filters.PageSize, TotalCount: 1, TotalPages: 1}, nil
}

func (m *mockCampaignManager) ListRecipients(ctx context.Context, id int64, filters repository.RecipientFilters) ([]*models.Recipient, *service.PaginationInfo, error) {
	m.Calls["ListRecipients"]++
	if m.RecipsFunc != nil {
		return m.RecipsFunc(ctx, id, filters)
	}
	return nil, &service.PaginationInfo{Page: filters.Page, PageSize: filters.PageSize}, nil
}

func (m *mockCampaignManager) AddRecipients(ctx context.Context, id int64, req *service.AddRecipientsRequest) (*service.AddRecipientsResult, error) {
	m.Calls["AddRecipients"]++
	if m.AddFunc != nil {
		return m.AddFunc(ctx, id, req)
	}
	return &service.AddRecipientsResult{CampaignID: id, Queued: len(req.Recipients)}, nil
}

func (m *mockCampaignManager) LaunchCampaign(ctx context.Context, id int64, req *service.LaunchCampaignRequest) (*models.Campaign, error) {
	m.Calls["LaunchCampaign"]++
	if m.LaunchFunc != nil {
		return m.LaunchFunc(ctx, id, req)
	}
	return testCampaign(id, models.CampaignStatusSending), nil
}

func (m *mockCampaignManager) RetryFailed(ctx context.Context, id int64) (*service.RetryResult, error) {
	m.Calls["RetryFailed"]++
	if m.RetryFunc != nil {
		return m.RetryFunc(ctx, id)
	}
	return &service.RetryResult{CampaignID: id}, nil
}

func (m *mockCampaignManager) ResendAsCopy(ctx context.Context, id int64) (*service.ResendResult, error) {
	m.Calls["ResendAsCopy"]++
	if m.ResendFunc != nil {
		return m.ResendFunc(ctx, id)
	}
	return &service.ResendResult{SourceCampaignID: id, Campaign: testCampaign(id+1, models.CampaignStatusDraft)}, nil
}

func (m *mockCampaignManager) PreviewMessage(ctx context.Context, id int64, req *service.PreviewMessageRequest) (*service.PreviewMessageResult, error) {
	m.Calls["PreviewMessage"]++
	if m.PreviewFunc != nil {
		return m.PreviewFunc(ctx, id, req)
	}
	return &service.PreviewMessageResult{Subject: "Hello " + req.Email}, nil
}

// mockUnsubscriber mocks Unsubscriber
type mockUnsubscriber struct {
	suppressed map[string]bool
	tokens     map[string]string
}

func (m *mockUnsubscriber) resolve(token string) (string, error) {
	email, ok := m.tokens[token]
	if !ok {
		return "", &service.NotFoundError{Resource: "unsubscribe token"}
	}
	return email, nil
}

func (m *mockUnsubscriber) Lookup(ctx context.Context, token string) (*service.UnsubscribeResult, error) {
	email, err := m.resolve(token)
	if err != nil {
		return nil, err
	}
	return &service.UnsubscribeResult{Email: email, CampaignID: 7, Unsubscribed: m.suppressed[email]}, nil
}

func (m *mockUnsubscriber) Unsubscribe(ctx context.Context, token string) (*service.UnsubscribeResult, error) {
	email, err := m.resolve(token)
	if err != nil {
		return nil, err
	}
	m.suppressed[email] = true
	return &service.UnsubscribeResult{Email: email, CampaignID: 7, Unsubscribed: true}, nil
}

type stubHealth struct {
	status string
	err    error
}

func (s stubHealth) CheckHealth(ctx context.Context) (*service.HealthStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.HealthStatus{Status: s.status, Services: map[string]string{"database": "connected"}}, nil
}
