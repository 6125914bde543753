package models

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// ParseCampaignStatus maps a raw string onto a known campaign status
func ParseCampaignStatus(raw string) (CampaignStatus, bool) {
	switch s := CampaignStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending, CampaignStatusSent, CampaignStatusFailed:
		return s, true
	}
	return "", false
}

// Campaign represents an email campaign. Subject, HTMLBody and TextBody are
// templates rendered per recipient at send time.
type Campaign struct {
	ID            int64          `json:"id" db:"id"`
	Name          string         `json:"name" db:"name" validate:"required,max=255"`
	Subject       string         `json:"subject" db:"subject" validate:"required"`
	HTMLBody      string         `json:"html_body" db:"html_body" validate:"required"`
	TextBody      string         `json:"text_body" db:"text_body"`
	Status        CampaignStatus `json:"status" db:"status" validate:"oneof=draft scheduled sending sent failed"`
	ScheduledAt   *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt        *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	SchedulerName *string        `json:"scheduler_name,omitempty" db:"scheduler_name"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// CampaignStats are the operator-facing KPIs of a campaign
type CampaignStats struct {
	Total        int `json:"total"`
	Queued       int `json:"queued"`
	Sending      int `json:"sending"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Unsubscribed int `json:"unsubscribed"`
}

// CampaignWithStats represents a campaign with its statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("campaign name is required")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(c.HTMLBody) == "" {
		return fmt.Errorf("html body is required")
	}
	return nil
}

// IsScheduled checks if campaign is scheduled for future
func (c *Campaign) IsScheduled(now time.Time) bool {
	return c.ScheduledAt != nil && c.ScheduledAt.After(now)
}

// CanLaunch reports whether the campaign may move to scheduled or sending
func (c *Campaign) CanLaunch() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// AcceptsRecipients reports whether recipients may still be queued on the campaign
func (c *Campaign) AcceptsRecipients() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled || c.Status == CampaignStatusSending
}
