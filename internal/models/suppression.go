package models

import "time"

// SuppressionReason explains why an address is on the global unsubscribe set
type SuppressionReason string

const (
	SuppressionReasonUnsubscribe SuppressionReason = "unsubscribe"
	SuppressionReasonComplaint   SuppressionReason = "complaint"
	SuppressionReasonManual      SuppressionReason = "manual"
)

// Suppression is an entry of the global unsubscribe set
type Suppression struct {
	Email      string            `json:"email" db:"email"`
	Reason     SuppressionReason `json:"reason" db:"reason"`
	CampaignID *int64            `json:"campaign_id,omitempty" db:"campaign_id"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}
