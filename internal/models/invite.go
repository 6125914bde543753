package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// InviteStatus is the lifecycle state of an invite token
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusConsumed InviteStatus = "consumed"
	InviteStatusExpired  InviteStatus = "expired"
)

// InviteTypeCampaignSignup marks invites issued while rendering campaign mail
const InviteTypeCampaignSignup = "campaign_signup"

// Invite is a time-limited sign-in/sign-up credential for one email
type Invite struct {
	ID        int64          `json:"id" db:"id"`
	Email     string         `json:"email" db:"email" validate:"required,email"`
	Token     string         `json:"token" db:"token" validate:"required"`
	Status    InviteStatus   `json:"status" db:"status"`
	ExpiresAt time.Time      `json:"expires_at" db:"expires_at"`
	Type      string         `json:"type" db:"type"`
	Metadata  InviteMetadata `json:"metadata" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// IsUsable reports whether the invite can still be handed out
func (i *Invite) IsUsable(now time.Time) bool {
	return i.Status == InviteStatusPending && i.ExpiresAt.After(now)
}

// InviteMetadata carries the context an invite was issued in
type InviteMetadata struct {
	CampaignID  int64 `json:"campaign_id,omitempty"`
	RecipientID int64 `json:"recipient_id,omitempty"`
}

// Value implements driver.Valuer
func (m InviteMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *InviteMetadata) Scan(src interface{}) error {
	switch t := src.(type) {
	case nil:
		*m = InviteMetadata{}
		return nil
	case []byte:
		return json.Unmarshal(t, m)
	case string:
		return json.Unmarshal([]byte(t), m)
	default:
		return fmt.Errorf("unsupported invite metadata type %T", src)
	}
}
