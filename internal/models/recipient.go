package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecipientStatus represents valid recipient send states
type RecipientStatus string

const (
	RecipientStatusQueued       RecipientStatus = "queued"
	RecipientStatusSending      RecipientStatus = "sending"
	RecipientStatusSent         RecipientStatus = "sent"
	RecipientStatusFailed       RecipientStatus = "failed"
	RecipientStatusUnsubscribed RecipientStatus = "unsubscribed"
)

// ParseRecipientStatus maps a raw string onto a known recipient status
func ParseRecipientStatus(raw string) (RecipientStatus, bool) {
	switch s := RecipientStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case RecipientStatusQueued, RecipientStatusSending, RecipientStatusSent, RecipientStatusFailed, RecipientStatusUnsubscribed:
		return s, true
	}
	return "", false
}

// IsTerminal reports whether the status ends normal processing
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientStatusSent || s == RecipientStatusFailed || s == RecipientStatusUnsubscribed
}

// Recipient is one row of the per-campaign send queue
type Recipient struct {
	ID         int64           `json:"id" db:"id"`
	CampaignID int64           `json:"campaign_id" db:"campaign_id" validate:"required"`
	Email      string          `json:"email" db:"email" validate:"omitempty,email"`
	UnsubToken *string         `json:"unsub_token,omitempty" db:"unsub_token"`
	Status     RecipientStatus `json:"status" db:"status"`
	Error      *string         `json:"error,omitempty" db:"error"`
	Variables  Variables       `json:"variables,omitempty" db:"variables"`
	SentAt     *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// HasUnsubToken reports whether the recipient carries a usable unsubscribe token
func (r *Recipient) HasUnsubToken() bool {
	return r.UnsubToken != nil && strings.TrimSpace(*r.UnsubToken) != ""
}

// NormalizeEmail lowercases and trims an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Variables holds per-recipient template values, persisted as a JSON object
type Variables map[string]string

// Value implements driver.Valuer
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(map[string]string(v))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variables: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner
func (v *Variables) Scan(src interface{}) error {
	var raw []byte
	switch t := src.(type) {
	case nil:
		*v = Variables{}
		return nil
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return fmt.Errorf("unsupported variables type %T", src)
	}

	out := Variables{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}
	*v = out
	return nil
}
