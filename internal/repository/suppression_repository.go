package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"taxdesk/internal/models"
)

type suppressionRepository struct {
	db *sql.DB
}

// NewSuppressionRepository creates the global unsubscribe set repository
func NewSuppressionRepository(db *sql.DB) SuppressionRepository {
	return &suppressionRepository{db: db}
}

// Suppressed returns which of the given emails are on the unsubscribe set.
// Input addresses are normalized; the result is keyed by normalized address.
func (r *suppressionRepository) Suppressed(ctx context.Context, emails []string) (map[string]bool, error) {
	result := make(map[string]bool, len(emails))
	if len(emails) == 0 {
		return result, nil
	}

	normalized := make([]string, 0, len(emails))
	for _, email := range emails {
		if e := models.NormalizeEmail(email); e != "" {
			normalized = append(normalized, e)
		}
	}

	query := `SELECT email FROM email_suppressions WHERE email = ANY($1::text[])`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, pq.StringArray(normalized))
	if err != nil {
		return nil, fmt.Errorf("failed to look up suppressions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan suppression: %w", err)
		}
		result[email] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suppressions: %w", err)
	}

	return result, nil
}

// Add puts an address on the unsubscribe set; repeated adds are no-ops
func (r *suppressionRepository) Add(ctx context.Context, suppression *models.Suppression) error {
	suppression.Email = models.NormalizeEmail(suppression.Email)
	if suppression.Email == "" {
		return fmt.Errorf("suppression email is required")
	}
	if suppression.Reason == "" {
		suppression.Reason = models.SuppressionReasonUnsubscribe
	}

	query := `
		INSERT INTO email_suppressions (email, reason, campaign_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, suppression.Email, suppression.Reason, suppression.CampaignID); err != nil {
		return fmt.Errorf("failed to add suppression: %w", err)
	}
	return nil
}
