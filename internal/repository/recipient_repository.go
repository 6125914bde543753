package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"taxdesk/internal/models"
)

const recipientColumns = `id, campaign_id, email, unsub_token, status, error, variables, sent_at, created_at, updated_at`

type recipientRepository struct {
	db *sql.DB
}

// NewRecipientRepository creates a new recipient queue repository
func NewRecipientRepository(db *sql.DB) RecipientRepository {
	return &recipientRepository{db: db}
}

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	recipient := &models.Recipient{}
	err := row.Scan(
		&recipient.ID,
		&recipient.CampaignID,
		&recipient.Email,
		&recipient.UnsubToken,
		&recipient.Status,
		&recipient.Error,
		&recipient.Variables,
		&recipient.SentAt,
		&recipient.CreatedAt,
		&recipient.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return recipient, nil
}

func scanRecipients(rows *sql.Rows) ([]*models.Recipient, error) {
	defer rows.Close()

	recipients := []*models.Recipient{}
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipients: %w", err)
	}
	return recipients, nil
}

// CreateBatch inserts recipients, joining the caller's transaction when present
func (r *recipientRepository) CreateBatch(ctx context.Context, recipients []*models.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}

	for _, recipient := range recipients {
		recipient.Email = models.NormalizeEmail(recipient.Email)
		if recipient.Status == "" {
			recipient.Status = models.RecipientStatusQueued
		}
		if err := validate.Struct(recipient); err != nil {
			return fmt.Errorf("invalid recipient %q: %w", recipient.Email, err)
		}
	}

	return NewTransactor(r.db).WithTransaction(ctx, func(txCtx context.Context) error {
		query := `
			INSERT INTO campaign_recipients (campaign_id, email, unsub_token, status, variables)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, updated_at
		`

		db := conn(txCtx, r.db)
		for _, recipient := range recipients {
			err := db.QueryRowContext(
				txCtx,
				query,
				recipient.CampaignID,
				recipient.Email,
				recipient.UnsubToken,
				recipient.Status,
				recipient.Variables,
			).Scan(&recipient.ID, &recipient.CreatedAt, &recipient.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to create recipient: %w", err)
			}
		}
		return nil
	})
}

// GetByUnsubToken finds the recipient an unsubscribe link was issued to
func (r *recipientRepository) GetByUnsubToken(ctx context.Context, token string) (*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE unsub_token = $1 LIMIT 1`

	recipient, err := scanRecipient(conn(ctx, r.db).QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient by token: %w", err)
	}
	return recipient, nil
}

// ListByCampaign returns the recipient audit list of a campaign
func (r *recipientRepository) ListByCampaign(ctx context.Context, campaignID int64, filters RecipientFilters) ([]*models.Recipient, int, error) {
	where := " WHERE campaign_id = $1"
	args := []interface{}{campaignID}
	if filters.Status != nil {
		args = append(args, *filters.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := conn(ctx, r.db).QueryRowContext(ctx, "SELECT COUNT(*) FROM campaign_recipients"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count recipients: %w", err)
	}

	limit, offset := pageBounds(filters.Page, filters.PageSize)
	query := "SELECT " + recipientColumns + " FROM campaign_recipients" + where +
		fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list recipients: %w", err)
	}
	recipients, err := scanRecipients(rows)
	if err != nil {
		return nil, 0, err
	}
	return recipients, total, nil
}

// ReclaimStale resets rows stuck in sending since before olderThan. It returns
// the number of rows reset and the distinct campaigns they belong to.
func (r *recipientRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, []int64, error) {
	query := `
		UPDATE campaign_recipients
		SET status = 'queued', error = NULL, updated_at = NOW()
		WHERE status = 'sending' AND updated_at < $1
		RETURNING campaign_id
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, olderThan)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to reclaim stale recipients: %w", err)
	}
	defer rows.Close()

	var count int64
	seen := map[int64]bool{}
	campaignIDs := []int64{}
	for rows.Next() {
		var campaignID int64
		if err := rows.Scan(&campaignID); err != nil {
			return 0, nil, fmt.Errorf("failed to scan reclaimed recipient: %w", err)
		}
		count++
		if !seen[campaignID] {
			seen[campaignID] = true
			campaignIDs = append(campaignIDs, campaignID)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to iterate reclaimed recipients: %w", err)
	}

	return count, campaignIDs, nil
}

// ClaimBatch atomically flips up to limit queued rows of a campaign to
// sending. Rows locked by a concurrent claimer are skipped, never waited on.
func (r *recipientRepository) ClaimBatch(ctx context.Context, campaignID int64, limit int) ([]*models.Recipient, error) {
	if limit <= 0 {
		return []*models.Recipient{}, nil
	}

	query := `
		WITH claimable AS (
			SELECT id
			FROM campaign_recipients
			WHERE campaign_id = $1 AND status = 'queued'
			ORDER BY created_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE campaign_recipients AS r
		SET status = 'sending', error = NULL, updated_at = NOW()
		FROM claimable
		WHERE r.id = claimable.id
		RETURNING r.id, r.campaign_id, r.email, r.unsub_token, r.status, r.error, r.variables, r.sent_at, r.created_at, r.updated_at
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim recipients: %w", err)
	}
	recipients, err := scanRecipients(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sort.SliceStable(recipients, func(i, j int) bool {
		if recipients[i].CreatedAt.Equal(recipients[j].CreatedAt) {
			return recipients[i].ID < recipients[j].ID
		}
		return recipients[i].CreatedAt.Before(recipients[j].CreatedAt)
	})
	return recipients, nil
}

// SentEmails returns the normalized addresses already delivered for a campaign
func (r *recipientRepository) SentEmails(ctx context.Context, campaignID int64) ([]string, error) {
	query := `
		SELECT DISTINCT lower(email)
		FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'sent' AND email <> ''
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sent emails: %w", err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan sent email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sent emails: %w", err)
	}
	return emails, nil
}

// MarkSent records a delivered (or deduplicated) recipient. Only rows still
// claimed are updated; ErrNotFound means the claim was lost to the reclaimer.
func (r *recipientRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time, note *string) error {
	query := `
		UPDATE campaign_recipients
		SET status = 'sent', sent_at = $1, error = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'sending'
	`

	return expectOne(conn(ctx, r.db).ExecContext(ctx, query, sentAt, note, id))("failed to mark recipient sent")
}

// MarkFailed records a per-recipient failure
func (r *recipientRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE campaign_recipients
		SET status = 'failed', error = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'sending'
	`

	return expectOne(conn(ctx, r.db).ExecContext(ctx, query, reason, id))("failed to mark recipient failed")
}

// MarkUnsubscribed records a recipient skipped because of the global unsubscribe set
func (r *recipientRepository) MarkUnsubscribed(ctx context.Context, id int64) error {
	query := `
		UPDATE campaign_recipients
		SET status = 'unsubscribed', error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`

	return expectOne(conn(ctx, r.db).ExecContext(ctx, query, id))("failed to mark recipient unsubscribed")
}

// CountByStatus counts a campaign's recipients in any of the given statuses
func (r *recipientRepository) CountByStatus(ctx context.Context, campaignID int64, statuses ...models.RecipientStatus) (int, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	query := `SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 AND status = ANY($2::text[])`

	var count int
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, campaignID, pq.StringArray(values)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return count, nil
}

// ResetFailed re-queues every failed recipient of a campaign
func (r *recipientRepository) ResetFailed(ctx context.Context, campaignID int64) (int64, error) {
	query := `
		UPDATE campaign_recipients
		SET status = 'queued', error = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND status = 'failed'
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed recipients: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DistinctTargets returns the first row of every distinct address on a campaign
func (r *recipientRepository) DistinctTargets(ctx context.Context, campaignID int64) ([]*models.Recipient, error) {
	query := `
		SELECT DISTINCT ON (lower(email)) ` + recipientColumns + `
		FROM campaign_recipients
		WHERE campaign_id = $1 AND email <> ''
		ORDER BY lower(email), created_at ASC, id ASC
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load distinct recipients: %w", err)
	}
	return scanRecipients(rows)
}
