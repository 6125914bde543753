package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"taxdesk/internal/models"
)

const campaignColumns = `id, name, subject, html_body, text_body, status, scheduled_at, sent_at, scheduler_name, created_at, updated_at`

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	err := row.Scan(
		&campaign.ID,
		&campaign.Name,
		&campaign.Subject,
		&campaign.HTMLBody,
		&campaign.TextBody,
		&campaign.Status,
		&campaign.ScheduledAt,
		&campaign.SentAt,
		&campaign.SchedulerName,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if err := validate.Struct(campaign); err != nil {
		return fmt.Errorf("invalid campaign: %w", err)
	}

	query := `
		INSERT INTO campaigns (name, subject, html_body, text_body, status, scheduled_at, scheduler_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := conn(ctx, r.db).QueryRowContext(
		ctx,
		query,
		campaign.Name,
		campaign.Subject,
		campaign.HTMLBody,
		campaign.TextBody,
		campaign.Status,
		campaign.ScheduledAt,
		campaign.SchedulerName,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign, err := scanCampaign(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithStats retrieves a campaign with its recipient KPIs
func (r *campaignRepository) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	statsQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'queued') AS queued,
			COUNT(*) FILTER (WHERE status = 'sending') AS sending,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'unsubscribed') AS unsubscribed
		FROM campaign_recipients
		WHERE campaign_id = $1
	`

	stats := models.CampaignStats{}
	err = conn(ctx, r.db).QueryRowContext(ctx, statsQuery, id).Scan(
		&stats.Total,
		&stats.Queued,
		&stats.Sending,
		&stats.Sent,
		&stats.Failed,
		&stats.Unsubscribed,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return &models.CampaignWithStats{
		Campaign: *campaign,
		Stats:    stats,
	}, nil
}

// List retrieves campaigns with filters and pagination
func (r *campaignRepository) List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE 1=1")
	args := []interface{}{}

	if filters.Status != nil {
		args = append(args, *filters.Status)
		where.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}

	var totalCount int
	countQuery := "SELECT COUNT(*) FROM campaigns" + where.String()
	if err := conn(ctx, r.db).QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	limit, offset := pageBounds(filters.Page, filters.PageSize)
	query := "SELECT " + campaignColumns + " FROM campaigns" + where.String() +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate campaigns: %w", err)
	}

	return campaigns, totalCount, nil
}

// UpdateStatus updates campaign status
func (r *campaignRepository) UpdateStatus(ctx context.Context, id int64, status models.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	return expectOne(conn(ctx, r.db).ExecContext(ctx, query, status, id))("failed to update campaign status")
}

// Schedule moves a campaign to scheduled at the given time
func (r *campaignRepository) Schedule(ctx context.Context, id int64, at time.Time, schedulerName *string) error {
	query := `
		UPDATE campaigns
		SET status = 'scheduled', scheduled_at = $1, scheduler_name = COALESCE($2, scheduler_name), updated_at = NOW()
		WHERE id = $3
	`

	return expectOne(conn(ctx, r.db).ExecContext(ctx, query, at, schedulerName, id))("failed to schedule campaign")
}

// PromoteDue moves every scheduled campaign whose time has passed to sending
func (r *campaignRepository) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE campaigns
		SET status = 'sending', updated_at = NOW()
		WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to promote scheduled campaigns: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// NextSending picks the campaign to work on. With a campaign ID only that
// campaign is eligible; otherwise the least recently updated sending campaign
// not in exclude wins.
func (r *campaignRepository) NextSending(ctx context.Context, campaignID *int64, exclude []int64) (*models.Campaign, error) {
	if exclude == nil {
		exclude = []int64{}
	}

	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = 'sending'
			AND ($1::bigint IS NULL OR id = $1)
			AND NOT (id = ANY($2::bigint[]))
		ORDER BY updated_at ASC, id ASC
		LIMIT 1
	`

	campaign, err := scanCampaign(conn(ctx, r.db).QueryRowContext(ctx, query, campaignID, pq.Int64Array(exclude)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select sending campaign: %w", err)
	}
	return campaign, nil
}

// MarkSent closes a campaign that is still sending. ErrNotFound means the
// campaign moved on (retried, rescheduled) and stays open.
func (r *campaignRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE campaigns
		SET status = 'sent', sent_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'sending'
	`

	return expectOne(conn(ctx, r.db).ExecContext(ctx, query, at, id))("failed to mark campaign sent")
}

// Touch bumps updated_at so other sending campaigns get their turn
func (r *campaignRepository) Touch(ctx context.Context, id int64) error {
	query := `UPDATE campaigns SET updated_at = NOW() WHERE id = $1 AND status = 'sending'`

	return expectOne(conn(ctx, r.db).ExecContext(ctx, query, id))("failed to touch campaign")
}

// Reopen moves sent campaigns back to sending after their rows were reclaimed
func (r *campaignRepository) Reopen(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE campaigns
		SET status = 'sending', sent_at = NULL, updated_at = NOW()
		WHERE status = 'sent' AND id = ANY($1::bigint[])
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, pq.Int64Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to reopen campaigns: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// expectOne turns an Exec result into ErrNotFound when nothing matched
func expectOne(result sql.Result, err error) func(msg string) error {
	return func(msg string) error {
		if err != nil {
			return fmt.Errorf("%s: %w", msg, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	}
}

func pageBounds(page, pageSize int) (limit, offset int) {
	limit = pageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset = (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
