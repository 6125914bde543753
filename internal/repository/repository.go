package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taxdesk/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error)
	List(ctx context.Context, filters CampaignFilters) ([]*models.Campaign, int, error)
	UpdateStatus(ctx context.Context, id int64, status models.CampaignStatus) error
	Schedule(ctx context.Context, id int64, at time.Time, schedulerName *string) error
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
	NextSending(ctx context.Context, campaignID *int64, exclude []int64) (*models.Campaign, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	Touch(ctx context.Context, id int64) error
	Reopen(ctx context.Context, ids []int64) (int64, error)
}

// CampaignFilters defines filters for listing campaigns
type CampaignFilters struct {
	Page     int
	PageSize int
	Status   *models.CampaignStatus
}

// RecipientRepository defines the recipient queue store operations
type RecipientRepository interface {
	CreateBatch(ctx context.Context, recipients []*models.Recipient) error
	GetByUnsubToken(ctx context.Context, token string) (*models.Recipient, error)
	ListByCampaign(ctx context.Context, campaignID int64, filters RecipientFilters) ([]*models.Recipient, int, error)
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, []int64, error)
	ClaimBatch(ctx context.Context, campaignID int64, limit int) ([]*models.Recipient, error)
	SentEmails(ctx context.Context, campaignID int64) ([]string, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time, note *string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	MarkUnsubscribed(ctx context.Context, id int64) error
	CountByStatus(ctx context.Context, campaignID int64, statuses ...models.RecipientStatus) (int, error)
	ResetFailed(ctx context.Context, campaignID int64) (int64, error)
	DistinctTargets(ctx context.Context, campaignID int64) ([]*models.Recipient, error)
}

// RecipientFilters defines filters for the recipient audit list
type RecipientFilters struct {
	Page     int
	PageSize int
	Status   *models.RecipientStatus
}

// SuppressionRepository is the global unsubscribe set
type SuppressionRepository interface {
	Suppressed(ctx context.Context, emails []string) (map[string]bool, error)
	Add(ctx context.Context, suppression *models.Suppression) error
}

// InviteRepository defines invite token data access. Both calls are meant to
// run inside one transaction guarded by a per-email lock.
type InviteRepository interface {
	FindPending(ctx context.Context, email string, now time.Time) (*models.Invite, error)
	Create(ctx context.Context, invite *models.Invite) error
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txContextKey struct{}

// Transactor runs a function inside a database transaction
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type sqlTransactor struct {
	db *sql.DB
}

// NewTransactor creates a Transactor backed by db
func NewTransactor(db *sql.DB) Transactor {
	return &sqlTransactor{db: db}
}

// WithTransaction runs fn with a context carrying the transaction. Repositories
// called with that context join the transaction. Nested calls reuse the outer one.
func (t *sqlTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TxFromContext returns the transaction carried by ctx, if any
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// conn returns the transaction in ctx or falls back to db
func conn(ctx context.Context, db *sql.DB) DB {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}
