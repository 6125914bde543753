package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taxdesk/internal/models"
)

type inviteRepository struct {
	db *sql.DB
}

// NewInviteRepository creates a new invite repository
func NewInviteRepository(db *sql.DB) InviteRepository {
	return &inviteRepository{db: db}
}

// FindPending returns the newest pending, unexpired invite for an email
func (r *inviteRepository) FindPending(ctx context.Context, email string, now time.Time) (*models.Invite, error) {
	query := `
		SELECT id, email, token, status, expires_at, type, metadata, created_at
		FROM invites
		WHERE email = $1 AND status = 'pending' AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1
	`

	invite := &models.Invite{}
	err := conn(ctx, r.db).QueryRowContext(ctx, query, models.NormalizeEmail(email), now).Scan(
		&invite.ID,
		&invite.Email,
		&invite.Token,
		&invite.Status,
		&invite.ExpiresAt,
		&invite.Type,
		&invite.Metadata,
		&invite.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending invite: %w", err)
	}
	return invite, nil
}

// Create persists a new invite
func (r *inviteRepository) Create(ctx context.Context, invite *models.Invite) error {
	invite.Email = models.NormalizeEmail(invite.Email)
	if invite.Status == "" {
		invite.Status = models.InviteStatusPending
	}
	if err := validate.Struct(invite); err != nil {
		return fmt.Errorf("invalid invite: %w", err)
	}

	query := `
		INSERT INTO invites (email, token, status, expires_at, type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := conn(ctx, r.db).QueryRowContext(
		ctx,
		query,
		invite.Email,
		invite.Token,
		invite.Status,
		invite.ExpiresAt,
		invite.Type,
		invite.Metadata,
	).Scan(&invite.ID, &invite.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invite: %w", err)
	}
	return nil
}
