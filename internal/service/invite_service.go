package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"taxdesk/internal/lock"
	"taxdesk/internal/models"
	"taxdesk/internal/repository"
)

// EmailLocker serializes work on one key. The returned release func must be
// called once the guarded transaction has finished.
type EmailLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// InviteService lazily issues sign-up invites, at most one pending per email
type InviteService struct {
	invites repository.InviteRepository
	tx      repository.Transactor
	locker  EmailLocker
	ttl     time.Duration
	now     func() time.Time
}

// NewInviteService creates a new invite service
func NewInviteService(invites repository.InviteRepository, tx repository.Transactor, locker EmailLocker, ttl time.Duration) *InviteService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &InviteService{
		invites: invites,
		tx:      tx,
		locker:  locker,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Issue returns the pending invite for email, creating one if none is usable.
// Lookup and insert run in one transaction under a per-email lock. A missing
// address or a lock timeout is reported as *InviteError.
func (s *InviteService) Issue(ctx context.Context, email string, campaignID int64) (*models.Invite, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, &InviteError{Err: errors.New("email is required")}
	}

	var invite *models.Invite
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		unlock, err := s.locker.Lock(ctx, "invite:"+email)
		if errors.Is(err, lock.ErrLockTimeout) {
			return &InviteError{Email: email, Err: err}
		}
		if err != nil {
			return fmt.Errorf("failed to lock invite for %s: %w", email, err)
		}
		release = unlock

		now := s.now()
		existing, err := s.invites.FindPending(ctx, email, now)
		if err == nil {
			invite = existing
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		token, err := newInviteToken()
		if err != nil {
			return err
		}
		created := &models.Invite{
			Email:     email,
			Token:     token,
			Status:    models.InviteStatusPending,
			ExpiresAt: now.Add(s.ttl),
			Type:      models.InviteTypeCampaignSignup,
			Metadata:  models.InviteMetadata{CampaignID: campaignID},
			CreatedAt: now,
		}
		if err := s.invites.Create(ctx, created); err != nil {
			return err
		}
		invite = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invite, nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invite token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
