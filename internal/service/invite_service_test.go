package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxdesk/internal/lock"
	"taxdesk/internal/models"
)

func newTestInviteService(store *memStore) *InviteService {
	svc := NewInviteService(store.inviteRepo(), memTransactor{}, newKeyLocker(), 48*time.Hour)
	svc.now = store.Now
	return svc
}

func TestInviteService_IssueCreatesPendingInvite(t *testing.T) {
	store := newMemStore(testNow)
	svc := newTestInviteService(store)

	inv, err := svc.Issue(context.Background(), " A@Example.com ", 7)
	require.NoError(t, err)

	assert.Equal(t, "a@example.com", inv.Email)
	assert.Len(t, inv.Token, 64)
	assert.Equal(t, models.InviteStatusPending, inv.Status)
	assert.Equal(t, models.InviteTypeCampaignSignup, inv.Type)
	assert.Equal(t, int64(7), inv.Metadata.CampaignID)
	assert.Equal(t, testNow.Add(48*time.Hour), inv.ExpiresAt)
}

func TestInviteService_ReusesPendingInvite(t *testing.T) {
	store := newMemStore(testNow)
	svc := newTestInviteService(store)

	first, err := svc.Issue(context.Background(), "a@example.com", 1)
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), "A@EXAMPLE.COM", 2)
	require.NoError(t, err)

	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, 1, store.inviteCount())
}

func TestInviteService_ExpiredInviteIsReplaced(t *testing.T) {
	store := newMemStore(testNow)
	svc := newTestInviteService(store)

	first, err := svc.Issue(context.Background(), "a@example.com", 1)
	require.NoError(t, err)

	store.Advance(49 * time.Hour)
	second, err := svc.Issue(context.Background(), "a@example.com", 1)
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, 2, store.inviteCount())
}

func TestInviteService_ConcurrentIssueIsIdempotent(t *testing.T) {
	store := newMemStore(testNow)
	svc := newTestInviteService(store)

	const workers = 20
	tokens := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := svc.Issue(context.Background(), "a@example.com", int64(i))
			if assert.NoError(t, err) {
				tokens[i] = inv.Token
			}
		}(i)
	}
	wg.Wait()

	for _, tok := range tokens {
		assert.Equal(t, tokens[0], tok)
	}
	assert.Equal(t, 1, store.inviteCount())
}

func TestInviteService_RejectsEmptyEmail(t *testing.T) {
	svc := newTestInviteService(newMemStore(testNow))
	_, err := svc.Issue(context.Background(), "   ", 1)
	var inviteErr *InviteError
	assert.ErrorAs(t, err, &inviteErr)
}

func TestInviteService_LockTimeoutIsPerRecipient(t *testing.T) {
	store := newMemStore(testNow)
	svc := NewInviteService(store.inviteRepo(), memTransactor{}, timeoutLocker{}, time.Hour)

	_, err := svc.Issue(context.Background(), "a@example.com", 1)
	var inviteErr *InviteError
	require.ErrorAs(t, err, &inviteErr)
	assert.Equal(t, "a@example.com", inviteErr.Email)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Zero(t, store.inviteCount())
}
