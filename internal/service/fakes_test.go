package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"taxdesk/internal/lock"
	"taxdesk/internal/models"
	"taxdesk/internal/repository"
)

// memStore is an in-memory queue store with the same claim semantics as the
// Postgres one: claims are atomic and never overlap.
type memStore struct {
	mu         sync.Mutex
	clock      time.Time
	seq        int64
	nextID     int64
	campaigns  map[int64]*models.Campaign
	recipients map[int64]*models.Recipient
	suppressed map[string]*models.Suppression
	invites    []*models.Invite
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		clock:      now,
		campaigns:  map[int64]*models.Campaign{},
		recipients: map[int64]*models.Recipient{},
		suppressed: map[string]*models.Suppression{},
	}
}

// Now is safe to hand to services as their clock
func (s *memStore) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *memStore) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(d)
}

// stamp returns a strictly increasing timestamp; callers hold mu
func (s *memStore) stamp() time.Time {
	s.seq++
	return s.clock.Add(time.Duration(s.seq))
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) campaignRepo() repository.CampaignRepository       { return memCampaigns{s} }
func (s *memStore) recipientRepo() repository.RecipientRepository     { return memRecipients{s} }
func (s *memStore) suppressionRepo() repository.SuppressionRepository { return memSuppressions{s} }
func (s *memStore) inviteRepo() repository.InviteRepository           { return memInvites{s} }

// seedCampaign inserts a campaign in the given status
func (s *memStore) seedCampaign(c models.Campaign) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	if c.Name == "" {
		c.Name = "Filing reminder"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.stamp()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.stamp()
	}
	stored := c
	s.campaigns[c.ID] = &stored
	out := c
	return &out
}

// seedRecipient inserts a recipient row as-is
func (s *memStore) seedRecipient(r models.Recipient) *models.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	if r.Status == "" {
		r.Status = models.RecipientStatusQueued
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.stamp()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.stamp()
	}
	stored := r
	s.recipients[r.ID] = &stored
	return cloneRecipient(&stored)
}

func (s *memStore) campaign(id int64) *models.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.campaigns[id]
	return &c
}

func (s *memStore) recipient(id int64) *models.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecipient(s.recipients[id])
}

func (s *memStore) recipientsOf(campaignID int64) []*models.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Recipient
	for _, r := range s.sortedRecipients() {
		if r.CampaignID == campaignID {
			out = append(out, cloneRecipient(r))
		}
	}
	return out
}

func (s *memStore) inviteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invites)
}

func (s *memStore) sortedRecipients() []*models.Recipient {
	out := make([]*models.Recipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneRecipient(r *models.Recipient) *models.Recipient {
	c := *r
	if r.Variables != nil {
		c.Variables = models.Variables{}
		for k, v := range r.Variables {
			c.Variables[k] = v
		}
	}
	return &c
}

func ptr[T any](v T) *T { return &v }

type memCampaigns struct{ s *memStore }

func (m memCampaigns) Create(_ context.Context, c *models.Campaign) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c.ID = m.s.id()
	c.CreatedAt = m.s.stamp()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	m.s.campaigns[c.ID] = &stored
	return nil
}

func (m memCampaigns) GetByID(_ context.Context, id int64) (*models.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m memCampaigns) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := &models.CampaignWithStats{Campaign: *c}
	for _, r := range m.s.recipients {
		if r.CampaignID != id {
			continue
		}
		out.Stats.Total++
		switch r.Status {
		case models.RecipientStatusQueued:
			out.Stats.Queued++
		case models.RecipientStatusSending:
			out.Stats.Sending++
		case models.RecipientStatusSent:
			out.Stats.Sent++
		case models.RecipientStatusFailed:
			out.Stats.Failed++
		case models.RecipientStatusUnsubscribed:
			out.Stats.Unsubscribed++
		}
	}
	return out, nil
}

func (m memCampaigns) List(_ context.Context, f repository.CampaignFilters) ([]*models.Campaign, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var all []*models.Campaign
	for _, c := range m.s.campaigns {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out := *c
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return all, len(all), nil
}

func (m memCampaigns) update(id int64, fn func(c *models.Campaign) bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || !fn(c) {
		return repository.ErrNotFound
	}
	c.UpdatedAt = m.s.stamp()
	return nil
}

func (m memCampaigns) UpdateStatus(_ context.Context, id int64, status models.CampaignStatus) error {
	return m.update(id, func(c *models.Campaign) bool { c.Status = status; return true })
}

func (m memCampaigns) Schedule(_ context.Context, id int64, at time.Time, name *string) error {
	return m.update(id, func(c *models.Campaign) bool {
		c.Status = models.CampaignStatusScheduled
		c.ScheduledAt = &at
		if name != nil {
			c.SchedulerName = name
		}
		return true
	})
}

func (m memCampaigns) PromoteDue(_ context.Context, now time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, c := range m.s.campaigns {
		if c.Status == models.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			c.Status = models.CampaignStatusSending
			c.UpdatedAt = m.s.stamp()
			n++
		}
	}
	return n, nil
}

func (m memCampaigns) NextSending(_ context.Context, id *int64, exclude []int64) (*models.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	skip := map[int64]bool{}
	for _, e := range exclude {
		skip[e] = true
	}
	var best *models.Campaign
	for _, c := range m.s.campaigns {
		if c.Status != models.CampaignStatusSending || skip[c.ID] || (id != nil && c.ID != *id) {
			continue
		}
		if best == nil || c.UpdatedAt.Before(best.UpdatedAt) || (c.UpdatedAt.Equal(best.UpdatedAt) && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	out := *best
	return &out, nil
}

func (m memCampaigns) MarkSent(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(c *models.Campaign) bool {
		if c.Status != models.CampaignStatusSending {
			return false
		}
		c.Status = models.CampaignStatusSent
		c.SentAt = &at
		return true
	})
}

func (m memCampaigns) Touch(_ context.Context, id int64) error {
	return m.update(id, func(c *models.Campaign) bool { return c.Status == models.CampaignStatusSending })
}

func (m memCampaigns) Reopen(_ context.Context, ids []int64) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if c, ok := m.s.campaigns[id]; ok && c.Status == models.CampaignStatusSent {
			c.Status = models.CampaignStatusSending
			c.SentAt = nil
			c.UpdatedAt = m.s.stamp()
			n++
		}
	}
	return n, nil
}

type memRecipients struct{ s *memStore }

func (m memRecipients) CreateBatch(_ context.Context, recipients []*models.Recipient) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range recipients {
		r.ID = m.s.id()
		r.Email = models.NormalizeEmail(r.Email)
		if r.Status == "" {
			r.Status = models.RecipientStatusQueued
		}
		r.CreatedAt = m.s.stamp()
		r.UpdatedAt = r.CreatedAt
		m.s.recipients[r.ID] = cloneRecipient(r)
	}
	return nil
}

func (m memRecipients) GetByUnsubToken(_ context.Context, token string) (*models.Recipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range m.s.sortedRecipients() {
		if r.UnsubToken != nil && *r.UnsubToken == token {
			return cloneRecipient(r), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memRecipients) ListByCampaign(_ context.Context, campaignID int64, f repository.RecipientFilters) ([]*models.Recipient, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Recipient
	for _, r := range m.s.sortedRecipients() {
		if r.CampaignID == campaignID && (f.Status == nil || r.Status == *f.Status) {
			out = append(out, cloneRecipient(r))
		}
	}
	return out, len(out), nil
}

func (m memRecipients) ReclaimStale(_ context.Context, olderThan time.Time) (int64, []int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	seen := map[int64]bool{}
	var ids []int64
	for _, r := range m.s.sortedRecipients() {
		if r.Status == models.RecipientStatusSending && r.UpdatedAt.Before(olderThan) {
			r.Status = models.RecipientStatusQueued
			r.Error = nil
			r.UpdatedAt = m.s.stamp()
			n++
			if !seen[r.CampaignID] {
				seen[r.CampaignID] = true
				ids = append(ids, r.CampaignID)
			}
		}
	}
	return n, ids, nil
}

func (m memRecipients) ClaimBatch(_ context.Context, campaignID int64, limit int) ([]*models.Recipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	claimed := []*models.Recipient{}
	for _, r := range m.s.sortedRecipients() {
		if len(claimed) >= limit {
			break
		}
		if r.CampaignID == campaignID && r.Status == models.RecipientStatusQueued {
			r.Status = models.RecipientStatusSending
			r.Error = nil
			r.UpdatedAt = m.s.stamp()
			claimed = append(claimed, cloneRecipient(r))
		}
	}
	return claimed, nil
}

func (m memRecipients) SentEmails(_ context.Context, campaignID int64) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []string
	for _, r := range m.s.recipients {
		if r.CampaignID == campaignID && r.Status == models.RecipientStatusSent && r.Email != "" {
			out = append(out, strings.ToLower(r.Email))
		}
	}
	return out, nil
}

func (m memRecipients) settle(id int64, fn func(r *models.Recipient)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.recipients[id]
	if !ok || r.Status != models.RecipientStatusSending {
		return repository.ErrNotFound
	}
	fn(r)
	r.UpdatedAt = m.s.stamp()
	return nil
}

func (m memRecipients) MarkSent(_ context.Context, id int64, sentAt time.Time, note *string) error {
	return m.settle(id, func(r *models.Recipient) {
		r.Status = models.RecipientStatusSent
		r.SentAt = &sentAt
		r.Error = note
	})
}

func (m memRecipients) MarkFailed(_ context.Context, id int64, reason string) error {
	return m.settle(id, func(r *models.Recipient) {
		r.Status = models.RecipientStatusFailed
		r.Error = &reason
	})
}

func (m memRecipients) MarkUnsubscribed(_ context.Context, id int64) error {
	return m.settle(id, func(r *models.Recipient) {
		r.Status = models.RecipientStatusUnsubscribed
		r.Error = nil
	})
}

func (m memRecipients) CountByStatus(_ context.Context, campaignID int64, statuses ...models.RecipientStatus) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for _, r := range m.s.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		for _, st := range statuses {
			if r.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m memRecipients) ResetFailed(_ context.Context, campaignID int64) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, r := range m.s.recipients {
		if r.CampaignID == campaignID && r.Status == models.RecipientStatusFailed {
			r.Status = models.RecipientStatusQueued
			r.Error = nil
			r.UpdatedAt = m.s.stamp()
			n++
		}
	}
	return n, nil
}

func (m memRecipients) DistinctTargets(_ context.Context, campaignID int64) ([]*models.Recipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	seen := map[string]bool{}
	var out []*models.Recipient
	for _, r := range m.s.sortedRecipients() {
		email := strings.ToLower(r.Email)
		if r.CampaignID != campaignID || email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, cloneRecipient(r))
	}
	return out, nil
}

type memSuppressions struct{ s *memStore }

func (m memSuppressions) Suppressed(_ context.Context, emails []string) (map[string]bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := map[string]bool{}
	for _, e := range emails {
		if _, ok := m.s.suppressed[models.NormalizeEmail(e)]; ok {
			out[models.NormalizeEmail(e)] = true
		}
	}
	return out, nil
}

func (m memSuppressions) Add(_ context.Context, sup *models.Suppression) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	email := models.NormalizeEmail(sup.Email)
	if _, ok := m.s.suppressed[email]; !ok {
		stored := *sup
		m.s.suppressed[email] = &stored
	}
	return nil
}

type memInvites struct{ s *memStore }

func (m memInvites) FindPending(_ context.Context, email string, now time.Time) (*models.Invite, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := len(m.s.invites) - 1; i >= 0; i-- {
		inv := m.s.invites[i]
		if inv.Email == email && inv.IsUsable(now) {
			out := *inv
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memInvites) Create(_ context.Context, inv *models.Invite) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	inv.ID = m.s.id()
	stored := *inv
	m.s.invites = append(m.s.invites, &stored)
	return nil
}

// memTransactor runs fn directly; the in-memory store has no rollback
type memTransactor struct{}

func (memTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// keyLocker is a per-key mutex, the in-process stand-in for the advisory lock
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: map[string]*sync.Mutex{}}
}

func (l *keyLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

// fakeSender records every message and fails addresses listed in failures
type fakeSender struct {
	mu       sync.Mutex
	sent     []*Message
	failures map[string]string
	onSend   func(msg *Message)
}

func newFakeSender() *fakeSender {
	return &fakeSender{failures: map[string]string{}}
}

func (f *fakeSender) Send(_ context.Context, msg *Message) *SendResult {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	reason, fail := f.failures[msg.To]
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	if fail {
		return &SendResult{Error: errors.New(reason)}
	}
	return &SendResult{Success: true, ProviderID: "fake"}
}

func (f *fakeSender) calls() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) countTo(email string) int {
	n := 0
	for _, m := range f.calls() {
		if m.To == email {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu   sync.Mutex
	runs []*int64
	err  error
}

func (p *fakePublisher) PublishRun(_ context.Context, campaignID *int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, campaignID)
	return p.err
}

type failingInvites struct{}

func (failingInvites) Issue(_ context.Context, email string, _ int64) (*models.Invite, error) {
	return nil, &InviteError{Email: email, Err: errors.New("lock timeout")}
}

// brokenInvites fails the way a lost database connection would
type brokenInvites struct{}

func (brokenInvites) Issue(context.Context, string, int64) (*models.Invite, error) {
	return nil, errors.New("connection reset by peer")
}

// timeoutLocker never grants a lock
type timeoutLocker struct{}

func (timeoutLocker) Lock(_ context.Context, key string) (func(), error) {
	return nil, fmt.Errorf("%w: %s", lock.ErrLockTimeout, key)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
