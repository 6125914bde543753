package service

import (
	"context"
	"fmt"

	"taxdesk/internal/models"
	"taxdesk/internal/repository"
)

// DuplicateNote is recorded on rows collapsed onto an earlier delivery
const DuplicateNote = "duplicate address: already delivered for this campaign"

// DedupGuard tracks which addresses already got a campaign. It lives for one
// run and is not safe for concurrent use.
type DedupGuard struct {
	recipients repository.RecipientRepository
	delivered  map[int64]map[string]bool
}

// NewDedupGuard creates an empty guard
func NewDedupGuard(recipients repository.RecipientRepository) *DedupGuard {
	return &DedupGuard{
		recipients: recipients,
		delivered:  map[int64]map[string]bool{},
	}
}

// Load reads the already-sent set of a campaign the first time it is seen
func (g *DedupGuard) Load(ctx context.Context, campaignID int64) error {
	if _, ok := g.delivered[campaignID]; ok {
		return nil
	}
	emails, err := g.recipients.SentEmails(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to load delivered addresses: %w", err)
	}
	set := make(map[string]bool, len(emails))
	for _, e := range emails {
		set[models.NormalizeEmail(e)] = true
	}
	g.delivered[campaignID] = set
	return nil
}

// Seen reports whether email was already delivered for the campaign
func (g *DedupGuard) Seen(campaignID int64, email string) bool {
	return g.delivered[campaignID][models.NormalizeEmail(email)]
}

// Record marks email as delivered for the campaign
func (g *DedupGuard) Record(campaignID int64, email string) {
	set, ok := g.delivered[campaignID]
	if !ok {
		set = map[string]bool{}
		g.delivered[campaignID] = set
	}
	set[models.NormalizeEmail(email)] = true
}
