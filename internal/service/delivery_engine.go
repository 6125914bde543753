package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"taxdesk/internal/models"
	"taxdesk/internal/render"
	"taxdesk/internal/repository"
)

// Run outcome messages
const (
	MsgNoCampaigns        = "no campaigns sending"
	MsgCampaignCompleted  = "campaign completed"
	MsgCampaignNotSending = "campaign not sending"
	MsgCampaignBusy       = "campaign in progress elsewhere"
	MsgMaxRuntime         = "max runtime reached"
)

// Recipient outcome labels used for metrics
const (
	OutcomeSent         = "sent"
	OutcomeFailed       = "failed"
	OutcomeUnsubscribed = "unsubscribed"
	OutcomeDeduped      = "deduped"
)

const (
	reasonMissingEmail = "Missing email"
	reasonMissingToken = "Missing unsubscribe token"
	maxErrorRunes      = 500
)

// RunRecorder receives engine counters
type RunRecorder interface {
	RecipientProcessed(outcome string)
	StaleReclaimed(n int64)
	CampaignCompleted()
	RunFinished(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecipientProcessed(string) {}
func (noopRecorder) StaleReclaimed(int64)      {}
func (noopRecorder) CampaignCompleted()        {}
func (noopRecorder) RunFinished(time.Duration) {}

// InviteIssuer hands out invite tokens for an address
type InviteIssuer interface {
	Issue(ctx context.Context, email string, campaignID int64) (*models.Invite, error)
}

// EngineConfig tunes one delivery run
type EngineConfig struct {
	BatchSize  int
	MaxRuntime time.Duration
	ExitBuffer time.Duration
	StaleAfter time.Duration
	ReplyTo    string
}

// RunRequest optionally pins a run to one campaign
type RunRequest struct {
	CampaignID *int64 `json:"campaign_id"`
}

// RunResult summarizes one invocation
type RunResult struct {
	Message            string         `json:"message"`
	Reclaimed          int64          `json:"reclaimed"`
	Promoted           int64          `json:"promoted"`
	Batches            int            `json:"batches"`
	Outcomes           map[string]int `json:"outcomes"`
	CompletedCampaigns []int64        `json:"completed_campaigns"`
	Duration           time.Duration  `json:"duration"`
}

// Processed returns the number of recipients that reached an outcome
func (r *RunResult) Processed() int {
	total := 0
	for _, n := range r.Outcomes {
		total += n
	}
	return total
}

// DeliveryEngine drains sending campaigns in claimed batches. It keeps no
// state between runs; any number of engines may run against one database.
type DeliveryEngine struct {
	campaigns    repository.CampaignRepository
	recipients   repository.RecipientRepository
	suppressions repository.SuppressionRepository
	templates    *TemplateService
	invites      InviteIssuer
	sender       Sender
	recorder     RunRecorder
	cfg          EngineConfig
	logger       *log.Logger
	now          func() time.Time
}

// NewDeliveryEngine creates a new delivery engine
func NewDeliveryEngine(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	suppressions repository.SuppressionRepository,
	templates *TemplateService,
	invites InviteIssuer,
	sender Sender,
	recorder RunRecorder,
	cfg EngineConfig,
	logger *log.Logger,
) *DeliveryEngine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRuntime <= 0 {
		cfg.MaxRuntime = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DeliveryEngine{
		campaigns:    campaigns,
		recipients:   recipients,
		suppressions: suppressions,
		templates:    templates,
		invites:      invites,
		sender:       sender,
		recorder:     recorder,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// runState is the per-invocation bookkeeping
type runState struct {
	result   *RunResult
	guard    *DedupGuard
	busy     []int64
	compiled map[int64]*render.Compiled
	broken   map[int64]error
}

// Run reclaims stale claims, promotes due campaigns and then processes
// batches until there is no work left or the time budget is spent.
// Store failures abort the run and are returned.
func (e *DeliveryEngine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := e.now()
	budget := e.cfg.MaxRuntime - e.cfg.ExitBuffer
	if budget <= 0 {
		budget = e.cfg.MaxRuntime
	}
	deadline := start.Add(budget)

	st := &runState{
		result:   &RunResult{Outcomes: map[string]int{}, CompletedCampaigns: []int64{}},
		guard:    NewDedupGuard(e.recipients),
		compiled: map[int64]*render.Compiled{},
		broken:   map[int64]error{},
	}
	defer func() {
		st.result.Duration = e.now().Sub(start)
		e.recorder.RunFinished(st.result.Duration)
	}()

	if err := e.reclaim(ctx, st.result); err != nil {
		return nil, err
	}

	promoted, err := e.campaigns.PromoteDue(ctx, start)
	if err != nil {
		return nil, err
	}
	st.result.Promoted = promoted
	if promoted > 0 {
		e.logger.Printf("engine: promoted %d scheduled campaign(s)", promoted)
	}

	for {
		if !e.now().Before(deadline) {
			st.result.Message = MsgMaxRuntime
			e.logger.Printf("engine: stopping, runtime budget of %s spent", budget)
			break
		}

		campaign, err := e.campaigns.NextSending(ctx, req.CampaignID, st.busy)
		if errors.Is(err, repository.ErrNotFound) {
			st.result.Message = MsgNoCampaigns
			if req.CampaignID != nil {
				st.result.Message = MsgCampaignNotSending
			}
			break
		}
		if err != nil {
			return nil, err
		}

		done, err := e.cycle(ctx, st, campaign)
		if err != nil {
			return nil, err
		}
		if done != "" && req.CampaignID != nil {
			st.result.Message = done
			break
		}
	}

	e.logger.Printf("engine: run finished: %s (processed=%d batches=%d)", st.result.Message, st.result.Processed(), st.result.Batches)
	return st.result, nil
}

func (e *DeliveryEngine) reclaim(ctx context.Context, result *RunResult) error {
	cutoff := e.now().Add(-e.cfg.StaleAfter)
	n, campaignIDs, err := e.recipients.ReclaimStale(ctx, cutoff)
	if err != nil {
		return err
	}
	result.Reclaimed = n
	if n == 0 {
		return nil
	}

	e.recorder.StaleReclaimed(n)
	e.logger.Printf("engine: reclaimed %d stale recipient(s) across %d campaign(s)", n, len(campaignIDs))

	reopened, err := e.campaigns.Reopen(ctx, campaignIDs)
	if err != nil {
		return err
	}
	if reopened > 0 {
		e.logger.Printf("engine: reopened %d campaign(s) with reclaimed recipients", reopened)
	}
	return nil
}

// cycle claims and processes one batch of campaign. It returns a non-empty
// message when the campaign needs no further work in this run.
func (e *DeliveryEngine) cycle(ctx context.Context, st *runState, campaign *models.Campaign) (string, error) {
	if err := st.guard.Load(ctx, campaign.ID); err != nil {
		return "", err
	}

	batch, err := e.recipients.ClaimBatch(ctx, campaign.ID, e.cfg.BatchSize)
	if err != nil {
		return "", err
	}

	if len(batch) == 0 {
		inFlight, err := e.recipients.CountByStatus(ctx, campaign.ID, models.RecipientStatusQueued, models.RecipientStatusSending)
		if err != nil {
			return "", err
		}
		if inFlight > 0 {
			// rows are claimed by another worker; leave the campaign to it
			st.busy = append(st.busy, campaign.ID)
			e.logger.Printf("engine: campaign %d has %d recipient(s) in flight elsewhere, skipping", campaign.ID, inFlight)
			return MsgCampaignBusy, nil
		}
		return e.complete(ctx, st, campaign.ID)
	}

	st.result.Batches++
	e.logger.Printf("engine: campaign %d claimed %d recipient(s)", campaign.ID, len(batch))

	if err := e.processBatch(ctx, st, campaign, batch); err != nil {
		return "", err
	}

	queued, err := e.recipients.CountByStatus(ctx, campaign.ID, models.RecipientStatusQueued)
	if err != nil {
		return "", err
	}
	if queued == 0 {
		return e.complete(ctx, st, campaign.ID)
	}
	if err := e.campaigns.Touch(ctx, campaign.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	return "", nil
}

// complete closes campaignID. A campaign that left sending in the meantime,
// for example through a retry, is left as it is and not counted.
func (e *DeliveryEngine) complete(ctx context.Context, st *runState, campaignID int64) (string, error) {
	err := e.campaigns.MarkSent(ctx, campaignID, e.now())
	if errors.Is(err, repository.ErrNotFound) {
		e.logger.Printf("engine: campaign %d is no longer sending, not closing it", campaignID)
		return MsgCampaignNotSending, nil
	}
	if err != nil {
		return "", err
	}
	st.result.CompletedCampaigns = append(st.result.CompletedCampaigns, campaignID)
	e.recorder.CampaignCompleted()
	e.logger.Printf("engine: campaign %d completed", campaignID)
	return MsgCampaignCompleted, nil
}

func (e *DeliveryEngine) processBatch(ctx context.Context, st *runState, campaign *models.Campaign, batch []*models.Recipient) error {
	emails := make([]string, 0, len(batch))
	for _, r := range batch {
		if email := models.NormalizeEmail(r.Email); email != "" {
			emails = append(emails, email)
		}
	}
	suppressed, err := e.suppressions.Suppressed(ctx, emails)
	if err != nil {
		return err
	}

	compiled, tplErr := e.compile(st, campaign)

	for _, r := range batch {
		if err := e.processRecipient(ctx, st, campaign, compiled, tplErr, suppressed, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *DeliveryEngine) compile(st *runState, campaign *models.Campaign) (*render.Compiled, error) {
	if c, ok := st.compiled[campaign.ID]; ok {
		return c, nil
	}
	if err, ok := st.broken[campaign.ID]; ok {
		return nil, err
	}
	c, err := e.templates.Compile(campaign)
	if err != nil {
		e.logger.Printf("engine: campaign %d has an invalid template: %v", campaign.ID, err)
		st.broken[campaign.ID] = err
		return nil, err
	}
	st.compiled[campaign.ID] = c
	return c, nil
}

// processRecipient settles one claimed row. Only store failures are returned;
// everything else is recorded on the row.
func (e *DeliveryEngine) processRecipient(
	ctx context.Context,
	st *runState,
	campaign *models.Campaign,
	compiled *render.Compiled,
	tplErr error,
	suppressed map[string]bool,
	r *models.Recipient,
) error {
	email := models.NormalizeEmail(r.Email)

	switch {
	case email == "":
		return e.fail(ctx, st, r, reasonMissingEmail)
	case suppressed[email]:
		return e.record(ctx, st, r, OutcomeUnsubscribed, e.recipients.MarkUnsubscribed(ctx, r.ID))
	case st.guard.Seen(campaign.ID, email):
		note := DuplicateNote
		return e.record(ctx, st, r, OutcomeDeduped, e.recipients.MarkSent(ctx, r.ID, e.now(), &note))
	case !r.HasUnsubToken():
		return e.fail(ctx, st, r, reasonMissingToken)
	case tplErr != nil:
		return e.fail(ctx, st, r, tplErr.Error())
	}

	inviteURL := ""
	if e.templates.NeedsInvite(compiled) {
		invite, err := e.invites.Issue(ctx, email, campaign.ID)
		var inviteErr *InviteError
		if errors.As(err, &inviteErr) {
			return e.fail(ctx, st, r, "invite issuance failed: "+err.Error())
		}
		if err != nil {
			return fmt.Errorf("failed to issue invite for recipient %d: %w", r.ID, err)
		}
		inviteURL = e.templates.InviteURL(invite.Token)
	}

	rendered, err := e.templates.Render(compiled, campaign, r, inviteURL)
	if err != nil {
		return e.fail(ctx, st, r, err.Error())
	}

	links := e.templates.UnsubscribeLinks(*r.UnsubToken)
	msg := &Message{
		To:      email,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		ReplyTo: e.cfg.ReplyTo,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + links.OneClickURL + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
			"X-Campaign-ID":         fmt.Sprintf("%d", campaign.ID),
		},
	}

	res := e.sender.Send(ctx, msg)
	if res == nil || !res.Success || res.Error != nil {
		reason := "delivery failed"
		if res != nil && res.Error != nil {
			reason = res.Error.Error()
		}
		return e.fail(ctx, st, r, reason)
	}

	st.guard.Record(campaign.ID, email)
	return e.record(ctx, st, r, OutcomeSent, e.recipients.MarkSent(ctx, r.ID, e.now(), nil))
}

func (e *DeliveryEngine) fail(ctx context.Context, st *runState, r *models.Recipient, reason string) error {
	reason = truncateRunes(reason, maxErrorRunes)
	return e.record(ctx, st, r, OutcomeFailed, e.recipients.MarkFailed(ctx, r.ID, reason))
}

// record counts an outcome. A row that is no longer claimed was reclaimed
// under us; that is logged and skipped rather than aborting the run.
func (e *DeliveryEngine) record(_ context.Context, st *runState, r *models.Recipient, outcome string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		e.logger.Printf("engine: recipient %d lost its claim before %s was recorded", r.ID, outcome)
		return nil
	}
	if err != nil {
		return err
	}
	st.result.Outcomes[outcome]++
	e.recorder.RecipientProcessed(outcome)
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
