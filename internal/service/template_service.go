package service

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"taxdesk/internal/models"
	"taxdesk/internal/render"
)

// InvitePlaceholder is the variable that makes the engine issue an invite
const InvitePlaceholder = "invite_url"

// TemplateSettings is the shared context every recipient render gets
type TemplateSettings struct {
	Company            render.Company
	UnsubscribeBaseURL string
	UnsubscribePageURL string
	InviteBaseURL      string
}

// TemplateService turns campaign templates into per-recipient messages
type TemplateService struct {
	settings TemplateSettings
	now      func() time.Time
}

// NewTemplateService creates a new template service
func NewTemplateService(settings TemplateSettings) *TemplateService {
	return &TemplateService{settings: settings, now: time.Now}
}

// Compile parses a campaign's subject and body templates
func (s *TemplateService) Compile(campaign *models.Campaign) (*render.Compiled, error) {
	return render.Compile(render.Source{
		Subject: campaign.Subject,
		HTML:    campaign.HTMLBody,
		Text:    campaign.TextBody,
	})
}

// ValidateTemplate checks that the templates parse
func (s *TemplateService) ValidateTemplate(subject, htmlBody, textBody string) error {
	_, err := render.Compile(render.Source{Subject: subject, HTML: htmlBody, Text: textBody})
	return err
}

// NeedsInvite reports whether rendering requires an issued invite link
func (s *TemplateService) NeedsInvite(compiled *render.Compiled) bool {
	return compiled.References(InvitePlaceholder)
}

// UnsubscribeLinks builds the one-click and page URLs for an unsubscribe token
func (s *TemplateService) UnsubscribeLinks(token string) render.FooterLinks {
	links := render.FooterLinks{
		OneClickURL: strings.TrimRight(s.settings.UnsubscribeBaseURL, "/") + "/" + url.PathEscape(token),
	}
	if s.settings.UnsubscribePageURL != "" {
		links.PageURL = withQuery(s.settings.UnsubscribePageURL, "token", token)
	}
	return links
}

// InviteURL builds the sign-up link for an invite token
func (s *TemplateService) InviteURL(token string) string {
	return withQuery(s.settings.InviteBaseURL, "token", token)
}

// Vars assembles the template variables for one recipient. Built-ins win over
// the recipient's own variables.
func (s *TemplateService) Vars(campaign *models.Campaign, recipient *models.Recipient, links render.FooterLinks, inviteURL string) render.Vars {
	vars := render.Vars{}
	for k, v := range recipient.Variables {
		vars[k] = v
	}

	vars["email"] = recipient.Email
	vars["unsubscribe_url"] = links.OneClickURL
	vars["unsubscribe_page_url"] = links.PageURL
	if links.PageURL == "" {
		vars["unsubscribe_page_url"] = links.OneClickURL
	}
	vars["company_name"] = s.settings.Company.Name
	vars["company_address"] = s.settings.Company.Address
	vars["company_url"] = s.settings.Company.URL
	vars["current_year"] = strconv.Itoa(s.now().Year())
	vars["campaign_name"] = campaign.Name
	if inviteURL != "" {
		vars[InvitePlaceholder] = inviteURL
	} else {
		delete(vars, InvitePlaceholder)
	}
	return vars
}

// Render produces the final message for one recipient
func (s *TemplateService) Render(compiled *render.Compiled, campaign *models.Campaign, recipient *models.Recipient, inviteURL string) (*render.Message, error) {
	token := ""
	if recipient.UnsubToken != nil {
		token = *recipient.UnsubToken
	}
	links := s.UnsubscribeLinks(token)
	footer := render.BuildFooter(s.settings.Company, links)
	return compiled.Render(s.Vars(campaign, recipient, links, inviteURL), footer)
}

func withQuery(base, key, value string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + key + "=" + url.QueryEscape(value)
}
