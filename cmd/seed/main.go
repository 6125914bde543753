package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"taxdesk/internal/config"
	"taxdesk/internal/logging"
	"taxdesk/internal/models"
	"taxdesk/internal/render"
	"taxdesk/internal/repository"
	"taxdesk/internal/service"
)

// ANSI color codes for terminal output
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

var (
	recipientsCount = flag.Int("recipients", 12, "Number of recipients to add to the sample campaign")
	launch          = flag.Bool("launch", false, "Launch the sample campaign after seeding")
	suppressEvery   = flag.Int("suppress-every", 5, "Put every Nth recipient on the unsubscribe list (0 disables)")
)

const sampleHTML = `<mjml>
  <mj-head><mj-title>{{company_name}} filing season</mj-title></mj-head>
  <mj-body>
    <mj-section>
      <mj-column>
        <mj-text>Hi {{first_name}},</mj-text>
        <mj-text>{{#if has_return}}Your {{tax_year}} return is ready for review.{{else}}It is time to start your {{tax_year}} return.{{/if}}</mj-text>
        <mj-button href="{{{invite_url}}}">Open your account</mj-button>
      </mj-column>
    </mj-section>
  </mj-body>
</mjml>`

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("Failed to load configuration: %v", err)
	}
	logger, closer := logging.MustNew("seed ", logging.Options{})
	defer closer.Close()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		fatal("Failed to open database connection: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fatal("Failed to ping database: %v", err)
	}

	recipientRepo := repository.NewRecipientRepository(db)
	suppressionRepo := repository.NewSuppressionRepository(db)
	templates := service.NewTemplateService(service.TemplateSettings{
		Company: render.Company{
			Name:    cfg.Template.CompanyName,
			Address: cfg.Template.CompanyAddress,
			URL:     cfg.Template.CompanyURL,
		},
		UnsubscribeBaseURL: cfg.Template.UnsubscribeBaseURL,
		UnsubscribePageURL: cfg.Template.UnsubscribePageURL,
		InviteBaseURL:      cfg.Template.InviteBaseURL,
	})
	campaigns := service.NewCampaignService(
		repository.NewCampaignRepository(db),
		recipientRepo,
		suppressionRepo,
		templates,
		nil, // the worker ticker picks launched campaigns up
		repository.NewTransactor(db),
		logger,
	)

	ctx := context.Background()
	printInfo("=== Taxdesk Database Seeder ===\n")

	campaign, err := campaigns.CreateCampaign(ctx, &service.CreateCampaignRequest{
		Name:     "Filing season kickoff",
		Subject:  "{{first_name}}, your {{tax_year}} checklist",
		HTMLBody: sampleHTML,
	})
	if err != nil {
		fatal("Failed to create campaign: %v", err)
	}

	inputs := make([]service.RecipientInput, 0, *recipientsCount)
	for i := 1; i <= *recipientsCount; i++ {
		vars := map[string]string{
			"first_name": fmt.Sprintf("Client %d", i),
			"tax_year":   "2025",
		}
		if i%2 == 0 {
			vars["has_return"] = "true"
		}
		inputs = append(inputs, service.RecipientInput{
			Email:     fmt.Sprintf("client%03d@example.com", i),
			Variables: vars,
		})
	}
	added, err := campaigns.AddRecipients(ctx, campaign.ID, &service.AddRecipientsRequest{Recipients: inputs})
	if err != nil {
		fatal("Failed to add recipients: %v", err)
	}

	suppressed := 0
	if *suppressEvery > 0 {
		for i := *suppressEvery; i <= *recipientsCount; i += *suppressEvery {
			err := suppressionRepo.Add(ctx, &models.Suppression{
				Email:  inputs[i-1].Email,
				Reason: models.SuppressionReasonUnsubscribe,
			})
			if err != nil {
				fatal("Failed to add suppression: %v", err)
			}
			suppressed++
		}
	}

	if *launch {
		if _, err := campaigns.LaunchCampaign(ctx, campaign.ID, &service.LaunchCampaignRequest{}); err != nil {
			fatal("Failed to launch campaign: %v", err)
		}
	}

	printInfo("\n=== Seeding Summary ===")
	printSuccess(fmt.Sprintf("Campaign created: %d (%s)", campaign.ID, campaign.Name))
	printSuccess(fmt.Sprintf("Recipients queued: %d", added.Queued))
	printSuccess(fmt.Sprintf("Addresses suppressed: %d", suppressed))
	if *launch {
		printSuccess("Campaign launched")
	}
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
