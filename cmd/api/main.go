package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"taxdesk/internal/config"
	"taxdesk/internal/handler"
	"taxdesk/internal/logging"
	"taxdesk/internal/metrics"
	"taxdesk/internal/middleware"
	"taxdesk/internal/queue"
	"taxdesk/internal/render"
	"taxdesk/internal/repository"
	"taxdesk/internal/service"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closer := logging.MustNew("api ", logging.Options{})
	defer closer.Close()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	logger.Println("Connected to database")

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	// API keeps serving without RabbitMQ; the worker's ticker covers launches.
	var publisher service.RunPublisher
	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), logger)
	if err != nil {
		logger.Printf("Warning: RabbitMQ unavailable, run triggers disabled: %v", err)
	} else {
		defer conn.Close()
		p, err := queue.NewPublisher(conn, cfg.RabbitMQ.RunQueue)
		if err != nil {
			logger.Printf("Warning: failed to create run publisher: %v", err)
		} else {
			publisher = p
		}
	}

	campaignRepo := repository.NewCampaignRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	suppressionRepo := repository.NewSuppressionRepository(db)
	transactor := repository.NewTransactor(db)

	templateSvc := service.NewTemplateService(templateSettings(cfg))
	campaignSvc := service.NewCampaignService(campaignRepo, recipientRepo, suppressionRepo, templateSvc, publisher, transactor, logger)
	unsubscribeSvc := service.NewUnsubscribeService(recipientRepo, suppressionRepo)
	healthSvc := service.NewHealthService(db, cfg.GetRabbitMQURL(), rdb, version)

	m := metrics.New()
	httpMetrics := middleware.NewHTTPMetrics(m.Registry())

	router := handler.NewRouter(handler.Routes{
		Campaigns:   handler.NewCampaignHandler(campaignSvc),
		Preview:     handler.NewPreviewHandler(campaignSvc),
		Unsubscribe: handler.NewUnsubscribeHandler(unsubscribeSvc),
		Health:      handler.NewHealthHandler(healthSvc),
		Metrics:     m.Handler(),
		Middleware:  []mux.MiddlewareFunc{middleware.Recovery(logger), httpMetrics.Middleware},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Printf("API server starting on port %s (env %s)", cfg.Server.Port, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Println("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("Error during shutdown: %v", err)
	}
	logger.Println("API server stopped")
}

func templateSettings(cfg *config.Config) service.TemplateSettings {
	return service.TemplateSettings{
		Company: render.Company{
			Name:    cfg.Template.CompanyName,
			Address: cfg.Template.CompanyAddress,
			URL:     cfg.Template.CompanyURL,
		},
		UnsubscribeBaseURL: cfg.Template.UnsubscribeBaseURL,
		UnsubscribePageURL: cfg.Template.UnsubscribePageURL,
		InviteBaseURL:      cfg.Template.InviteBaseURL,
	}
}
