package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"taxdesk/internal/config"
	"taxdesk/internal/lock"
	"taxdesk/internal/logging"
	"taxdesk/internal/metrics"
	"taxdesk/internal/queue"
	"taxdesk/internal/render"
	"taxdesk/internal/repository"
	"taxdesk/internal/service"
)

const pushJob = "taxdesk_worker"

func main() {
	once := flag.Bool("once", false, "run the delivery engine once and exit")
	campaign := flag.Int64("campaign", 0, "restrict runs to one campaign id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closer := logging.MustNew("worker ", logging.Options{File: cfg.LogFile})
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

	locker, lockCloser, err := newEmailLocker(cfg)
	if err != nil {
		logger.Fatalf("Failed to set up invite lock: %v", err)
	}
	defer lockCloser.Close()

	m := metrics.New()
	engine := newEngine(cfg, db, locker, m, logger)

	w := &worker{
		engine:  engine,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
	if *campaign > 0 {
		w.campaignID = campaign
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := w.run(ctx, w.campaignID); err != nil {
			logger.Fatalf("Run failed: %v", err)
		}
		return
	}

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), logger)
	if err != nil {
		logger.Printf("Warning: RabbitMQ unavailable, running on the ticker only: %v", err)
	} else {
		defer conn.Close()
		consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.RunQueue, w.handleTrigger, logger)
		if err != nil {
			logger.Fatalf("Failed to create consumer: %v", err)
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		defer consumer.Stop()
	}

	logger.Printf("Worker started (interval %s, batch %d)", cfg.Delivery.RunInterval, cfg.Delivery.BatchSize)
	w.loop(ctx)
	logger.Println("Worker stopped")
}

// worker serializes engine runs within the process
type worker struct {
	engine     *service.DeliveryEngine
	metrics    *metrics.Metrics
	cfg        *config.Config
	logger     *log.Logger
	campaignID *int64
	mu         sync.Mutex
}

func (w *worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Delivery.RunInterval)
	defer ticker.Stop()

	if err := w.run(ctx, w.campaignID); err != nil {
		w.logger.Printf("Run failed: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.run(ctx, w.campaignID); err != nil {
				w.logger.Printf("Run failed: %v", err)
			}
		}
	}
}

func (w *worker) handleTrigger(ctx context.Context, job *queue.RunJob) error {
	if w.campaignID != nil && (job.CampaignID == nil || *job.CampaignID != *w.campaignID) {
		return nil
	}
	return w.run(ctx, job.CampaignID)
}

func (w *worker) run(ctx context.Context, campaignID *int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	result, err := w.engine.Run(ctx, service.RunRequest{CampaignID: campaignID})
	if err != nil {
		return err
	}
	w.logger.Printf("Run finished: %s (processed %d, batches %d, reclaimed %d, in %s)",
		result.Message, result.Processed(), result.Batches, result.Reclaimed, result.Duration)

	if w.cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.metrics.Push(pushCtx, w.cfg.PushgatewayURL, pushJob); err != nil {
			w.logger.Printf("Warning: %v", err)
		}
	}
	return nil
}

func newEngine(cfg *config.Config, db *sql.DB, locker service.EmailLocker, m *metrics.Metrics, logger *log.Logger) *service.DeliveryEngine {
	campaignRepo := repository.NewCampaignRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	suppressionRepo := repository.NewSuppressionRepository(db)
	inviteRepo := repository.NewInviteRepository(db)
	transactor := repository.NewTransactor(db)

	templateSvc := service.NewTemplateService(service.TemplateSettings{
		Company: render.Company{
			Name:    cfg.Template.CompanyName,
			Address: cfg.Template.CompanyAddress,
			URL:     cfg.Template.CompanyURL,
		},
		UnsubscribeBaseURL: cfg.Template.UnsubscribeBaseURL,
		UnsubscribePageURL: cfg.Template.UnsubscribePageURL,
		InviteBaseURL:      cfg.Template.InviteBaseURL,
	})
	inviteSvc := service.NewInviteService(inviteRepo, transactor, locker, cfg.Delivery.InviteTTL)
	sender := service.NewSimulatedSender(cfg.Sender.SuccessRate, cfg.Sender.Latency)

	return service.NewDeliveryEngine(
		campaignRepo,
		recipientRepo,
		suppressionRepo,
		templateSvc,
		inviteSvc,
		sender,
		m,
		service.EngineConfig{
			BatchSize:  cfg.Delivery.BatchSize,
			MaxRuntime: cfg.Delivery.MaxRuntime,
			ExitBuffer: cfg.Delivery.ExitBuffer,
			StaleAfter: cfg.Delivery.StaleAfter,
			ReplyTo:    cfg.Delivery.ReplyTo,
		},
		logger,
	)
}

// newEmailLocker picks the per-email invite lock backend
func newEmailLocker(cfg *config.Config) (service.EmailLocker, io.Closer, error) {
	switch cfg.Delivery.InviteLockBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return lock.NewRedisLocker(rdb, "taxdesk:lock:"), rdb, nil
	default:
		return repository.NewAdvisoryLocker(), nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
