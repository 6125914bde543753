package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Delivery DeliveryConfig
	Template TemplateConfig
	Sender   SenderConfig
	Env      string `env:"ENV" envDefault:"development" validate:"oneof=development staging production test"`
	// PushgatewayURL enables pushing worker metrics when set.
	PushgatewayURL string `env:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	LogFile        string `env:"LOG_FILE" envDefault:"data/worker.log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080" validate:"required,numeric"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost" validate:"required"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432" validate:"required,numeric"`
	User     string `env:"POSTGRES_USER" envDefault:"taxdesk" validate:"required"`
	Password string `env:"POSTGRES_PASSWORD" validate:"required"`
	DBName   string `env:"POSTGRES_DB" envDefault:"taxdesk" validate:"required"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string `env:"RABBITMQ_HOST" envDefault:"localhost" validate:"required"`
	Port     string `env:"RABBITMQ_PORT" envDefault:"5672" validate:"required,numeric"`
	User     string `env:"RABBITMQ_DEFAULT_USER" envDefault:"guest"`
	Password string `env:"RABBITMQ_DEFAULT_PASS" envDefault:"guest"`
	RunQueue string `env:"RUN_QUEUE" envDefault:"campaign_runs" validate:"required"`
}

// RedisConfig holds Redis configuration. Redis is optional unless the
// invite lock backend is redis.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`
}

// DeliveryConfig holds run loop settings
type DeliveryConfig struct {
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"100" validate:"min=1,max=1000"`
	MaxRuntime        time.Duration `env:"MAX_RUNTIME" envDefault:"10m" validate:"gt=0"`
	ExitBuffer        time.Duration `env:"EXIT_BUFFER" envDefault:"60s" validate:"gte=0"`
	StaleAfter        time.Duration `env:"STALE_SENDING_AFTER" envDefault:"30m" validate:"gt=0"`
	RunInterval       time.Duration `env:"RUN_INTERVAL" envDefault:"1m" validate:"gt=0"`
	InviteTTL         time.Duration `env:"INVITE_TTL" envDefault:"168h" validate:"gt=0"`
	InviteLockBackend string        `env:"INVITE_LOCK_BACKEND" envDefault:"postgres" validate:"oneof=postgres redis"`
	ReplyTo           string        `env:"REPLY_TO" validate:"omitempty,email"`
}

// TemplateConfig holds the links and company details rendered into messages
type TemplateConfig struct {
	InviteBaseURL      string `env:"INVITE_BASE_URL" envDefault:"http://localhost:8080/invites" validate:"required,url"`
	UnsubscribeBaseURL string `env:"UNSUBSCRIBE_BASE_URL" envDefault:"http://localhost:8080/unsubscribe" validate:"required,url"`
	UnsubscribePageURL string `env:"UNSUBSCRIBE_PAGE_URL" envDefault:"http://localhost:8080/unsubscribe" validate:"required,url"`
	CompanyName        string `env:"COMPANY_NAME" envDefault:"Taxdesk"`
	CompanyAddress     string `env:"COMPANY_ADDRESS"`
	CompanyURL         string `env:"COMPANY_URL" validate:"omitempty,url"`
}

// SenderConfig tunes the simulated delivery provider
type SenderConfig struct {
	SuccessRate float64       `env:"SENDER_SUCCESS_RATE" envDefault:"1.0" validate:"gte=0,lte=1"`
	Latency     time.Duration `env:"SENDER_LATENCY" envDefault:"0s" validate:"gte=0"`
}

// Load reads .env (if present) and then configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from the process environment only
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Delivery.ExitBuffer >= c.Delivery.MaxRuntime {
		return fmt.Errorf("invalid configuration: EXIT_BUFFER (%s) must be shorter than MAX_RUNTIME (%s)",
			c.Delivery.ExitBuffer, c.Delivery.MaxRuntime)
	}
	if c.Delivery.InviteLockBackend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("invalid configuration: REDIS_ADDR is required when INVITE_LOCK_BACKEND=redis")
	}
	return nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
