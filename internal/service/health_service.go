package service

import (
	"context"
	"database/sql"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db       *sql.DB
	queueURL string
	redis    redis.UniversalClient
	version  string
}

// NewHealthService creates a new HealthChecker instance. rdb may be nil when
// invite locks are held in Postgres.
func NewHealthService(db *sql.DB, queueURL string, rdb redis.UniversalClient, version string) *HealthChecker {
	return &HealthChecker{
		db:       db,
		queueURL: queueURL,
		redis:    rdb,
		version:  version,
	}
}

// checkDatabase verifies PostgreSQL connectivity with a timeout
func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// checkQueue verifies RabbitMQ connectivity
func (h *HealthChecker) checkQueue() string {
	conn, err := amqp.DialConfig(h.queueURL, amqp.Config{Dial: amqp.DefaultDial(2 * time.Second)})
	if err != nil {
		return StatusDisconnected
	}
	defer conn.Close()

	return StatusConnected
}

// checkRedis verifies the invite lock backend
func (h *HealthChecker) checkRedis(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.redis.Ping(ctx).Err(); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus calculates the overall health status based on service statuses
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	// the database is the queue store; nothing works without it
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	// invites cannot be issued without their lock backend
	if services["redis"] == StatusDisconnected {
		return StatusUnhealthy
	}
	// run triggers are an optimisation over the periodic run
	if services["queue"] == StatusDisconnected {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(),
	}
	if h.redis != nil {
		services["redis"] = h.checkRedis(ctx)
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}, nil
}
