package queue

import (
	"context"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RunHandler processes one run trigger
type RunHandler func(ctx context.Context, job *RunJob) error

// Consumer consumes run triggers from RabbitMQ
type Consumer struct {
	conn      *Connection
	queueName string
	handler   RunHandler
	logger    *log.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}
	started   bool
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler RunHandler, logger *log.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if logger == nil {
		logger = log.Default()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declare(ch, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		logger:    logger,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start starts consuming triggers. Runs are handled one at a time.
func (c *Consumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.started = true
	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				c.logger.Println("queue: consumer stopping")
				return
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Println("queue: delivery channel closed")
					return
				}
				c.deliver(ctx, d)
			}
		}
	}()

	c.logger.Printf("queue: consumer listening on %s", c.queueName)
	return nil
}

// deliver acks handled triggers. A failed trigger is requeued once; after that
// the periodic run is left to pick the work up.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	job, err := DecodeRunJob(d.Body)
	if err != nil {
		c.logger.Printf("queue: dropping malformed run job: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := c.handler(ctx, job); err != nil {
		c.logger.Printf("queue: run job failed: %v", err)
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

// Stop stops consuming messages gracefully
func (c *Consumer) Stop() error {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	if c.started {
		<-c.doneChan
	}

	c.logger.Println("queue: consumer stopped")
	return nil
}
