package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes run triggers to RabbitMQ
type Publisher struct {
	conn      *Connection
	queueName string
	now       func() time.Time
}

// NewPublisher creates a new publisher instance
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declare(ch, queueName); err != nil {
		return nil, err
	}

	return &Publisher{
		conn:      conn,
		queueName: queueName,
		now:       time.Now,
	}, nil
}

// PublishRun asks the workers for a delivery run. A nil campaignID means any
// sending campaign.
func (p *Publisher) PublishRun(ctx context.Context, campaignID *int64) error {
	body, err := json.Marshal(RunJob{CampaignID: campaignID, RequestedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal run job: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    p.now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish run job: %w", err)
	}

	return nil
}
