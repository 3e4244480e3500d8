package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"campaignservice/internal/models"
)

// Publisher publishes campaign jobs to the main queue and delayed retries to
// a TTL queue that dead-letters back into it.
type Publisher struct {
	conn       *Connection
	queueName  string
	retryQueue string
}

// NewPublisher declares both queues and returns a publisher
func NewPublisher(conn *Connection, queueName, retryQueue string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if retryQueue == "" {
		retryQueue = queueName + ".retry"
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	if err := declareJobQueue(ch, queueName); err != nil {
		return nil, err
	}
	_, err = ch.QueueDeclare(
		retryQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		retryQueueArgs(queueName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare retry queue: %w", err)
	}

	return &Publisher{
		conn:       conn,
		queueName:  queueName,
		retryQueue: retryQueue,
	}, nil
}

func declareJobQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// retryQueueArgs routes expired retry messages back to the job queue
func retryQueueArgs(target string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": target,
	}
}

// expiration renders a per-message TTL in milliseconds
func expiration(delay time.Duration) string {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

// PublishJob publishes a job for immediate processing
func (p *Publisher) PublishJob(ctx context.Context, job models.CampaignJob) error {
	return p.publish(ctx, p.queueName, job, "")
}

// PublishRetry publishes a job that becomes visible after delay
func (p *Publisher) PublishRetry(ctx context.Context, job models.CampaignJob, delay time.Duration) error {
	return p.publish(ctx, p.retryQueue, job, expiration(delay))
}

func (p *Publisher) publish(ctx context.Context, queue string, job models.CampaignJob, ttl string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign job: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",    // exchange (default)
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    fmt.Sprintf("%s:%d", job.CampaignExecutionID, job.Attempt),
			Timestamp:    time.Now().UTC(),
			Expiration:   ttl,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish campaign job: %w", err)
	}

	return nil
}

// Close closes the publisher (no-op, connection managed externally)
func (p *Publisher) Close() error {
	return nil
}
