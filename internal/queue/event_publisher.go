package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"campaignservice/internal/models"
)

// EventPublisher publishes outbox events to a topic exchange with publisher
// confirms. The routing key is the event type.
type EventPublisher struct {
	conn     *Connection
	exchange string

	mu        sync.Mutex
	confirmed *amqp.Channel
}

// NewEventPublisher declares the exchange and returns a publisher
func NewEventPublisher(conn *Connection, exchange string) (*EventPublisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &EventPublisher{conn: conn, exchange: exchange}, nil
}

// channel returns a channel in confirm mode. A reconnect yields a new
// channel that has to be switched again. Callers hold mu.
func (p *EventPublisher) channel() (*amqp.Channel, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if ch != p.confirmed {
		if err := ch.Confirm(false); err != nil {
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
		p.confirmed = ch
	}
	return ch, nil
}

// Publish sends the event envelope and waits for the broker to confirm it
func (p *EventPublisher) Publish(ctx context.Context, event *models.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	headers := amqp.Table{
		"aggregate-type": event.AggregateType,
		"aggregate-id":   event.AggregateID,
		"version":        int32(event.Version),
	}
	if event.TraceID != nil {
		headers["trace-id"] = *event.TraceID
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    event.ID,
			Type:         event.Type,
			Timestamp:    event.OccurredAt,
			Headers:      headers,
			Body:         event.Payload,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker rejected event %s", event.ID)
	}
	return nil
}
