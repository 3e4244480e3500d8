package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"campaignservice/internal/models"
)

// Acknowledger settles one delivery
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is one decoded job. Err is set when the body could not be decoded.
type Delivery struct {
	Job         *models.CampaignJob
	Err         error
	Redelivered bool
	Acker       Acknowledger
}

// Ack acknowledges the delivery
func (d Delivery) Ack() error { return d.Acker.Ack() }

// Reject drops the delivery without requeue
func (d Delivery) Reject() error { return d.Acker.Nack(false) }

// Requeue returns the delivery to the queue
func (d Delivery) Requeue() error { return d.Acker.Nack(true) }

type amqpAcker struct {
	d amqp.Delivery
}

func (a amqpAcker) Ack() error              { return a.d.Ack(false) }
func (a amqpAcker) Nack(requeue bool) error { return a.d.Nack(false, requeue) }

// DecodeDelivery turns a raw AMQP delivery into a Delivery
func DecodeDelivery(d amqp.Delivery) Delivery {
	out := Delivery{Redelivered: d.Redelivered, Acker: amqpAcker{d: d}}
	var job models.CampaignJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		out.Err = fmt.Errorf("failed to unmarshal campaign job: %w", err)
		return out
	}
	out.Job = &job
	return out
}

// Consumer consumes campaign jobs from RabbitMQ
type Consumer struct {
	conn      *Connection
	queueName string
	log       zerolog.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}
	stopOnce  sync.Once
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, log zerolog.Logger) (*Consumer, error) {
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
	if err := declareJobQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		log:       log.With().Str("component", "consumer").Str("queue", queueName).Logger(),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// Start begins consuming with the given prefetch and returns the delivery
// stream. The stream is closed when Stop is called or the broker closes it.
func (c *Consumer) Start(prefetch int) (<-chan Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
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
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(c.doneChan)
		defer close(out)

		for {
			select {
			case <-c.stopChan:
				c.log.Info().Msg("consumer stopping")
				return
			case d, ok := <-msgs:
				if !ok {
					c.log.Warn().Msg("delivery channel closed")
					return
				}
				select {
				case out <- DecodeDelivery(d):
				case <-c.stopChan:
					// unacked, the broker redelivers it
					return
				}
			}
		}
	}()

	c.log.Info().Int("prefetch", prefetch).Msg("consumer started")
	return out, nil
}

// Stop stops handing out deliveries and waits for the pump to exit
func (c *Consumer) Stop() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.doneChan

	c.log.Info().Msg("consumer stopped")
	return nil
}
