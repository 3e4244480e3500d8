package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"campaignservice/internal/models"
	"campaignservice/internal/repository"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopping
)

const (
	maxBackoffSeconds = 60
	stopPollInterval  = 100 * time.Millisecond
)

// ErrStopping is returned by Tick once Stop has been called
var ErrStopping = errors.New("outbox publisher is stopping")

// Sink delivers one outbox row to downstream consumers
type Sink interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// Config tunes the polling loop
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// TickResult summarizes one batch
type TickResult struct {
	Fetched   int
	Published int
	Retried   int
	GivenUp   int
	Skipped   bool
}

// Publisher polls unpublished outbox rows and hands them to a sink. At most
// one batch is in flight at a time.
type Publisher struct {
	repo  repository.OutboxRepository
	sink  Sink
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
	state atomic.Int32
}

// NewPublisher creates a publisher
func NewPublisher(repo repository.OutboxRepository, sink Sink, cfg Config, log zerolog.Logger) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = repository.DefaultOutboxMaxAttempts
	}
	return &Publisher{
		repo: repo,
		sink: sink,
		cfg:  cfg,
		log:  log.With().Str("component", "outbox").Logger(),
		now:  time.Now,
	}
}

// BackoffSeconds is the delay before the given 1-based attempt, capped at a minute
func BackoffSeconds(nextAttempt int) int {
	if nextAttempt < 1 {
		nextAttempt = 1
	}
	if nextAttempt > 7 {
		return maxBackoffSeconds
	}
	return min(1<<(nextAttempt-1), maxBackoffSeconds)
}

// Tick publishes one batch. An overlapping call returns Skipped.
func (p *Publisher) Tick(ctx context.Context) (TickResult, error) {
	if !p.state.CompareAndSwap(stateIdle, stateRunning) {
		if p.state.Load() == stateStopping {
			return TickResult{Skipped: true}, ErrStopping
		}
		return TickResult{Skipped: true}, nil
	}
	defer p.state.CompareAndSwap(stateRunning, stateIdle)

	events, err := p.repo.FetchUnpublishedOutboxEvents(ctx, p.cfg.BatchSize, p.now())
	if err != nil {
		return TickResult{}, fmt.Errorf("failed to fetch outbox events: %w", err)
	}

	res := TickResult{Fetched: len(events)}
	for _, evt := range events {
		p.handle(ctx, evt, &res)
	}
	if res.Fetched > 0 {
		p.log.Debug().Int("fetched", res.Fetched).Int("published", res.Published).Int("retried", res.Retried).Int("given_up", res.GivenUp).Msg("outbox batch done")
	}
	return res, nil
}

func (p *Publisher) handle(ctx context.Context, evt *models.OutboxEvent, res *TickResult) {
	log := p.log.With().Str("event_id", evt.ID).Str("type", evt.Type).Int("attempt", evt.Attempt).Logger()

	if _, err := Validate(evt.Payload); err != nil {
		if markErr := p.repo.MarkOutboxEventGiveUp(ctx, evt.ID, repository.TruncateError("validation_failed:"+err.Error())); markErr != nil {
			log.Error().Err(markErr).Msg("failed to give up invalid event")
			return
		}
		res.GivenUp++
		log.Error().Err(err).Msg("outbox validation failed, giving up")
		return
	}

	pubErr := p.sink.Publish(ctx, evt)
	if pubErr == nil {
		if err := p.repo.MarkOutboxEventPublished(ctx, evt.ID); err != nil {
			log.Error().Err(err).Msg("failed to mark event published")
			return
		}
		res.Published++
		log.Debug().Str("aggregate_id", evt.AggregateID).Msg("event published")
		return
	}

	next := evt.Attempt + 1
	maxAttempts := evt.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxAttempts
	}
	msg := repository.TruncateError(pubErr.Error())

	if next >= maxAttempts {
		if err := p.repo.MarkOutboxEventGiveUp(ctx, evt.ID, msg); err != nil {
			log.Error().Err(err).Msg("failed to give up event")
			return
		}
		res.GivenUp++
		log.Error().Err(pubErr).Int("next_attempt", next).Msg("permanent outbox publish failure, giving up")
		return
	}

	backoff := BackoffSeconds(next)
	if err := p.repo.MarkOutboxEventFailed(ctx, evt.ID, msg, backoff); err != nil {
		log.Error().Err(err).Msg("failed to record publish failure")
		return
	}
	res.Retried++
	log.Warn().Err(pubErr).Int("next_attempt", next).Int("backoff_seconds", backoff).Msg("outbox publish failed, scheduled retry")
}

// Run ticks immediately and then every PollInterval until ctx is done. An
// in-flight batch is allowed to finish after cancellation.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info().Dur("poll_interval", p.cfg.PollInterval).Int("batch_size", p.cfg.BatchSize).Msg("outbox publisher started")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	batchCtx := context.WithoutCancel(ctx)
	for {
		if _, err := p.Tick(batchCtx); err != nil {
			if errors.Is(err, ErrStopping) {
				return nil
			}
			p.log.Error().Err(err).Msg("outbox tick failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop blocks new ticks and waits for the in-flight batch, bounded by ctx
func (p *Publisher) Stop(ctx context.Context) error {
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		if p.state.CompareAndSwap(stateIdle, stateStopping) || p.state.Load() == stateStopping {
			p.log.Info().Msg("outbox publisher stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("outbox batch still in flight: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Running reports whether a batch is in flight
func (p *Publisher) Running() bool {
	return p.state.Load() == stateRunning
}
