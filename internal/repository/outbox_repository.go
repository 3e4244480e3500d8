package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"campaignservice/internal/models"
)

// outboxLease hides fetched rows from concurrent publishers until they are
// marked. A crashed publisher's rows become due again once it expires.
const outboxLease = 2 * time.Minute

// DefaultOutboxMaxAttempts applies when an event is created without a budget
const DefaultOutboxMaxAttempts = 10

type outboxRepository struct {
	db DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db DB) OutboxRepository {
	return &outboxRepository{db: db}
}

const outboxColumns = `id, aggregate_type, aggregate_id, type, version, payload, trace_id,
	attempt, max_attempts, next_attempt_at, published_at, error, occurred_at`

func scanOutboxEvent(row interface{ Scan(...interface{}) error }) (*models.OutboxEvent, error) {
	e := &models.OutboxEvent{}
	var payload []byte
	err := row.Scan(
		&e.ID,
		&e.AggregateType,
		&e.AggregateID,
		&e.Type,
		&e.Version,
		&payload,
		&e.TraceID,
		&e.Attempt,
		&e.MaxAttempts,
		&e.NextAttemptAt,
		&e.PublishedAt,
		&e.Error,
		&e.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return e, nil
}

// CreateOutboxEvent inserts a new unpublished event due immediately
func (r *outboxRepository) CreateOutboxEvent(ctx context.Context, event models.NewOutboxEvent) (*models.OutboxEvent, error) {
	maxAttempts := event.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultOutboxMaxAttempts
	}
	version := event.Version
	if version <= 0 {
		version = 1
	}

	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, type, version, payload, trace_id, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + outboxColumns

	e, err := scanOutboxEvent(r.db.QueryRowContext(
		ctx,
		query,
		event.AggregateType,
		event.AggregateID,
		event.Type,
		version,
		[]byte(event.Payload),
		event.TraceID,
		maxAttempts,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox event: %w", err)
	}
	return e, nil
}

// FetchUnpublishedOutboxEvents leases up to limit due rows, oldest first
func (r *outboxRepository) FetchUnpublishedOutboxEvents(ctx context.Context, limit int, now time.Time) ([]*models.OutboxEvent, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM outbox_events
			WHERE published_at IS NULL AND next_attempt_at <= $1
			ORDER BY occurred_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_events o
		SET next_attempt_at = $3
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.type, o.version, o.payload, o.trace_id,
		          o.attempt, o.max_attempts, o.next_attempt_at, o.published_at, o.error, o.occurred_at
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit, now.Add(outboxLease))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished outbox events: %w", err)
	}
	defer rows.Close()

	events := []*models.OutboxEvent{}
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}

	// RETURNING does not keep the CTE order
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})

	return events, nil
}

// MarkOutboxEventPublished records a successful delivery
func (r *outboxRepository) MarkOutboxEventPublished(ctx context.Context, id string) error {
	query := `
		UPDATE outbox_events
		SET published_at = NOW(), error = NULL
		WHERE id = $1
	`
	return r.exec(ctx, "mark outbox event published", query, id)
}

// MarkOutboxEventFailed bumps the attempt and schedules the next try
func (r *outboxRepository) MarkOutboxEventFailed(ctx context.Context, id, errMsg string, backoffSeconds int) error {
	query := `
		UPDATE outbox_events
		SET attempt = attempt + 1,
		    error = $2,
		    next_attempt_at = NOW() + make_interval(secs => $3)
		WHERE id = $1
	`
	return r.exec(ctx, "mark outbox event failed", query, id, TruncateError(errMsg), backoffSeconds)
}

// MarkOutboxEventGiveUp resolves the row terminally without publishing it
func (r *outboxRepository) MarkOutboxEventGiveUp(ctx context.Context, id, errMsg string) error {
	query := `
		UPDATE outbox_events
		SET attempt = GREATEST(attempt, max_attempts),
		    error = $2,
		    next_attempt_at = $3
		WHERE id = $1
	`
	return r.exec(ctx, "give up outbox event", query, id, TruncateError(errMsg), models.GiveUpAt)
}

func (r *outboxRepository) exec(ctx context.Context, what, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
