package models

import (
	"encoding/json"
	"time"
)

// GiveUpAt is the next_attempt_at stored on terminally resolved outbox rows
var GiveUpAt = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// OutboxEvent is an at-least-once delivery record
type OutboxEvent struct {
	ID            string          `json:"id" db:"id"`
	AggregateType string          `json:"aggregateType" db:"aggregate_type"`
	AggregateID   string          `json:"aggregateId" db:"aggregate_id"`
	Type          string          `json:"type" db:"type"`
	Version       int             `json:"version" db:"version"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	TraceID       *string         `json:"traceId,omitempty" db:"trace_id"`
	Attempt       int             `json:"attempt" db:"attempt"`
	MaxAttempts   int             `json:"maxAttempts" db:"max_attempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt" db:"next_attempt_at"`
	PublishedAt   *time.Time      `json:"publishedAt,omitempty" db:"published_at"`
	Error         *string         `json:"error,omitempty" db:"error"`
	OccurredAt    time.Time       `json:"occurredAt" db:"occurred_at"`
}

// IsPublished reports whether the row has been delivered
func (e *OutboxEvent) IsPublished() bool {
	return e.PublishedAt != nil
}

// IsGivenUp reports whether the row exhausted its retry budget
func (e *OutboxEvent) IsGivenUp() bool {
	return e.PublishedAt == nil && e.MaxAttempts > 0 && e.Attempt >= e.MaxAttempts
}

// NewOutboxEvent is the insert shape for an outbox row
type NewOutboxEvent struct {
	AggregateType string
	AggregateID   string
	Type          string
	Version       int
	Payload       json.RawMessage
	TraceID       *string
	MaxAttempts   int
}
