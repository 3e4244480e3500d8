package outbox

import (
	"context"

	"github.com/rs/zerolog"

	"campaignservice/internal/models"
)

// LogSink logs events instead of publishing them. Used when no broker is wired.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log-only sink
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "outbox-sink").Logger()}
}

// Publish logs the event and always succeeds
func (s *LogSink) Publish(_ context.Context, event *models.OutboxEvent) error {
	s.log.Info().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Int("version", event.Version).
		Str("aggregate_id", event.AggregateID).
		Int("attempt", event.Attempt).
		Msg("publishing event")
	return nil
}
