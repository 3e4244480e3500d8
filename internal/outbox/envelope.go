// Package outbox builds domain event envelopes and publishes outbox rows.
package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"campaignservice/internal/models"
)

const (
	// EventCampaignStepReady announces a step execution with scheduled recipients
	EventCampaignStepReady = "campaign-step-ready"

	// Producer identifies this service in event envelopes
	Producer = "campaign-service.scheduler"

	// SchemaVersion is the envelope layout version
	SchemaVersion = 1

	aggregateStepExecution = "StepExecution"
)

// Envelope is the wire shape stored as the outbox row payload
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	SchemaVersion int             `json:"schemaVersion"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"traceId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// StepReadyPayload is the payload of campaign-step-ready
type StepReadyPayload struct {
	StepExecutionID string `json:"stepExecutionId"`
	CampaignID      string `json:"campaignId"`
	BusinessID      string `json:"businessId"`
	Channel         string `json:"channel"`
	BatchSize       int    `json:"batchSize"`
}

// NewEnvelope wraps payload in a fresh envelope
func NewEnvelope(eventType string, version int, payload any, traceID string, now time.Time) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:            uuid.NewString(),
		Type:          eventType,
		Version:       version,
		SchemaVersion: SchemaVersion,
		OccurredAt:    now.UTC(),
		Producer:      Producer,
		TraceID:       traceID,
		Payload:       data,
	}, nil
}

// NewStepReadyEvent builds the outbox insert for a campaign-step-ready event.
// The whole envelope is stored as the row payload.
func NewStepReadyEvent(p StepReadyPayload, traceID string, maxAttempts int, now time.Time) (models.NewOutboxEvent, error) {
	env, err := NewEnvelope(EventCampaignStepReady, 1, p, traceID, now)
	if err != nil {
		return models.NewOutboxEvent{}, err
	}
	if err := validatePayload(env.Type, env.Payload); err != nil {
		return models.NewOutboxEvent{}, err
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return models.NewOutboxEvent{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	event := models.NewOutboxEvent{
		AggregateType: aggregateStepExecution,
		AggregateID:   p.StepExecutionID,
		Type:          env.Type,
		Version:       env.Version,
		Payload:       raw,
		MaxAttempts:   maxAttempts,
	}
	if traceID != "" {
		event.TraceID = &traceID
	}
	return event, nil
}

// Validate decodes raw as an envelope and checks it against its type's contract
func Validate(raw []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty envelope")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	var problems []string
	if _, err := uuid.Parse(env.ID); err != nil {
		problems = append(problems, "id must be a uuid")
	}
	if env.Type == "" {
		problems = append(problems, "type is required")
	}
	if env.Version < 1 {
		problems = append(problems, "version must be >= 1")
	}
	if env.SchemaVersion < 1 {
		problems = append(problems, "schemaVersion must be >= 1")
	}
	if env.OccurredAt.IsZero() {
		problems = append(problems, "occurredAt is required")
	}
	if env.Producer == "" {
		problems = append(problems, "producer is required")
	}
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	if err := validatePayload(env.Type, env.Payload); err != nil {
		return nil, err
	}
	return &env, nil
}

var payloadContracts = map[string]func(json.RawMessage) error{
	EventCampaignStepReady: validateStepReady,
}

func validatePayload(eventType string, payload json.RawMessage) error {
	check, ok := payloadContracts[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	return check(payload)
}

func validateStepReady(payload json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return errors.New("payload must be an object")
	}

	var problems []string
	for _, key := range []string{"stepExecutionId", "campaignId", "businessId", "channel"} {
		s, ok := fields[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			problems = append(problems, key+" is required")
		}
	}

	n, ok := fields["batchSize"].(json.Number)
	if !ok {
		problems = append(problems, "batchSize is required")
	} else if size, err := n.Int64(); err != nil || size < 1 {
		problems = append(problems, "batchSize must be an integer >= 1")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
