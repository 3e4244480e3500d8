package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campaignservice/internal/models"
)

// ScheduleInput is one message for one recipient
type ScheduleInput struct {
	CampaignID  string         `json:"campaignId"`
	RecipientID string         `json:"recipientId"`
	Channel     models.Channel `json:"channel"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	Payload     MessagePayload `json:"payload"`
	MaxAttempts int            `json:"maxAttempts"`
}

// MessagePayload is the rendered content and addressing
type MessagePayload struct {
	Subject  *string          `json:"subject,omitempty"`
	BodyText string           `json:"bodyText"`
	BodyHTML *string          `json:"bodyHtml,omitempty"`
	From     string           `json:"from"`
	To       MessageRecipient `json:"to"`
}

// MessageRecipient addresses a message
type MessageRecipient struct {
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Name  string  `json:"name"`
}

type scheduleRequest struct {
	CampaignID     *string        `json:"campaignId"`
	RecipientID    string         `json:"recipientId"`
	Channel        models.Channel `json:"channel"`
	ScheduledAt    *time.Time     `json:"scheduledAt"`
	Payload        MessagePayload `json:"payload"`
	MaxAttempts    int            `json:"maxAttempts"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// MessagingClient enqueues messages on the messaging service
type MessagingClient struct {
	req     *requester
	baseURL string
	now     func() time.Time
}

// NewMessagingClient creates a messaging-service client
func NewMessagingClient(opts Options) *MessagingClient {
	return &MessagingClient{req: newRequester(opts, "messaging"), baseURL: trimBase(opts.BaseURL), now: time.Now}
}

// IdempotencyKey dedupes sends of the same message within one UTC minute
func IdempotencyKey(in ScheduleInput, at time.Time) string {
	campaign := in.CampaignID
	if campaign == "" {
		campaign = "no-campaign"
	}
	return fmt.Sprintf("%s:%s:%s:%s", campaign, in.RecipientID, in.Channel, at.UTC().Format("2006-01-02T15:04"))
}

// Schedule submits one message for delivery
func (c *MessagingClient) Schedule(ctx context.Context, in ScheduleInput) error {
	body := scheduleRequest{
		RecipientID:    in.RecipientID,
		Channel:        in.Channel,
		Payload:        in.Payload,
		MaxAttempts:    in.MaxAttempts,
		IdempotencyKey: IdempotencyKey(in, c.now()),
	}
	if _, err := uuid.Parse(in.CampaignID); err == nil {
		id := in.CampaignID
		body.CampaignID = &id
	}
	if body.Payload.To.Name == "" {
		body.Payload.To.Name = "Customer"
	}

	if err := c.req.postJSON(ctx, c.baseURL+"/api/v1/messages", body, nil); err != nil {
		return fmt.Errorf("failed to schedule message: %w", err)
	}
	return nil
}
