package service

import (
	"strings"
	"time"

	"campaignservice/internal/clients"
	"campaignservice/internal/models"
)

// DefaultFrom is the sender used when none is configured
const DefaultFrom = "noreply@example.com"

// BuildScheduleInput assembles one delivery for one user. The body is never
// empty and the recipient always has a display name.
func BuildScheduleInput(campaignID string, step *models.Step, user *models.User, rendered *RenderedTemplate, from string, at time.Time) clients.ScheduleInput {
	if from == "" {
		from = DefaultFrom
	}

	body := rendered.BodyText
	if strings.TrimSpace(body) == "" {
		body = " "
	}

	return clients.ScheduleInput{
		CampaignID:  campaignID,
		RecipientID: user.ID,
		Channel:     step.Channel,
		ScheduledAt: at,
		MaxAttempts: 1,
		Payload: clients.MessagePayload{
			Subject:  rendered.Subject,
			BodyText: body,
			BodyHTML: rendered.BodyHTML,
			From:     from,
			To: clients.MessageRecipient{
				Email: user.Email,
				Phone: user.Phone,
				Name:  user.FullName(),
			},
		},
	}
}
