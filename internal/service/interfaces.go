package service

import (
	"context"

	"campaignservice/internal/clients"
	"campaignservice/internal/models"
)

// BusinessClient reads send allowances and issues coupons
type BusinessClient interface {
	AvailableMessages(ctx context.Context, businessID string) ([]byte, error)
	EnsureCoupon(ctx context.Context, userID, businessID, prizeID string) (bool, error)
}

// UserClient resolves targeting rules to users
type UserClient interface {
	TargetingUsers(ctx context.Context, q clients.TargetingQuery) (*clients.TargetingResponse, error)
}

// MessagingClient schedules one message for one recipient
type MessagingClient interface {
	Schedule(ctx context.Context, in clients.ScheduleInput) error
}

// TemplateRenderer renders a step template for one recipient
type TemplateRenderer interface {
	Render(tpl *models.Template, data map[string]any) (*RenderedTemplate, error)
}

// JobPublisher submits campaign jobs to the worker queue
type JobPublisher interface {
	PublishJob(ctx context.Context, job models.CampaignJob) error
}
