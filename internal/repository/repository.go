package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
	"unicode/utf8"

	"campaignservice/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	FindDueActiveCampaigns(ctx context.Context, now time.Time) ([]models.DueCampaign, error)
	// FindCampaignByID loads the campaign with steps, templates and rules. An
	// empty scope matches any business. Returns nil, nil when absent.
	FindCampaignByID(ctx context.Context, id string, businessIDs []string) (*models.Campaign, error)
	// UpdateCampaign applies lifecycle changes. Returns ErrNotFound when no
	// campaign matches the id within scope.
	UpdateCampaign(ctx context.Context, id string, businessIDs []string, update models.CampaignUpdate) error
}

// ExecutionRepository defines execution, step execution and recipient operations
type ExecutionRepository interface {
	CreateCampaignExecution(ctx context.Context, campaignID string) (*models.CampaignExecution, error)
	FindCampaignExecution(ctx context.Context, id string) (*models.CampaignExecution, error)
	// FindLatestCampaignExecution returns the most recent run with one of the
	// given statuses (any status when empty), or nil.
	FindLatestCampaignExecution(ctx context.Context, campaignID string, statuses []models.ExecutionStatus) (*models.CampaignExecution, error)
	ListCampaignExecutions(ctx context.Context, campaignID string, page, pageSize int) ([]*models.CampaignExecution, int, error)
	UpdateCampaignExecution(ctx context.Context, id string, update models.ExecutionUpdate) error

	CreateStepExecution(ctx context.Context, executionID, stepID string) (*models.StepExecution, error)
	FindStepExecution(ctx context.Context, executionID, stepID string) (*models.StepExecution, error)
	UpdateStepExecution(ctx context.Context, id string, update models.StepExecutionUpdate) error

	CreateStepRecipient(ctx context.Context, recipient *models.StepRecipient) error
	FindStepRecipient(ctx context.Context, stepExecutionID, userID string) (*models.StepRecipient, error)
	ListStepRecipients(ctx context.Context, stepExecutionID string) ([]*models.StepRecipient, error)
	UpdateStepRecipient(ctx context.Context, id string, update models.RecipientUpdate) error
}

// OutboxRepository defines outbox row lifecycle operations
type OutboxRepository interface {
	CreateOutboxEvent(ctx context.Context, event models.NewOutboxEvent) (*models.OutboxEvent, error)
	FetchUnpublishedOutboxEvents(ctx context.Context, limit int, now time.Time) ([]*models.OutboxEvent, error)
	MarkOutboxEventPublished(ctx context.Context, id string) error
	MarkOutboxEventFailed(ctx context.Context, id, errMsg string, backoffSeconds int) error
	MarkOutboxEventGiveUp(ctx context.Context, id, errMsg string) error
}

// Repository is the full persistence surface used by the scheduler pipeline
type Repository interface {
	CampaignRepository
	ExecutionRepository
	OutboxRepository
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type postgresRepository struct {
	*campaignRepository
	*executionRepository
	*outboxRepository
}

// New returns the PostgreSQL-backed Repository
func New(db *sql.DB) Repository {
	return &postgresRepository{
		campaignRepository:  &campaignRepository{db: db},
		executionRepository: &executionRepository{db: db},
		outboxRepository:    &outboxRepository{db: db},
	}
}

// maxErrorLength bounds error text persisted on rows
const maxErrorLength = 500

// TruncateError cuts s to at most maxErrorLength bytes on a rune boundary
func TruncateError(s string) string {
	if len(s) <= maxErrorLength {
		return s
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
