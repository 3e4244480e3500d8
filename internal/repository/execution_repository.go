package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"campaignservice/internal/models"
)

type executionRepository struct {
	db DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db DB) ExecutionRepository {
	return &executionRepository{db: db}
}

const executionColumns = `id, campaign_id, status, run_at, error_message, created_at, updated_at`

func scanExecution(row interface{ Scan(...interface{}) error }) (*models.CampaignExecution, error) {
	e := &models.CampaignExecution{}
	err := row.Scan(&e.ID, &e.CampaignID, &e.Status, &e.RunAt, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CreateCampaignExecution starts a new RUNNING execution at the current time
func (r *executionRepository) CreateCampaignExecution(ctx context.Context, campaignID string) (*models.CampaignExecution, error) {
	query := `
		INSERT INTO campaign_executions (campaign_id, status, run_at)
		VALUES ($1, 'RUNNING', NOW())
		RETURNING ` + executionColumns

	e, err := scanExecution(r.db.QueryRowContext(ctx, query, campaignID))
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign execution: %w", err)
	}
	return e, nil
}

// FindCampaignExecution retrieves an execution by ID, or nil
func (r *executionRepository) FindCampaignExecution(ctx context.Context, id string) (*models.CampaignExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM campaign_executions WHERE id = $1`

	e, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign execution: %w", err)
	}
	return e, nil
}

// FindLatestCampaignExecution returns the newest execution matching statuses
func (r *executionRepository) FindLatestCampaignExecution(ctx context.Context, campaignID string, statuses []models.ExecutionStatus) (*models.CampaignExecution, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`SELECT ` + executionColumns + ` FROM campaign_executions WHERE campaign_id = $1`)
	args := []interface{}{campaignID}

	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		queryBuilder.WriteString(" AND status = ANY($2)")
		args = append(args, pq.Array(values))
	}
	queryBuilder.WriteString(" ORDER BY run_at DESC LIMIT 1")

	e, err := scanExecution(r.db.QueryRowContext(ctx, queryBuilder.String(), args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest campaign execution: %w", err)
	}
	return e, nil
}

// ListCampaignExecutions returns a page of executions, newest first
func (r *executionRepository) ListCampaignExecutions(ctx context.Context, campaignID string, page, pageSize int) ([]*models.CampaignExecution, int, error) {
	limit := pageSize
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + executionColumns + `
		FROM campaign_executions
		WHERE campaign_id = $1
		ORDER BY run_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaign executions: %w", err)
	}
	defer rows.Close()

	executions := []*models.CampaignExecution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate campaign executions: %w", err)
	}

	var total int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_executions WHERE campaign_id = $1`, campaignID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	return executions, total, nil
}

// UpdateCampaignExecution sets the execution status and optionally its error
func (r *executionRepository) UpdateCampaignExecution(ctx context.Context, id string, update models.ExecutionUpdate) error {
	var (
		query string
		args  []interface{}
	)
	switch {
	case update.ErrorMessage != nil:
		query = `UPDATE campaign_executions SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`
		args = []interface{}{update.Status, TruncateError(*update.ErrorMessage), id}
	case update.ClearError:
		query = `UPDATE campaign_executions SET status = $1, error_message = NULL, updated_at = NOW() WHERE id = $2`
		args = []interface{}{update.Status, id}
	default:
		query = `UPDATE campaign_executions SET status = $1, updated_at = NOW() WHERE id = $2`
		args = []interface{}{update.Status, id}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update campaign execution: %w", err)
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

const stepExecutionColumns = `id, campaign_execution_id, step_id, status, error_message, created_at, updated_at`

func scanStepExecution(row interface{ Scan(...interface{}) error }) (*models.StepExecution, error) {
	s := &models.StepExecution{}
	err := row.Scan(&s.ID, &s.CampaignExecutionID, &s.StepID, &s.Status, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateStepExecution creates a RUNNING step execution
func (r *executionRepository) CreateStepExecution(ctx context.Context, executionID, stepID string) (*models.StepExecution, error) {
	query := `
		INSERT INTO step_executions (campaign_execution_id, step_id, status)
		VALUES ($1, $2, 'RUNNING')
		RETURNING ` + stepExecutionColumns

	s, err := scanStepExecution(r.db.QueryRowContext(ctx, query, executionID, stepID))
	if err != nil {
		return nil, fmt.Errorf("failed to create step execution: %w", err)
	}
	return s, nil
}

// FindStepExecution returns the step execution for (execution, step), or nil
func (r *executionRepository) FindStepExecution(ctx context.Context, executionID, stepID string) (*models.StepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + `
		FROM step_executions
		WHERE campaign_execution_id = $1 AND step_id = $2`

	s, err := scanStepExecution(r.db.QueryRowContext(ctx, query, executionID, stepID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step execution: %w", err)
	}
	return s, nil
}

// UpdateStepExecution sets the step status and error message
func (r *executionRepository) UpdateStepExecution(ctx context.Context, id string, update models.StepExecutionUpdate) error {
	var errMsg interface{}
	if update.ErrorMessage != nil {
		errMsg = TruncateError(*update.ErrorMessage)
	}

	query := `
		UPDATE step_executions
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, update.Status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
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

const recipientColumns = `id, step_execution_id, user_id, status, attempts, enqueued_at, sent_at,
	delivered_at, external_message_id, created_at, updated_at`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*models.StepRecipient, error) {
	r := &models.StepRecipient{}
	err := row.Scan(
		&r.ID,
		&r.StepExecutionID,
		&r.UserID,
		&r.Status,
		&r.Attempts,
		&r.EnqueuedAt,
		&r.SentAt,
		&r.DeliveredAt,
		&r.ExternalMessageID,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateStepRecipient inserts a recipient and fills generated fields
func (r *executionRepository) CreateStepRecipient(ctx context.Context, recipient *models.StepRecipient) error {
	query := `
		INSERT INTO step_recipients (step_execution_id, user_id, status, attempts, enqueued_at, external_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		recipient.StepExecutionID,
		recipient.UserID,
		recipient.Status,
		recipient.Attempts,
		recipient.EnqueuedAt,
		recipient.ExternalMessageID,
	).Scan(&recipient.ID, &recipient.CreatedAt, &recipient.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create step recipient: %w", err)
	}
	return nil
}

// FindStepRecipient returns the recipient row for a user, or nil
func (r *executionRepository) FindStepRecipient(ctx context.Context, stepExecutionID, userID string) (*models.StepRecipient, error) {
	query := `SELECT ` + recipientColumns + `
		FROM step_recipients
		WHERE step_execution_id = $1 AND user_id = $2`

	rec, err := scanRecipient(r.db.QueryRowContext(ctx, query, stepExecutionID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step recipient: %w", err)
	}
	return rec, nil
}

// ListStepRecipients returns every recipient of a step execution
func (r *executionRepository) ListStepRecipients(ctx context.Context, stepExecutionID string) ([]*models.StepRecipient, error) {
	query := `SELECT ` + recipientColumns + `
		FROM step_recipients
		WHERE step_execution_id = $1
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, stepExecutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step recipients: %w", err)
	}
	defer rows.Close()

	recipients := []*models.StepRecipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step recipient: %w", err)
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step recipients: %w", err)
	}
	return recipients, nil
}

// UpdateStepRecipient applies status, attempt and timestamp changes
func (r *executionRepository) UpdateStepRecipient(ctx context.Context, id string, update models.RecipientUpdate) error {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("UPDATE step_recipients SET status = $1, updated_at = NOW()")
	args := []interface{}{update.Status}
	argPos := 2

	if update.Attempts != nil {
		queryBuilder.WriteString(fmt.Sprintf(", attempts = $%d", argPos))
		args = append(args, *update.Attempts)
		argPos++
	}
	if update.EnqueuedAt != nil {
		queryBuilder.WriteString(fmt.Sprintf(", enqueued_at = $%d", argPos))
		args = append(args, *update.EnqueuedAt)
		argPos++
	}
	if update.ExternalMessageID != nil {
		queryBuilder.WriteString(fmt.Sprintf(", external_message_id = $%d", argPos))
		args = append(args, *update.ExternalMessageID)
		argPos++
	}
	queryBuilder.WriteString(fmt.Sprintf(" WHERE id = $%d", argPos))
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to update step recipient: %w", err)
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
