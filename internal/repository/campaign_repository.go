package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"campaignservice/internal/models"
)

type campaignRepository struct {
	db DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// FindDueActiveCampaigns lists ACTIVE campaigns whose window contains now
func (r *campaignRepository) FindDueActiveCampaigns(ctx context.Context, now time.Time) ([]models.DueCampaign, error) {
	query := `
		SELECT id, business_id
		FROM campaigns
		WHERE status = 'ACTIVE'
		  AND (start_at IS NULL OR start_at <= $1)
		  AND (end_at IS NULL OR end_at >= $1)
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find due campaigns: %w", err)
	}
	defer rows.Close()

	due := []models.DueCampaign{}
	for rows.Next() {
		var c models.DueCampaign
		if err := rows.Scan(&c.ID, &c.BusinessID); err != nil {
			return nil, fmt.Errorf("failed to scan due campaign: %w", err)
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due campaigns: %w", err)
	}

	return due, nil
}

// FindCampaignByID retrieves a campaign with steps, templates and targeting rules
func (r *campaignRepository) FindCampaignByID(ctx context.Context, id string, businessIDs []string) (*models.Campaign, error) {
	queryBuilder := strings.Builder{}
	queryBuilder.WriteString(`
		SELECT id, business_id, name, status, schedule_type, recurrence_rule,
		       start_at, end_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`)
	args := []interface{}{id}
	if len(businessIDs) > 0 {
		queryBuilder.WriteString(" AND business_id = ANY($2)")
		args = append(args, pq.Array(businessIDs))
	}

	campaign := &models.Campaign{}
	var recurrence sql.NullString
	err := r.db.QueryRowContext(ctx, queryBuilder.String(), args...).Scan(
		&campaign.ID,
		&campaign.BusinessID,
		&campaign.Name,
		&campaign.Status,
		&campaign.ScheduleType,
		&recurrence,
		&campaign.StartAt,
		&campaign.EndAt,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if recurrence.Valid && recurrence.String != "" {
		rule := models.RecurrenceRule(recurrence.String)
		campaign.RecurrenceRule = &rule
	}

	steps, err := r.findSteps(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}
	campaign.Steps = steps

	return campaign, nil
}

// findSteps loads steps in execution order with their template and rules
func (r *campaignRepository) findSteps(ctx context.Context, campaignID string) ([]*models.Step, error) {
	query := `
		SELECT s.id, s.campaign_id, s.step_order, s.name, s.channel, s.prize_id,
		       t.id, t.channel, t.subject, t.body_text, t.body_html
		FROM campaign_steps s
		LEFT JOIN step_templates t ON t.step_id = s.id
		WHERE s.campaign_id = $1
		ORDER BY s.step_order ASC, s.created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign steps: %w", err)
	}
	defer rows.Close()

	steps := []*models.Step{}
	byID := map[string]*models.Step{}
	stepIDs := []string{}
	for rows.Next() {
		step := &models.Step{}
		var (
			tplID, tplChannel, tplBody sql.NullString
			tplSubject, tplHTML        sql.NullString
		)
		err := rows.Scan(
			&step.ID,
			&step.CampaignID,
			&step.StepOrder,
			&step.Name,
			&step.Channel,
			&step.PrizeID,
			&tplID,
			&tplChannel,
			&tplSubject,
			&tplBody,
			&tplHTML,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign step: %w", err)
		}
		if tplID.Valid {
			step.Template = &models.Template{
				ID:       tplID.String,
				Channel:  models.Channel(tplChannel.String),
				Subject:  nullStringPtr(tplSubject),
				BodyText: tplBody.String,
				BodyHTML: nullStringPtr(tplHTML),
			}
		}
		step.TargetingRules = []*models.TargetingRule{}
		steps = append(steps, step)
		byID[step.ID] = step
		stepIDs = append(stepIDs, step.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaign steps: %w", err)
	}

	if len(stepIDs) == 0 {
		return steps, nil
	}

	ruleRows, err := r.db.QueryContext(ctx, `
		SELECT id, step_id, database, field, operator, value
		FROM targeting_rules
		WHERE step_id = ANY($1)
		ORDER BY created_at ASC
	`, pq.Array(stepIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list targeting rules: %w", err)
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		rule := &models.TargetingRule{}
		var value []byte
		if err := ruleRows.Scan(&rule.ID, &rule.StepID, &rule.Database, &rule.Field, &rule.Operator, &value); err != nil {
			return nil, fmt.Errorf("failed to scan targeting rule: %w", err)
		}
		if len(value) > 0 {
			rule.Value = json.RawMessage(value)
		}
		if step, ok := byID[rule.StepID]; ok {
			step.TargetingRules = append(step.TargetingRules, rule)
		}
	}
	if err := ruleRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate targeting rules: %w", err)
	}

	return steps, nil
}

// UpdateCampaign applies lifecycle changes to a campaign
func (r *campaignRepository) UpdateCampaign(ctx context.Context, id string, businessIDs []string, update models.CampaignUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("UPDATE campaigns SET updated_at = NOW()")
	args := []interface{}{}
	argPos := 1

	if update.Status != nil {
		queryBuilder.WriteString(fmt.Sprintf(", status = $%d", argPos))
		args = append(args, *update.Status)
		argPos++
	}
	if update.StartAt != nil {
		queryBuilder.WriteString(fmt.Sprintf(", start_at = $%d", argPos))
		args = append(args, *update.StartAt)
		argPos++
	}
	if update.EndAt != nil {
		queryBuilder.WriteString(fmt.Sprintf(", end_at = $%d", argPos))
		args = append(args, *update.EndAt)
		argPos++
	}

	queryBuilder.WriteString(fmt.Sprintf(" WHERE id = $%d", argPos))
	args = append(args, id)
	argPos++
	if len(businessIDs) > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" AND business_id = ANY($%d)", argPos))
		args = append(args, pq.Array(businessIDs))
	}

	result, err := r.db.ExecContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
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

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
