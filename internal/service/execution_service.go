package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"campaignservice/internal/models"
	"campaignservice/internal/repository"
)

// ExecutionAction is an operator action on one execution
type ExecutionAction string

const (
	ExecutionActionRetry ExecutionAction = "retry"
	ExecutionActionStop  ExecutionAction = "stop"
)

// ExecutionService lets operators trigger, retry, stop and list executions
type ExecutionService struct {
	campaigns   repository.CampaignRepository
	executions  repository.ExecutionRepository
	orch        Enqueuer
	jobs        JobPublisher
	maxAttempts int
	log         zerolog.Logger
}

// NewExecutionService creates an execution service
func NewExecutionService(
	campaigns repository.CampaignRepository,
	executions repository.ExecutionRepository,
	orch Enqueuer,
	jobs JobPublisher,
	maxAttempts int,
	log zerolog.Logger,
) *ExecutionService {
	if maxAttempts <= 0 {
		maxAttempts = defaultJobMaxAttempts
	}
	return &ExecutionService{
		campaigns:   campaigns,
		executions:  executions,
		orch:        orch,
		jobs:        jobs,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "executions").Logger(),
	}
}

func (s *ExecutionService) campaign(ctx context.Context, id string, scope []string) (*models.Campaign, error) {
	campaign, err := s.campaigns.FindCampaignByID(ctx, id, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}
	return campaign, nil
}

// execution loads an execution that belongs to a campaign within scope
func (s *ExecutionService) execution(ctx context.Context, campaignID, executionID string, scope []string) (*models.Campaign, *models.CampaignExecution, error) {
	campaign, err := s.campaign(ctx, campaignID, scope)
	if err != nil {
		return nil, nil, err
	}

	execution, err := s.executions.FindCampaignExecution(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if execution == nil || execution.CampaignID != campaign.ID {
		return nil, nil, &NotFoundError{Resource: "execution", ID: executionID}
	}
	return campaign, execution, nil
}

// Trigger runs the due-ness gate for one campaign now
func (s *ExecutionService) Trigger(ctx context.Context, campaignID string, scope []string) (*models.EnqueueResult, error) {
	campaign, err := s.campaign(ctx, campaignID, scope)
	if err != nil {
		return nil, err
	}
	return s.orch.EnqueueIfDue(ctx, campaign)
}

// Manage retries or stops an execution and returns its current state.
// Retrying a RUNNING execution and stopping a non-RUNNING one are no-ops.
func (s *ExecutionService) Manage(ctx context.Context, campaignID, executionID string, scope []string, action ExecutionAction) (*models.CampaignExecution, error) {
	if action != ExecutionActionRetry && action != ExecutionActionStop {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid action %q: must be retry or stop", action)}
	}

	campaign, execution, err := s.execution(ctx, campaignID, executionID, scope)
	if err != nil {
		return nil, err
	}

	log := s.log.With().Str("campaign_id", campaign.ID).Str("execution_id", execution.ID).Logger()

	switch action {
	case ExecutionActionRetry:
		// RETRYING already has a delayed job queued; a second job would
		// process the execution concurrently
		if execution.Status == models.ExecutionRunning || execution.Status == models.ExecutionRetrying {
			return execution, nil
		}
		if err := s.executions.UpdateCampaignExecution(ctx, execution.ID, models.ExecutionUpdate{Status: models.ExecutionRunning, ClearError: true}); err != nil {
			return nil, fmt.Errorf("failed to update execution: %w", err)
		}
		job := models.CampaignJob{
			CampaignID:          campaign.ID,
			CampaignExecutionID: execution.ID,
			BusinessID:          campaign.BusinessID,
			Attempt:             0,
			MaxAttempts:         s.maxAttempts,
		}
		if err := s.jobs.PublishJob(ctx, job); err != nil {
			msg := "failed to enqueue retry: " + err.Error()
			if uerr := s.executions.UpdateCampaignExecution(context.WithoutCancel(ctx), execution.ID, models.ExecutionUpdate{Status: models.ExecutionFailed, ErrorMessage: &msg}); uerr != nil {
				log.Error().Err(uerr).Msg("failed to mark unqueued execution failed")
			}
			return nil, fmt.Errorf("failed to publish retry job: %w", err)
		}
		log.Info().Msg("execution retry enqueued")

	case ExecutionActionStop:
		if execution.Status != models.ExecutionRunning {
			return execution, nil
		}
		if err := s.executions.UpdateCampaignExecution(ctx, execution.ID, models.ExecutionUpdate{Status: models.ExecutionStopped, ClearError: true}); err != nil {
			return nil, fmt.Errorf("failed to update execution: %w", err)
		}
		log.Info().Msg("execution stopped")
	}

	updated, err := s.executions.FindCampaignExecution(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload execution: %w", err)
	}
	if updated == nil {
		return nil, &NotFoundError{Resource: "execution", ID: execution.ID}
	}
	return updated, nil
}

// ExecutionPage is one page of executions
type ExecutionPage struct {
	Executions []*models.CampaignExecution `json:"executions"`
	Pagination *PaginationInfo             `json:"pagination"`
}

// List returns a campaign's executions, newest first
func (s *ExecutionService) List(ctx context.Context, campaignID string, scope []string, page, pageSize int) (*ExecutionPage, error) {
	if _, err := s.campaign(ctx, campaignID, scope); err != nil {
		return nil, err
	}

	executions, total, err := s.executions.ListCampaignExecutions(ctx, campaignID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	return &ExecutionPage{
		Executions: executions,
		Pagination: &PaginationInfo{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	}, nil
}

// StepRecipients lists the recipients of one step execution of an execution
func (s *ExecutionService) StepRecipients(ctx context.Context, campaignID, executionID, stepID string, scope []string) ([]*models.StepRecipient, error) {
	if _, _, err := s.execution(ctx, campaignID, executionID, scope); err != nil {
		return nil, err
	}

	se, err := s.executions.FindStepExecution(ctx, executionID, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step execution: %w", err)
	}
	if se == nil {
		return nil, &NotFoundError{Resource: "step execution", ID: stepID}
	}
	return s.executions.ListStepRecipients(ctx, se.ID)
}
