package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"campaignservice/internal/models"
	"campaignservice/internal/repository"
)

// GatingPolicy decides what happens when due-ness cannot be evaluated
type GatingPolicy string

const (
	// GatingFailOpen proceeds to execute when gating errors
	GatingFailOpen GatingPolicy = "fail-open"
	// GatingFailClosed skips the campaign with reason gating-error
	GatingFailClosed GatingPolicy = "fail-closed"
)

// ParseGatingPolicy maps a config value to a policy; empty means fail-open
func ParseGatingPolicy(s string) (GatingPolicy, error) {
	switch GatingPolicy(s) {
	case "", GatingFailOpen:
		return GatingFailOpen, nil
	case GatingFailClosed:
		return GatingFailClosed, nil
	}
	return "", fmt.Errorf("unknown gating policy %q", s)
}

// Skip reasons reported by the orchestrator
const (
	ReasonCampaignNull          = "campaign-null"
	ReasonStatusNotActive       = "status-not-active"
	ReasonOneTimeExecuted       = "one-time-already-executed"
	ReasonOneTimeRerunNotDue    = "one-time-rerun-not-due"
	ReasonRecurrenceNotDue      = "recurrence-not-due"
	ReasonGatingError           = "gating-error"
	defaultOrchestratorAttempts = 2
)

// OrchestratorConfig tunes gating
type OrchestratorConfig struct {
	MaxAttempts          int
	AllowOneTimeRerun    bool
	OneTimeRerunInterval time.Duration
	GatingPolicy         GatingPolicy
}

// Orchestrator decides whether a campaign is due and, if so, creates an
// execution and submits its job.
type Orchestrator struct {
	repo repository.ExecutionRepository
	jobs JobPublisher
	cfg  OrchestratorConfig
	log  zerolog.Logger
	now  func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(repo repository.ExecutionRepository, jobs JobPublisher, cfg OrchestratorConfig, log zerolog.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultOrchestratorAttempts
	}
	if cfg.GatingPolicy == "" {
		cfg.GatingPolicy = GatingFailOpen
	}
	return &Orchestrator{
		repo: repo,
		jobs: jobs,
		cfg:  cfg,
		log:  log.With().Str("component", "orchestrator").Logger(),
		now:  time.Now,
	}
}

// EnqueueIfDue gates the campaign and enqueues a new execution when due
func (o *Orchestrator) EnqueueIfDue(ctx context.Context, campaign *models.Campaign) (*models.EnqueueResult, error) {
	if campaign == nil {
		return models.Skip(ReasonCampaignNull), nil
	}
	if !campaign.IsActive() {
		return models.Skip(ReasonStatusNotActive), nil
	}

	log := o.log.With().Str("campaign_id", campaign.ID).Logger()

	skip, err := o.gate(ctx, campaign)
	if err != nil {
		if o.cfg.GatingPolicy == GatingFailClosed {
			log.Error().Err(err).Msg("gating failed, skipping campaign")
			return models.Skip(ReasonGatingError), nil
		}
		log.Warn().Err(err).Msg("gating failed, proceeding")
	} else if skip != nil {
		log.Info().Str("reason", skip.Reason).Msg("campaign not due")
		return skip, nil
	}

	execution, err := o.repo.CreateCampaignExecution(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign execution: %w", err)
	}

	job := models.CampaignJob{
		CampaignID:          campaign.ID,
		CampaignExecutionID: execution.ID,
		BusinessID:          campaign.BusinessID,
		Attempt:             0,
		MaxAttempts:         o.cfg.MaxAttempts,
	}
	if err := o.jobs.PublishJob(ctx, job); err != nil {
		// a RUNNING row without a job would block one-time gating forever,
		// so the mark survives a cancelled ctx
		msg := "failed to enqueue job: " + err.Error()
		if uerr := o.repo.UpdateCampaignExecution(context.WithoutCancel(ctx), execution.ID, models.ExecutionUpdate{Status: models.ExecutionFailed, ErrorMessage: &msg}); uerr != nil {
			log.Error().Err(uerr).Str("execution_id", execution.ID).Msg("failed to mark unqueued execution failed")
		}
		return nil, fmt.Errorf("failed to publish campaign job: %w", err)
	}

	log.Info().Str("execution_id", execution.ID).Msg("enqueued campaign execution")
	return &models.EnqueueResult{Enqueued: true, ExecutionID: execution.ID}, nil
}

// gate returns a skip result when the campaign is not due
func (o *Orchestrator) gate(ctx context.Context, campaign *models.Campaign) (*models.EnqueueResult, error) {
	now := o.now()

	switch campaign.ScheduleType {
	case models.ScheduleOneTime:
		latest, err := o.repo.FindLatestCampaignExecution(ctx, campaign.ID, []models.ExecutionStatus{models.ExecutionCompleted, models.ExecutionRunning})
		if err != nil {
			return nil, fmt.Errorf("failed to find latest execution: %w", err)
		}
		if latest == nil {
			return nil, nil
		}
		if !o.cfg.AllowOneTimeRerun {
			return o.skipAfter(ReasonOneTimeExecuted, latest), nil
		}
		if o.cfg.OneTimeRerunInterval > 0 && now.Sub(latest.RunAt) < o.cfg.OneTimeRerunInterval {
			return o.skipAfter(ReasonOneTimeRerunNotDue, latest), nil
		}
		return nil, nil

	case models.ScheduleRecurring:
		if campaign.RecurrenceRule == nil {
			return nil, nil
		}
		latest, err := o.repo.FindLatestCampaignExecution(ctx, campaign.ID, []models.ExecutionStatus{models.ExecutionCompleted})
		if err != nil {
			return nil, fmt.Errorf("failed to find latest execution: %w", err)
		}
		if latest == nil {
			return nil, nil
		}
		if !IsRecurrenceDue(campaign.RecurrenceRule, latest.RunAt, now) {
			return o.skipAfter(ReasonRecurrenceNotDue, latest), nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) skipAfter(reason string, latest *models.CampaignExecution) *models.EnqueueResult {
	res := models.Skip(reason)
	runAt := latest.RunAt
	res.LastRunAt = &runAt
	return res
}
