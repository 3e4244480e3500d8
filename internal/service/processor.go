package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"campaignservice/internal/capacity"
	"campaignservice/internal/clients"
	"campaignservice/internal/models"
	"campaignservice/internal/outbox"
	"campaignservice/internal/repository"
)

// Step and job reasons reported by the processor
const (
	ReasonCampaignNotFound     = "campaign-not-found"
	ReasonExecutionNotFound    = "execution-not-found"
	ReasonExecutionMismatch    = "execution-campaign-mismatch"
	ReasonExecutionStopped     = "execution-stopped"
	ReasonCampaignLoadFailed   = "campaign-load-failed"
	ReasonNoCapacity           = "no-capacity"
	ReasonNoUserTargetingRules = "no-user-targeting-rules"
	ReasonMissingTemplate      = "missing-template"
	ReasonNoUsers              = "no-users"
	ReasonNothingToDo          = "nothing-to-do"
	ReasonAlreadyCompleted     = "already-completed"
	ReasonResumed              = "resumed"

	defaultJobMaxAttempts = 2
)

// ProcessorConfig tunes job processing
type ProcessorConfig struct {
	// MaxAttempts applies when a job carries none
	MaxAttempts       int
	DefaultFrom       string
	OutboxMaxAttempts int
	TraceID           string
	// Ledger, when set, coordinates capacity between concurrent jobs in this process
	Ledger *capacity.Ledger
}

// Processor executes one campaign execution job
type Processor struct {
	repo      repository.Repository
	business  BusinessClient
	users     UserClient
	messaging MessagingClient
	renderer  TemplateRenderer
	cfg       ProcessorConfig
	log       zerolog.Logger
	now       func() time.Time
}

// NewProcessor creates a processor
func NewProcessor(
	repo repository.Repository,
	business BusinessClient,
	users UserClient,
	messaging MessagingClient,
	renderer TemplateRenderer,
	cfg ProcessorConfig,
	log zerolog.Logger,
) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultJobMaxAttempts
	}
	if cfg.DefaultFrom == "" {
		cfg.DefaultFrom = DefaultFrom
	}
	return &Processor{
		repo:      repo,
		business:  business,
		users:     users,
		messaging: messaging,
		renderer:  renderer,
		cfg:       cfg,
		log:       log.With().Str("component", "processor").Logger(),
		now:       time.Now,
	}
}

// ProcessJob runs every step of the job's campaign and finalizes the
// execution. The only error returned is a *ValidationError for a malformed
// job; every other outcome is reported in the result.
func (p *Processor) ProcessJob(ctx context.Context, job models.CampaignJob) (*models.ExecutionResult, error) {
	if err := job.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = p.cfg.MaxAttempts
	}

	log := p.log.With().
		Str("campaign_id", job.CampaignID).
		Str("execution_id", job.CampaignExecutionID).
		Int("attempt", job.Attempt).
		Logger()

	result := &models.ExecutionResult{
		CampaignExecutionID: job.CampaignExecutionID,
		Steps:               []*models.StepSummary{},
		Attempt:             job.Attempt + 1,
		MaxAttempts:         job.MaxAttempts,
	}

	execution, err := p.repo.FindCampaignExecution(ctx, job.CampaignExecutionID)
	if err != nil {
		return p.failJob(ctx, log, job, result, ReasonCampaignLoadFailed, err), nil
	}
	if execution == nil {
		result.Failed, result.FinalFailure, result.Reason = true, true, ReasonExecutionNotFound
		log.Error().Msg("execution not found")
		return result, nil
	}
	if execution.CampaignID != job.CampaignID {
		result.Failed, result.FinalFailure, result.Reason = true, true, ReasonExecutionMismatch
		log.Error().Str("execution_campaign_id", execution.CampaignID).Msg("execution belongs to another campaign")
		return result, nil
	}
	if execution.Status == models.ExecutionStopped {
		result.Skipped, result.Reason = true, ReasonExecutionStopped
		log.Info().Msg("execution stopped, skipping job")
		return result, nil
	}

	campaign, err := p.repo.FindCampaignByID(ctx, job.CampaignID, []string{job.BusinessID})
	if err != nil {
		return p.failJob(ctx, log, job, result, ReasonCampaignLoadFailed, err), nil
	}
	if campaign == nil {
		result.Failed, result.FinalFailure, result.Reason = true, true, ReasonCampaignNotFound
		p.updateExecution(ctx, log, job.CampaignExecutionID, models.ExecutionFailed, ReasonCampaignNotFound)
		return result, nil
	}
	if !campaign.IsActive() {
		result.Skipped, result.Reason = true, ReasonStatusNotActive
		p.updateExecution(ctx, log, job.CampaignExecutionID, models.ExecutionStopped, "campaign is "+string(campaign.Status))
		return result, nil
	}

	if execution.Status != models.ExecutionRunning {
		p.updateExecution(ctx, log, job.CampaignExecutionID, models.ExecutionRunning, "")
	}

	steps := append([]*models.Step(nil), campaign.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	var failures []string
	for _, step := range steps {
		summary := p.runStep(ctx, log, campaign, execution, step)
		result.Steps = append(result.Steps, summary)
		if summary.Status == models.StepFailed {
			result.Failed = true
			msg := summary.Error
			if msg == "" {
				msg = fmt.Sprintf("%d recipients failed", summary.Failed)
			}
			failures = append(failures, fmt.Sprintf("step %s: %s", step.ID, msg))
		}
	}

	result.FinalFailure = result.Failed && job.Attempt+1 >= job.MaxAttempts
	switch {
	case !result.Failed:
		p.updateExecution(ctx, log, job.CampaignExecutionID, models.ExecutionCompleted, "")
	case result.FinalFailure:
		p.updateExecution(ctx, log, job.CampaignExecutionID, models.ExecutionFailed, strings.Join(failures, "; "))
	default:
		p.updateExecution(ctx, log, job.CampaignExecutionID, models.ExecutionRetrying, strings.Join(failures, "; "))
	}

	log.Info().
		Bool("failed", result.Failed).
		Bool("final_failure", result.FinalFailure).
		Int("steps", len(result.Steps)).
		Msg("processed campaign job")
	return result, nil
}

// failJob reports a repository failure before any step ran as a failed attempt
func (p *Processor) failJob(ctx context.Context, log zerolog.Logger, job models.CampaignJob, result *models.ExecutionResult, reason string, err error) *models.ExecutionResult {
	result.Failed = true
	result.FinalFailure = job.Attempt+1 >= job.MaxAttempts
	result.Reason = reason
	log.Error().Err(err).Str("reason", reason).Msg("campaign job failed before steps")

	status := models.ExecutionRetrying
	if result.FinalFailure {
		status = models.ExecutionFailed
	}
	p.updateExecution(ctx, log, job.CampaignExecutionID, status, err.Error())
	return result
}

func (p *Processor) updateExecution(ctx context.Context, log zerolog.Logger, id string, status models.ExecutionStatus, msg string) {
	update := models.ExecutionUpdate{Status: status}
	if msg != "" {
		update.ErrorMessage = &msg
	} else if status == models.ExecutionRunning || status == models.ExecutionCompleted {
		update.ClearError = true
	}
	if err := p.repo.UpdateCampaignExecution(ctx, id, update); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("failed to update execution status")
	}
}

// stepRun carries the state of one step while recipients are fanned out
type stepRun struct {
	campaign  *models.Campaign
	step      *models.Step
	se        *models.StepExecution
	summary   *models.StepSummary
	existing  map[string]*models.StepRecipient
	active    int
	remaining int
	log       zerolog.Logger
}

// runStep executes one step. Step-level errors mark it FAILED and never
// abort the remaining steps.
func (p *Processor) runStep(ctx context.Context, log zerolog.Logger, campaign *models.Campaign, execution *models.CampaignExecution, step *models.Step) *models.StepSummary {
	summary := &models.StepSummary{StepID: step.ID}
	log = log.With().Str("step_id", step.ID).Str("channel", string(step.Channel)).Logger()

	se, resumed, err := p.openStepExecution(ctx, execution.ID, step.ID)
	if err != nil {
		summary.Status = models.StepFailed
		summary.Error = err.Error()
		log.Error().Err(err).Msg("failed to open step execution")
		return summary
	}
	summary.StepExecutionID = se.ID
	log = log.With().Str("step_execution_id", se.ID).Logger()

	if se.Status == models.StepCompleted {
		summary.Status = models.StepCompleted
		summary.Skipped = true
		summary.Reason = ReasonAlreadyCompleted
		return summary
	}

	run := &stepRun{campaign: campaign, step: step, se: se, summary: summary, log: log}
	if err := p.fanOut(ctx, run, resumed); err != nil {
		msg := truncateMessage(err.Error())
		summary.Status = models.StepFailed
		summary.Skipped = false
		summary.Error = msg
		if uerr := p.repo.UpdateStepExecution(ctx, se.ID, models.StepExecutionUpdate{Status: models.StepFailed, ErrorMessage: &msg}); uerr != nil {
			log.Error().Err(uerr).Msg("failed to mark step execution failed")
		}
		log.Error().Err(err).Msg("step execution failed")
		return summary
	}

	if summary.Status == models.StepFailed {
		msg := fmt.Sprintf("%d recipients failed", summary.Failed)
		p.setStepStatus(ctx, run, models.StepFailed, &msg)
	} else {
		p.setStepStatus(ctx, run, summary.Status, nil)
	}

	if summary.Scheduled > 0 {
		p.emitStepReady(ctx, run)
	}
	return summary
}

// openStepExecution reuses this execution's row for the step or creates one
func (p *Processor) openStepExecution(ctx context.Context, executionID, stepID string) (*models.StepExecution, bool, error) {
	se, err := p.repo.FindStepExecution(ctx, executionID, stepID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find step execution: %w", err)
	}
	if se != nil {
		if se.Status != models.StepCompleted && se.Status != models.StepRunning {
			if err := p.repo.UpdateStepExecution(ctx, se.ID, models.StepExecutionUpdate{Status: models.StepRunning}); err != nil {
				return nil, false, fmt.Errorf("failed to restart step execution: %w", err)
			}
			se.Status = models.StepRunning
		}
		return se, true, nil
	}

	se, err = p.repo.CreateStepExecution(ctx, executionID, stepID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create step execution: %w", err)
	}
	return se, false, nil
}

func (p *Processor) fanOut(ctx context.Context, run *stepRun, resumed bool) error {
	step, summary := run.step, run.summary
	businessID := run.campaign.BusinessID

	raw, err := p.business.AvailableMessages(ctx, businessID)
	if err != nil {
		return err
	}
	allowance, shape, err := capacity.ParseAllowance(raw)
	if err != nil {
		return fmt.Errorf("failed to parse available messages: %w", err)
	}
	limit := capacity.Calculate([]models.Channel{step.Channel}, allowance, nil).Limit
	run.log.Debug().Str("shape", string(shape)).Int("capacity", limit).Msg("computed step capacity")

	run.existing = map[string]*models.StepRecipient{}
	if resumed {
		recipients, err := p.repo.ListStepRecipients(ctx, run.se.ID)
		if err != nil {
			return fmt.Errorf("failed to list step recipients: %w", err)
		}
		for _, r := range recipients {
			run.existing[r.UserID] = r
			if r.Active() {
				run.active++
			}
		}
	}

	run.remaining = limit - run.active
	if p.cfg.Ledger != nil && run.remaining > 0 {
		granted, release := p.cfg.Ledger.Reserve(businessID, step.Channel, limit, run.remaining)
		defer release()
		run.remaining = granted
	}

	if run.remaining <= 0 {
		if run.active > 0 {
			summary.Status, summary.Reason = models.StepCompleted, ReasonResumed
			return nil
		}
		p.skip(run, ReasonNoCapacity)
		return nil
	}

	rules := step.UserRules()
	if len(rules) == 0 {
		p.skip(run, ReasonNoUserTargetingRules)
		return nil
	}
	if step.Template == nil {
		p.skip(run, ReasonMissingTemplate)
		return nil
	}

	query := clients.TargetingQuery{Rules: rules, Limit: run.remaining + run.active, BusinessID: businessID}
	if step.PrizeID != nil {
		query.PrizeID = *step.PrizeID
	}
	resp, err := p.users.TargetingUsers(ctx, query)
	if err != nil {
		return err
	}
	if resp == nil || len(resp.Users) == 0 {
		p.skip(run, ReasonNoUsers)
		return nil
	}

	for _, user := range resp.Users {
		if run.remaining <= 0 {
			break
		}
		if user == nil || user.ID == "" {
			continue
		}
		if prev := run.existing[user.ID]; prev != nil && prev.Active() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.deliver(ctx, run, user)
	}

	switch {
	case summary.Scheduled == 0 && summary.Failed == 0 && run.active > 0:
		summary.Status, summary.Reason = models.StepCompleted, ReasonResumed
	case summary.Scheduled == 0 && summary.Failed == 0:
		summary.Status, summary.Skipped, summary.Reason = models.StepSkipped, true, ReasonNothingToDo
	case summary.Scheduled == 0:
		summary.Status = models.StepFailed
	default:
		summary.Status = models.StepCompleted
	}
	return nil
}

func (p *Processor) skip(run *stepRun, reason string) {
	run.summary.Status = models.StepSkipped
	run.summary.Skipped = true
	run.summary.Reason = reason
	run.log.Info().Str("reason", reason).Msg("step skipped")
}

// deliver schedules one recipient. Failures are counted and recorded best-effort.
func (p *Processor) deliver(ctx context.Context, run *stepRun, user *models.User) {
	step := run.step
	log := run.log.With().Str("user_id", user.ID).Logger()

	err := func() error {
		if step.PrizeID != nil && *step.PrizeID != "" {
			if _, err := p.business.EnsureCoupon(ctx, user.ID, run.campaign.BusinessID, *step.PrizeID); err != nil {
				return err
			}
		}
		rendered, err := p.renderer.Render(step.Template, user.Context())
		if err != nil {
			return fmt.Errorf("failed to render template: %w", err)
		}
		in := BuildScheduleInput(run.se.ID, step, user, rendered, p.cfg.DefaultFrom, p.now())
		return p.messaging.Schedule(ctx, in)
	}()

	if err != nil {
		run.summary.Failed++
		log.Warn().Err(err).Msg("recipient scheduling failed")
		if rerr := p.recordRecipient(ctx, run, user.ID, models.RecipientFailed); rerr != nil {
			log.Error().Err(rerr).Msg("failed to record failed recipient")
		}
		return
	}

	run.summary.Scheduled++
	run.remaining--
	if rerr := p.recordRecipient(ctx, run, user.ID, models.RecipientPending); rerr != nil {
		log.Error().Err(rerr).Msg("failed to record scheduled recipient")
	}
}

// recordRecipient creates the recipient row or updates a previously failed one
func (p *Processor) recordRecipient(ctx context.Context, run *stepRun, userID string, status models.RecipientStatus) error {
	now := p.now()
	if prev := run.existing[userID]; prev != nil {
		attempts := prev.Attempts + 1
		update := models.RecipientUpdate{Status: status, Attempts: &attempts}
		if status == models.RecipientPending {
			update.EnqueuedAt = &now
		}
		if err := p.repo.UpdateStepRecipient(ctx, prev.ID, update); err != nil {
			return err
		}
		prev.Status, prev.Attempts = status, attempts
		return nil
	}

	r := &models.StepRecipient{
		StepExecutionID: run.se.ID,
		UserID:          userID,
		Status:          status,
		EnqueuedAt:      &now,
	}
	if err := p.repo.CreateStepRecipient(ctx, r); err != nil {
		return err
	}
	run.existing[userID] = r
	return nil
}

func (p *Processor) setStepStatus(ctx context.Context, run *stepRun, status models.StepExecutionStatus, msg *string) {
	if err := p.repo.UpdateStepExecution(ctx, run.se.ID, models.StepExecutionUpdate{Status: status, ErrorMessage: msg}); err != nil {
		run.log.Error().Err(err).Str("status", string(status)).Msg("failed to update step execution")
	}
}

// emitStepReady writes the campaign-step-ready outbox row. Failures are logged only.
func (p *Processor) emitStepReady(ctx context.Context, run *stepRun) {
	event, err := outbox.NewStepReadyEvent(outbox.StepReadyPayload{
		StepExecutionID: run.se.ID,
		CampaignID:      run.campaign.ID,
		BusinessID:      run.campaign.BusinessID,
		Channel:         string(run.step.Channel),
		BatchSize:       run.summary.Scheduled,
	}, p.cfg.TraceID, p.cfg.OutboxMaxAttempts, p.now())
	if err == nil {
		_, err = p.repo.CreateOutboxEvent(ctx, event)
	}
	if err != nil {
		run.log.Error().Err(err).Msg("failed to enqueue campaign-step-ready event")
	}
}

func truncateMessage(s string) string {
	const max = 500
	if len(s) > max {
		return s[:max]
	}
	return s
}
