package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"campaignservice/internal/models"
	"campaignservice/internal/repository"
)

// Enqueuer gates and enqueues a single campaign
type Enqueuer interface {
	EnqueueIfDue(ctx context.Context, campaign *models.Campaign) (*models.EnqueueResult, error)
}

// ScheduleConfig selects how often the scheduler ticks
type ScheduleConfig struct {
	Interval time.Duration
	// DailyAt switches to a fixed "HH:MM" time of day in Location
	DailyAt  string
	Location *time.Location
	RunOnce  bool
}

// TickSummary counts the outcomes of one tick
type TickSummary struct {
	Due      int
	Enqueued int
	Skipped  int
	Errors   int
	Overlap  bool
}

// Scheduler periodically asks the repository for due campaigns and hands
// each one to the orchestrator.
type Scheduler struct {
	repo        repository.CampaignRepository
	orch        Enqueuer
	businessIDs []string
	log         zerolog.Logger
	now         func() time.Time
	mu          sync.Mutex
}

// NewScheduler creates a scheduler. An empty businessIDs scope loads each
// campaign within its own business.
func NewScheduler(repo repository.CampaignRepository, orch Enqueuer, businessIDs []string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		repo:        repo,
		orch:        orch,
		businessIDs: businessIDs,
		log:         log.With().Str("component", "scheduler").Logger(),
		now:         time.Now,
	}
}

// Tick evaluates all due campaigns once. Overlapping calls return immediately.
func (s *Scheduler) Tick(ctx context.Context) (TickSummary, error) {
	if !s.mu.TryLock() {
		s.log.Warn().Msg("previous tick still running, skipping")
		return TickSummary{Overlap: true}, nil
	}
	defer s.mu.Unlock()

	now := s.now()
	due, err := s.repo.FindDueActiveCampaigns(ctx, now)
	if err != nil {
		return TickSummary{}, fmt.Errorf("failed to find due campaigns: %w", err)
	}

	summary := TickSummary{Due: len(due)}
	s.log.Info().Int("count", len(due)).Time("at", now).Msg("due active campaigns")

	for _, dc := range due {
		if ctx.Err() != nil {
			break
		}
		log := s.log.With().Str("campaign_id", dc.ID).Logger()

		scope := s.businessIDs
		if len(scope) == 0 {
			scope = []string{dc.BusinessID}
		}

		campaign, err := s.repo.FindCampaignByID(ctx, dc.ID, scope)
		if err != nil {
			summary.Errors++
			log.Error().Err(err).Msg("failed to load campaign")
			continue
		}
		if campaign == nil {
			continue
		}

		log.Debug().Str("status", string(campaign.Status)).Str("schedule_type", string(campaign.ScheduleType)).Msg("evaluating campaign")
		res, err := s.orch.EnqueueIfDue(ctx, campaign)
		switch {
		case err != nil:
			summary.Errors++
			log.Error().Err(err).Msg("failed to enqueue campaign")
		case res.Enqueued:
			summary.Enqueued++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}

func (s *Scheduler) runTick(ctx context.Context) {
	summary, err := s.Tick(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler tick failed")
		return
	}
	s.log.Debug().Int("enqueued", summary.Enqueued).Int("skipped", summary.Skipped).Int("errors", summary.Errors).Msg("scheduler tick completed")
}

// Run ticks immediately, then on the configured interval or daily time,
// until ctx is done. With RunOnce it returns after the first tick.
func (s *Scheduler) Run(ctx context.Context, cfg ScheduleConfig) error {
	s.runTick(ctx)
	if cfg.RunOnce {
		return nil
	}

	if cfg.DailyAt != "" {
		return s.runDaily(ctx, cfg)
	}

	if cfg.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	s.log.Info().Dur("interval", cfg.Interval).Msg("scheduler started")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, cfg ScheduleConfig) error {
	spec, err := DailySpec(cfg.DailyAt)
	if err != nil {
		return err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() { s.runTick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule daily tick: %w", err)
	}
	c.Start()
	s.log.Info().Str("daily_at", cfg.DailyAt).Str("timezone", loc.String()).Msg("scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
	return nil
}

// DailySpec converts "HH:MM" into a five-field cron spec
func DailySpec(dailyAt string) (string, error) {
	t, err := time.Parse("15:04", dailyAt)
	if err != nil {
		return "", fmt.Errorf("invalid daily time %q: expected HH:MM", dailyAt)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
