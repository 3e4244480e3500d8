// Package worker runs campaign jobs from the job queue with bounded
// concurrency and escalates failed attempts to the retry queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"campaignservice/internal/models"
	"campaignservice/internal/queue"
	"campaignservice/internal/service"
)

// JobProcessor executes one campaign job
type JobProcessor interface {
	ProcessJob(ctx context.Context, job models.CampaignJob) (*models.ExecutionResult, error)
}

// RetryPublisher resubmits a job after a delay
type RetryPublisher interface {
	PublishRetry(ctx context.Context, job models.CampaignJob, delay time.Duration) error
}

// Config tunes the worker pool
type Config struct {
	Concurrency     int
	BackoffDelay    time.Duration
	LimiterMax      int
	LimiterDuration time.Duration
}

// Worker consumes deliveries and settles each one according to the job result
type Worker struct {
	proc    JobProcessor
	retries RetryPublisher
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// New creates a worker
func New(proc JobProcessor, retries RetryPublisher, cfg Config, log zerolog.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BackoffDelay <= 0 {
		cfg.BackoffDelay = 2 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.LimiterMax > 0 && cfg.LimiterDuration > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.LimiterDuration/time.Duration(cfg.LimiterMax)), cfg.LimiterMax)
	}

	return &Worker{
		proc:    proc,
		retries: retries,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: limiter,
		log:     log.With().Str("component", "worker").Logger(),
	}
}

// RetryDelay is the delay before the given attempt: base × 2^(attempt-1)
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return base * time.Duration(1<<(attempt-1))
}

// Run dispatches deliveries until ctx is done or the channel closes, then
// waits for in-flight jobs. Jobs run on a context that outlives ctx so a
// shutdown never interrupts a job mid-step.
func (w *Worker) Run(ctx context.Context, deliveries <-chan queue.Delivery) error {
	jobCtx := context.WithoutCancel(ctx)
	defer w.wg.Wait()

	w.log.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopping, waiting for in-flight jobs")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				w.log.Info().Msg("delivery channel closed")
				return nil
			}
			if err := w.acquire(ctx); err != nil {
				w.settle(d, d.Requeue, "requeue")
				return nil
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer w.sem.Release(1)
				w.handle(jobCtx, d)
			}()
		}
	}
}

func (w *Worker) acquire(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	return w.sem.Acquire(ctx, 1)
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	if d.Err != nil {
		w.log.Error().Err(d.Err).Msg("discarding undecodable job")
		w.settle(d, d.Reject, "reject")
		return
	}

	job := *d.Job
	log := w.log.With().
		Str("campaign_id", job.CampaignID).
		Str("execution_id", job.CampaignExecutionID).
		Int("attempt", job.Attempt).
		Bool("redelivered", d.Redelivered).
		Logger()

	result, err := w.proc.ProcessJob(ctx, job)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			log.Error().Err(err).Msg("discarding invalid job")
		} else {
			log.Error().Err(err).Msg("job processing error")
		}
		w.settle(d, d.Reject, "reject")
		return
	}

	switch {
	case !result.Failed:
		log.Info().Bool("skipped", result.Skipped).Str("reason", result.Reason).Msg("job completed")
		w.settle(d, d.Ack, "ack")

	case result.FinalFailure:
		log.Error().Int("max_attempts", result.MaxAttempts).Str("reason", result.Reason).Msg("job failed permanently")
		w.settle(d, d.Ack, "ack")

	default:
		next := job
		next.Attempt = result.Attempt
		next.MaxAttempts = result.MaxAttempts
		delay := RetryDelay(w.cfg.BackoffDelay, next.Attempt)

		if err := w.retries.PublishRetry(ctx, next, delay); err != nil {
			log.Error().Err(err).Msg("failed to publish retry, requeueing delivery")
			w.settle(d, d.Requeue, "requeue")
			return
		}
		log.Warn().Int("next_attempt", next.Attempt).Dur("delay", delay).Msg("job failed, retry scheduled")
		w.settle(d, d.Ack, "ack")
	}
}

func (w *Worker) settle(d queue.Delivery, fn func() error, op string) {
	if err := fn(); err != nil {
		w.log.Error().Err(err).Str("op", op).Msg("failed to settle delivery")
	}
}
