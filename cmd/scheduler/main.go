package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"campaignservice/internal/app"
	"campaignservice/internal/config"
	"campaignservice/internal/queue"
	"campaignservice/internal/repository"
	"campaignservice/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.Logger(cfg, "campaign-scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	jobs, err := queue.NewPublisher(conn, cfg.RabbitMQ.JobQueue, cfg.RabbitMQ.RetryQueue)
	if err != nil {
		return fmt.Errorf("failed to create job publisher: %w", err)
	}
	defer jobs.Close()

	orchCfg, err := app.OrchestratorConfig(cfg)
	if err != nil {
		return err
	}
	schedCfg, err := app.ScheduleConfig(cfg)
	if err != nil {
		return err
	}

	repo := repository.New(db)
	orch := service.NewOrchestrator(repo, jobs, orchCfg, log)
	scheduler := service.NewScheduler(repo, orch, cfg.Scheduler.BusinessIDs, log)

	log.Info().
		Strs("business_ids", cfg.Scheduler.BusinessIDs).
		Str("gating_policy", string(orchCfg.GatingPolicy)).
		Bool("run_once", schedCfg.RunOnce).
		Msg("scheduler starting")
	return scheduler.Run(ctx, schedCfg)
}
