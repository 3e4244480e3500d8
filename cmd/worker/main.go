package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campaignservice/internal/app"
	"campaignservice/internal/config"
	"campaignservice/internal/queue"
	"campaignservice/internal/repository"
	"campaignservice/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.Logger(cfg, "campaign-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Msg("connected to database")

	downstream, err := app.NewClients(cfg, log)
	if err != nil {
		return err
	}
	processor := app.NewProcessor(cfg, repository.New(db), downstream, log)

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	retries, err := queue.NewPublisher(conn, cfg.RabbitMQ.JobQueue, cfg.RabbitMQ.RetryQueue)
	if err != nil {
		return fmt.Errorf("failed to create retry publisher: %w", err)
	}
	defer retries.Close()

	consumer, err := queue.NewConsumer(conn, cfg.RabbitMQ.JobQueue, log)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	deliveries, err := consumer.Start(cfg.Worker.Concurrency)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	log.Info().Str("queue", cfg.RabbitMQ.JobQueue).Int("concurrency", cfg.Worker.Concurrency).Msg("worker consuming")

	w := worker.New(processor, retries, worker.Config{
		Concurrency:     cfg.Worker.Concurrency,
		BackoffDelay:    cfg.Worker.BackoffDelay,
		LimiterMax:      cfg.Worker.LimiterMax,
		LimiterDuration: cfg.Worker.LimiterDuration,
	}, log)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, deliveries) }()

	select {
	case err := <-done:
		_ = consumer.Stop()
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	if err := consumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop consumer")
	}

	select {
	case err := <-done:
		log.Info().Msg("worker stopped")
		return err
	case <-time.After(cfg.Worker.ShutdownTimeout):
		return fmt.Errorf("in-flight jobs did not finish within %s", cfg.Worker.ShutdownTimeout)
	}
}
