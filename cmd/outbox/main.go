package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"campaignservice/internal/app"
	"campaignservice/internal/config"
	"campaignservice/internal/outbox"
	"campaignservice/internal/queue"
	"campaignservice/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "outbox: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.Logger(cfg, "campaign-outbox")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var sink outbox.Sink
	switch cfg.Outbox.Sink {
	case "log":
		sink = outbox.NewLogSink(log)
	default:
		conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer conn.Close()

		events, err := queue.NewEventPublisher(conn, cfg.RabbitMQ.EventsExchange)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		sink = events
	}

	publisher := outbox.NewPublisher(repository.New(db), sink, outbox.Config{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, log)

	done := make(chan error, 1)
	go func() { done <- publisher.Run(ctx) }()

	<-ctx.Done()
	log.Info().Msg("shutting down outbox publisher")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Outbox.ShutdownTimeout)
	defer cancel()
	if err := publisher.Stop(stopCtx); err != nil {
		return err
	}
	return <-done
}
