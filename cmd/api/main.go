package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campaignservice/internal/app"
	"campaignservice/internal/config"
	"campaignservice/internal/handler"
	"campaignservice/internal/queue"
	"campaignservice/internal/repository"
	"campaignservice/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.Logger(cfg, "campaign-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Msg("connected to database")

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

	repo := repository.New(db)
	templates := service.NewTemplateService()
	campaigns := service.NewCampaignService(repo, templates)
	orch := service.NewOrchestrator(repo, jobs, orchCfg, log)
	executions := service.NewExecutionService(repo, repo, orch, jobs, cfg.Worker.MaxAttempts, log)

	rabbitURL := cfg.GetRabbitMQURL()
	health := service.NewHealthService(db, service.PingFunc(func(ctx context.Context) error {
		return queue.Ping(rabbitURL)
	}), app.Version)

	router := handler.NewRouter(handler.Handlers{
		Health:     handler.NewHealthHandler(health),
		Campaigns:  handler.NewCampaignHandler(campaigns),
		Executions: handler.NewExecutionHandler(executions),
		Preview:    handler.NewPreviewHandler(campaigns),
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("api server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
