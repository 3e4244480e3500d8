// Package app assembles the shared dependencies of the service binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"campaignservice/internal/capacity"
	"campaignservice/internal/clients"
	"campaignservice/internal/config"
	"campaignservice/internal/logging"
	"campaignservice/internal/repository"
	"campaignservice/internal/service"
)

// Version is stamped at build time with -ldflags
var Version = "dev"

// Logger builds the root logger for one binary
func Logger(cfg *config.Config, name string) zerolog.Logger {
	return logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: name,
	})
}

// OpenDB opens and pings the PostgreSQL database
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OrchestratorConfig maps scheduler and worker settings to the gate
func OrchestratorConfig(cfg *config.Config) (service.OrchestratorConfig, error) {
	policy, err := service.ParseGatingPolicy(cfg.Scheduler.GatingPolicy)
	if err != nil {
		return service.OrchestratorConfig{}, err
	}
	return service.OrchestratorConfig{
		MaxAttempts:          cfg.Worker.MaxAttempts,
		AllowOneTimeRerun:    cfg.Scheduler.AllowOneTimeRerun,
		OneTimeRerunInterval: cfg.Scheduler.OneTimeRerunInterval,
		GatingPolicy:         policy,
	}, nil
}

// ScheduleConfig maps scheduler settings to the loop configuration
func ScheduleConfig(cfg *config.Config) (service.ScheduleConfig, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return service.ScheduleConfig{}, fmt.Errorf("invalid timezone %q: %w", cfg.Scheduler.Timezone, err)
	}
	return service.ScheduleConfig{
		Interval: cfg.Scheduler.Interval,
		DailyAt:  cfg.Scheduler.DailyAt,
		Location: loc,
		RunOnce:  cfg.Scheduler.RunOnce,
	}, nil
}

// Clients holds the downstream service clients used by the processor
type Clients struct {
	Business  service.BusinessClient
	Users     service.UserClient
	Messaging service.MessagingClient
}

// NewClients builds the downstream clients. Without MESSAGING_SERVICE_URL
// deliveries go to the simulated messaging client.
func NewClients(cfg *config.Config, log zerolog.Logger) (*Clients, error) {
	c := cfg.Clients
	creds := clients.Credentials{TokenURL: c.TokenURL, ClientID: c.ClientID, ClientSecret: c.ClientSecret}

	resolver, err := clients.LoadURLResolver(c.BusinessMapFile, c.BusinessURLScheme)
	if err != nil {
		return nil, err
	}
	if c.BusinessServiceURL == "" && resolver.Len() == 0 {
		return nil, fmt.Errorf("BUSINESS_SERVICE_URL or BUSINESS_SERVICE_MAP_FILE is required")
	}
	if c.UserServiceURL == "" {
		return nil, fmt.Errorf("USER_SERVICE_URL is required")
	}

	out := &Clients{
		Business: clients.NewBusinessClient(clients.Options{
			BaseURL:     c.BusinessServiceURL,
			Timeout:     c.BusinessTimeout,
			MaxRetries:  c.BusinessMaxRetries,
			Credentials: creds,
			Logger:      log,
		}, resolver),
		Users: clients.NewUserClient(clients.Options{
			BaseURL:     c.UserServiceURL,
			Timeout:     c.UserTimeout,
			MaxRetries:  c.UserMaxRetries,
			Credentials: creds,
			Logger:      log,
		}),
	}

	if c.MessagingServiceURL == "" {
		log.Warn().Float64("success_rate", c.SimulatedSuccessRate).Msg("MESSAGING_SERVICE_URL not set, using simulated messaging")
		out.Messaging = clients.NewSimulatedMessagingClient(c.SimulatedSuccessRate, log)
	} else {
		out.Messaging = clients.NewMessagingClient(clients.Options{
			BaseURL:     c.MessagingServiceURL,
			Timeout:     c.MessagingTimeout,
			MaxRetries:  c.MessagingMaxRetries,
			Credentials: creds,
			Logger:      log,
		})
	}
	return out, nil
}

// NewProcessor builds the job processor over repo and the configured clients
func NewProcessor(cfg *config.Config, repo repository.Repository, c *Clients, log zerolog.Logger) *service.Processor {
	pcfg := service.ProcessorConfig{
		MaxAttempts:       cfg.Worker.MaxAttempts,
		DefaultFrom:       cfg.Clients.DefaultFrom,
		OutboxMaxAttempts: cfg.Outbox.MaxAttempts,
	}
	if cfg.Worker.CoordinateCapacity {
		pcfg.Ledger = capacity.NewLedger()
	}
	return service.NewProcessor(repo, c.Business, c.Users, c.Messaging, service.NewTemplateService(), pcfg, log)
}
