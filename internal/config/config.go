package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Scheduler SchedulerConfig
	Worker    WorkerConfig
	Outbox    OutboxConfig
	Clients   ClientsConfig
	Log       LogConfig
	Env       string `env:"ENV" envDefault:"development"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"campaigns"`
	Password string `env:"POSTGRES_PASSWORD"`
	DBName   string `env:"POSTGRES_DB" envDefault:"campaigns_db"`
	SSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host           string `env:"RABBITMQ_HOST" envDefault:"localhost"`
	Port           string `env:"RABBITMQ_PORT" envDefault:"5672"`
	User           string `env:"RABBITMQ_DEFAULT_USER" envDefault:"guest"`
	Password       string `env:"RABBITMQ_DEFAULT_PASS" envDefault:"guest"`
	JobQueue       string `env:"CAMPAIGN_QUEUE" envDefault:"campaign.executions"`
	RetryQueue     string `env:"CAMPAIGN_RETRY_QUEUE" envDefault:"campaign.executions.retry"`
	EventsExchange string `env:"EVENTS_EXCHANGE" envDefault:"campaign.events"`
}

// SchedulerConfig drives the due-campaign loop and one-time gating
type SchedulerConfig struct {
	Interval             time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"30s"`
	DailyAt              string        `env:"SCHEDULE_DAILY_AT"`
	Timezone             string        `env:"SCHEDULE_TIMEZONE" envDefault:"UTC"`
	RunOnce              bool          `env:"SCHEDULER_RUN_ONCE" envDefault:"false"`
	AllowOneTimeRerun    bool          `env:"SCHEDULER_ALLOW_ONE_TIME_RERUN" envDefault:"false"`
	OneTimeRerunInterval time.Duration `env:"SCHEDULER_ONE_TIME_RERUN_INTERVAL" envDefault:"5m"`
	GatingPolicy         string        `env:"SCHEDULER_GATING_POLICY" envDefault:"fail-open"`
	BusinessIDs          []string      `env:"BUSINESS_IDS" envSeparator:","`
}

// WorkerConfig holds job consumer settings
type WorkerConfig struct {
	Concurrency        int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
	MaxAttempts        int           `env:"CAMPAIGN_MAX_ATTEMPTS" envDefault:"2"`
	BackoffDelay       time.Duration `env:"WORKER_BACKOFF_DELAY" envDefault:"2s"`
	LimiterMax         int           `env:"WORKER_LIMITER_MAX" envDefault:"2"`
	LimiterDuration    time.Duration `env:"WORKER_LIMITER_DURATION" envDefault:"2s"`
	CoordinateCapacity bool          `env:"WORKER_COORDINATE_CAPACITY" envDefault:"false"`
	ShutdownTimeout    time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// OutboxConfig holds outbox publisher settings
type OutboxConfig struct {
	PollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	BatchSize       int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	MaxAttempts     int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"10"`
	ShutdownTimeout time.Duration `env:"OUTBOX_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Sink            string        `env:"OUTBOX_SINK" envDefault:"amqp"`
}

// ClientsConfig holds downstream service endpoints and credentials
type ClientsConfig struct {
	BusinessServiceURL   string        `env:"BUSINESS_SERVICE_URL"`
	UserServiceURL       string        `env:"USER_SERVICE_URL"`
	MessagingServiceURL  string        `env:"MESSAGING_SERVICE_URL"`
	TokenURL             string        `env:"KEYCLOAK_TOKEN_URL"`
	ClientID             string        `env:"KEYCLOAK_CLIENT_ID"`
	ClientSecret         string        `env:"KEYCLOAK_CLIENT_SECRET"`
	BusinessTimeout      time.Duration `env:"BUSINESS_CLIENT_TIMEOUT" envDefault:"15s"`
	UserTimeout          time.Duration `env:"USER_CLIENT_TIMEOUT" envDefault:"15s"`
	MessagingTimeout     time.Duration `env:"MESSAGING_CLIENT_TIMEOUT" envDefault:"15s"`
	BusinessMaxRetries   int           `env:"BUSINESS_CLIENT_MAX_RETRIES" envDefault:"3"`
	UserMaxRetries       int           `env:"USER_CLIENT_MAX_RETRIES" envDefault:"3"`
	MessagingMaxRetries  int           `env:"MESSAGING_CLIENT_MAX_RETRIES" envDefault:"3"`
	BusinessMapFile      string        `env:"BUSINESS_SERVICE_MAP_FILE"`
	BusinessURLScheme    string        `env:"BUSINESS_SERVICE_URL_SCHEME" envDefault:"https"`
	DefaultFrom          string        `env:"MESSAGE_DEFAULT_FROM" envDefault:"noreply@example.com"`
	SimulatedSuccessRate float64       `env:"MESSAGING_SIMULATED_SUCCESS_RATE" envDefault:"0.95"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (if present) and then the process environment
func Load() (*Config, error) {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from environment variables and validates it
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Scheduler.BusinessIDs = compact(cfg.Scheduler.BusinessIDs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("CAMPAIGN_MAX_ATTEMPTS must be at least 1")
	}
	if c.Worker.LimiterMax < 1 || c.Worker.LimiterDuration <= 0 {
		return fmt.Errorf("WORKER_LIMITER_MAX and WORKER_LIMITER_DURATION must be positive")
	}
	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1")
	}
	if c.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be at least 1")
	}
	if c.Scheduler.Interval <= 0 && c.Scheduler.DailyAt == "" {
		return fmt.Errorf("SCHEDULE_INTERVAL must be positive when SCHEDULE_DAILY_AT is unset")
	}
	if c.Scheduler.DailyAt != "" {
		if _, _, err := ParseDailyAt(c.Scheduler.DailyAt); err != nil {
			return err
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", c.Scheduler.Timezone, err)
	}
	switch c.Scheduler.GatingPolicy {
	case "fail-open", "fail-closed":
	default:
		return fmt.Errorf("invalid SCHEDULER_GATING_POLICY %q: must be fail-open or fail-closed", c.Scheduler.GatingPolicy)
	}
	switch c.Outbox.Sink {
	case "amqp", "log":
	default:
		return fmt.Errorf("invalid OUTBOX_SINK %q: must be amqp or log", c.Outbox.Sink)
	}
	return nil
}

// ParseDailyAt parses an "HH:MM" time of day
func ParseDailyAt(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid SCHEDULE_DAILY_AT %q: expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
