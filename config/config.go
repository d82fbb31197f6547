package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	ProviderBaseURL string
	ProviderAPIKey  string

	DatabasePath string
	Port         string

	RabbitMQURL   string
	SyncQueueName string
	QueuePrefix   string

	WebhookSecret string

	LogLevel  string
	LogFormat string

	// Sync tuning knobs
	SyncDaysBack        int // 0 = unbounded history
	SyncMaxMessages     int // 0 = unbounded
	SyncPageCap         int // safety cap on pagination loops
	SyncCooldownMinutes int // duplicate-trigger coalescing window
	SyncJobTimeoutMin   int // hard wall-clock timeout per sync job
	AutoSyncIntervalHrs int // auto re-sync interval for opted-in profiles
	MaxTaskRetries      int // queue-level retry budget
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present; environment variables take
// precedence over defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		ProviderBaseURL: os.Getenv("PROVIDER_BASE_URL"),
		ProviderAPIKey:  os.Getenv("PROVIDER_API_KEY"),
		DatabasePath:    os.Getenv("DATABASE_PATH"),
		Port:            os.Getenv("PORT"),
		RabbitMQURL:     os.Getenv("RABBITMQ_URL"),
		SyncQueueName:   os.Getenv("RABBITMQ_QUEUE"),
		QueuePrefix:     os.Getenv("RABBITMQ_QUEUE_PREFIX"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		LogFormat:       os.Getenv("LOG_FORMAT"),

		SyncDaysBack:        envInt("SYNC_DAYS_BACK", 90),
		SyncMaxMessages:     envInt("SYNC_MAX_MESSAGES", 500),
		SyncPageCap:         envInt("SYNC_PAGE_CAP", 100),
		SyncCooldownMinutes: envInt("SYNC_COOLDOWN_MINUTES", 5),
		SyncJobTimeoutMin:   envInt("SYNC_JOB_TIMEOUT_MINUTES", 30),
		AutoSyncIntervalHrs: envInt("AUTO_SYNC_INTERVAL_HOURS", 24),
		MaxTaskRetries:      envInt("SYNC_MAX_TASK_RETRIES", 5),
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "crmsync.db"
		log.Info().Str("path", cfg.DatabasePath).Msg("DATABASE_PATH not set, using default")
	}
	if cfg.SyncQueueName == "" {
		cfg.SyncQueueName = "record_sync"
	}
	if cfg.QueuePrefix == "" {
		cfg.QueuePrefix = "crmsync"
	}

	log.Info().Msg("Configuration loaded")
	return cfg, nil
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid integer in environment, using default")
		return def
	}
	return v
}
