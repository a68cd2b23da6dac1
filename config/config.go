package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application. Per-account
// provider credentials live in the database; this is process-level only.
type Config struct {
	Port        string
	DatabaseURL string

	// Base URL used when generating per-account webhook URLs.
	PublicBaseURL string

	// Optional fan-out targets for inbound events.
	GlobalWebhookURL string
	RabbitMQURL      string
	RabbitMQQueue    string

	// Cron specs for background jobs.
	SessionSweepSpec string
	MassSendSpec     string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, honoring a .env file
// when present. Environment variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:             os.Getenv("PORT"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PublicBaseURL:    os.Getenv("PUBLIC_BASE_URL"),
		GlobalWebhookURL: os.Getenv("GLOBAL_WEBHOOK_URL"),
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue:    os.Getenv("RABBITMQ_QUEUE"),
		SessionSweepSpec: os.Getenv("SESSION_SWEEP_SPEC"),
		MassSendSpec:     os.Getenv("MASS_SEND_SPEC"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		LogFormat:        os.Getenv("LOG_FORMAT"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "waconnect.db"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:" + cfg.Port
	}
	if cfg.RabbitMQQueue == "" {
		cfg.RabbitMQQueue = "wa_events"
	}
	if cfg.SessionSweepSpec == "" {
		cfg.SessionSweepSpec = "@every 1m"
	}
	if cfg.MassSendSpec == "" {
		cfg.MassSendSpec = "@every 1m"
	}

	return cfg, nil
}
