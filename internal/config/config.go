// Package config loads this agent's process-wide environment settings
// and its per-offering document, grounded on the teacher's
// internal/config.Config (caarlos0/env struct tags, a Load() that
// returns (*Config, error)).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds the process-wide settings loaded from environment
// variables: everything that is the same across every offering this
// process drives.
type EnvConfig struct {
	// Admin HTTP server
	Host string `env:"SITEBRIDGE_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SITEBRIDGE_PORT" envDefault:"8080"`

	// Offerings document
	OfferingsFile string `env:"SITEBRIDGE_OFFERINGS_FILE" envDefault:"offerings.yaml"`

	// Redis (event-driven dispatch; spec.md §6)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Slack (optional — if not set, notifications are logged only)
	SlackBotToken string `env:"SLACK_BOT_TOKEN"`

	// CORS policy for the admin server's /debug/offerings endpoint.
	CORSAllowedOrigins []string `env:"SITEBRIDGE_CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Retry (spec.md §4.5/§4.7)
	RetryAttempts uint `env:"SITEBRIDGE_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoff  string `env:"SITEBRIDGE_RETRY_BACKOFF" envDefault:"2s"`
}

// LoadEnv reads EnvConfig from environment variables.
func LoadEnv() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the admin HTTP server should listen on.
func (c *EnvConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
