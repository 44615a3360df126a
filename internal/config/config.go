// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config holds the environment driven configuration for the widget backend.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"persona-chat"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	StoreBackend string        `env:"STORE_BACKEND" envDefault:"dynamodb"`
	StateTable   string        `env:"STATE_TABLE"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	ParamPrefix  string        `env:"PARAM_PREFIX"`

	OpenAIAPIKey      string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string  `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel       string  `env:"OPENAI_MODEL" envDefault:"gpt-4"`
	OpenAIMaxTokens   int     `env:"OPENAI_MAX_TOKENS" envDefault:"500"`
	OpenAITemperature float32 `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	HistoryWindow     int     `env:"HISTORY_WINDOW" envDefault:"10"`
	AtomicLikes       bool    `env:"ATOMIC_LIKES" envDefault:"false"`

	FirebaseAPIKey    string `env:"FIREBASE_API_KEY"`
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	IdentityBaseURL   string `env:"IDENTITY_BASE_URL" envDefault:"https://identitytoolkit.googleapis.com/v1"`
	JWKSURL           string `env:"JWKS_URL"`

	ProtectedPages []string `env:"PROTECTED_PAGES" envDefault:"/chat" envSeparator:","`
	SignInPage     string   `env:"SIGNIN_PAGE" envDefault:"signin.html"`
	HomePage       string   `env:"HOME_PAGE" envDefault:"index.html"`
}

// Load reads an optional .env file, then parses the environment into Config.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			return fmt.Errorf("STATE_TABLE is required when STORE_BACKEND is %s", BackendDynamoDB)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %s or %s, got %q", BackendDynamoDB, BackendMemory, c.StoreBackend)
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" && strings.TrimSpace(c.ParamPrefix) == "" {
		return fmt.Errorf("PARAM_PREFIX is required when OPENAI_API_KEY is not set")
	}
	if strings.TrimSpace(c.FirebaseAPIKey) == "" {
		return fmt.Errorf("FIREBASE_API_KEY is required")
	}
	if strings.TrimSpace(c.FirebaseProjectID) == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}
	if c.OpenAITemperature <= 0 || c.OpenAITemperature > 2 {
		return fmt.Errorf("OPENAI_TEMPERATURE must be in (0, 2], got %v", c.OpenAITemperature)
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	pages := c.ProtectedPages[:0]
	for _, p := range c.ProtectedPages {
		if p = strings.TrimSpace(p); p != "" {
			pages = append(pages, p)
		}
	}
	c.ProtectedPages = pages
	return nil
}
