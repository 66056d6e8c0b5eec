// Package config provides environment configuration for the API server and
// the scopectl tool.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Storage backends selectable with STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendNATS   = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `env:"PORT" envDefault:"8080"`
	ServerReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`

	// Storage
	StoreBackend string        `env:"STORE_BACKEND" envDefault:"memory"`
	SQLDSN       string        `env:"SQL_DSN"`
	TurnMaxAge   time.Duration `env:"TURN_MAX_AGE" envDefault:"720h"`

	// NATS settings
	NATSURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSCAFile   string `env:"NATS_CA_FILE"`
	NATSCertFile string `env:"NATS_CERT_FILE"`
	NATSKeyFile  string `env:"NATS_KEY_FILE"`
	NATSToken    string `env:"NATS_TOKEN"`
	NATSReplicas int    `env:"NATS_REPLICAS" envDefault:"1"`

	// Shared keyword cache, disabled when RedisAddr is empty
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisUsername string        `env:"REDIS_USERNAME"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	ScopeCacheTTL time.Duration `env:"SCOPE_CACHE_TTL" envDefault:"10m"`

	// JWT settings
	JWTSecret      string   `env:"JWT_SECRET" envDefault:"development-secret-change-in-production"`
	AllowedOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	// LLM settings
	LLMProvider     string  `env:"LLM_PROVIDER" envDefault:"anthropic"`
	AnthropicAPIKey string  `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string  `env:"OPENAI_API_KEY"`
	GeminiAPIKey    string  `env:"GEMINI_API_KEY"`
	LLMModel        string  `env:"LLM_MODEL"`
	LLMBaseURL      string  `env:"LLM_BASE_URL"`
	LLMTemperature  float64 `env:"LLM_TEMPERATURE" envDefault:"-1"`
	LLMMaxTokens    int     `env:"LLM_MAX_TOKENS" envDefault:"0"`

	// Conversation
	HistoryWindow int    `env:"HISTORY_WINDOW" envDefault:"5"`
	RulesFile     string `env:"RULES_FILE"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
}

// Load reads an optional .env file, then environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from environment variables only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendNATS:
	case BackendSQLite, BackendMySQL:
		if c.SQLDSN == "" {
			return fmt.Errorf("SQL_DSN is required for the %s backend", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("HISTORY_WINDOW must not be negative, got %d", c.HistoryWindow)
	}
	if c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be at most 2, got %g", c.LLMTemperature)
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit requests and window must be positive")
	}
	return nil
}

// LLMAPIKey returns the key of the selected provider.
func (c *Config) LLMAPIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

// Temperature is nil when LLM_TEMPERATURE is unset or negative, leaving the
// provider default in place.
func (c *Config) Temperature() *float64 {
	if c.LLMTemperature < 0 {
		return nil
	}
	t := c.LLMTemperature
	return &t
}
