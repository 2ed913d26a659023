package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/eyecheck/gateway/pkg/models"
)

// Config holds all gateway configuration.
type Config struct {
	Listen       string                `yaml:"listen" validate:"required"`
	DBPath       string                `yaml:"db_path" validate:"required"`
	Store        StoreConfig           `yaml:"store"`
	Providers    []ProviderConfig      `yaml:"providers" validate:"dive"`
	Router       RouterConfig          `yaml:"router"`
	RateLimit    RateLimitConfig       `yaml:"rate_limit"`
	Breaker      BreakerConfig         `yaml:"breaker"`
	Conversation ConversationConfig    `yaml:"conversation"`
	Generation   GenerationConfig      `yaml:"generation"`
	Streaming    StreamingConfig       `yaml:"streaming"`
	Insights     InsightsConfig        `yaml:"insights"`
	Auth         AuthConfig            `yaml:"auth"`
	Pricing      []models.ModelPricing `yaml:"pricing"`
	Log          LogConfig             `yaml:"log"`
}

// StoreConfig selects the durable key-value store backing cache, limiter,
// breaker and conversation state.
type StoreConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=memory sqlite valkey"`
	Path      string `yaml:"path"`
	Address   string `yaml:"address" validate:"required_if=Driver valkey"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default) or "gemini".
type ProviderConfig struct {
	Name   string `yaml:"name" validate:"required"`
	URL    string `yaml:"url" validate:"omitempty,url"`
	APIKey string `yaml:"api_key"`
	Type   string `yaml:"type" validate:"omitempty,oneof=openai gemini"`
}

// RouterConfig picks a provider for a requested model.
// Models matching AlternatePattern go to AlternateProvider; everything else
// goes to DefaultProvider. Routes are explicit aliases checked first.
type RouterConfig struct {
	DefaultProvider   string        `yaml:"default_provider"`
	DefaultModel      string        `yaml:"default_model"`
	AlternateProvider string        `yaml:"alternate_provider"`
	AlternatePattern  string        `yaml:"alternate_pattern"`
	Routes            []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a client-facing model alias to a provider and model.
type RouteConfig struct {
	Model    string `yaml:"model"`
	Provider string `yaml:"provider"`
	Target   string `yaml:"target"`
}

// RatePolicy is a request limit per window.
type RatePolicy struct {
	Limit  int           `yaml:"limit" validate:"gte=1"`
	Window time.Duration `yaml:"window" validate:"gte=1s"`
}

// RateLimitConfig holds the per-endpoint policy table.
type RateLimitConfig struct {
	Default   RatePolicy            `yaml:"default"`
	Endpoints map[string]RatePolicy `yaml:"endpoints" validate:"dive"`
}

// BreakerConfig controls the upstream circuit breaker.
type BreakerConfig struct {
	Name          string        `yaml:"name" validate:"required"`
	FailureWindow time.Duration `yaml:"failure_window" validate:"gt=0"`
	Threshold     int           `yaml:"threshold" validate:"gte=1"`
	OpenDuration  time.Duration `yaml:"open_duration" validate:"gt=0"`
}

// ConversationConfig bounds stored chat history.
type ConversationConfig struct {
	MaxTurns int           `yaml:"max_turns" validate:"gte=2"`
	TTL      time.Duration `yaml:"ttl" validate:"gt=0"`
}

// GenerationConfig controls upstream calls.
type GenerationConfig struct {
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1,lte=3"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	TwoPass         bool          `yaml:"two_pass"`
	ReasoningEffort string        `yaml:"reasoning_effort" validate:"omitempty,oneof=minimal low medium high"`
}

// StreamingConfig controls fallback chunked delivery.
type StreamingConfig struct {
	ChunkSize  int           `yaml:"chunk_size" validate:"gte=1"`
	ChunkDelay time.Duration `yaml:"chunk_delay" validate:"gte=0"`
}

// InsightsConfig holds cache TTLs for the non-streaming endpoints.
type InsightsConfig struct {
	TTL map[string]time.Duration `yaml:"ttl"`
}

// AuthConfig controls bearer credential decoding.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8787",
		DBPath: "eyegate.db",
		Store: StoreConfig{
			Driver:    "sqlite",
			Path:      "eyegate-kv.db",
			KeyPrefix: "eyegate",
		},
		Router: RouterConfig{
			DefaultModel:     "gpt-4o-mini",
			AlternatePattern: `^gemini-`,
		},
		RateLimit: RateLimitConfig{
			Default: RatePolicy{Limit: 60, Window: time.Minute},
			Endpoints: map[string]RatePolicy{
				"chat":          {Limit: 100, Window: time.Hour},
				"report":        {Limit: 20, Window: time.Hour},
				"dashboard":     {Limit: 60, Window: time.Hour},
				"routine":       {Limit: 20, Window: time.Hour},
				"proactive-tip": {Limit: 30, Window: time.Hour},
			},
		},
		Breaker: BreakerConfig{
			Name:          "upstream-llm",
			FailureWindow: 60 * time.Second,
			Threshold:     5,
			OpenDuration:  120 * time.Second,
		},
		Conversation: ConversationConfig{
			MaxTurns: 8,
			TTL:      6 * time.Hour,
		},
		Generation: GenerationConfig{
			Timeout:         25 * time.Second,
			MaxAttempts:     3,
			RetryBackoff:    500 * time.Millisecond,
			TwoPass:         true,
			ReasoningEffort: "high",
		},
		Streaming: StreamingConfig{
			ChunkSize:  160,
			ChunkDelay: 25 * time.Millisecond,
		},
		Insights: InsightsConfig{
			TTL: map[string]time.Duration{
				"report":        24 * time.Hour,
				"dashboard":     time.Hour,
				"routine":       12 * time.Hour,
				"proactive-tip": 6 * time.Hour,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
