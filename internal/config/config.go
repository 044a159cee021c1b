// Package config loads the router configuration from YAML, .env files and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"yarn-agent/internal/classifier"
	"yarn-agent/internal/logging"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Log     logging.Config `yaml:"log"`
	Session SessionConfig  `yaml:"session"`
	Redis   RedisConfig    `yaml:"redis"`
	Model   ModelConfig    `yaml:"model"`
	LLM     LLMConfig      `yaml:"llm"`
	Tiers   TiersConfig    `yaml:"tiers"`
	Policy  PolicyConfig   `yaml:"policy"`
	Events  EventsConfig   `yaml:"events"`
	Trace   TraceConfig    `yaml:"trace"`
	// Boosts and Damps replace the built-in step factor tables when set.
	Boosts classifier.Factors `yaml:"boosts"`
	Damps  classifier.Factors `yaml:"damps"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// Debug includes classifier details in chat responses.
	Debug bool `yaml:"debug"`
}

type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
	Shards          int           `yaml:"shards" validate:"gte=0"`
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	TTL          time.Duration `yaml:"ttl"`
	EventsMaxLen int64         `yaml:"events_max_len" validate:"gte=0"`
}

// ModelConfig points at the zero-shot model service.
type ModelConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	Timeout time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Provider          string  `yaml:"provider" validate:"omitempty,oneof=openai ollama"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	APIKey            string  `yaml:"-"`
	Model             string  `yaml:"model" validate:"required_if=Enabled true"`
	MaxTokens         int     `yaml:"max_tokens" validate:"gte=0"`
	DefaultConfidence float64 `yaml:"default_confidence" validate:"gte=0,lte=1"`
	// Conversation enables the LLM for the open conversation after the last step.
	Conversation bool `yaml:"conversation"`
}

type TierConfig struct {
	Threshold     float64       `yaml:"threshold" validate:"gte=0,lte=1"`
	Margin        float64       `yaml:"margin" validate:"gte=0,lte=1"`
	MemberTimeout time.Duration `yaml:"member_timeout" validate:"gte=0"`
	Members       []string      `yaml:"members" validate:"min=1,unique,dive,oneof=model rules llm"`
}

type TiersConfig struct {
	Intent    TierConfig `yaml:"intent"`
	Sentiment TierConfig `yaml:"sentiment"`
	Risk      TierConfig `yaml:"risk"`
}

type PolicyConfig struct {
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1"`
}

type EventsConfig struct {
	Buffer int `yaml:"buffer" validate:"gte=0"`
}

// TraceConfig samples root spans at SampleRatio. Zero leaves tracing off.
type TraceConfig struct {
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the tuned defaults. Risk consults the local rules first.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    logging.Config{Level: "info", Format: "json"},
		Session: SessionConfig{
			TTL:             30 * time.Minute,
			CleanupInterval: time.Minute,
			Shards:          16,
		},
		Redis: RedisConfig{Addr: "localhost:6379", TTL: 24 * time.Hour, EventsMaxLen: 10000},
		Model: ModelConfig{BaseURL: "http://127.0.0.1:8000", Timeout: 3 * time.Second},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			MaxTokens:         50,
			DefaultConfidence: 0.7,
		},
		Tiers: TiersConfig{
			Intent: TierConfig{
				Threshold:     0.3,
				Margin:        0.05,
				MemberTimeout: 5 * time.Second,
				Members:       []string{"model", "rules", "llm"},
			},
			Sentiment: TierConfig{
				Threshold:     0.3,
				MemberTimeout: 5 * time.Second,
				Members:       []string{"model", "rules", "llm"},
			},
			Risk: TierConfig{
				Threshold:     0.5,
				MemberTimeout: 5 * time.Second,
				Members:       []string{"rules", "model", "llm"},
			},
		},
		Policy: PolicyConfig{MaxAttempts: 3},
		Events: EventsConfig{Buffer: 256},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides, then validates. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "YARN_ADDR")
	setString(&c.Log.Level, "YARN_LOG_LEVEL")
	setString(&c.Redis.Addr, "YARN_REDIS_ADDR")
	setString(&c.Redis.Password, "YARN_REDIS_PASSWORD")
	setString(&c.Model.BaseURL, "YARN_MODEL_URL")
	setString(&c.LLM.Provider, "YARN_LLM_PROVIDER")
	setString(&c.LLM.BaseURL, "YARN_LLM_BASE_URL")
	setString(&c.LLM.Model, "YARN_LLM_MODEL")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")

	for key, dst := range map[string]*bool{
		"YARN_REDIS_ENABLED": &c.Redis.Enabled,
		"YARN_MODEL_ENABLED": &c.Model.Enabled,
		"YARN_LLM_ENABLED":   &c.LLM.Enabled,
		"YARN_DEBUG":         &c.Server.Debug,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, f := range []classifier.Factors{c.Boosts, c.Damps} {
		for step := range f {
			if !step.Valid() {
				return fmt.Errorf("invalid config: unknown step %q in boost table", step)
			}
		}
	}
	return nil
}

// Booster returns the configured step factors, falling back to the built-in
// tables for whichever side is unset.
func (c *Config) Booster() *classifier.Booster {
	boosts, damps := c.Boosts, c.Damps
	if len(boosts) == 0 {
		boosts = classifier.DefaultBoosts()
	}
	if len(damps) == 0 {
		damps = classifier.DefaultDamps()
	}
	return classifier.NewBooster(boosts, damps)
}
