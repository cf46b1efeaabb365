// Package config provides configuration management for the engram engine.
// It loads settings from environment variables with the ENGRAM_ prefix and
// provides sensible defaults for all options. An optional YAML file can
// overlay the environment-derived values for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the engine.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Text    TextConfig    `yaml:"text"`
	Engine  EngineConfig  `yaml:"engine"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the storage backend: sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the directory for the sqlite database file (default: ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// TextConfig contains text-understanding service configuration. The engine
// only consumes the summarize/extract boundary; these knobs select and tune
// the external provider.
type TextConfig struct {
	// Provider names the text service implementation (default: ollama).
	Provider string `yaml:"provider"`

	// BaseURL is the provider endpoint (default: http://localhost:11434).
	BaseURL string `yaml:"base_url"`

	// Model is the model used for summarization and extraction.
	Model string `yaml:"model"`

	// BreakerMaxFailures is the consecutive-failure count that trips the
	// circuit breaker around text-service calls (default: 3).
	BreakerMaxFailures int `yaml:"breaker_max_failures"`

	// BreakerTimeoutSeconds is how long the breaker stays open (default: 30).
	BreakerTimeoutSeconds int `yaml:"breaker_timeout_seconds"`
}

// EngineConfig contains evolution-engine tuning.
type EngineConfig struct {
	// PromotionCap is the maximum candidates promoted per session pass
	// (default: 20).
	PromotionCap int `yaml:"promotion_cap"`

	// FullConsolidationEvery runs full consolidation and graph pruning every
	// Nth session (default: 5).
	FullConsolidationEvery int `yaml:"full_consolidation_every"`

	// ReflectionEvery runs strategy adaptation and self-reflection every Nth
	// session (default: 20).
	ReflectionEvery int `yaml:"reflection_every"`

	// AdaptationWindowDays is the trailing retrieval-log window used by the
	// strategy adapter (default: 30).
	AdaptationWindowDays int `yaml:"adaptation_window_days"`

	// LightPassRate caps light promotion passes per second across scopes,
	// keeping the session-tick path inside its latency budget (default: 4).
	LightPassRate float64 `yaml:"light_pass_rate"`
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the ENGRAM_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Engine:      getEnv("ENGRAM_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("ENGRAM_DATA_PATH", "./data"),
			PostgresDSN: getEnv("ENGRAM_POSTGRES_DSN", ""),
		},
		Text: TextConfig{
			Provider:              getEnv("ENGRAM_TEXT_PROVIDER", "ollama"),
			BaseURL:               getEnv("ENGRAM_TEXT_BASE_URL", "http://localhost:11434"),
			Model:                 getEnv("ENGRAM_TEXT_MODEL", "qwen2.5:7b"),
			BreakerMaxFailures:    getEnvInt("ENGRAM_TEXT_BREAKER_MAX_FAILURES", 3),
			BreakerTimeoutSeconds: getEnvInt("ENGRAM_TEXT_BREAKER_TIMEOUT_SECONDS", 30),
		},
		Engine: EngineConfig{
			PromotionCap:           getEnvInt("ENGRAM_PROMOTION_CAP", 20),
			FullConsolidationEvery: getEnvInt("ENGRAM_FULL_CONSOLIDATION_EVERY", 5),
			ReflectionEvery:        getEnvInt("ENGRAM_REFLECTION_EVERY", 20),
			AdaptationWindowDays:   getEnvInt("ENGRAM_ADAPTATION_WINDOW_DAYS", 30),
			LightPassRate:          getEnvFloat("ENGRAM_LIGHT_PASS_RATE", 4),
		},
	}

	if path := os.Getenv("ENGRAM_CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile overlays a YAML config file onto the current values. Fields
// absent from the file keep their existing values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Storage.Engine != "sqlite" && c.Storage.Engine != "postgres" {
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires ENGRAM_POSTGRES_DSN")
	}
	if c.Engine.PromotionCap < 1 {
		return fmt.Errorf("config: promotion_cap must be >= 1, got %d", c.Engine.PromotionCap)
	}
	if c.Engine.FullConsolidationEvery < 1 {
		return fmt.Errorf("config: full_consolidation_every must be >= 1, got %d", c.Engine.FullConsolidationEvery)
	}
	if c.Engine.ReflectionEvery < 1 {
		return fmt.Errorf("config: reflection_every must be >= 1, got %d", c.Engine.ReflectionEvery)
	}
	if c.Engine.AdaptationWindowDays < 1 {
		return fmt.Errorf("config: adaptation_window_days must be >= 1, got %d", c.Engine.AdaptationWindowDays)
	}
	if c.Engine.LightPassRate <= 0 {
		return fmt.Errorf("config: light_pass_rate must be > 0, got %f", c.Engine.LightPassRate)
	}
	return nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as a float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
