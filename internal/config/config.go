// Package config loads settings from .env, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/kotoba/internal/ai"
)

// Config is the complete application configuration
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	TelegramToken string             `yaml:"telegram_token"`
	LLM           LLMConfig          `yaml:"llm"`
	AWS           AWSConfig          `yaml:"aws"`
	Storage       StorageConfig      `yaml:"storage"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit"`
	Batch         BatchConfig        `yaml:"batch"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Notifications NotificationConfig `yaml:"notifications"`
}

type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	OpenAIKey      string        `yaml:"openai_api_key"`
	OpenAIModel    string        `yaml:"openai_model"`
	GeminiKey      string        `yaml:"gemini_api_key"`
	GeminiModel    string        `yaml:"gemini_model"`
	BedrockModel   string        `yaml:"bedrock_model"`
	BedrockEnabled bool          `yaml:"bedrock_enabled"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

type AWSConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // e.g. http://localstack:4566
}

type StorageConfig struct {
	Backend    string        `yaml:"backend"` // "local" or "s3"
	Dir        string        `yaml:"dir"`
	BaseURL    string        `yaml:"base_url"`
	Bucket     string        `yaml:"bucket"`
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

type RateLimitConfig struct {
	Window    time.Duration  `yaml:"window"`
	Providers map[string]int `yaml:"providers"` // max calls per window by provider
	Models    map[string]int `yaml:"models"`    // requests per window by model name
}

type BatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// SweepInterval is how often pending jobs that found the queue full are queued again
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type NotificationConfig struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Default returns the built-in settings
func Default() Config {
	retry := ai.DefaultRetryConfig()
	return Config{
		Database: DatabaseConfig{Type: "sqlite", DSN: "data/kotoba.db"},
		LLM: LLMConfig{
			OpenAIModel:    "gpt-4o-mini",
			GeminiModel:    "gemini-2.5-flash-lite",
			BedrockModel:   "us.amazon.nova-lite-v1:0",
			MaxRetries:     retry.MaxAttempts,
			RetryBaseDelay: retry.BaseDelay,
			CallTimeout:    retry.CallTimeout,
		},
		AWS: AWSConfig{Region: "us-east-1"},
		Storage: StorageConfig{
			Backend:    "local",
			Dir:        "data/files",
			PresignTTL: 15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Window:    time.Minute,
			Providers: map[string]int{"openai": 60, "gemini": 15, "bedrock": 30},
			Models:    map[string]int{},
		},
		Batch:         BatchConfig{Workers: 2, QueueSize: 100, SweepInterval: 10 * time.Second},
		Metrics:       MetricsConfig{Enabled: false, Port: 9090},
		Notifications: NotificationConfig{StartHour: 8, EndHour: 22},
	}
}

// Load reads .env (if present), then the YAML file at path or $KOTOBA_CONFIG,
// then environment variables. Later sources win.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("KOTOBA_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Database.Type = get("DB_TYPE", c.Database.Type)
	c.Database.DSN = get("DB_DSN", c.Database.DSN)
	c.TelegramToken = get("TELEGRAM_BOT_TOKEN", c.TelegramToken)

	c.LLM.OpenAIKey = get("OPENAI_API_KEY", c.LLM.OpenAIKey)
	c.LLM.OpenAIModel = get("OPENAI_MODEL", c.LLM.OpenAIModel)
	c.LLM.GeminiKey = get("GEMINI_API_KEY", c.LLM.GeminiKey)
	c.LLM.GeminiModel = get("GEMINI_MODEL_ID", c.LLM.GeminiModel)
	c.LLM.BedrockModel = get("BEDROCK_MODEL_ID", c.LLM.BedrockModel)
	c.AWS.Region = get("AWS_REGION", c.AWS.Region)
	c.AWS.Endpoint = get("AWS_ENDPOINT_URL", c.AWS.Endpoint)
	c.Storage.Backend = get("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Dir = get("STORAGE_DIR", c.Storage.Dir)
	c.Storage.BaseURL = get("STORAGE_BASE_URL", c.Storage.BaseURL)
	c.Storage.Bucket = get("S3_BUCKET", c.Storage.Bucket)

	var err error
	if c.LLM.BedrockEnabled, err = getBool("BEDROCK_ENABLED", c.LLM.BedrockEnabled); err != nil {
		return err
	}
	if c.Metrics.Enabled, err = getBool("METRICS_ENABLED", c.Metrics.Enabled); err != nil {
		return err
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"LLM_MAX_RETRIES", &c.LLM.MaxRetries},
		{"BATCH_WORKERS", &c.Batch.Workers},
		{"BATCH_QUEUE_SIZE", &c.Batch.QueueSize},
		{"METRICS_PORT", &c.Metrics.Port},
		{"NOTIFICATION_START_HOUR", &c.Notifications.StartHour},
		{"NOTIFICATION_END_HOUR", &c.Notifications.EndHour},
	}
	for _, v := range ints {
		if *v.dst, err = getInt(v.key, *v.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"LLM_RETRY_BASE_DELAY_MS", time.Millisecond, &c.LLM.RetryBaseDelay},
		{"LLM_CALL_TIMEOUT_SECONDS", time.Second, &c.LLM.CallTimeout},
		{"PRESIGN_TTL_SECONDS", time.Second, &c.Storage.PresignTTL},
		{"RATE_LIMIT_WINDOW_SECONDS", time.Second, &c.RateLimit.Window},
		{"BATCH_SWEEP_SECONDS", time.Second, &c.Batch.SweepInterval},
	}
	for _, v := range durations {
		n, err := getInt(v.key, -1)
		if err != nil {
			return err
		}
		if n >= 0 {
			*v.dst = time.Duration(n) * v.unit
		}
	}

	if s := os.Getenv("PROVIDER_MAX_CALLS"); s != "" {
		m, err := ParseLimits(s)
		if err != nil {
			return fmt.Errorf("PROVIDER_MAX_CALLS: %w", err)
		}
		if c.RateLimit.Providers == nil {
			c.RateLimit.Providers = map[string]int{}
		}
		for k, v := range m {
			c.RateLimit.Providers[k] = v
		}
	}
	if s := os.Getenv("MODEL_RPM"); s != "" {
		m, err := ParseLimits(s)
		if err != nil {
			return fmt.Errorf("MODEL_RPM: %w", err)
		}
		if c.RateLimit.Models == nil {
			c.RateLimit.Models = map[string]int{}
		}
		for k, v := range m {
			c.RateLimit.Models[k] = v
		}
	}
	return nil
}

// Validate checks values that would otherwise fail later in confusing ways
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	for _, h := range []int{c.Notifications.StartHour, c.Notifications.EndHour} {
		if h < 0 || h > 23 {
			return fmt.Errorf("notification hour %d out of range 0-23", h)
		}
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be at least 1")
	}
	if c.Batch.SweepInterval <= 0 {
		return fmt.Errorf("BATCH_SWEEP_SECONDS must be positive")
	}
	return nil
}

// Limits builds the limiter table. models maps a provider to the model it
// uses; per-model ceilings are keyed "provider:model".
func (r RateLimitConfig) Limits(models map[string]string) map[string]int {
	out := make(map[string]int, len(r.Providers)+len(r.Models))
	for p, n := range r.Providers {
		if n > 0 {
			out[p] = n
		}
	}
	for p, model := range models {
		if n, ok := r.Models[model]; ok && n > 0 {
			out[p+":"+model] = n
		}
	}
	return out
}

// ParseLimits parses "name=n,name=n". Model names may contain ':' and '.'.
func ParseLimits(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.LastIndex(part, "=")
		if i <= 0 {
			return nil, fmt.Errorf("invalid entry %q, expected name=n", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid limit in %q", part)
		}
		out[strings.TrimSpace(part[:i])] = n
	}
	return out, nil
}

// get returns the value of the environment variable k or def if not set.
func get(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return n, nil
}

func getBool(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return b, nil
}
