package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the database DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds optional redis settings for the shared pricing cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BackendConfig holds upstream model-serving backend settings.
type BackendConfig struct {
	BaseURL        string   `yaml:"base-url"`
	ConnectTimeout Duration `yaml:"connect-timeout"`
	RequestTimeout Duration `yaml:"request-timeout"`
	MaxRetries     int      `yaml:"max-retries"`
	RetryDelay     Duration `yaml:"retry-delay"`
	UserAgent      string   `yaml:"user-agent"`
}

// RateLimitConfig holds sliding-window rate limit settings.
type RateLimitConfig struct {
	WindowSize       Duration `yaml:"window-size"`
	BaseRequests     int64    `yaml:"base-requests"`
	BaseTokens       int64    `yaml:"base-tokens"`
	SweepProbability float64  `yaml:"sweep-probability"`
}

// BillingConfig holds pricing defaults and cache settings.
type BillingConfig struct {
	DefaultPricePer1K float64  `yaml:"default-price-per-1k"`
	PricingCacheTTL   Duration `yaml:"pricing-cache-ttl"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	JWTSecret   string   `yaml:"jwt-secret"`
	TokenExpiry Duration `yaml:"token-expiry"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ModelsConfig holds the static model catalog and alias mapping.
type ModelsConfig struct {
	Catalog []string          `yaml:"catalog"`
	Aliases map[string]string `yaml:"aliases"`
}

// UsageConfig holds usage ledger maintenance settings.
type UsageConfig struct {
	RetentionDays   int      `yaml:"retention-days"`
	CleanerInterval Duration `yaml:"cleaner-interval"`
}

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Backend   BackendConfig   `yaml:"backend"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Billing   BillingConfig   `yaml:"billing"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Models    ModelsConfig    `yaml:"models"`
	Usage     UsageConfig     `yaml:"usage"`
}

// Default returns a configuration populated with built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Database: DatabaseConfig{
			DSN: "gateway.db",
		},
		Backend: BackendConfig{
			BaseURL:        "https://beta.lmarena.ai",
			ConnectTimeout: Duration(10 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
			MaxRetries:     3,
			RetryDelay:     Duration(time.Second),
			UserAgent:      "OpenRouter-Alternative-Backend/1.0",
		},
		RateLimit: RateLimitConfig{
			WindowSize:       Duration(time.Minute),
			BaseRequests:     60,
			BaseTokens:       100000,
			SweepProbability: 0.01,
		},
		Billing: BillingConfig{
			DefaultPricePer1K: 0.001,
			PricingCacheTTL:   Duration(5 * time.Minute),
		},
		Admin: AdminConfig{
			TokenExpiry: Duration(12 * time.Hour),
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Models: ModelsConfig{
			Catalog: defaultModelCatalog(),
			Aliases: defaultModelAliases(),
		},
		Usage: UsageConfig{
			RetentionDays:   90,
			CleanerInterval: Duration(6 * time.Hour),
		},
	}
}

// Load reads configuration from the given YAML file, applying defaults and
// environment overrides. A missing file is not an error; defaults plus the
// environment are used instead.
func Load(path string) (Config, error) {
	// Side effect only; a missing .env file is fine.
	_ = godotenv.Load()

	cfg := Default()

	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		data, errRead := os.ReadFile(trimmed)
		if errRead != nil {
			if !os.IsNotExist(errRead) {
				return Config{}, fmt.Errorf("config: read %s: %w", trimmed, errRead)
			}
		} else if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", trimmed, errUnmarshal)
		}
	}

	applyEnvOverrides(&cfg)

	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: empty database dsn")
	}
	if c.Backend.RequestTimeout.Std() <= 0 {
		return fmt.Errorf("config: invalid backend request timeout: %s", c.Backend.RequestTimeout)
	}
	if c.RateLimit.WindowSize.Std() < time.Second {
		return fmt.Errorf("config: invalid rate limit window: %s", c.RateLimit.WindowSize)
	}
	if c.RateLimit.BaseRequests <= 0 || c.RateLimit.BaseTokens <= 0 {
		return fmt.Errorf("config: rate limit base quotas must be positive")
	}
	if c.Billing.DefaultPricePer1K < 0 {
		return fmt.Errorf("config: default price must not be negative")
	}
	return nil
}

// ResolveModel maps a model alias to its canonical name.
func (c *Config) ResolveModel(model string) string {
	if mapped, ok := c.Models.Aliases[model]; ok && strings.TrimSpace(mapped) != "" {
		return mapped
	}
	return model
}

// applyEnvOverrides overlays environment variables onto the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, errParse := strconv.Atoi(v); errParse == nil {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("GATEWAY_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENA_BASE_URL")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET")); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// defaultModelCatalog returns the built-in model list used when the upstream
// model listing is unavailable.
func defaultModelCatalog() []string {
	return []string{
		"gpt-4o-latest",
		"gpt-4.1-2025-04-14",
		"gpt-4.1-mini-2025-04-14",
		"claude-3-5-haiku-20241022",
		"claude-3-5-sonnet-20241022",
		"claude-3-7-sonnet-20250219",
		"claude-opus-4-20250514",
		"claude-sonnet-4-20250514",
		"gemini-2.0-flash-001",
		"gemini-2.5-flash-preview-04-17",
		"gemini-2.5-pro-preview-05-06",
		"llama-3.3-70b-instruct",
		"llama-4-maverick-03-26-experimental",
		"deepseek-v3-0324",
		"grok-3-mini-beta",
		"grok-3-preview-02-24",
		"o3-2025-04-16",
		"o3-mini",
		"o4-mini-2025-04-16",
		"qwen-max-2025-01-25",
	}
}

// defaultModelAliases maps common model names onto catalog entries.
func defaultModelAliases() map[string]string {
	return map[string]string{
		"gpt-4":           "gpt-4o-latest",
		"gpt-4-turbo":     "gpt-4.1-2025-04-14",
		"gpt-3.5-turbo":   "gpt-4.1-mini-2025-04-14",
		"claude-3-sonnet": "claude-3-5-sonnet-20241022",
		"claude-3-haiku":  "claude-3-5-haiku-20241022",
		"gemini-pro":      "gemini-2.0-flash-001",
		"llama-3":         "llama-3.3-70b-instruct",
	}
}
