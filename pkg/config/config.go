package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds every setting recognized by the grade-watch pipeline, as
// listed in the configuration key table: credentials for the external
// fetcher, store/journal locations, retry tuning, per-provider notification
// settings, the optional health-check URL, and logging.
type Config struct {
	Env string

	API           APIConfig
	ScrapeTimes   []string
	Storage       StorageConfig
	Retry         RetryConfig
	Journal       JournalConfig
	Notifications NotificationsConfig
	Healthcheck   HealthcheckConfig
	Log           LogConfig
}

// APIConfig carries opaque credentials for the external fetcher. The core
// pipeline never inspects these values beyond passing them through.
type APIConfig struct {
	Key    string
	Secret string
	Domain string
}

// StorageConfig locates the snapshot store. Timeout is loaded from
// STORAGE_TIMEOUT_MS but is not used by the store: store.Open does not
// wait for the file lock and fails at once when it is held.
type StorageConfig struct {
	Path    string
	Timeout time.Duration
}

// RetryConfig tunes the fetch retry loop.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// JournalConfig locates the append-only change journal and its prune
// horizon.
type JournalConfig struct {
	Path          string
	RetentionDays int
}

// NotificationsConfig carries per-provider settings. A provider is
// "available" iff its mandatory subset of fields is non-empty; that check
// lives in the provider itself, not here.
type NotificationsConfig struct {
	Webhook WebhookProviderConfig
	Log     LogProviderConfig
}

// WebhookProviderConfig configures the generic outbound-webhook provider.
type WebhookProviderConfig struct {
	Enabled bool
	URL     string
	Timeout time.Duration
}

// LogProviderConfig configures the structured-log notification provider.
// When Enabled (the default), it is added to the provider set alongside
// any other enabled provider.
type LogProviderConfig struct {
	Enabled bool
}

// HealthcheckConfig configures the optional dead-man's-snitch style ping.
type HealthcheckConfig struct {
	URL     string
	Timeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and an optional .env file,
// applying defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.API = APIConfig{
		Key:    v.GetString("API_KEY"),
		Secret: v.GetString("API_SECRET"),
		Domain: v.GetString("API_DOMAIN"),
	}

	cfg.ScrapeTimes = splitAndTrim(v.GetString("SCRAPE_TIMES"))

	cfg.Storage = StorageConfig{
		Path:    v.GetString("STORAGE_PATH"),
		Timeout: parseMillis(v.GetInt("STORAGE_TIMEOUT_MS"), 30*time.Second),
	}

	cfg.Retry = RetryConfig{
		MaxAttempts: v.GetInt("RETRY_MAX_ATTEMPTS"),
		Delay:       parseMillis(v.GetInt("RETRY_DELAY_MS"), 5*time.Second),
	}

	cfg.Journal = JournalConfig{
		Path:          v.GetString("JOURNAL_PATH"),
		RetentionDays: v.GetInt("JOURNAL_RETENTION_DAYS"),
	}

	cfg.Notifications = NotificationsConfig{
		Webhook: WebhookProviderConfig{
			Enabled: v.GetBool("NOTIFICATIONS_WEBHOOK_ENABLED"),
			URL:     v.GetString("NOTIFICATIONS_WEBHOOK_URL"),
			Timeout: parseMillis(v.GetInt("NOTIFICATIONS_WEBHOOK_TIMEOUT_MS"), 10*time.Second),
		},
		Log: LogProviderConfig{
			Enabled: v.GetBool("NOTIFICATIONS_LOG_ENABLED"),
		},
	}

	cfg.Healthcheck = HealthcheckConfig{
		URL:     v.GetString("HEALTHCHECK_URL"),
		Timeout: parseMillis(v.GetInt("HEALTHCHECK_TIMEOUT_MS"), 5*time.Second),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("API_KEY", "")
	v.SetDefault("API_SECRET", "")
	v.SetDefault("API_DOMAIN", "")

	v.SetDefault("SCRAPE_TIMES", "07:00,12:00,17:00")

	v.SetDefault("STORAGE_PATH", "./data/snapshot.db")
	v.SetDefault("STORAGE_TIMEOUT_MS", 30000)

	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_DELAY_MS", 5000)

	v.SetDefault("JOURNAL_PATH", "./data/journal.jsonl")
	v.SetDefault("JOURNAL_RETENTION_DAYS", 90)

	v.SetDefault("NOTIFICATIONS_WEBHOOK_ENABLED", false)
	v.SetDefault("NOTIFICATIONS_WEBHOOK_URL", "")
	v.SetDefault("NOTIFICATIONS_WEBHOOK_TIMEOUT_MS", 10000)
	v.SetDefault("NOTIFICATIONS_LOG_ENABLED", true)

	v.SetDefault("HEALTHCHECK_URL", "")
	v.SetDefault("HEALTHCHECK_TIMEOUT_MS", 5000)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseMillis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
