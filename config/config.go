package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Divflow DivflowConfig `yaml:"divflow"`
	Feed    FeedConfig    `yaml:"feed"`
	Storage StorageConfig `yaml:"storage"`
	Sync    SyncConfig    `yaml:"sync"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type DivflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	// URI is the feed URL template with {apikey} and {date} placeholders.
	URI          string        `yaml:"uri"`
	APIKey       string        `yaml:"apikey"`
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	PageInterval time.Duration `yaml:"page_interval"`
	StartSkew    time.Duration `yaml:"start_skew"`
	Retry        RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type StorageConfig struct {
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

type DynamoDBConfig struct {
	Table           string `yaml:"table"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type SyncConfig struct {
	HorizonWeeks int    `yaml:"horizon_weeks"`
	Schedule     string `yaml:"schedule"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// LoadConfig reads the YAML configuration file and applies environment
// variable overrides on top of it. Environment values always win over file
// values; both tiers are resolved once, here.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			Timeout:      30 * time.Second,
			PageInterval: 12 * time.Second,
			StartSkew:    48 * time.Hour,
			Retry: RetryConfig{
				MaxAttempts: 5,
				Delay:       30 * time.Second,
			},
		},
		Sync: SyncConfig{
			HorizonWeeks: 1,
			Schedule:     "0 6 * * *",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	config.Feed.URI = strings.TrimSpace(config.Feed.URI)
	config.Storage.DynamoDB.Table = strings.TrimSpace(config.Storage.DynamoDB.Table)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides layers environment variables over file values. The short
// aliases (URI, APIKEY, TABLE, WEEKS) match the names the deployment
// environment historically used.
func applyEnvOverrides(cfg *Config) error {
	if v := firstEnv("FEED_URI", "URI"); v != "" {
		cfg.Feed.URI = v
	}
	if v := firstEnv("FEED_APIKEY", "APIKEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := firstEnv("DYNAMODB_TABLE", "TABLE"); v != "" {
		cfg.Storage.DynamoDB.Table = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.DynamoDB.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.DynamoDB.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.DynamoDB.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := firstEnv("SYNC_WEEKS", "WEEKS"); v != "" {
		weeks, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SYNC_WEEKS value %q: %w", v, err)
		}
		cfg.Sync.HorizonWeeks = weeks
	}
	if v := os.Getenv("SYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = strings.TrimSpace(v)
	}
	return nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func validateConfig(cfg *Config) error {
	if cfg.Divflow.Name == "" {
		return fmt.Errorf("divflow.name is required")
	}
	if cfg.Divflow.Version == "" {
		return fmt.Errorf("divflow.version is required")
	}

	if cfg.Feed.URI == "" {
		return fmt.Errorf("feed.uri is required")
	}
	if !strings.Contains(cfg.Feed.URI, "{date}") {
		return fmt.Errorf("feed.uri must contain a {date} placeholder")
	}
	if cfg.Feed.APIKey == "" && IsProductionLike(AppEnvironment()) {
		return fmt.Errorf("feed.apikey is required in %s", AppEnvironment())
	}
	if cfg.Feed.PageInterval <= 0 {
		return fmt.Errorf("feed.page_interval must be greater than 0")
	}
	if cfg.Feed.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("feed.retry.max_attempts must be greater than 0")
	}
	if cfg.Feed.Retry.Delay <= 0 {
		return fmt.Errorf("feed.retry.delay must be greater than 0")
	}

	if cfg.Storage.DynamoDB.Table == "" {
		return fmt.Errorf("storage.dynamodb.table is required")
	}

	if cfg.Sync.HorizonWeeks <= 0 {
		return fmt.Errorf("sync.horizon_weeks must be greater than 0")
	}

	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}

	return nil
}

// Horizon returns the sync window length.
func (c *SyncConfig) Horizon() time.Duration {
	return time.Duration(c.HorizonWeeks) * 7 * 24 * time.Hour
}
