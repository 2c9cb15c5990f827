package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"marketpulse/internal/engine"
)

type Config struct {
	MarketPulse MarketPulseConfig `yaml:"marketpulse"`
	Engine      engine.Config     `yaml:"engine"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Feed        FeedConfig        `yaml:"feed"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type MarketPulseConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ChannelsConfig sizes the emitter's bounded output queues.
type ChannelsConfig struct {
	AnomalyBuffer int `yaml:"anomaly_buffer"`
	TradingBuffer int `yaml:"trading_buffer"`
	StatsBuffer   int `yaml:"stats_buffer"`
}

type FeedConfig struct {
	// Mode selects the event source: "websocket" or "replay".
	Mode          string               `yaml:"mode"`
	URL           string               `yaml:"url"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Reconnect     ReconnectConfig      `yaml:"reconnect"`
	Replay        ReplayConfig         `yaml:"replay"`
}

type SubscriptionConfig struct {
	Exchange string   `yaml:"exchange"`
	Symbols  []string `yaml:"symbols"`
}

type ReconnectConfig struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
}

// ReplayConfig drives the deterministic synthetic feed used for local
// runs and soak tests.
type ReplayConfig struct {
	Seed       int64 `yaml:"seed"`
	Events     int   `yaml:"events"`
	IntervalMs int   `yaml:"interval_ms"`
}

type NotifierConfig struct {
	// SeverityThreshold is the minimum severity forwarded to alerting:
	// low, medium, high or critical.
	SeverityThreshold string `yaml:"severity_threshold"`
}

type MetricsConfig struct {
	QueueSize  bool             `yaml:"queue_size"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{
			AnomalyBuffer: 1024,
			TradingBuffer: 256,
			StatsBuffer:   1024,
		},
		Metrics: MetricsConfig{
			QueueSize: true,
		},
		Notifier: NotifierConfig{
			SeverityThreshold: "medium",
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

	applyEnvOverrides(&config)
	config.Engine.ApplyDefaults()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deploy environments override the fields that
// commonly differ between environments without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKETPULSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}
	if v := os.Getenv("MARKETPULSE_FEED_URL"); v != "" {
		cfg.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Metrics.CloudWatch.Enabled {
		cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("MARKETPULSE_AUTO_TRADING"); v != "" {
		if enabled, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Engine.Risk.Global.AutoTradingEnabled = enabled
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.MarketPulse.Name == "" {
		return fmt.Errorf("marketpulse.name is required")
	}
	if cfg.MarketPulse.Version == "" {
		return fmt.Errorf("marketpulse.version is required")
	}

	if cfg.Channels.AnomalyBuffer <= 0 {
		return fmt.Errorf("channels.anomaly_buffer must be greater than 0")
	}
	if cfg.Channels.TradingBuffer <= 0 {
		return fmt.Errorf("channels.trading_buffer must be greater than 0")
	}
	if cfg.Channels.StatsBuffer <= 0 {
		return fmt.Errorf("channels.stats_buffer must be greater than 0")
	}

	switch cfg.Feed.Mode {
	case "websocket":
		if cfg.Feed.URL == "" {
			return fmt.Errorf("feed.url is required when feed.mode is websocket")
		}
	case "replay":
		if cfg.Feed.Replay.Events < 0 {
			return fmt.Errorf("feed.replay.events must not be negative")
		}
	default:
		return fmt.Errorf("feed.mode must be websocket or replay, got %q", cfg.Feed.Mode)
	}
	for _, sub := range cfg.Feed.Subscriptions {
		if sub.Exchange == "" {
			return fmt.Errorf("feed.subscriptions entries require an exchange")
		}
		if len(sub.Symbols) == 0 {
			return fmt.Errorf("feed.subscriptions for %s lists no symbols", sub.Exchange)
		}
	}

	switch cfg.Notifier.SeverityThreshold {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("notifier.severity_threshold %q is not a severity", cfg.Notifier.SeverityThreshold)
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	return nil
}
