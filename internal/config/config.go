// Package config loads application configuration from an optional YAML
// file overlaid with AGENT_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Queue    QueueConfig    `koanf:"queue"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Agent    AgentConfig    `koanf:"agent"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Dispatch DispatchConfig `koanf:"dispatch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	MetricsPort       int           `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	WebhookRatePerMin int           `koanf:"webhook_rate_per_min"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// AuthConfig holds admin endpoint protection settings. An empty secret
// disables authentication.
type AuthConfig struct {
	AdminSecret string `koanf:"admin_secret"`
}

// QueueConfig holds durable queue settings.
type QueueConfig struct {
	Dir           string        `koanf:"dir"`
	LockTimeout   time.Duration `koanf:"lock_timeout"`
	LockStaleness time.Duration `koanf:"lock_staleness"`
	Retention     time.Duration `koanf:"retention"`
}

// ScheduleConfig holds business calendar settings.
type ScheduleConfig struct {
	Timezone string `koanf:"timezone"`
}

// AgentConfig holds voice-agent platform settings.
type AgentConfig struct {
	APIURL          string        `koanf:"api_url"`
	ConversationURL string        `koanf:"conversation_url"`
	APIKey          string        `koanf:"api_key"`
	AgentID         string        `koanf:"agent_id"`
	PhoneNumberID   string        `koanf:"phone_number_id"`
	PhoneNumber     string        `koanf:"phone_number"`
	CallTimeout     time.Duration `koanf:"call_timeout"`
	RateLimit       float64       `koanf:"rate_limit"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	PollBudget      time.Duration `koanf:"poll_budget"`
}

// DeliveryConfig holds outcome webhook delivery settings.
type DeliveryConfig struct {
	Enabled    bool          `koanf:"enabled"`
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// DispatchConfig holds call dispatcher settings.
type DispatchConfig struct {
	Enabled         bool          `koanf:"enabled"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			MetricsPort:       9090,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			WebhookRatePerMin: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Queue: QueueConfig{
			Dir:           "data",
			LockTimeout:   10 * time.Second,
			LockStaleness: 30 * time.Second,
			Retention:     7 * 24 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Timezone: "Europe/Paris",
		},
		Agent: AgentConfig{
			APIURL:          "https://api.elevenlabs.io/v1/convai/twilio/outbound-call",
			ConversationURL: "https://api.elevenlabs.io/v1/convai/conversations",
			CallTimeout:     30 * time.Second,
			RateLimit:       1,
			PollInterval:    30 * time.Second,
			PollBudget:      5 * time.Minute,
		},
		Delivery: DeliveryConfig{
			Timeout: 10 * time.Second,
		},
		Dispatch: DispatchConfig{
			Enabled:         true,
			PollInterval:    time.Minute,
			CleanupInterval: time.Hour,
		},
	}
}

// Load reads configuration from the given YAML file (skipped when the
// path is empty or the file does not exist) and from AGENT_-prefixed
// environment variables, over the defaults. AGENT_SERVER_PORT maps to
// server.port.
func Load(path string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider("AGENT_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "AGENT_")), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("server.port and server.metrics_port must differ")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}

	if c.Dispatch.Enabled {
		if c.Agent.APIKey == "" {
			return fmt.Errorf("agent.api_key is required when the dispatcher is enabled")
		}
		if c.Agent.AgentID == "" {
			return fmt.Errorf("agent.agent_id is required when the dispatcher is enabled")
		}
		if c.Agent.PhoneNumberID == "" {
			return fmt.Errorf("agent.phone_number_id is required when the dispatcher is enabled")
		}
	}

	if c.Delivery.Enabled && c.Delivery.WebhookURL == "" {
		return fmt.Errorf("delivery.webhook_url is required when delivery is enabled")
	}

	return nil
}
