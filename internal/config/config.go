// Package config provides configuration management for the fill watcher.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when a value is unset.
const (
	defaultPollInterval    = 5 * time.Second
	defaultLookback        = time.Hour
	defaultBrokerTimeout   = 10 * time.Second
	defaultNotifyTimeout   = 10 * time.Second
	defaultOrderStatus     = "FILLED"
	defaultDashboardPort   = 8080
	defaultRetryMaxRetries = 3
	defaultRetryMultiplier = 2.0
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Poll        PollConfig        `yaml:"poll"`
	Notify      NotifyConfig      `yaml:"notify"`
	Retry       RetryConfig       `yaml:"retry"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Secrets     SecretsConfig     `yaml:"secrets"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper | live
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// BrokerConfig defines order history API settings. Credentials come from
// the secrets store, never from this file.
type BrokerConfig struct {
	Provider    string `yaml:"provider"`
	APIEndpoint string `yaml:"api_endpoint"`
	TokenURL    string `yaml:"token_url"`
	Status      string `yaml:"status"`   // order status filter, empty for all
	Lookback    string `yaml:"lookback"` // e.g. "1h"
	Timeout     string `yaml:"timeout"`
}

// PollConfig defines the watch loop.
type PollConfig struct {
	Interval string `yaml:"interval"`
	Template string `yaml:"template"`
}

// NotifyConfig defines where rendered messages go.
type NotifyConfig struct {
	Provider    string `yaml:"provider"` // discord | log
	APIEndpoint string `yaml:"api_endpoint"`
	Timeout     string `yaml:"timeout"`
}

// RetryConfig defines the fetch retry schedule.
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries"`
	InitialBackoff string  `yaml:"initial_backoff"`
	MaxBackoff     string  `yaml:"max_backoff"`
	Multiplier     float64 `yaml:"multiplier"`
}

// BreakerConfig defines the circuit breaker around the order source.
type BreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// DashboardConfig defines the read-only HTTP dashboard.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// SecretsConfig points at the dotenv fallback for credentials.
type SecretsConfig struct {
	EnvFile string `yaml:"env_file"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnv(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// rawFields are config paths whose values are taken literally. Message
// templates use "${price:.2f}" style placeholders.
var rawFields = map[string]bool{
	"poll.template": true,
}

// expandEnv replaces $VAR and ${VAR} in every scalar value except rawFields.
// Comments and keys are left alone.
func expandEnv(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return data, nil
	}
	expandNode(&doc, "")

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func expandNode(n *yaml.Node, path string) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			expandNode(c, path)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			child := n.Content[i].Value
			if path != "" {
				child = path + "." + child
			}
			expandNode(n.Content[i+1], child)
		}
	case yaml.ScalarNode:
		if rawFields[path] {
			return
		}
		v := os.ExpandEnv(n.Value)
		if v == n.Value {
			return
		}
		n.Value = v
		if n.Style == 0 {
			// re-resolve so "${PORT}" can become an int
			n.Tag = ""
		}
	}
}

// Validate normalizes defaults and checks that all values are valid.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	if c.Broker.Provider != "schwab" {
		return fmt.Errorf("broker.provider must be 'schwab'")
	}
	if err := positiveDuration("broker.lookback", c.Broker.Lookback); err != nil {
		return err
	}
	if err := positiveDuration("broker.timeout", c.Broker.Timeout); err != nil {
		return err
	}

	if err := positiveDuration("poll.interval", c.Poll.Interval); err != nil {
		return err
	}

	if c.Notify.Provider != "discord" && c.Notify.Provider != "log" {
		return fmt.Errorf("notify.provider must be 'discord' or 'log'")
	}
	if err := positiveDuration("notify.timeout", c.Notify.Timeout); err != nil {
		return err
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	if c.Retry.InitialBackoff != "" {
		if err := positiveDuration("retry.initial_backoff", c.Retry.InitialBackoff); err != nil {
			return err
		}
	}
	if c.Retry.MaxBackoff != "" {
		if err := positiveDuration("retry.max_backoff", c.Retry.MaxBackoff); err != nil {
			return err
		}
	}

	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return fmt.Errorf("breaker.failure_ratio must be between 0 and 1")
	}
	if c.Breaker.Interval != "" {
		if err := positiveDuration("breaker.interval", c.Breaker.Interval); err != nil {
			return err
		}
	}
	if c.Breaker.Timeout != "" {
		if err := positiveDuration("breaker.timeout", c.Breaker.Timeout); err != nil {
			return err
		}
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

func positiveDuration(field, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s invalid: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", field)
	}
	return nil
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "schwab"
	}
	if c.Broker.Lookback == "" {
		c.Broker.Lookback = defaultLookback.String()
	}
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = defaultBrokerTimeout.String()
	}
	if c.Poll.Interval == "" {
		c.Poll.Interval = defaultPollInterval.String()
	}
	if c.Notify.Provider == "" {
		c.Notify.Provider = "log"
	}
	if c.Notify.Timeout == "" {
		c.Notify.Timeout = defaultNotifyTimeout.String()
	}
	if c.Retry.MaxRetries == 0 && c.Retry.InitialBackoff == "" && c.Retry.MaxBackoff == "" {
		c.Retry.MaxRetries = defaultRetryMaxRetries
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = defaultRetryMultiplier
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

// IsPaperTrading returns true if the bot watches synthetic paper fills.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// OrderStatus returns the broker status filter, FILLED when unset.
func (c *Config) OrderStatus() string {
	if c.Broker.Status == "" {
		return defaultOrderStatus
	}
	return strings.ToUpper(c.Broker.Status)
}

// GetPollInterval returns the configured poll interval duration.
func (c *Config) GetPollInterval() time.Duration {
	return durationOr(c.Poll.Interval, defaultPollInterval)
}

// GetLookback returns how far back each fetch reaches.
func (c *Config) GetLookback() time.Duration {
	return durationOr(c.Broker.Lookback, defaultLookback)
}

// GetBrokerTimeout returns the HTTP timeout for order fetches.
func (c *Config) GetBrokerTimeout() time.Duration {
	return durationOr(c.Broker.Timeout, defaultBrokerTimeout)
}

// GetNotifyTimeout returns the HTTP timeout for notifications.
func (c *Config) GetNotifyTimeout() time.Duration {
	return durationOr(c.Notify.Timeout, defaultNotifyTimeout)
}

func durationOr(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DurationOrZero parses v, returning 0 when it is unset or invalid.
func DurationOrZero(v string) time.Duration {
	return durationOr(v, 0)
}
