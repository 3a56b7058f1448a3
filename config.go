package llmgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Listen     string         `yaml:"listen"`
	SecretName string         `yaml:"secret_name"`
	MaxBody    int64          `yaml:"max_body_bytes"`
	Tiers      Limits         `yaml:"tiers"`
	License    LicenseConfig  `yaml:"license"`
	Store      StoreConfig    `yaml:"store"`
	Secrets    SecretsConfig  `yaml:"secrets"`
	Upstream   UpstreamConfig `yaml:"upstream"`
	Ledger     LedgerConfig   `yaml:"ledger"`
	Log        LogConfig      `yaml:"log"`
}

// LicenseConfig selects and configures the license validator.
type LicenseConfig struct {
	Mode       string        `yaml:"mode"` // static, signed or remote
	StaticTier string        `yaml:"static_tier"`
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"` // bearer key for the remote issuer
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig selects the quota store backend.
type StoreConfig struct {
	Driver    string `yaml:"driver"` // memory, redis, postgres or sqlite
	DSN       string `yaml:"dsn"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SecretsConfig selects where the upstream credential comes from.
type SecretsConfig struct {
	Source   string        `yaml:"source"` // env or aws
	Region   string        `yaml:"region"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// UpstreamConfig configures the completion API.
type UpstreamConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LedgerConfig tunes admission.
type LedgerConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("llmgate: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes, applies defaults and validates.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("llmgate: parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.SecretName == "" {
		c.SecretName = DefaultSecretName
	}
	if c.MaxBody == 0 {
		c.MaxBody = DefaultMaxBodyBytes
	}
	if c.Tiers == nil {
		c.Tiers = DefaultLimits()
	}
	if c.License.Mode == "" {
		c.License.Mode = "static"
	}
	if c.License.Mode == "static" && c.License.StaticTier == "" {
		c.License.StaticTier = TierBasic
	}
	if c.License.Timeout == 0 {
		c.License.Timeout = 10 * time.Second
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Secrets.Source == "" {
		c.Secrets.Source = "env"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://api.anthropic.com"
	}
	if c.Upstream.APIVersion == "" {
		c.Upstream.APIVersion = "2023-06-01"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 120 * time.Second
	}
	if c.Ledger.MaxAttempts == 0 {
		c.Ledger.MaxAttempts = DefaultMaxAttempts
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if err := c.Tiers.Validate(); err != nil {
		return err
	}
	if c.MaxBody < 0 {
		return fmt.Errorf("llmgate: config: max_body_bytes must not be negative")
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("llmgate: config: ledger.max_attempts must be positive")
	}

	switch c.License.Mode {
	case "static":
	case "signed":
		if c.License.SigningKey == "" {
			return fmt.Errorf("llmgate: config: license.signing_key is required for signed mode")
		}
	case "remote":
		if c.License.URL == "" {
			return fmt.Errorf("llmgate: config: license.url is required for remote mode")
		}
	default:
		return fmt.Errorf("llmgate: config: invalid license.mode %q", c.License.Mode)
	}

	switch c.Store.Driver {
	case "memory":
	case "redis", "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("llmgate: config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("llmgate: config: invalid store.driver %q", c.Store.Driver)
	}

	switch c.Secrets.Source {
	case "env", "aws":
	default:
		return fmt.Errorf("llmgate: config: invalid secrets.source %q", c.Secrets.Source)
	}
	if c.Secrets.CacheTTL < 0 {
		return fmt.Errorf("llmgate: config: secrets.cache_ttl must not be negative")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("llmgate: config: invalid log.format %q", c.Log.Format)
	}
	return nil
}
