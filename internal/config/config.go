// Package config provides environment-variable-first configuration
// loading with optional YAML file fallback for the sending backends.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	// defaultMaxMessageSize is 25 MB, the common relay ceiling.
	defaultMaxMessageSize = "25MB"
	defaultTimeout        = "30s"
	defaultSMTPPort       = 587
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery backend: "smtp", "ses", "api" or
	// "stdout". Empty means auto-detection (smtp if a host is set, else
	// stdout).
	Provider string `yaml:"provider"`

	SMTP    SMTPConfig    `yaml:"smtp"`
	SES     SESConfig     `yaml:"ses"`
	API     APIConfig     `yaml:"api"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// SMTPConfig configures the SMTP engine.
type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AccessToken string `yaml:"access_token"`
	// Mechanism is LOGIN, PLAIN, CRAM-MD5 or XOAUTH2.
	Mechanism string `yaml:"mechanism"`

	// Secure selects implicit TLS; StartTLS upgrades after EHLO.
	Secure             bool `yaml:"secure"`
	StartTLS           bool `yaml:"starttls"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	LocalName string `yaml:"local_name"`

	// Timeout is a duration string ("5s", "1m"); it covers connect and
	// each protocol read/write.
	Timeout string `yaml:"timeout"`

	// MaxMessageSize is a human-readable size ("25MB").
	MaxMessageSize string `yaml:"max_message_size"`

	// MaxConnections enables connection pooling when > 0.
	MaxConnections int `yaml:"max_connections"`
}

// SESConfig configures the AWS SES backend.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// APIConfig configures the generic REST backend.
type APIConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// StoreConfig configures the sent-message archive.
type StoreConfig struct {
	Dir string `yaml:"dir"`
	TTL string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible
// defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values.
	cfg.applyEnvVars()

	return cfg, nil
}

// SMTPConfigured returns true if an SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if the SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// APIConfigured returns true if the REST endpoint is set.
func (c *Config) APIConfigured() bool {
	return c.API.Endpoint != ""
}

// AuthConfigured returns true if SMTP credentials of any shape are set.
func (c *Config) AuthConfigured() bool {
	return (c.SMTP.Username != "" && c.SMTP.Password != "") || c.SMTP.AccessToken != ""
}

// SMTPTimeout parses the configured timeout.
func (c *Config) SMTPTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.SMTP.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid smtp timeout %q: %w", c.SMTP.Timeout, err)
	}
	return d, nil
}

// MaxMessageBytes parses the configured maximum message size.
func (c *Config) MaxMessageBytes() (int64, error) {
	n, err := units.FromHumanSize(c.SMTP.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max message size %q: %w", c.SMTP.MaxMessageSize, err)
	}
	return n, nil
}

// StoreTTL parses the configured archive TTL; zero means the store's
// default.
func (c *Config) StoreTTL() (time.Duration, error) {
	if c.Store.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid store ttl %q: %w", c.Store.TTL, err)
	}
	return d, nil
}

// applyDefaults sets sensible default values.
func (c *Config) applyDefaults() {
	c.SMTP.Port = defaultSMTPPort
	c.SMTP.Timeout = defaultTimeout
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty variables override.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("UNEMAIL_PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_ACCESS_TOKEN"); v != "" {
		c.SMTP.AccessToken = v
	}
	if v := os.Getenv("SMTP_MECHANISM"); v != "" {
		c.SMTP.Mechanism = strings.ToUpper(v)
	}
	if v := os.Getenv("SMTP_SECURE"); v != "" {
		c.SMTP.Secure = v == "true" || v == "1"
	}
	if v := os.Getenv("SMTP_STARTTLS"); v != "" {
		c.SMTP.StartTLS = v == "true" || v == "1"
	}
	if v := os.Getenv("SMTP_INSECURE_SKIP_VERIFY"); v != "" {
		c.SMTP.InsecureSkipVerify = v == "true" || v == "1"
	}
	if v := os.Getenv("SMTP_LOCAL_NAME"); v != "" {
		c.SMTP.LocalName = v
	}
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		c.SMTP.Timeout = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		c.SMTP.MaxMessageSize = v
	}
	if v := os.Getenv("SMTP_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.MaxConnections = n
		}
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("API_ENDPOINT"); v != "" {
		c.API.Endpoint = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.API.APIKey = v
	}

	if v := os.Getenv("STORE_DIR"); v != "" {
		c.Store.Dir = v
	}
	if v := os.Getenv("STORE_TTL"); v != "" {
		c.Store.TTL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
