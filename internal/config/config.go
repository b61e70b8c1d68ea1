// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the SMTP relay.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default bind address matches the original proxy: local-only, port 1025.
const (
	defaultHost = "127.0.0.1"
	defaultPort = 1025
)

// defaultCredentialsFile is the service account key file produced by the
// provisioning tooling.
const defaultCredentialsFile = "gmail_service_account.json"

// Config holds the complete application configuration.
type Config struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Gmail   GmailConfig   `yaml:"gmail"`
	Logging LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds SMTP listener configuration.
type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedDomain restricts MAIL FROM addresses to one domain.
	// Empty means any sender is accepted.
	AllowedDomain string `yaml:"allowed_domain"`

	// MaxMessageSize caps the DATA payload in bytes. Zero disables the cap.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// GmailConfig holds Gmail API configuration.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
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

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Listen returns the host:port address the SMTP listener should bind.
func (c *Config) Listen() string {
	return net.JoinHostPort(c.SMTP.Host, strconv.Itoa(c.SMTP.Port))
}

// Restricted returns true if a sender domain restriction is configured.
func (c *Config) Restricted() bool {
	return c.SMTP.AllowedDomain != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Host = defaultHost
	c.SMTP.Port = defaultPort
	c.Gmail.CredentialsFile = defaultCredentialsFile
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_ALLOWED_DOMAIN"); v != "" {
		c.SMTP.AllowedDomain = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SMTP_MAX_MESSAGE_SIZE %q: %w", v, err)
		}
		c.SMTP.MaxMessageSize = size
	}

	if v := os.Getenv("GMAIL_CREDENTIALS_FILE"); v != "" {
		c.Gmail.CredentialsFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}
