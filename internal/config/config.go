// Package config loads the relay configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Regions lists the AWS regions that support inbound mail receiving.
var Regions = []string{"eu-west-1", "us-east-1", "us-west-2"}

// Config holds all configuration for the relay.
type Config struct {
	Domain   string       `yaml:"domain"`
	Region   string       `yaml:"region"`
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
	Queue    QueueConfig  `yaml:"queue"`
	Redis    RedisConfig  `yaml:"redis"`
	AWS      AWSConfig    `yaml:"aws"`
	DNS      DNSConfig    `yaml:"dns"`
	API      APIConfig    `yaml:"api"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces.
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns the host:port pair the server should bind to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// QueueConfig holds the receipt queue configuration. An empty URL disables
// the queue consumer.
type QueueConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the deduplication store configuration. An empty Addr
// disables deduplication.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	DedupTTLHours int    `yaml:"dedup_ttl_hours"`
}

// DedupTTL returns the configured deduplication window as a duration.
func (c RedisConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLHours) * time.Hour
}

// AWSConfig holds optional static credentials. When empty, the default
// credential chain is used.
type AWSConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DNSConfig holds the Route 53 hosted zone for the mail domain. When the
// zone ID is empty, DNS records are printed instead of applied.
type DNSConfig struct {
	HostedZoneID string `yaml:"hosted_zone_id"`
}

// APIConfig holds settings for the HTTP API surface.
type APIConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Bucket returns the name of the bucket inbound messages are stored in.
func (c *Config) Bucket() string {
	return "lampions." + c.Domain
}

// Validate reports whether the config names a domain and a region.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: domain is not set")
	}
	if c.Region == "" {
		return fmt.Errorf("config: region is not set")
	}
	return nil
}

// New returns a config for the given domain and region with defaults
// applied.
func New(domain, region string) *Config {
	return &Config{
		Domain:   domain,
		Region:   region,
		LogLevel: "info",
		Server:   ServerConfig{Host: "localhost", Port: 8080},
		Redis:    RedisConfig{DedupTTLHours: 24},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "lampions", "config.yaml")
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.DedupTTLHours == 0 {
		cfg.Redis.DedupTTLHours = 24
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars when deployed.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("LAMPIONS_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("LAMPIONS_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("LAMPIONS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LAMPIONS_QUEUE_URL"); v != "" {
		cfg.Queue.URL = v
	}
	if v := os.Getenv("LAMPIONS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LAMPIONS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LAMPIONS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("LAMPIONS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("LAMPIONS_HOSTED_ZONE_ID"); v != "" {
		cfg.DNS.HostedZoneID = v
	}

	return cfg, nil
}

// Save writes the config to the given path, creating parent directories
// as needed. The file is written with owner-only permissions because it
// may hold credentials.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
