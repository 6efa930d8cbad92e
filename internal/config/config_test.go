package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
domain: "example.com"
region: "eu-west-1"
log_level: "debug"

server:
  host: "0.0.0.0"
  port: 9090

queue:
  url: "https://sqs.eu-west-1.amazonaws.com/123456789012/lampions"

redis:
  addr: "localhost:6379"
  db: 2
  dedup_ttl_hours: 48

aws:
  access_key_id: "AKIATEST"
  secret_access_key: "secret"

dns:
  hosted_zone_id: "Z123456"

api:
  allowed_origins:
    - "https://mail.example.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "example.com", cfg.Domain)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/123456789012/lampions", cfg.Queue.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 48, cfg.Redis.DedupTTLHours)
	assert.Equal(t, "AKIATEST", cfg.AWS.AccessKeyID)
	assert.Equal(t, "Z123456", cfg.DNS.HostedZoneID)
	assert.Equal(t, []string{"https://mail.example.com"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "lampions.example.com", cfg.Bucket())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
domain: "example.com"
region: "us-east-1"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 24, cfg.Redis.DedupTTLHours)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
domain: "file.example.com"
region: "eu-west-1"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	os.Setenv("LAMPIONS_DOMAIN", "env.example.com")
	os.Setenv("LAMPIONS_QUEUE_URL", "https://sqs/queue")
	defer func() {
		os.Unsetenv("LAMPIONS_DOMAIN")
		os.Unsetenv("LAMPIONS_QUEUE_URL")
	}()

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "env.example.com", cfg.Domain)
	assert.Equal(t, "https://sqs/queue", cfg.Queue.URL)
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	cfg := New("example.com", "eu-west-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 24, cfg.Redis.DedupTTLHours)
	assert.Equal(t, "lampions.example.com", cfg.Bucket())
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg.Domain = "example.com"
	assert.Error(t, cfg.Validate())

	cfg.Region = "eu-west-1"
	assert.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "lampions", "config.yaml")

	cfg := &Config{Domain: "example.com", Region: "eu-west-1"}
	cfg.Queue.URL = "https://sqs/queue"
	require.NoError(t, cfg.Save(configPath))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "example.com", loaded.Domain)
	assert.Equal(t, "https://sqs/queue", loaded.Queue.URL)
}

func TestSaveRejectsIncompleteConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := &Config{Domain: "example.com"}
	assert.Error(t, cfg.Save(configPath))
}

func TestDedupTTL(t *testing.T) {
	cfg := RedisConfig{DedupTTLHours: 48}
	assert.Equal(t, 48*time.Hour, cfg.DedupTTL())
}
