package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure.
type TOMLConfig struct {
	HTTP     TOMLHTTPConfig     `toml:"http"`
	Database TOMLDatabaseConfig `toml:"database"`
	Outbox   TOMLOutboxConfig   `toml:"outbox"`
	API      TOMLAPIConfig      `toml:"api"`
	Notify   TOMLNotifyConfig   `toml:"notify"`
	Standby  TOMLStandbyConfig  `toml:"standby"`
	Secrets  TOMLSecretsConfig  `toml:"secrets"`
	DataDir  string             `toml:"data_dir"`
	DevMode  bool               `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML.
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLDatabaseConfig represents the outbox storage backend in TOML.
type TOMLDatabaseConfig struct {
	Type              string `toml:"type"`
	DSN               string `toml:"dsn"`
	MongoDatabase     string `toml:"mongo_database"`
	EventsTable       string `toml:"events_table"`
	DispatchJobsTable string `toml:"dispatch_jobs_table"`
	MaxOpenConns      int    `toml:"max_open_conns"`
	MaxIdleConns      int    `toml:"max_idle_conns"`
}

// TOMLOutboxConfig represents outbox processor tuning in TOML.
type TOMLOutboxConfig struct {
	Enabled                   bool   `toml:"enabled"`
	PollInterval              string `toml:"poll_interval"`
	PollBatchSize             int    `toml:"poll_batch_size"`
	APIBatchSize              int    `toml:"api_batch_size"`
	BatchLinger               string `toml:"batch_linger"`
	GlobalBufferSize          int    `toml:"global_buffer_size"`
	MaxConcurrentGroups       int    `toml:"max_concurrent_groups"`
	MaxInFlight               int    `toml:"max_in_flight"`
	MaxRetries                int    `toml:"max_retries"`
	RecoveryInterval          string `toml:"recovery_interval"`
	ProcessingTimeoutSeconds  int    `toml:"processing_timeout_seconds"`
	GroupIdleEvictionInterval string `toml:"group_idle_eviction_interval"`
}

// TOMLAPIConfig represents the downstream batch API client in TOML.
type TOMLAPIConfig struct {
	BaseURL           string `toml:"base_url"`
	AuthToken         string `toml:"auth_token"`
	ConnectionTimeout string `toml:"connection_timeout"`
	RequestTimeout    string `toml:"request_timeout"`

	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
	RateLimitBurst     int     `toml:"rate_limit_burst"`

	CircuitBreakerEnabled      bool    `toml:"circuit_breaker_enabled"`
	CircuitBreakerMinRequests  int     `toml:"circuit_breaker_min_requests"`
	CircuitBreakerFailureRatio float64 `toml:"circuit_breaker_failure_ratio"`
	CircuitBreakerOpenTimeout  string  `toml:"circuit_breaker_open_timeout"`
}

// TOMLNotifyConfig represents the operational notification backend in TOML.
type TOMLNotifyConfig struct {
	Type string        `toml:"type"`
	NATS TOMLNATSConfig `toml:"nats"`
	SQS  TOMLSQSConfig  `toml:"sqs"`
}

// TOMLNATSConfig represents NATS configuration in TOML.
type TOMLNATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// TOMLSQSConfig represents SQS configuration in TOML.
type TOMLSQSConfig struct {
	QueueURL string `toml:"queue_url"`
	Region   string `toml:"region"`
}

// TOMLStandbyConfig represents leader election configuration in TOML.
type TOMLStandbyConfig struct {
	Enabled         bool   `toml:"enabled"`
	InstanceID      string `toml:"instance_id"`
	LockProvider    string `toml:"lock_provider"`
	LockProviderURL string `toml:"lock_provider_url"`
	LockKey         string `toml:"lock_key"`
	LockTTL         string `toml:"lock_ttl"`
	RefreshInterval string `toml:"refresh_interval"`
}

// TOMLSecretsConfig represents secrets provider configuration in TOML.
type TOMLSecretsConfig struct {
	Provider      string `toml:"provider"`
	EncryptionKey string `toml:"encryption_key"`
	DataDir       string `toml:"data_dir"`

	AWSRegion   string `toml:"aws_region"`
	AWSPrefix   string `toml:"aws_prefix"`
	AWSEndpoint string `toml:"aws_endpoint"`

	VaultAddr      string `toml:"vault_addr"`
	VaultPath      string `toml:"vault_path"`
	VaultNamespace string `toml:"vault_namespace"`

	GCPProject string `toml:"gcp_project"`
	GCPPrefix  string `toml:"gcp_prefix"`
}

// ConfigPaths lists the paths to search for config files.
var ConfigPaths = []string{
	"config.toml",
	"application.toml",
	"outboxrelay.toml",
	"./config/config.toml",
	"./config/application.toml",
	"/etc/outboxrelay/config.toml",
}

// LoadFromFile loads configuration from a TOML file.
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then lets env vars
// override the subset of fields handled by mergeConfigs.
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("OUTBOXRELAY_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct.
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		Database: DatabaseConfig{
			Type:              tc.Database.Type,
			DSN:               tc.Database.DSN,
			MongoDatabase:     tc.Database.MongoDatabase,
			EventsTable:       tc.Database.EventsTable,
			DispatchJobsTable: tc.Database.DispatchJobsTable,
			MaxOpenConns:      tc.Database.MaxOpenConns,
			MaxIdleConns:      tc.Database.MaxIdleConns,
		},
		Outbox: OutboxConfig{
			Enabled:                  tc.Outbox.Enabled,
			PollBatchSize:            tc.Outbox.PollBatchSize,
			APIBatchSize:             tc.Outbox.APIBatchSize,
			GlobalBufferSize:         tc.Outbox.GlobalBufferSize,
			MaxConcurrentGroups:      tc.Outbox.MaxConcurrentGroups,
			MaxInFlight:              tc.Outbox.MaxInFlight,
			MaxRetries:               tc.Outbox.MaxRetries,
			ProcessingTimeoutSeconds: tc.Outbox.ProcessingTimeoutSeconds,
		},
		API: APIConfig{
			BaseURL:                    tc.API.BaseURL,
			AuthToken:                  tc.API.AuthToken,
			RateLimitPerSecond:         tc.API.RateLimitPerSecond,
			RateLimitBurst:             tc.API.RateLimitBurst,
			CircuitBreakerEnabled:      tc.API.CircuitBreakerEnabled,
			CircuitBreakerMinRequests:  uint32(tc.API.CircuitBreakerMinRequests),
			CircuitBreakerFailureRatio: tc.API.CircuitBreakerFailureRatio,
		},
		Notify: NotifyConfig{
			Type: tc.Notify.Type,
			NATS: NATSConfig{
				URL:     tc.Notify.NATS.URL,
				Subject: tc.Notify.NATS.Subject,
			},
			SQS: SQSConfig{
				QueueURL: tc.Notify.SQS.QueueURL,
				Region:   tc.Notify.SQS.Region,
			},
		},
		Standby: StandbyConfig{
			Enabled:         tc.Standby.Enabled,
			InstanceID:      tc.Standby.InstanceID,
			LockProvider:    tc.Standby.LockProvider,
			LockProviderURL: tc.Standby.LockProviderURL,
			LockKey:         tc.Standby.LockKey,
		},
		Secrets: SecretsConfig{
			Provider:       tc.Secrets.Provider,
			EncryptionKey:  tc.Secrets.EncryptionKey,
			DataDir:        tc.Secrets.DataDir,
			AWSRegion:      tc.Secrets.AWSRegion,
			AWSPrefix:      tc.Secrets.AWSPrefix,
			AWSEndpoint:    tc.Secrets.AWSEndpoint,
			VaultAddr:      tc.Secrets.VaultAddr,
			VaultPath:      tc.Secrets.VaultPath,
			VaultNamespace: tc.Secrets.VaultNamespace,
			GCPProject:     tc.Secrets.GCPProject,
			GCPPrefix:      tc.Secrets.GCPPrefix,
		},
		DataDir: tc.DataDir,
		DevMode: tc.DevMode,
	}

	parseDurationInto(&cfg.Outbox.PollInterval, tc.Outbox.PollInterval)
	parseDurationInto(&cfg.Outbox.BatchLinger, tc.Outbox.BatchLinger)
	parseDurationInto(&cfg.Outbox.RecoveryInterval, tc.Outbox.RecoveryInterval)
	parseDurationInto(&cfg.Outbox.GroupIdleEvictionInterval, tc.Outbox.GroupIdleEvictionInterval)
	parseDurationInto(&cfg.API.ConnectionTimeout, tc.API.ConnectionTimeout)
	parseDurationInto(&cfg.API.RequestTimeout, tc.API.RequestTimeout)
	parseDurationInto(&cfg.API.CircuitBreakerOpenTimeout, tc.API.CircuitBreakerOpenTimeout)
	parseDurationInto(&cfg.Standby.LockTTL, tc.Standby.LockTTL)
	parseDurationInto(&cfg.Standby.RefreshInterval, tc.Standby.RefreshInterval)

	return cfg, nil
}

func parseDurationInto(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// mergeConfigs starts from base and copies from override only the fields
// listed below, and only when override's value is set and differs from the
// env default. Every other field, including all outbox tuning, is taken from
// base unchanged.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.CORSOrigins) > 0 {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	if override.Database.Type != "" && override.Database.Type != "mongodb" {
		result.Database.Type = override.Database.Type
	}
	if override.Database.DSN != "" && override.Database.DSN != "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true" {
		result.Database.DSN = override.Database.DSN
	}
	if override.Database.MongoDatabase != "" && override.Database.MongoDatabase != "outboxrelay" {
		result.Database.MongoDatabase = override.Database.MongoDatabase
	}

	if override.API.BaseURL != "" && override.API.BaseURL != "http://localhost:8081" {
		result.API.BaseURL = override.API.BaseURL
	}
	if override.API.AuthToken != "" {
		result.API.AuthToken = override.API.AuthToken
	}

	if override.Notify.Type != "" && override.Notify.Type != "none" {
		result.Notify.Type = override.Notify.Type
	}
	if override.Notify.NATS.URL != "" {
		result.Notify.NATS.URL = override.Notify.NATS.URL
	}
	if override.Notify.SQS.QueueURL != "" {
		result.Notify.SQS.QueueURL = override.Notify.SQS.QueueURL
	}

	if override.Standby.Enabled {
		result.Standby.Enabled = true
	}
	if override.Standby.InstanceID != "" {
		result.Standby.InstanceID = override.Standby.InstanceID
	}
	if override.Standby.LockProvider != "" && override.Standby.LockProvider != "noop" {
		result.Standby.LockProvider = override.Standby.LockProvider
	}

	if override.Secrets.Provider != "" && override.Secrets.Provider != "env" {
		result.Secrets.Provider = override.Secrets.Provider
	}

	if override.DataDir != "" && override.DataDir != "./data" {
		result.DataDir = override.DataDir
	}
	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file.
func WriteExampleConfig(path string) error {
	example := `# outboxrelay configuration
# Environment variables override these settings

data_dir = "./data"
dev_mode = false

[http]
port = 8080
cors_origins = ["http://localhost:4200"]

[database]
type = "mongodb"  # postgres, mysql, or mongodb
dsn = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
mongo_database = "outboxrelay"
events_table = "outbox_events"
dispatch_jobs_table = "outbox_dispatch_jobs"
max_open_conns = 20
max_idle_conns = 10

[outbox]
enabled = true
poll_interval = "1s"
poll_batch_size = 100
api_batch_size = 100
batch_linger = "200ms"
global_buffer_size = 2000
max_concurrent_groups = 50
max_in_flight = 1000
max_retries = 3
recovery_interval = "60s"
processing_timeout_seconds = 300
group_idle_eviction_interval = "5m"

[api]
base_url = "http://localhost:8081"
auth_token = ""
connection_timeout = "10s"
request_timeout = "30s"
rate_limit_per_second = 50
rate_limit_burst = 50
circuit_breaker_enabled = true
circuit_breaker_min_requests = 10
circuit_breaker_failure_ratio = 0.5
circuit_breaker_open_timeout = "30s"

[notify]
type = "none"  # none, nats, or sqs

[notify.nats]
url = "nats://localhost:4222"
subject = "outboxrelay.warnings"

[notify.sqs]
queue_url = ""
region = "us-east-1"

[standby]
enabled = false
instance_id = ""
lock_provider = "noop"  # redis, mongo, or noop
lock_provider_url = "redis://localhost:6379"
lock_key = "outboxrelay:dispatcher:leader"
lock_ttl = "30s"
refresh_interval = "10s"

[secrets]
provider = "env"  # env, encrypted, aws-sm, vault, gcp-sm

# Encrypted provider
encryption_key = ""
data_dir = "./data/secrets"

# AWS Secrets Manager
aws_region = ""
aws_prefix = "/outboxrelay/"
aws_endpoint = ""

# HashiCorp Vault
vault_addr = ""
vault_path = "secret/data/outboxrelay"
vault_namespace = ""

# GCP Secret Manager
gcp_project = ""
gcp_prefix = "outboxrelay-"
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
