package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.outboxrelay.dev/internal/common/secrets"
)

// Config holds all configuration for the outbox dispatcher.
type Config struct {
	// HTTP admin/metrics server configuration
	HTTP HTTPConfig

	// Database backend configuration (Postgres, MySQL, or MongoDB)
	Database DatabaseConfig

	// Outbox processor tuning
	Outbox OutboxConfig

	// Downstream batch API client configuration
	API APIConfig

	// Notification backend for operational warnings (NATS or SQS)
	Notify NotifyConfig

	// Standby/leader election configuration
	Standby StandbyConfig

	// Secrets provider configuration
	Secrets SecretsConfig

	// Data directory for embedded/local state
	DataDir string

	// Development mode
	DevMode bool
}

// HTTPConfig holds HTTP admin server configuration.
type HTTPConfig struct {
	Port        int
	CORSOrigins []string
}

// DatabaseConfig selects and configures the outbox storage backend.
type DatabaseConfig struct {
	// Type selects the backend: "postgres", "mysql", or "mongodb".
	Type string

	// DSN is the connection string for Postgres/MySQL (database/sql form),
	// or the connection URI for MongoDB.
	DSN string

	// MongoDatabase is the database name when Type is "mongodb".
	MongoDatabase string

	// EventsTable/DispatchJobsTable name the two outbox item types' storage.
	EventsTable       string
	DispatchJobsTable string

	MaxOpenConns int
	MaxIdleConns int
}

// OutboxConfig holds outbox processor tuning knobs.
type OutboxConfig struct {
	Enabled                   bool
	PollInterval              time.Duration
	PollBatchSize             int
	APIBatchSize              int
	BatchLinger               time.Duration
	GlobalBufferSize          int
	MaxConcurrentGroups       int
	MaxInFlight               int
	MaxRetries                int
	RecoveryInterval          time.Duration
	ProcessingTimeoutSeconds  int
	GroupIdleEvictionInterval time.Duration
}

// APIConfig holds downstream batch API client configuration.
type APIConfig struct {
	BaseURL           string
	AuthToken         string
	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int

	CircuitBreakerEnabled      bool
	CircuitBreakerMinRequests  uint32
	CircuitBreakerFailureRatio float64
	CircuitBreakerOpenTimeout  time.Duration
}

// NotifyConfig holds operational notification backend configuration.
type NotifyConfig struct {
	Type string // "none", "nats", "sqs"

	NATS NATSConfig
	SQS  SQSConfig
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL     string
	Subject string
}

// SQSConfig holds AWS SQS configuration.
type SQSConfig struct {
	QueueURL string
	Region   string
}

// StandbyConfig holds distributed leader election configuration.
type StandbyConfig struct {
	// Enabled controls whether leader election is active. A standalone
	// deployment with a single instance should leave this false.
	Enabled bool

	// InstanceID uniquely identifies this instance (defaults to HOSTNAME).
	InstanceID string

	// LockProvider selects the backing lock store: "redis", "mongo", or "noop".
	LockProvider string

	// LockProviderURL is the connection URL for the backing lock store
	// (e.g. a Redis URL). Ignored by the mongo provider, which reuses the
	// primary database connection.
	LockProviderURL string

	LockKey         string
	LockTTL         time.Duration
	RefreshInterval time.Duration
}

// SecretsConfig mirrors secrets.Config for TOML/env loading so that
// internal/config has no build-time dependency on how a given section is
// sourced (env vs TOML). ToProviderConfig() translates it into a
// *secrets.Config for constructing the actual provider.
type SecretsConfig struct {
	Provider      string
	EncryptionKey string
	DataDir       string

	AWSRegion   string
	AWSPrefix   string
	AWSEndpoint string

	VaultAddr      string
	VaultToken     string
	VaultPath      string
	VaultNamespace string

	GCPProject string
	GCPPrefix  string
}

// ToProviderConfig translates SecretsConfig into the secrets package's own
// Config type, used to construct a secrets.Provider via secrets.NewProvider.
func (s SecretsConfig) ToProviderConfig() *secrets.Config {
	return &secrets.Config{
		Provider:       secrets.ProviderType(s.Provider),
		EncryptionKey:  s.EncryptionKey,
		DataDir:        s.DataDir,
		AWSRegion:      s.AWSRegion,
		AWSPrefix:      s.AWSPrefix,
		AWSEndpoint:    s.AWSEndpoint,
		VaultAddr:      s.VaultAddr,
		VaultToken:     s.VaultToken,
		VaultPath:      s.VaultPath,
		VaultNamespace: s.VaultNamespace,
		GCPProject:     s.GCPProject,
		GCPPrefix:      s.GCPPrefix,
	}
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        getEnvInt("HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:4200"}),
		},

		Database: DatabaseConfig{
			Type:              strings.ToLower(getEnv("OUTBOX_DB_TYPE", "mongodb")),
			DSN:               getEnv("OUTBOX_DB_DSN", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
			MongoDatabase:     getEnv("OUTBOX_DB_NAME", "outboxrelay"),
			EventsTable:       getEnv("OUTBOX_EVENTS_TABLE", "outbox_events"),
			DispatchJobsTable: getEnv("OUTBOX_DISPATCH_JOBS_TABLE", "outbox_dispatch_jobs"),
			MaxOpenConns:      getEnvInt("OUTBOX_DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:      getEnvInt("OUTBOX_DB_MAX_IDLE_CONNS", 10),
		},

		Outbox: OutboxConfig{
			Enabled:                   getEnvBool("OUTBOX_ENABLED", true),
			PollInterval:              getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			PollBatchSize:             getEnvInt("OUTBOX_POLL_BATCH_SIZE", 100),
			APIBatchSize:              getEnvInt("OUTBOX_API_BATCH_SIZE", 100),
			BatchLinger:               getEnvDuration("OUTBOX_BATCH_LINGER", 200*time.Millisecond),
			GlobalBufferSize:          getEnvInt("OUTBOX_GLOBAL_BUFFER_SIZE", 2000),
			MaxConcurrentGroups:       getEnvInt("OUTBOX_MAX_CONCURRENT_GROUPS", 50),
			MaxInFlight:               getEnvInt("OUTBOX_MAX_IN_FLIGHT", 1000),
			MaxRetries:                getEnvInt("OUTBOX_MAX_RETRIES", 3),
			RecoveryInterval:          getEnvDuration("OUTBOX_RECOVERY_INTERVAL", 60*time.Second),
			ProcessingTimeoutSeconds:  getEnvInt("OUTBOX_PROCESSING_TIMEOUT_SECONDS", 300),
			GroupIdleEvictionInterval: getEnvDuration("OUTBOX_GROUP_IDLE_EVICTION_INTERVAL", 5*time.Minute),
		},

		API: APIConfig{
			BaseURL:                    getEnv("OUTBOX_API_BASE_URL", "http://localhost:8081"),
			AuthToken:                  getEnv("OUTBOX_API_AUTH_TOKEN", ""),
			ConnectionTimeout:          getEnvDuration("OUTBOX_API_CONNECTION_TIMEOUT", 10*time.Second),
			RequestTimeout:             getEnvDuration("OUTBOX_API_REQUEST_TIMEOUT", 30*time.Second),
			RateLimitPerSecond:         getEnvFloat("OUTBOX_API_RATE_LIMIT_PER_SECOND", 50),
			RateLimitBurst:             getEnvInt("OUTBOX_API_RATE_LIMIT_BURST", 50),
			CircuitBreakerEnabled:      getEnvBool("OUTBOX_API_CIRCUIT_BREAKER_ENABLED", true),
			CircuitBreakerMinRequests:  uint32(getEnvInt("OUTBOX_API_CIRCUIT_BREAKER_MIN_REQUESTS", 10)),
			CircuitBreakerFailureRatio: getEnvFloat("OUTBOX_API_CIRCUIT_BREAKER_FAILURE_RATIO", 0.5),
			CircuitBreakerOpenTimeout:  getEnvDuration("OUTBOX_API_CIRCUIT_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},

		Notify: NotifyConfig{
			Type: strings.ToLower(getEnv("NOTIFY_TYPE", "none")),
			NATS: NATSConfig{
				URL:     getEnv("NATS_URL", "nats://localhost:4222"),
				Subject: getEnv("NATS_SUBJECT", "outboxrelay.warnings"),
			},
			SQS: SQSConfig{
				QueueURL: getEnv("SQS_QUEUE_URL", ""),
				Region:   getEnv("AWS_REGION", "us-east-1"),
			},
		},

		Standby: StandbyConfig{
			Enabled:         getEnvBool("STANDBY_ENABLED", false),
			InstanceID:      getEnv("HOSTNAME", ""),
			LockProvider:    strings.ToLower(getEnv("STANDBY_LOCK_PROVIDER", "noop")),
			LockProviderURL: getEnv("STANDBY_LOCK_PROVIDER_URL", "redis://localhost:6379"),
			LockKey:         getEnv("STANDBY_LOCK_KEY", "outboxrelay:dispatcher:leader"),
			LockTTL:         getEnvDuration("STANDBY_LOCK_TTL", 30*time.Second),
			RefreshInterval: getEnvDuration("STANDBY_REFRESH_INTERVAL", 10*time.Second),
		},

		Secrets: SecretsConfig{
			Provider:       getEnv("OUTBOXRELAY_SECRETS_PROVIDER", "env"),
			EncryptionKey:  getEnv("OUTBOXRELAY_SECRETS_ENCRYPTION_KEY", ""),
			DataDir:        getEnv("OUTBOXRELAY_SECRETS_DATA_DIR", "./data/secrets"),
			AWSRegion:      getEnv("OUTBOXRELAY_SECRETS_AWS_REGION", ""),
			AWSPrefix:      getEnv("OUTBOXRELAY_SECRETS_AWS_PREFIX", "/outboxrelay/"),
			AWSEndpoint:    getEnv("OUTBOXRELAY_SECRETS_AWS_ENDPOINT", ""),
			VaultAddr:      getEnv("OUTBOXRELAY_SECRETS_VAULT_ADDR", ""),
			VaultToken:     getEnv("OUTBOXRELAY_SECRETS_VAULT_TOKEN", ""),
			VaultPath:      getEnv("OUTBOXRELAY_SECRETS_VAULT_PATH", "secret/data/outboxrelay"),
			VaultNamespace: getEnv("OUTBOXRELAY_SECRETS_VAULT_NAMESPACE", ""),
			GCPProject:     getEnv("OUTBOXRELAY_SECRETS_GCP_PROJECT", ""),
			GCPPrefix:      getEnv("OUTBOXRELAY_SECRETS_GCP_PREFIX", "outboxrelay-"),
		},

		DataDir: getEnv("DATA_DIR", "./data"),
		DevMode: getEnvBool("OUTBOXRELAY_DEV", false),
	}

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
