// Package config provides configuration structures and validation for the reconciler.
// It handles environment-based configuration for every binary: the ledger client
// policy, the Local Store, the audit journal, messaging and the reconciliation knobs.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a subsystem's configuration and is validated during startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Ledger      LedgerConfig
	Reconcile   ReconcileConfig
	Poller      PollerConfig
	Sweeper     SweeperConfig
	WorkerPool  WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	RequeueTopic      string // Operator requeue requests, gateway -> worker
	RepairTopic       string // Repair actions emitted by the sweeper
	DLQTopic          string // Malformed report rows and undeliverable requests
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// LedgerConfig contains the remote ledger endpoint and its call policy
type LedgerConfig struct {
	URL                     string
	Database                string
	Username                string
	Password                string
	CallTimeout             time.Duration // Deadline of a single remote call
	MinCallInterval         time.Duration // Minimum delay between two remote calls
	RetryMaxAttempts        int
	RetryInitialDelay       time.Duration
	RetryMaxDelay           time.Duration
	RetryBackoffFactor      float64
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
}

// ReconcileConfig contains the matching and booking knobs
type ReconcileConfig struct {
	AmountEpsilon         decimal.Decimal // Tolerance when comparing amounts, in currency units
	BatchSize             int
	ClaimLease            time.Duration // Age after which another run may take over a claimed record
	DryRun                bool
	DuplicateLookbackDays int
}

// PollerConfig contains the pending-record poller configuration
type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// SweeperConfig contains the scheduled sweep configuration
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.RequeueTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_REQUEUE_TOPIC is required")
	}
	if c.Kafka.RepairTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_REPAIR_TOPIC is required")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}

	// Validate Ledger config
	if c.Ledger.URL == "" {
		validationErrors = append(validationErrors, "LEDGER_URL is required")
	}
	if c.Ledger.Database == "" {
		validationErrors = append(validationErrors, "LEDGER_DATABASE is required")
	}
	if c.Ledger.Username == "" {
		validationErrors = append(validationErrors, "LEDGER_USERNAME is required")
	}
	if c.Ledger.CallTimeout <= 0 {
		validationErrors = append(validationErrors, "LEDGER_CALL_TIMEOUT must be greater than 0")
	}
	if c.Ledger.MinCallInterval < 0 {
		validationErrors = append(validationErrors, "LEDGER_MIN_CALL_INTERVAL cannot be negative")
	}
	if c.Ledger.RetryMaxAttempts <= 0 {
		validationErrors = append(validationErrors, "LEDGER_RETRY_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Ledger.RetryInitialDelay <= 0 {
		validationErrors = append(validationErrors, "LEDGER_RETRY_INITIAL_DELAY must be greater than 0")
	}
	if c.Ledger.RetryMaxDelay < c.Ledger.RetryInitialDelay {
		validationErrors = append(validationErrors, "LEDGER_RETRY_MAX_DELAY must not be lower than LEDGER_RETRY_INITIAL_DELAY")
	}
	if c.Ledger.RetryBackoffFactor < 1 {
		validationErrors = append(validationErrors, "LEDGER_RETRY_BACKOFF_FACTOR must be at least 1")
	}
	if c.Ledger.BreakerFailureThreshold == 0 {
		validationErrors = append(validationErrors, "LEDGER_BREAKER_FAILURE_THRESHOLD must be greater than 0")
	}
	if c.Ledger.BreakerOpenTimeout <= 0 {
		validationErrors = append(validationErrors, "LEDGER_BREAKER_OPEN_TIMEOUT must be greater than 0")
	}

	// Validate Reconcile config
	if c.Reconcile.AmountEpsilon.IsNegative() {
		validationErrors = append(validationErrors, "RECONCILE_AMOUNT_EPSILON cannot be negative")
	}
	if c.Reconcile.BatchSize <= 0 {
		validationErrors = append(validationErrors, "RECONCILE_BATCH_SIZE must be greater than 0")
	}
	if c.Reconcile.ClaimLease <= 0 {
		validationErrors = append(validationErrors, "RECONCILE_CLAIM_LEASE must be greater than 0")
	}
	if c.Reconcile.DuplicateLookbackDays <= 0 {
		validationErrors = append(validationErrors, "RECONCILE_DUPLICATE_LOOKBACK_DAYS must be greater than 0")
	}

	// Validate Poller and Sweeper config
	if c.Poller.Interval <= 0 {
		validationErrors = append(validationErrors, "POLLER_INTERVAL must be greater than 0")
	}
	if c.Poller.BatchSize <= 0 {
		validationErrors = append(validationErrors, "POLLER_BATCH_SIZE must be greater than 0")
	}
	if c.Sweeper.Interval <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_INTERVAL must be greater than 0")
	}
	if c.Sweeper.BatchSize <= 0 {
		validationErrors = append(validationErrors, "SWEEPER_BATCH_SIZE must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
