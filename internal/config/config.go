// Package config defines the global configuration structure for the scheduled
// payments service. Configuration is loaded once at process start and is
// immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"scheduledpayments/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the top-level configuration struct. Sub-components receive only the
// subset they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"scheduled-payments"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Accounts      AccountsConfig
	Transfer      TransferConfig
	Subscription  SubscriptionConfig
	Clock         ClockConfig
	Scheduler     SchedulerConfig
	Logging       LoggingConfig
	RateLimit     RateLimitConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s" validate:"gt=0"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s" validate:"gt=0"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds store selection, connection and pool tuning parameters.
type DatabaseConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"postgres" validate:"oneof=postgres memory"`

	// Resolved from SSM or Env. MONGO_CONNECTION_STRING is accepted as a
	// legacy alias by the loader.
	URL  SecretString `envconfig:"DATABASE_URL" validate:"required_if=Driver postgres"`
	Name string       `envconfig:"DATABASE_NAME"`

	// Tuning Parameters
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"gt=0"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

// AccountsConfig configures the accounts directory gateway. URL may carry an
// {accountId} or {iban} placeholder; without one the escaped account id is
// appended as the last path segment.
type AccountsConfig struct {
	URL     string        `envconfig:"ACCOUNTS_SERVICE_URL" validate:"required,url"`
	Timeout time.Duration `envconfig:"ACCOUNTS_TIMEOUT" default:"3s" validate:"gt=0"`
}

// TransferConfig configures the transfer service gateway.
type TransferConfig struct {
	URL        string        `envconfig:"TRANSFER_SERVICE_URL" validate:"required,url"`
	Timeout    time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxRetries int           `envconfig:"TRANSFER_MAX_RETRIES" default:"0" validate:"gte=0,lte=5"`
}

// SubscriptionConfig holds the per-tier quota of simultaneously active
// scheduled payments.
type SubscriptionConfig struct {
	Basic   int `envconfig:"SUBSCRIPTION_BASIC" default:"1" validate:"gt=0"`
	Student int `envconfig:"SUBSCRIPTION_STUDENT" default:"10" validate:"gt=0"`
	Pro     int `envconfig:"SUBSCRIPTION_PRO" default:"100" validate:"gt=0"`
}

// Quotas returns the tier name to quota map, including the English aliases.
func (s SubscriptionConfig) Quotas() map[string]int {
	return map[string]int{
		"basico":     s.Basic,
		"basic":      s.Basic,
		"estudiante": s.Student,
		"student":    s.Student,
		"pro":        s.Pro,
	}
}

// ClockConfig configures the NTP-corrected clock. An empty Server disables
// correction and the system clock is used as-is.
type ClockConfig struct {
	NTPServer      string `envconfig:"NTP_SERVER" default:"pool.ntp.org"`
	RefreshSeconds int    `envconfig:"NTP_REFRESH_SECONDS" default:"60" validate:"gt=0"`
	TimeoutSeconds int    `envconfig:"NTP_TIMEOUT_SECONDS" default:"3" validate:"gt=0"`
}

// SchedulerConfig configures the due-payment executor and its loop.
type SchedulerConfig struct {
	Enabled         bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	IntervalSeconds int           `envconfig:"SCHEDULER_INTERVAL_SECONDS" default:"60" validate:"gt=0"`
	MaxRetries      int           `envconfig:"SCHEDULER_MAX_RETRIES" default:"3" validate:"gt=0"`
	RetryBackoff    time.Duration `envconfig:"SCHEDULER_RETRY_BACKOFF" default:"0s" validate:"gte=0"`
	MaxRetryBackoff time.Duration `envconfig:"SCHEDULER_MAX_RETRY_BACKOFF" default:"1h" validate:"gte=0"`
	BatchSize       int           `envconfig:"SCHEDULER_BATCH_SIZE" default:"100" validate:"gt=0,lte=1000"`
	Concurrency     int           `envconfig:"SCHEDULER_CONCURRENCY" default:"8" validate:"gt=0,lte=128"`
	ExecutionLease  time.Duration `envconfig:"SCHEDULER_EXECUTION_LEASE" default:"5m" validate:"gt=0"`
}

// Interval returns the tick interval as a duration.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Format      string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	File        string `envconfig:"LOG_FILE"`
	BackupCount int    `envconfig:"LOG_BACKUP_COUNT" default:"7" validate:"gte=0"`
	MaxSizeMB   int    `envconfig:"LOG_MAX_SIZE_MB" default:"50" validate:"gt=0"`
}

// RateLimitConfig holds the per-route request budgets. Budgets are counted per
// window per key (account or client IP).
type RateLimitConfig struct {
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	WindowSeconds     int  `envconfig:"RATE_LIMIT_WINDOW_SECONDS" default:"60" validate:"gt=0"`
	DefaultPerWindow  int  `envconfig:"RATE_LIMIT_DEFAULT_PER_WINDOW" default:"120" validate:"gt=0"`
	CreatePerWindow   int  `envconfig:"RATE_LIMIT_CREATE_PER_WINDOW" default:"10" validate:"gt=0"`
	ListPerWindow     int  `envconfig:"RATE_LIMIT_LIST_PER_WINDOW" default:"60" validate:"gt=0"`
	UpcomingPerWindow int  `envconfig:"RATE_LIMIT_UPCOMING_PER_WINDOW" default:"60" validate:"gt=0"`
	DeletePerWindow   int  `envconfig:"RATE_LIMIT_DELETE_PER_WINDOW" default:"20" validate:"gt=0"`
}

// Window returns the rate-limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers
	FailedPaymentsQueue string `envconfig:"SQS_FAILED_PAYMENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"ScheduledPayments"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
