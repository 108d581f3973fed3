package config

import (
	"time"

	dbconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/database/config"
	storageconfig "github.com/tigerroll/cirrusbatch/pkg/batch/adapter/storage/config"
)

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// ServerConfig holds the location of the remote object service.
type ServerConfig struct {
	// BaseURL is the root URL of the service (e.g., "https://cirrus.example.com").
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// AuthURL is the token endpoint, relative to BaseURL unless absolute.
	AuthURL string `yaml:"auth_url" validate:"required"`
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	RequestTimeout     time.Duration `yaml:"request_timeout" validate:"gte=0"`
	// RetryCount is the number of resty retries on network errors and 5xx responses.
	RetryCount int `yaml:"retry_count" validate:"gte=0"`
}

// AuthConfig holds the credentials the batch authenticates with.
type AuthConfig struct {
	// ClientID and ClientSecret identify the OAuth client.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// User and Password select the password grant; without them the client
	// credentials grant is used.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Token is a static bearer token. It disables token refresh.
	Token string `yaml:"token"`
}

// BatchConfig holds the settings of one batch run.
type BatchConfig struct {
	// JobID is the remote batch job mirrored by the tracker. Empty disables tracking.
	JobID string `yaml:"job_id"`
	// Solution is the short name of the deployed solution.
	Solution string `yaml:"solution" validate:"required"`
	// DefinitionFile is the YAML batch definition.
	DefinitionFile string `yaml:"definition_file"`
	// MaxParallel bounds the worker pool. 0 means the number of logical CPUs.
	MaxParallel int `yaml:"max_parallel" validate:"gte=0"`
	// LogReport enables writing the run report.
	LogReport        bool   `yaml:"log_report"`
	ReportDir        string `yaml:"report_dir"`
	ReportFile       string `yaml:"report_file"`
	ReportFormat     string `yaml:"report_format" validate:"omitempty,oneof=parquet csv"`
	ReportStorageRef string `yaml:"report_storage_ref"`
	HideProgress     bool   `yaml:"hide_progress"`
	// MetricsAsyncBufferSize is the buffer size for asynchronous metric recording.
	MetricsAsyncBufferSize int `yaml:"metrics_async_buffer_size" validate:"gte=0"`
}

// WorkflowConfig holds the polling cadence of remote waits.
// A zero timeout waits without bound.
type WorkflowConfig struct {
	ScriptWaitSleep     time.Duration `yaml:"script_wait_sleep" validate:"gte=0"`
	ScriptWaitTimeout   time.Duration `yaml:"script_wait_timeout" validate:"gte=0"`
	WorkflowWaitSleep   time.Duration `yaml:"workflow_wait_sleep" validate:"gte=0"`
	WorkflowWaitTimeout time.Duration `yaml:"workflow_wait_timeout" validate:"gte=0"`
	// StartWaitTimeout bounds the wait for the first tasks after a workflow start.
	StartWaitTimeout    time.Duration `yaml:"start_wait_timeout" validate:"gte=0"`
	CancelPollInterval  time.Duration `yaml:"cancel_poll_interval" validate:"gte=0"`
	SleepActionInterval time.Duration `yaml:"sleep_action_interval" validate:"gte=0"`
	AccessRefreshSkew   time.Duration `yaml:"access_refresh_skew" validate:"gte=0"`
	// RunScriptTransition and SkipTransition override the solution properties when set.
	RunScriptTransition string `yaml:"run_script_transition"`
	SkipTransition      string `yaml:"skip_transition"`
	InitTaskName        string `yaml:"init_task_name"`
}

// StateConfig selects where cross-worker state lives.
type StateConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory file redis"`
	FilePath    string `yaml:"file_path" validate:"required_if=Backend file"`
	RedisAddr   string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB     int    `yaml:"redis_db" validate:"gte=0"`
	RedisPrefix string `yaml:"redis_prefix"`
	// LockTimeout bounds how long a worker waits for the state lock.
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gte=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// File additionally receives every log line when set.
	File string `yaml:"file"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "prometheus" or "otlp".
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=prometheus otlp"`
	// ListenAddr serves /metrics when the exporter is prometheus.
	ListenAddr string `yaml:"listen_addr"`
	// Endpoint and Protocol ("grpc" or "http") configure the otlp exporter.
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol" validate:"omitempty,oneof=grpc http"`
}

// TracingConfig holds tracing export settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol" validate:"omitempty,oneof=grpc http"`
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}

// NotificationConfig holds the end-of-run notification settings.
type NotificationConfig struct {
	// WebhookURL receives the run summary as JSON. Empty logs the summary only.
	WebhookURL string        `yaml:"webhook_url" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
}

// HistoryConfig holds the run history store settings.
type HistoryConfig struct {
	Enabled         bool                    `yaml:"enabled"`
	Database        dbconfig.DatabaseConfig `yaml:"database"`
	MigrationsTable string                  `yaml:"migrations_table"`
}

// CirrusConfig holds all configuration under the "cirrus" top-level key.
type CirrusConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Batch    BatchConfig    `yaml:"batch"`
	Workflow WorkflowConfig `yaml:"workflow"`
	State    StateConfig    `yaml:"state"`
	System   SystemConfig   `yaml:"system"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	History  HistoryConfig  `yaml:"history"`
	// Notification configures the end-of-run summary.
	Notification NotificationConfig `yaml:"notification"`
	// Storage holds named storage connections, referenced by Batch.ReportStorageRef.
	Storage map[string]storageconfig.StorageConfig `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Cirrus contains the top-level configuration of the batch engine.
	Cirrus CirrusConfig `yaml:"cirrus"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config holding the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Cirrus: CirrusConfig{
			Server: ServerConfig{
				AuthURL:        "/SASLogon/oauth/token",
				RequestTimeout: 60 * time.Second,
				RetryCount:     3,
			},
			Batch: BatchConfig{
				ReportFormat:           "parquet",
				MetricsAsyncBufferSize: 256,
			},
			Workflow: WorkflowConfig{
				ScriptWaitSleep:     10 * time.Second,
				WorkflowWaitSleep:   5 * time.Second,
				StartWaitTimeout:    10 * time.Second,
				CancelPollInterval:  5 * time.Second,
				SleepActionInterval: 3 * time.Second,
				AccessRefreshSkew:   30 * time.Second,
			},
			State: StateConfig{
				Backend:     "memory",
				RedisPrefix: "cirrusbatch",
				LockTimeout: 30 * time.Second,
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: string(LogLevelInfo)},
			},
			Metrics: MetricsConfig{
				Exporter: "prometheus",
				Protocol: "grpc",
			},
			Tracing: TracingConfig{
				Protocol:    "grpc",
				ServiceName: "cirrus-batch",
			},
			History: HistoryConfig{
				MigrationsTable: "batch_run_history_migrations",
			},
			Notification: NotificationConfig{
				Timeout: 10 * time.Second,
			},
		},
	}
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is set by NewConfigProvider.
var GlobalConfig *Config
