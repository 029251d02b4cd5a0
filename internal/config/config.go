package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server and process-wide settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// DatabaseConfig selects and configures the request store and cache index backend.
type DatabaseConfig struct {
	Store string `mapstructure:"store" validate:"required,oneof=postgres memory"`
	URL   string `mapstructure:"url" validate:"required_if=Store postgres,omitempty,url"`
}

// Queue backends.
const (
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// RedisConfig configures the Redis connection used by the queue.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required_if=Backend redis,omitempty,url"`
	// Backend is redis or memory. The memory backend only makes sense inside a
	// single process (serve --dev, tests).
	Backend string `mapstructure:"backend" validate:"required,oneof=redis memory"`
}

// QueueConfig describes the work stream and its redelivery policy.
type QueueConfig struct {
	Stream              string        `mapstructure:"stream" validate:"required"`
	Group               string        `mapstructure:"group" validate:"required"`
	DeadLetterStream    string        `mapstructure:"dead_letter_stream" validate:"required,nefield=Stream"`
	AckDeadline         time.Duration `mapstructure:"ack_deadline" validate:"required,gt=0"`
	MaxDeliveryAttempts int           `mapstructure:"max_delivery_attempts" validate:"required,gte=1"`
}

// WorkerConfig bounds a single worker execution.
type WorkerConfig struct {
	ConsumerName  string        `mapstructure:"consumer_name"`
	MaxRuntime    time.Duration `mapstructure:"max_runtime" validate:"required,gt=0"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" validate:"required,gt=0"`
	BatchSize     int           `mapstructure:"batch_size" validate:"required,gte=1,lte=100"`
	PullTimeout   time.Duration `mapstructure:"pull_timeout" validate:"required,gt=0"`
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"gte=0"`
	DedupSize     int           `mapstructure:"dedup_size" validate:"required,gte=1"`
}

// PipelineConfig points at the external generation pipeline.
type PipelineConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0"`
}

// MetricsConfig controls where worker metrics are pushed at exit.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
	JobName        string `mapstructure:"job_name"`
}
