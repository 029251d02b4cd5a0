package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. VIDGEN_QUEUE_STREAM.
const EnvPrefix = "VIDGEN"

// ConfigPathEnv names an explicit config file to read instead of ./config.yaml.
const ConfigPathEnv = "VIDGEN_CONFIG"

var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",

	"database.store": StorePostgres,
	"database.url":   "",

	"redis.url":     "redis://localhost:6379/0",
	"redis.backend": "redis",

	"queue.stream":                "vidgen:requests",
	"queue.group":                 "vidgen-workers",
	"queue.dead_letter_stream":    "vidgen:requests:dead",
	"queue.ack_deadline":          10 * time.Minute,
	"queue.max_delivery_attempts": 5,

	"worker.consumer_name":  "",
	"worker.max_runtime":    9 * time.Minute,
	"worker.idle_timeout":   60 * time.Second,
	"worker.batch_size":     5,
	"worker.pull_timeout":   10 * time.Second,
	"worker.lease_duration": time.Duration(0),
	"worker.dedup_size":     1024,

	"pipeline.url":     "",
	"pipeline.timeout": 8 * time.Minute,

	"metrics.pushgateway_url": "",
	"metrics.job_name":        "vidgen_worker",
}

// Load configuration from defaults, an optional config file and environment
// variables. Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWith(nil)
}

// LoadWith is Load with overrides applied on top of every other source.
// Keys use the dotted form, e.g. "database.store". The CLI uses it for flags.
func LoadWith(overrides map[string]any) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv(ConfigPathEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct validation over cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
