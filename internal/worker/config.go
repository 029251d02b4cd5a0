package worker

import (
	"errors"
	"time"

	"github.com/phrazzld/vidgen/internal/config"
)

// Config bounds one execution.
type Config struct {
	// ConsumerName identifies this execution as a lease owner.
	ConsumerName string
	MaxRuntime   time.Duration
	IdleTimeout  time.Duration
	BatchSize    int
	PullTimeout  time.Duration
	// LeaseDuration enables the claim guard when positive.
	LeaseDuration time.Duration
	// DedupSize is the number of request ids remembered within the execution.
	DedupSize int
	// MaxDeliveryAttempts mirrors the queue's dead-letter policy. It only
	// affects logging: the queue does the dead-lettering.
	MaxDeliveryAttempts int
}

// FromConfig builds a Config from the application configuration.
func FromConfig(w config.WorkerConfig, q config.QueueConfig) Config {
	return Config{
		ConsumerName:        w.ConsumerName,
		MaxRuntime:          w.MaxRuntime,
		IdleTimeout:         w.IdleTimeout,
		BatchSize:           w.BatchSize,
		PullTimeout:         w.PullTimeout,
		LeaseDuration:       w.LeaseDuration,
		DedupSize:           w.DedupSize,
		MaxDeliveryAttempts: q.MaxDeliveryAttempts,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxRuntime <= 0:
		return errors.New("max runtime must be positive")
	case c.IdleTimeout <= 0:
		return errors.New("idle timeout must be positive")
	case c.BatchSize <= 0:
		return errors.New("batch size must be positive")
	case c.PullTimeout <= 0:
		return errors.New("pull timeout must be positive")
	case c.LeaseDuration < 0:
		return errors.New("lease duration cannot be negative")
	}
	return nil
}
