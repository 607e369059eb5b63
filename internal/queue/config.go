package queue

import (
	"time"

	"github.com/ternarybob/gramflow/internal/common"
)

// Config holds configuration for the queue manager
type Config struct {
	// PollInterval is how often the dispatcher looks for eligible jobs
	PollInterval time.Duration

	// Concurrency is the number of concurrent workers
	Concurrency int

	// MaxAttempts is the number of executions before a retryable failure dead-letters the job
	MaxAttempts int

	// BaseBackoff is the first transient retry delay, doubled on every further attempt
	BaseBackoff time.Duration

	// MaxBackoff caps every retry delay, including platform retry-after hints
	MaxBackoff time.Duration

	// LockTTL is the per-account lease; running workers extend it every LockTTL/3
	LockTTL time.Duration

	// RevalidateAfter is the credential age after which a job verifies the session first.
	// Zero disables lazy revalidation.
	RevalidateAfter time.Duration
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		PollInterval: 1 * time.Second,
		Concurrency:  4,
		MaxAttempts:  5,
		BaseBackoff:  30 * time.Second,
		MaxBackoff:   30 * time.Minute,
		LockTTL:      2 * time.Minute,
	}
}

// NewConfig builds the queue configuration from the application configuration
func NewConfig(queue *common.QueueConfig, credentials *common.CredentialsConfig) Config {
	defaults := NewDefaultConfig()

	config := Config{
		PollInterval: common.ParseDuration(queue.PollInterval, defaults.PollInterval),
		Concurrency:  queue.Concurrency,
		MaxAttempts:  queue.MaxAttempts,
		BaseBackoff:  common.ParseDuration(queue.BaseBackoff, defaults.BaseBackoff),
		MaxBackoff:   common.ParseDuration(queue.MaxBackoff, defaults.MaxBackoff),
		LockTTL:      common.ParseDuration(queue.LockTTL, defaults.LockTTL),
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if credentials != nil {
		config.RevalidateAfter = common.ParseDuration(credentials.RevalidateAfter, 0)
	}
	return config
}
