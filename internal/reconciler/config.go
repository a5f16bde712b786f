// Package reconciler polls the workflow engine and folds job status and logs
// into the upgrade session.
package reconciler

import (
	"fmt"
	"time"
)

// RetryPolicy controls how a failed engine call is retried within one poll.
type RetryPolicy string

const (
	RetryNone        RetryPolicy = "none"
	RetryFixed       RetryPolicy = "fixed"
	RetryExponential RetryPolicy = "exponential"
)

// Config defines the reconciler configuration.
type Config struct {
	// Interval between polls.
	Interval time.Duration `yaml:"interval"`
	// PollTimeout bounds all engine calls of one poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// RetryPolicy applies to each engine call; none skips to the next tick.
	RetryPolicy RetryPolicy `yaml:"retry_policy"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff is the fixed delay, or the base delay when exponential.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:     10 * time.Second,
		PollTimeout:  30 * time.Second,
		RetryPolicy:  RetryNone,
		MaxRetries:   2,
		RetryBackoff: time.Second,
	}
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("reconciler: interval must be positive")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("reconciler: poll timeout must be positive")
	}
	switch c.RetryPolicy {
	case RetryNone, RetryFixed, RetryExponential:
	default:
		return fmt.Errorf("reconciler: unknown retry policy %q", c.RetryPolicy)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("reconciler: max retries must not be negative")
	}
	return nil
}

// attempts returns how many times an engine call is tried.
func (c *Config) attempts() int {
	if c.RetryPolicy == RetryNone || c.RetryPolicy == "" {
		return 1
	}
	return c.MaxRetries + 1
}

// Backoff returns the delay before retry number n (1-based).
func (c *Config) Backoff(n int) time.Duration {
	switch c.RetryPolicy {
	case RetryFixed:
		return c.RetryBackoff
	case RetryExponential:
		return c.RetryBackoff << (n - 1)
	}
	return 0
}
