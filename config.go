package outbox

import (
	"fmt"
	"time"
)

// DefaultChannel is the listen/notify channel the relational adapter rings
// on every insert.
const DefaultChannel = "outbox_event"

// Config tunes the delivery engine. Zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// BatchSize is the maximum number of rows claimed per processor cycle.
	BatchSize int
	// RetentionDays: Sent rows older than this are GC-eligible.
	RetentionDays int
	// GCInterval is the garbage collector tick period.
	GCInterval time.Duration
	// PollInterval is the drainer poll period when no notifications arrive.
	PollInterval time.Duration
	// LockTimeout is how long a Processing claim stays exclusive. It is the
	// only timeout that affects correctness: a row held by a dead worker
	// becomes claimable again after it elapses.
	LockTimeout time.Duration
	// Channel is the notification channel name.
	Channel string
	// Strategy derives the idempotency token on the producer path.
	Strategy IdempotencyStrategy
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		RetentionDays: 7,
		GCInterval:    time.Hour,
		PollInterval:  10 * time.Second,
		LockTimeout:   5 * time.Minute,
		Channel:       DefaultChannel,
		Strategy:      IdempotencyStrategy{Kind: StrategyNone},
	}
}

func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("outbox config: batch size must be positive, got %d", c.BatchSize)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("outbox config: retention days must be positive, got %d", c.RetentionDays)
	}
	if c.GCInterval <= 0 {
		return fmt.Errorf("outbox config: gc interval must be positive, got %s", c.GCInterval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("outbox config: poll interval must be positive, got %s", c.PollInterval)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("outbox config: lock timeout must be positive, got %s", c.LockTimeout)
	}
	if c.Channel == "" {
		return fmt.Errorf("outbox config: channel must not be empty")
	}
	if err := c.Strategy.validate(); err != nil {
		return fmt.Errorf("outbox config: %w", err)
	}
	return nil
}
