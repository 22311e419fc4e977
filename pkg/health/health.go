package health

import (
	"context"
	"time"
)

// CheckType represents the type of dependency check
type CheckType string

const (
	CheckTypeStorage CheckType = "storage"
	CheckTypeRedis   CheckType = "redis"
)

// Result represents the outcome of a check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all dependency checkers must implement
type Checker interface {
	// Check performs the check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of check
	Type() CheckType
}

// Config contains common configuration for all checks
type Config struct {
	// Interval is the time between checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health of one dependency
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy: true, // Assume healthy until proven otherwise
	}
}

// Update updates the status based on a new check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0

	// Mark as unhealthy after reaching retry threshold
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
