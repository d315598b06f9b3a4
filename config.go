package stride

import "time"

// MaxExecutionTimeout is the upper bound on an execution-level deadline.
const MaxExecutionTimeout = 366 * 24 * time.Hour

// Config holds engine-wide configuration.
type Config struct {
	// ExecutionTimeout is the default wall-clock deadline for an
	// execution, applied when the workflow definition does not set one.
	// Bounded by MaxExecutionTimeout.
	ExecutionTimeout time.Duration

	// Retention is how long terminal executions (and their step records
	// and callbacks) are kept before becoming eligible for purging.
	Retention time.Duration

	// SweepInterval is how often the callback sweep checks for expired
	// callbacks and due timers.
	SweepInterval time.Duration

	// BranchConcurrency caps the number of branches of a parallel group
	// executing at once. Zero means unbounded.
	BranchConcurrency int

	// ResumeRate limits how many suspended executions per second the
	// engine resumes in the background after callback resolutions.
	ResumeRate float64

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ExecutionTimeout:  24 * time.Hour,
		Retention:         7 * 24 * time.Hour,
		SweepInterval:     1 * time.Second,
		BranchConcurrency: 8,
		ResumeRate:        100,
		ShutdownTimeout:   30 * time.Second,
	}
}
