// Package evolution keeps the memory store focused and relevant over time:
// a cooperative scheduler drives four batched jobs — importance
// recalibration, link decay, archival, and consolidation — against the
// shared store. Jobs run serially with respect to one another and check a
// wall-clock cap between batches.
package evolution

import (
	"context"
	"time"
)

// Config bounds a single job run.
type Config struct {
	// BatchSize is the number of rows processed per batch.
	BatchSize int
	// MaxDuration is the wall-clock cap checked between batches.
	MaxDuration time.Duration
	// RatePerSecond paces writes during a run; zero means unpaced.
	RatePerSecond float64
}

// Normalize applies defaults.
func (c *Config) Normalize() {
	if c.BatchSize < 1 {
		c.BatchSize = 100
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 5 * time.Minute
	}
}

// Report summarizes one job run.
type Report struct {
	Processed    int
	Changed      int
	Duration     time.Duration
	Errors       int
	ErrorMessage string
}

// Job is the contract shared by the four evolution jobs.
type Job interface {
	// Name identifies the job in metadata keys, logs, and CLI arguments.
	Name() string
	// ShouldRun consults last-run metadata; the scheduler additionally
	// controls frequency via its own intervals.
	ShouldRun(ctx context.Context) bool
	// Run executes the job in bounded batches.
	Run(ctx context.Context, cfg Config) Report
}

// lastRunKey is the metadata key recording a job's last completion time.
func lastRunKey(name string) string {
	return "job_last_run:" + name
}
