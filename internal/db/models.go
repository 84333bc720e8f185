package db

import (
	"time"
)

// RunStatus represents the status of a conversion run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped" // stopped by the user before all files were dispatched
	RunStatusAborted   RunStatus = "aborted" // the tool went missing mid-run
	RunStatusFailed    RunStatus = "failed"  // the run could not start or was interrupted
)

// Finished reports whether the status is terminal
func (s RunStatus) Finished() bool {
	return s != RunStatusRunning
}

// ConversionRun represents one execution of the conversion pipeline
type ConversionRun struct {
	ID             int64
	UUID           string
	ScheduledJobID *int64
	SourceRoot     string
	OutputRoot     string
	SourceExts     []string
	TargetExt      string
	Workers        int
	Status         RunStatus
	Total          int
	Succeeded      int
	Failed         int
	Skipped        int
	StartedAt      time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
}

// Completed returns the number of files that reached a terminal outcome
func (r *ConversionRun) Completed() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// Duration returns how long the run took, or has taken so far
func (r *ConversionRun) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// ConversionFailure is one file that failed to convert
type ConversionFailure struct {
	ID         int64
	RunID      int64
	SourcePath string
	Message    string
	CreatedAt  time.Time
}

// ScheduledJob is a cron-driven conversion
type ScheduledJob struct {
	ID             int64
	Name           string
	SourceRoot     string
	OutputRoot     string
	SourceExts     []string
	TargetExt      string
	Workers        int
	CronExpression string
	Enabled        bool
	TreeExportDir  *string // export the output tree here after each run (nil = off)
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	CreatedAt      time.Time
}
