package models

import (
	"fmt"
	"time"
)

// Job represents one user-submitted training run tracked through its lifecycle
type Job struct {
	ID          string
	Name        string
	Command     string // opaque command line, run through the shell
	Environment string // named execution environment ("base", "isaaclab", "docker:<image>", ...)
	WorkingDir  string
	SyncSource  string // local tree to stage before launch; empty = no sync step
	Visualize   bool   // request a visualization process on admission
	Timeout     time.Duration

	Status JobStatus
	Reason string // human-readable explanation of the terminal status

	PID               *int
	VisualizationPort *int
	LogPath           string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// ParseJobStatus maps the persisted string form back to a JobStatus,
// rejecting anything outside the closed set.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// Terminal-status reasons surfaced to the user.
const (
	ReasonCompleted     = "completed"
	ReasonStoppedByUser = "stopped by user"
	ReasonTimeout       = "timeout"
	ReasonLostOnRestart = "lost on restart"
)
