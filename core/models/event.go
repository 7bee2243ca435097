package models

import "time"

// JobEvent is one audit entry for a job status transition
type JobEvent struct {
	ID         int64
	JobID      string
	At         time.Time
	FromStatus *JobStatus
	ToStatus   JobStatus
	Reason     string
	Meta       map[string]interface{}
}
