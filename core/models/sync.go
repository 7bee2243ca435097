package models

import "time"

// SyncStatus is the outcome of one code-sync attempt
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncRecord is an immutable audit entry of one code-sync attempt.
// Records are never mutated after creation.
type SyncRecord struct {
	ID         string
	SourcePath string
	TargetPath string
	Status     SyncStatus
	Output     string // captured tool output
	CreatedAt  time.Time
}
