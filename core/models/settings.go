package models

import "time"

// Settings is a consistent snapshot of the runtime configuration the engine
// reads on each admission. The backing store owns the values; the engine never
// mutates them.
type Settings struct {
	MaxConcurrent      int      // scheduler concurrency ceiling, >= 1
	VizBasePort        int      // first visualization port
	VizMaxInstances    int      // size of the visualization port range
	DefaultEnvironment string   // environment used when a job does not name one
	WorkingDirectory   string   // default working directory for job commands
	OutputPath         string   // root for per-job output and log directories
	SyncTargetPath     string   // default target for code sync
	SyncExcludes       []string // default exclude patterns for code sync
}

// SettingsEntry is one key/value pair as persisted, with its update timestamp.
type SettingsEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
