// Package runner launches and supervises one external process per job,
// streaming its combined output into an append-only log sink and reporting a
// single terminal outcome.
package runner

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the terminal result of one supervised process
type Outcome int

const (
	// OutcomeCompleted means the process exited with code zero.
	OutcomeCompleted Outcome = iota
	// OutcomeFailed means a non-zero exit or a supervision error.
	OutcomeFailed
	// OutcomeStopped means the process was terminated on request.
	OutcomeStopped
)

// Result carries the terminal outcome of a process
type Result struct {
	Outcome  Outcome
	ExitCode int
	Err      error
}

// Reason renders the result as a human-readable terminal reason.
func (r Result) Reason() string {
	switch r.Outcome {
	case OutcomeCompleted:
		return "completed"
	case OutcomeStopped:
		return "stopped"
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return fmt.Sprintf("exit status %d", r.ExitCode)
}

// Spec describes one process launch
type Spec struct {
	Command     string // opaque command line, run through the shell
	Environment string // execution environment name
	WorkingDir  string
	LogPath     string // append-only log sink, created by the launcher
}

// Handle supervises one launched process. Done yields exactly one Result.
type Handle interface {
	// PID is the host process id, or zero when the backend has none.
	PID() int
	// Done delivers the terminal result once the process has exited and its
	// output has been flushed to the log sink.
	Done() <-chan Result
	// Stop asks the process group to terminate, escalating to a forced kill
	// after the grace period. It blocks until the process is gone. Safe to
	// call on an already-finished process.
	Stop(grace time.Duration) error
}

// Launcher starts processes for a family of execution environments
type Launcher interface {
	Launch(spec Spec) (Handle, error)
}

// DockerEnvPrefix marks environments that run inside a container image.
const DockerEnvPrefix = "docker:"

// EnvironmentLauncher dispatches launches on the environment name: names with
// the docker: prefix run in a container, everything else is a conda-backed
// subprocess.
type EnvironmentLauncher struct {
	Subprocess Launcher
	Docker     Launcher // nil when no docker daemon is available
}

// Launch implements Launcher
func (l *EnvironmentLauncher) Launch(spec Spec) (Handle, error) {
	if strings.HasPrefix(spec.Environment, DockerEnvPrefix) {
		if l.Docker == nil {
			return nil, fmt.Errorf("environment %q requires docker, which is not available", spec.Environment)
		}
		return l.Docker.Launch(spec)
	}
	return l.Subprocess.Launch(spec)
}
