package runner

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// SubprocessLauncher runs job commands as local child processes through the
// shell, optionally inside a named conda environment.
type SubprocessLauncher struct {
	// CondaBin is the conda executable used to enter named environments.
	// Empty means commands run directly through the shell.
	CondaBin string
}

// NewSubprocessLauncher creates a launcher that wraps commands with the given
// conda binary when a job names an environment.
func NewSubprocessLauncher(condaBin string) *SubprocessLauncher {
	return &SubprocessLauncher{CondaBin: condaBin}
}

// Launch implements Launcher
func (l *SubprocessLauncher) Launch(spec Spec) (Handle, error) {
	sink, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink: %w", err)
	}

	cmd := l.buildCommand(spec)
	cmd.Dir = spec.WorkingDir
	// The sink is wired directly as the child's stdout/stderr so no output
	// byte can be lost between launch and first read.
	cmd.Stdout = sink
	cmd.Stderr = sink
	// A fresh process group lets Stop signal the whole tree, including any
	// children the training script forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		sink.Close()
		return nil, fmt.Errorf("launch %q: %w", spec.Command, err)
	}

	h := &procHandle{
		cmd:    cmd,
		done:   make(chan Result, 1),
		exited: make(chan struct{}),
	}
	go h.wait(sink)
	return h, nil
}

func (l *SubprocessLauncher) buildCommand(spec Spec) *exec.Cmd {
	if l.CondaBin != "" && spec.Environment != "" {
		return exec.Command(l.CondaBin, "run", "--no-capture-output", "-n", spec.Environment, "bash", "-c", spec.Command)
	}
	return exec.Command("bash", "-c", spec.Command)
}

type procHandle struct {
	cmd    *exec.Cmd
	done   chan Result
	exited chan struct{}

	mu            sync.Mutex
	stopRequested bool
}

func (h *procHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *procHandle) Done() <-chan Result {
	return h.done
}

func (h *procHandle) wait(sink *os.File) {
	err := h.cmd.Wait()
	sink.Close()

	h.mu.Lock()
	stopped := h.stopRequested
	h.mu.Unlock()

	var res Result
	switch {
	case stopped:
		res = Result{Outcome: OutcomeStopped}
	case err == nil:
		res = Result{Outcome: OutcomeCompleted}
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res = Result{Outcome: OutcomeFailed, ExitCode: exitErr.ExitCode(), Err: fmt.Errorf("exit status %d", exitErr.ExitCode())}
		} else {
			res = Result{Outcome: OutcomeFailed, Err: err}
		}
	}

	h.done <- res
	close(h.exited)
}

// Stop signals the process group with SIGTERM, waits out the grace period and
// escalates to SIGKILL if the group is still alive.
func (h *procHandle) Stop(grace time.Duration) error {
	h.mu.Lock()
	h.stopRequested = true
	h.mu.Unlock()

	pgid := -h.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil // already gone
		}
		return fmt.Errorf("signal process group %d: %w", pgid, err)
	}

	select {
	case <-h.exited:
		return nil
	case <-time.After(grace):
	}

	slog.Warn("process ignored SIGTERM, escalating to SIGKILL", "pid", h.cmd.Process.Pid)
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", pgid, err)
	}

	<-h.exited
	return nil
}
