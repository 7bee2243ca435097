package runner_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"training-manager/core/runner"

	"github.com/stretchr/testify/require"
)

// The launcher under test runs real shell commands; no conda binary is
// configured so commands run directly through the shell.
func launch(t *testing.T, command string) (runner.Handle, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "job.log")
	l := runner.NewSubprocessLauncher("")
	h, err := l.Launch(runner.Spec{Command: command, LogPath: logPath})
	require.NoError(t, err)
	return h, logPath
}

func waitResult(t *testing.T, h runner.Handle) runner.Result {
	t.Helper()
	select {
	case res := <-h.Done():
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("process did not finish")
		return runner.Result{}
	}
}

func TestLaunchCompleted(t *testing.T) {
	h, logPath := launch(t, "echo hello; echo oops >&2")
	require.Greater(t, h.PID(), 0)

	res := waitResult(t, h)
	require.Equal(t, runner.OutcomeCompleted, res.Outcome)

	// Both streams land in the one sink, fully flushed before Done fires.
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "oops")
}

func TestLaunchNonZeroExit(t *testing.T) {
	h, _ := launch(t, "exit 3")

	res := waitResult(t, h)
	require.Equal(t, runner.OutcomeFailed, res.Outcome)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "exit status 3", res.Reason())
}

func TestStopTerminatesProcessGroup(t *testing.T) {
	// The sleep runs as a child of the shell; stopping must take down the
	// whole group, not just the shell.
	h, _ := launch(t, "sleep 60")

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.Stop(5*time.Second))

	res := waitResult(t, h)
	require.Equal(t, runner.OutcomeStopped, res.Outcome)
}

func TestStopAfterExitIsSafe(t *testing.T) {
	h, _ := launch(t, "true")
	waitResult(t, h)

	require.NoError(t, h.Stop(time.Second))
}

func TestLogSinkAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "job.log")
	require.NoError(t, os.WriteFile(logPath, []byte("earlier\n"), 0o644))

	l := runner.NewSubprocessLauncher("")
	h, err := l.Launch(runner.Spec{Command: "echo later", LogPath: logPath})
	require.NoError(t, err)
	waitResult(t, h)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "earlier")
	require.Contains(t, string(data), "later")
}

func TestEnvironmentLauncherRequiresDocker(t *testing.T) {
	l := &runner.EnvironmentLauncher{Subprocess: runner.NewSubprocessLauncher("")}
	_, err := l.Launch(runner.Spec{Command: "true", Environment: "docker:python:3.12", LogPath: filepath.Join(t.TempDir(), "job.log")})
	require.Error(t, err)
}
