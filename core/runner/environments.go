package runner

import (
	"context"
	"os/exec"
	"strings"
)

// ListEnvironments returns the conda environment names available on the
// host. A missing or failing conda falls back to just "base".
func (l *SubprocessLauncher) ListEnvironments(ctx context.Context) []string {
	if l.CondaBin == "" {
		return []string{"base"}
	}

	out, err := exec.CommandContext(ctx, l.CondaBin, "env", "list").Output()
	if err != nil {
		return []string{"base"}
	}

	var envs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if name := strings.Fields(line)[0]; name != "" {
			envs = append(envs, name)
		}
	}
	if len(envs) == 0 {
		return []string{"base"}
	}
	return envs
}
