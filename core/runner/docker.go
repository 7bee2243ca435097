package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerLauncher runs job commands inside containers for environments named
// docker:<image>. The container shares the host network so visualization
// ports published by the job remain reachable.
type DockerLauncher struct {
	client *client.Client
}

// NewDockerLauncher creates a launcher backed by the local docker daemon
func NewDockerLauncher() (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerLauncher{client: cli}, nil
}

// Launch implements Launcher
func (l *DockerLauncher) Launch(spec Spec) (Handle, error) {
	ctx := context.Background()
	image := strings.TrimPrefix(spec.Environment, DockerEnvPrefix)
	if image == "" {
		return nil, fmt.Errorf("environment %q names no image", spec.Environment)
	}

	sink, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink: %w", err)
	}

	cfg := &container.Config{
		Image:      image,
		Cmd:        []string{"/bin/sh", "-c", spec.Command},
		WorkingDir: spec.WorkingDir,
	}
	resp, err := l.client.ContainerCreate(ctx, cfg, &container.HostConfig{
		NetworkMode: "host",
	}, nil, nil, "")
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("container create: %w", err)
	}

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		sink.Close()
		_ = l.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{})
		return nil, fmt.Errorf("container start: %w", err)
	}

	logs, err := l.client.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		sink.Close()
		_ = l.client.ContainerStop(ctx, resp.ID, container.StopOptions{})
		_ = l.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{})
		return nil, fmt.Errorf("container logs: %w", err)
	}

	h := &containerHandle{
		client:      l.client,
		containerID: resp.ID,
		done:        make(chan Result, 1),
		exited:      make(chan struct{}),
	}
	go func() {
		// Copy runs until the container exits and the log stream closes.
		if _, err := stdcopy.StdCopy(sink, sink, logs); err != nil {
			slog.Warn("container log copy ended with error", "container", resp.ID, "error", err)
		}
		sink.Close()
	}()
	go h.wait()
	return h, nil
}

type containerHandle struct {
	client      *client.Client
	containerID string
	done        chan Result
	exited      chan struct{}

	mu            sync.Mutex
	stopRequested bool
}

func (h *containerHandle) PID() int { return 0 }

func (h *containerHandle) Done() <-chan Result { return h.done }

func (h *containerHandle) wait() {
	ctx := context.Background()
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	var res Result
	select {
	case err := <-errCh:
		res = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("container wait: %w", err)}
	case status := <-statusCh:
		switch {
		case status.StatusCode == 0:
			res = Result{Outcome: OutcomeCompleted}
		default:
			res = Result{
				Outcome:  OutcomeFailed,
				ExitCode: int(status.StatusCode),
				Err:      fmt.Errorf("exit status %d", status.StatusCode),
			}
		}
	}

	h.mu.Lock()
	if h.stopRequested {
		res = Result{Outcome: OutcomeStopped}
	}
	h.mu.Unlock()

	_ = h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{})

	h.done <- res
	close(h.exited)
}

// Stop asks the daemon to stop the container; docker escalates to SIGKILL on
// its own once the grace period elapses.
func (h *containerHandle) Stop(grace time.Duration) error {
	h.mu.Lock()
	h.stopRequested = true
	h.mu.Unlock()

	seconds := int(grace / time.Second)
	if err := h.client.ContainerStop(context.Background(), h.containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("container stop: %w", err)
	}
	<-h.exited
	return nil
}
