// Package viz supervises the per-job visualization processes, one per running
// job that requested one, each bound to an exclusive port.
package viz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"training-manager/core/ports"
	"training-manager/core/runner"

	"golang.org/x/sync/errgroup"
)

// ErrExhausted signals that no visualization port is free. Callers treat it
// as a degraded-feature condition, not a job failure.
var ErrExhausted = ports.ErrExhausted

const stopGrace = 5 * time.Second

// Supervisor owns the visualization processes and their port assignments.
type Supervisor struct {
	launcher runner.Launcher
	program  string // visualization binary, e.g. "tensorboard"

	mu    sync.Mutex
	alloc *ports.Allocator
	base  int
	size  int
	procs map[string]*instance // job id -> live visualization
}

type instance struct {
	port   int
	handle runner.Handle
}

// NewSupervisor creates a supervisor that launches the given program through
// the launcher. Configure must be called before the first Start.
func NewSupervisor(launcher runner.Launcher, program string) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		program:  program,
		procs:    make(map[string]*instance),
	}
}

// Configure applies the current port range. Ports of already-running
// visualizations that fall inside the new range stay reserved; ports that
// fall outside keep their process until the job ends but are not reissued.
func (s *Supervisor) Configure(base, size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alloc != nil && base == s.base && size == s.size {
		return nil
	}

	alloc, err := ports.NewAllocator(base, size)
	if err != nil {
		return err
	}
	for jobID, inst := range s.procs {
		if err := alloc.Reserve(inst.port); err != nil {
			slog.Warn("visualization port left outside reconfigured range", "job", jobID, "port", inst.port)
		}
	}
	s.alloc = alloc
	s.base = base
	s.size = size
	return nil
}

// Start acquires a port and launches a visualization process scoped to the
// job's output directory. Returns ErrExhausted when the range is full.
func (s *Supervisor) Start(jobID, outputDir string) (int, error) {
	s.mu.Lock()
	if s.alloc == nil {
		s.mu.Unlock()
		return 0, errors.New("supervisor not configured")
	}
	if _, exists := s.procs[jobID]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("job %s already has a visualization", jobID)
	}

	port, err := s.alloc.Acquire()
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	spec := runner.Spec{
		Command: fmt.Sprintf("%s --logdir %q --host 0.0.0.0 --port %d", s.program, outputDir, port),
		LogPath: filepath.Join(outputDir, "visualization.log"),
	}
	handle, err := s.launcher.Launch(spec)
	if err != nil {
		s.releasePort(jobID, port)
		return 0, fmt.Errorf("launch visualization: %w", err)
	}

	s.mu.Lock()
	s.procs[jobID] = &instance{port: port, handle: handle}
	s.mu.Unlock()

	slog.Info("visualization started", "job", jobID, "port", port)
	return port, nil
}

// Stop terminates the job's visualization process and returns its port to
// the free set. Cleanup is mandatory: termination is retried, and a port that
// cannot be released is reported as an internal defect. Stopping a job with
// no visualization is a no-op.
func (s *Supervisor) Stop(jobID string) error {
	s.mu.Lock()
	inst, ok := s.procs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.procs, jobID)
	s.mu.Unlock()

	var stopErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if stopErr = inst.handle.Stop(stopGrace); stopErr == nil {
			break
		}
		slog.Error("visualization process refused to stop, retrying", "job", jobID, "attempt", attempt, "error", stopErr)
		time.Sleep(time.Duration(attempt) * time.Second)
	}

	s.releasePort(jobID, inst.port)
	if stopErr != nil {
		return fmt.Errorf("stop visualization for job %s: %w", jobID, stopErr)
	}
	slog.Info("visualization stopped", "job", jobID, "port", inst.port)
	return nil
}

// Active returns the number of live visualization processes, and Free the
// number of unheld ports, for dashboard reporting.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Free reports remaining port capacity.
func (s *Supervisor) Free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alloc == nil {
		return 0
	}
	return s.alloc.Free()
}

// Shutdown stops every live visualization concurrently.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	jobIDs := make([]string, 0, len(s.procs))
	for id := range s.procs {
		jobIDs = append(jobIDs, id)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range jobIDs {
		id := id
		g.Go(func() error { return s.Stop(id) })
	}
	return g.Wait()
}

func (s *Supervisor) releasePort(jobID string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alloc == nil {
		return
	}
	if err := s.alloc.Release(port); err != nil {
		// Silent leakage would shrink capacity for the rest of the
		// service's lifetime, so this is loud.
		slog.Error("internal defect: visualization port not released", "job", jobID, "port", port, "error", err)
	}
}
