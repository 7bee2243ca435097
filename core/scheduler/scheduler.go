// Package scheduler admits queued jobs FIFO under a concurrency ceiling,
// drives each job through its state machine and coordinates the process
// runner, visualization supervisor and record store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"training-manager/core/models"
	"training-manager/core/ports"
	"training-manager/core/runner"
	"training-manager/core/sync"
)

// JobStore is the durable job record store the scheduler treats as the
// source of truth.
type JobStore interface {
	GetJob(id string) (*models.Job, error)
	ListJobs(status *models.JobStatus) ([]*models.Job, error)
	MarkJobRunning(id string, startedAt time.Time, logPath string, vizPort *int, pid int, note string) (bool, error)
	FailJobAtAdmission(id string, at time.Time, logPath string, reason string) (bool, error)
	MarkJobTerminal(id string, to models.JobStatus, reason string, finishedAt time.Time) (bool, error)
}

// SyncRecorder persists code-sync attempt records.
type SyncRecorder interface {
	CreateSyncRecord(rec *models.SyncRecord) error
}

// SettingsSource yields the current runtime settings. The scheduler reads a
// fresh snapshot on every admission so changes apply without a restart.
type SettingsSource interface {
	Snapshot() (models.Settings, error)
}

// Visualizer is the visualization supervisor as seen by the scheduler.
type Visualizer interface {
	Configure(base, size int) error
	Start(jobID, outputDir string) (int, error)
	Stop(jobID string) error
}

// StopGrace is how long a stopped process gets to exit before SIGKILL.
const StopGrace = 10 * time.Second

// Scheduler owns the admission loop. All admission decisions run on one
// goroutine, so the capacity check and queue pop cannot race each other.
type Scheduler struct {
	store    JobStore
	settings SettingsSource
	launcher runner.Launcher
	viz      Visualizer
	syncer   sync.Syncer
	syncRecs SyncRecorder

	queue    *JobQueue
	wake     chan struct{}
	stopChan chan struct{}
	stopOnce gosync.Once

	mu      gosync.Mutex
	running map[string]*runningJob
}

type runningJob struct {
	handle      runner.Handle
	timer       *time.Timer
	userStopped bool
	timedOut    bool
}

// NewScheduler creates a scheduler wired to its collaborators
func NewScheduler(
	store JobStore,
	settings SettingsSource,
	launcher runner.Launcher,
	viz Visualizer,
	syncer sync.Syncer,
	syncRecs SyncRecorder,
) *Scheduler {
	return &Scheduler{
		store:    store,
		settings: settings,
		launcher: launcher,
		viz:      viz,
		syncer:   syncer,
		syncRecs: syncRecs,
		queue:    NewJobQueue(),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		running:  make(map[string]*runningJob),
	}
}

// Start reconciles persisted state against reality and runs the admission
// loop until the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.reconcile(); err != nil {
		slog.Error("startup reconciliation failed", "error", err)
	}

	// The ticker is a fallback; submissions and completions wake the loop
	// directly.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-s.wake:
		case <-ticker.C:
		}
		s.drainQueue(ctx)
	}
}

// Stop stops the admission loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Enqueue adds a freshly created job to the queue. It returns immediately;
// admission happens asynchronously on the scheduling loop.
func (s *Scheduler) Enqueue(job *models.Job) {
	s.queue.Enqueue(job)
	s.wakeup()
}

// QueuedIDs returns the ids waiting for admission, oldest first
func (s *Scheduler) QueuedIDs() []string {
	return s.queue.IDs()
}

// RunningCount returns the number of live supervised processes
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// StopJob cancels a job. A queued job is marked stopped without ever
// starting; a running job's process group is terminated, with the call
// blocking up to the grace period. Stopping a terminal job is a no-op.
func (s *Scheduler) StopJob(id string) error {
	s.mu.Lock()
	if rj, ok := s.running[id]; ok {
		rj.userStopped = true
		handle := rj.handle
		s.mu.Unlock()
		return handle.Stop(StopGrace)
	}
	s.mu.Unlock()

	applied, err := s.store.MarkJobTerminal(id, models.JobStatusStopped, models.ReasonStoppedByUser, time.Now().UTC())
	if err != nil {
		return err
	}
	if applied {
		s.queue.Remove(id)
		slog.Info("queued job stopped", "job", id)
		s.wakeup()
	}
	return nil
}

// reconcile resolves records the in-memory scheduler state cannot vouch for:
// running rows with no live process become failed, queued rows are replayed
// into the queue in creation order.
func (s *Scheduler) reconcile() error {
	runningStatus := models.JobStatusRunning
	orphans, err := s.store.ListJobs(&runningStatus)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for _, job := range orphans {
		if _, err := s.store.MarkJobTerminal(job.ID, models.JobStatusFailed, models.ReasonLostOnRestart, time.Now().UTC()); err != nil {
			slog.Error("failed to reconcile orphaned job", "job", job.ID, "error", err)
			continue
		}
		slog.Warn("reconciled orphaned running job to failed", "job", job.ID)
	}

	queuedStatus := models.JobStatusQueued
	queued, err := s.store.ListJobs(&queuedStatus)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	for _, job := range queued {
		s.queue.Enqueue(job)
	}
	if len(queued) > 0 {
		slog.Info("replayed queued jobs", "count", len(queued))
	}
	return nil
}

// drainQueue admits jobs while capacity allows
func (s *Scheduler) drainQueue(ctx context.Context) {
	for {
		settings, err := s.settings.Snapshot()
		if err != nil {
			slog.Error("failed to load settings, skipping admission", "error", err)
			return
		}

		s.mu.Lock()
		atCapacity := len(s.running) >= settings.MaxConcurrent
		s.mu.Unlock()
		if atCapacity {
			return
		}

		job := s.queue.PopJob()
		if job == nil {
			return
		}

		// Re-fetch: the job may have been stopped while queued.
		fresh, err := s.store.GetJob(job.ID)
		if err != nil {
			slog.Error("failed to fetch queued job", "job", job.ID, "error", err)
			continue
		}
		if fresh.Status != models.JobStatusQueued {
			continue
		}

		s.admit(ctx, fresh, settings)
	}
}

// admit drives the queued->running transition. Log sink, optional
// visualization port and process handle are acquired as one unit: any
// failure moves the job directly to failed, never to a half-started running.
func (s *Scheduler) admit(ctx context.Context, job *models.Job, settings models.Settings) {
	log := slog.With("job", job.ID)
	now := time.Now().UTC()

	outputDir := filepath.Join(settings.OutputPath, job.ID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		s.failAtAdmission(job.ID, now, "", fmt.Sprintf("create output directory: %v", err))
		return
	}
	logPath := filepath.Join(outputDir, "job.log")

	if job.SyncSource != "" {
		rec, syncErr := s.syncer.Sync(ctx, job.SyncSource, settings.SyncTargetPath, settings.SyncExcludes)
		if rec != nil {
			if err := s.syncRecs.CreateSyncRecord(rec); err != nil {
				log.Error("failed to persist sync record", "error", err)
			}
		}
		if syncErr != nil {
			s.failAtAdmission(job.ID, now, logPath, fmt.Sprintf("sync failed: %v", syncErr))
			return
		}
	}

	workingDir := job.WorkingDir
	if workingDir == "" {
		workingDir = settings.WorkingDirectory
	}
	environment := job.Environment
	if environment == "" {
		environment = settings.DefaultEnvironment
	}

	handle, err := s.launcher.Launch(runner.Spec{
		Command:     job.Command,
		Environment: environment,
		WorkingDir:  workingDir,
		LogPath:     logPath,
	})
	if err != nil {
		s.failAtAdmission(job.ID, now, logPath, fmt.Sprintf("launch failed: %v", err))
		return
	}

	var vizPort *int
	var note string
	if job.Visualize {
		if err := s.viz.Configure(settings.VizBasePort, settings.VizMaxInstances); err != nil {
			log.Error("failed to configure visualization port range", "error", err)
		}
		port, vizErr := s.viz.Start(job.ID, outputDir)
		switch {
		case vizErr == nil:
			vizPort = &port
		case errors.Is(vizErr, ports.ErrExhausted):
			note = "no visualization available: port range exhausted"
			log.Warn("visualization skipped", "reason", note)
		default:
			note = fmt.Sprintf("no visualization available: %v", vizErr)
			log.Warn("visualization skipped", "reason", note)
		}
	}

	// Register under the lock before the record transition so a concurrent
	// stop or an already-due deadline reaches the process through the
	// running map instead of racing past it.
	rj := &runningJob{handle: handle}
	s.mu.Lock()
	s.running[job.ID] = rj
	if job.Timeout > 0 {
		rj.timer = time.AfterFunc(job.Timeout, func() { s.timeoutJob(job.ID) })
	}
	s.mu.Unlock()

	applied, err := s.store.MarkJobRunning(job.ID, now, logPath, vizPort, handle.PID(), note)
	if err != nil || !applied {
		// Either the store rejected the transition or the job was stopped
		// while we were staging it. The process must not outlive the record.
		if err != nil {
			log.Error("failed to mark job running, terminating process", "error", err)
		} else {
			log.Info("job was stopped during admission, terminating process")
		}
		s.mu.Lock()
		delete(s.running, job.ID)
		if rj.timer != nil {
			rj.timer.Stop()
		}
		s.mu.Unlock()
		if stopErr := handle.Stop(StopGrace); stopErr != nil {
			log.Error("failed to terminate process after aborted admission", "error", stopErr)
		}
		s.cleanupViz(job.ID)
		return
	}

	log.Info("job running", "pid", handle.PID(), "log", logPath)
	go s.await(job.ID, handle)
}

// await blocks on the process's one-shot completion signal and finalizes the
// job record.
func (s *Scheduler) await(id string, handle runner.Handle) {
	res := <-handle.Done()

	s.mu.Lock()
	rj := s.running[id]
	delete(s.running, id)
	var userStopped, timedOut bool
	if rj != nil {
		userStopped = rj.userStopped
		timedOut = rj.timedOut
		if rj.timer != nil {
			rj.timer.Stop()
		}
	}
	s.mu.Unlock()

	var status models.JobStatus
	var reason string
	switch {
	case timedOut:
		status = models.JobStatusFailed
		reason = models.ReasonTimeout
	case userStopped || res.Outcome == runner.OutcomeStopped:
		status = models.JobStatusStopped
		reason = models.ReasonStoppedByUser
	case res.Outcome == runner.OutcomeCompleted:
		status = models.JobStatusCompleted
		reason = models.ReasonCompleted
	default:
		status = models.JobStatusFailed
		reason = res.Reason()
	}

	if _, err := s.store.MarkJobTerminal(id, status, reason, time.Now().UTC()); err != nil {
		slog.Error("failed to record terminal status", "job", id, "status", status, "error", err)
	}
	slog.Info("job finished", "job", id, "status", status, "reason", reason)

	s.cleanupViz(id)
	s.wakeup()
}

// timeoutJob enforces a job's wall-clock deadline through the same
// termination path as a user stop; await reports it as failed with a timeout
// reason since the cause was policy, not user intent.
func (s *Scheduler) timeoutJob(id string) {
	s.mu.Lock()
	rj, ok := s.running[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rj.timedOut = true
	handle := rj.handle
	s.mu.Unlock()

	slog.Warn("job exceeded its deadline, terminating", "job", id)
	if err := handle.Stop(StopGrace); err != nil {
		slog.Error("failed to terminate timed-out job", "job", id, "error", err)
	}
}

func (s *Scheduler) failAtAdmission(id string, at time.Time, logPath, reason string) {
	applied, err := s.store.FailJobAtAdmission(id, at, logPath, reason)
	if err != nil {
		slog.Error("failed to record admission failure", "job", id, "error", err)
		return
	}
	if applied {
		slog.Warn("job failed at admission", "job", id, "reason", reason)
	}
}

func (s *Scheduler) cleanupViz(id string) {
	if err := s.viz.Stop(id); err != nil {
		slog.Error("internal defect: visualization cleanup failed", "job", id, "error", err)
	}
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
