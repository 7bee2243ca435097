package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"training-manager/core/models"
	"training-manager/core/ports"
	"training-manager/core/runner"
	"training-manager/core/scheduler"

	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory JobStore with the same conditional-transition
// semantics as the postgres repository.
type fakeStore struct {
	mu   gosync.Mutex
	jobs map[string]*models.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*models.Job)}
}

func (s *fakeStore) put(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
}

func (s *fakeStore) GetJob(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) ListJobs(status *models.JobStatus) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if status == nil || job.Status == *status {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkJobRunning(id string, startedAt time.Time, logPath string, vizPort *int, pid int, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusQueued {
		return false, nil
	}
	job.Status = models.JobStatusRunning
	job.StartedAt = &startedAt
	job.LogPath = logPath
	job.VisualizationPort = vizPort
	job.PID = &pid
	job.Reason = note
	return true, nil
}

func (s *fakeStore) FailJobAtAdmission(id string, at time.Time, logPath string, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusQueued {
		return false, nil
	}
	job.Status = models.JobStatusFailed
	job.Reason = reason
	job.LogPath = logPath
	job.StartedAt = &at
	job.FinishedAt = &at
	return true, nil
}

func (s *fakeStore) MarkJobTerminal(id string, to models.JobStatus, reason string, finishedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s not found", id)
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = to
	job.Reason = reason
	job.FinishedAt = &finishedAt
	return true, nil
}

type staticSettings struct {
	settings models.Settings
}

func (s staticSettings) Snapshot() (models.Settings, error) {
	return s.settings, nil
}

// fakeHandle is a process the test finishes by hand.
type fakeHandle struct {
	pid  int
	done chan runner.Result
	once gosync.Once

	mu        gosync.Mutex
	stopCalls int
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan runner.Result, 1)}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Done() <-chan runner.Result { return h.done }

func (h *fakeHandle) Stop(grace time.Duration) error {
	h.mu.Lock()
	h.stopCalls++
	h.mu.Unlock()
	h.finish(runner.Result{Outcome: runner.OutcomeStopped})
	return nil
}

func (h *fakeHandle) stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopCalls
}

func (h *fakeHandle) finish(res runner.Result) {
	h.once.Do(func() { h.done <- res })
}

type fakeLauncher struct {
	mu       gosync.Mutex
	err      error
	launched []*fakeHandle
	specs    []runner.Spec
}

func (l *fakeLauncher) Launch(spec runner.Spec) (runner.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	h := newFakeHandle(1000 + len(l.launched))
	l.launched = append(l.launched, h)
	l.specs = append(l.specs, spec)
	return h, nil
}

func (l *fakeLauncher) handle(i int) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.launched) {
		return nil
	}
	return l.launched[i]
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type fakeViz struct {
	mu        gosync.Mutex
	startErr  error
	nextPort  int
	active    map[string]int
	stopCalls int
}

func newFakeViz() *fakeViz {
	return &fakeViz{nextPort: 6006, active: make(map[string]int)}
}

func (v *fakeViz) Configure(base, size int) error { return nil }

func (v *fakeViz) Start(jobID, outputDir string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.startErr != nil {
		return 0, v.startErr
	}
	port := v.nextPort
	v.nextPort++
	v.active[jobID] = port
	return port, nil
}

func (v *fakeViz) Stop(jobID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopCalls++
	delete(v.active, jobID)
	return nil
}

func (v *fakeViz) activeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

type fakeSyncer struct {
	err error
}

func (f *fakeSyncer) Sync(ctx context.Context, source, target string, excludes []string) (*models.SyncRecord, error) {
	rec := &models.SyncRecord{SourcePath: source, TargetPath: target, Status: models.SyncStatusSuccess}
	if f.err != nil {
		rec.Status = models.SyncStatusFailed
		return rec, f.err
	}
	return rec, nil
}

type fakeSyncRecs struct {
	mu   gosync.Mutex
	recs []*models.SyncRecord
}

func (f *fakeSyncRecs) CreateSyncRecord(rec *models.SyncRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeSyncRecs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

type fixture struct {
	store    *fakeStore
	launcher *fakeLauncher
	viz      *fakeViz
	syncer   *fakeSyncer
	syncRecs *fakeSyncRecs
	sched    *scheduler.Scheduler
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		launcher: &fakeLauncher{},
		viz:      newFakeViz(),
		syncer:   &fakeSyncer{},
		syncRecs: &fakeSyncRecs{},
	}
	settings := staticSettings{settings: models.Settings{
		MaxConcurrent:      maxConcurrent,
		VizBasePort:        6006,
		VizMaxInstances:    10,
		DefaultEnvironment: "base",
		OutputPath:         t.TempDir(),
	}}
	f.sched = scheduler.NewScheduler(f.store, settings, f.launcher, f.viz, f.syncer, f.syncRecs)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.sched.Start(ctx)
}

func (f *fixture) submit(t *testing.T, job *models.Job) *models.Job {
	t.Helper()
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	f.store.put(job)
	f.sched.Enqueue(job)
	return job
}

func (f *fixture) waitStatus(t *testing.T, id string, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.store.GetJob(id)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestAdmitAndComplete(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py"})
	job := f.waitStatus(t, "job-1", models.JobStatusRunning)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.PID)
	require.NotEmpty(t, job.LogPath)

	f.launcher.handle(0).finish(runner.Result{Outcome: runner.OutcomeCompleted})
	job = f.waitStatus(t, "job-1", models.JobStatusCompleted)
	require.Equal(t, models.ReasonCompleted, job.Reason)
	require.NotNil(t, job.FinishedAt)
}

func TestCommandFailureReason(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py"})
	f.waitStatus(t, "job-1", models.JobStatusRunning)

	f.launcher.handle(0).finish(runner.Result{Outcome: runner.OutcomeFailed, ExitCode: 3})
	job := f.waitStatus(t, "job-1", models.JobStatusFailed)
	require.Equal(t, "exit status 3", job.Reason)
}

func TestConcurrencyCeilingFIFO(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	base := time.Now().UTC()
	f.submit(t, &models.Job{ID: "first", Command: "a", CreatedAt: base})
	f.submit(t, &models.Job{ID: "second", Command: "b", CreatedAt: base.Add(time.Second)})

	f.waitStatus(t, "first", models.JobStatusRunning)
	// The ceiling holds: only one launch while the first job runs.
	require.Equal(t, 1, f.launcher.count())
	second, err := f.store.GetJob("second")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, second.Status)

	f.launcher.handle(0).finish(runner.Result{Outcome: runner.OutcomeCompleted})
	f.waitStatus(t, "second", models.JobStatusRunning)
}

func TestLaunchFailureFailsAtAdmission(t *testing.T) {
	f := newFixture(t, 1)
	f.launcher.err = errors.New("no such environment")
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py"})
	job := f.waitStatus(t, "job-1", models.JobStatusFailed)
	require.Contains(t, job.Reason, "launch failed")
	require.NotNil(t, job.FinishedAt)
}

func TestSyncFailureBlocksLaunch(t *testing.T) {
	f := newFixture(t, 1)
	f.syncer.err = errors.New("rsync exited 23")
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py", SyncSource: "/src/tree"})
	job := f.waitStatus(t, "job-1", models.JobStatusFailed)
	require.Contains(t, job.Reason, "sync failed")
	require.Equal(t, 0, f.launcher.count(), "process must not launch after a failed sync")
	require.Equal(t, 1, f.syncRecs.count(), "the failed attempt is still recorded")
}

func TestVisualizationAttached(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py", Visualize: true})
	job := f.waitStatus(t, "job-1", models.JobStatusRunning)
	require.NotNil(t, job.VisualizationPort)
	require.Equal(t, 6006, *job.VisualizationPort)

	f.launcher.handle(0).finish(runner.Result{Outcome: runner.OutcomeCompleted})
	f.waitStatus(t, "job-1", models.JobStatusCompleted)
	require.Eventually(t, func() bool { return f.viz.activeCount() == 0 },
		time.Second, 10*time.Millisecond, "visualization must be stopped with the job")
}

func TestVisualizationExhaustionDegrades(t *testing.T) {
	f := newFixture(t, 1)
	f.viz.startErr = ports.ErrExhausted
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py", Visualize: true})
	job := f.waitStatus(t, "job-1", models.JobStatusRunning)
	require.Nil(t, job.VisualizationPort)
	require.Contains(t, job.Reason, "no visualization available")
}

func TestStopQueuedJob(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	// Hold capacity with a running job so the second one stays queued.
	f.submit(t, &models.Job{ID: "runner", Command: "a"})
	f.waitStatus(t, "runner", models.JobStatusRunning)
	f.submit(t, &models.Job{ID: "victim", Command: "b", CreatedAt: time.Now().UTC().Add(time.Second)})

	require.NoError(t, f.sched.StopJob("victim"))
	job := f.waitStatus(t, "victim", models.JobStatusStopped)
	require.Equal(t, models.ReasonStoppedByUser, job.Reason)
	require.Nil(t, job.StartedAt, "a job stopped while queued never starts")

	// The stopped job leaves the queue immediately, even though capacity is
	// still saturated.
	require.NotContains(t, f.sched.QueuedIDs(), "victim")

	// Capacity freed by the stop is not consumed by the stopped job.
	require.Equal(t, 1, f.launcher.count())
}

func TestStopRunningJob(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py"})
	f.waitStatus(t, "job-1", models.JobStatusRunning)

	require.NoError(t, f.sched.StopJob("job-1"))
	job := f.waitStatus(t, "job-1", models.JobStatusStopped)
	require.Equal(t, models.ReasonStoppedByUser, job.Reason)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py"})
	f.waitStatus(t, "job-1", models.JobStatusRunning)

	require.NoError(t, f.sched.StopJob("job-1"))
	f.waitStatus(t, "job-1", models.JobStatusStopped)

	// A second stop must not disturb the terminal record.
	require.NoError(t, f.sched.StopJob("job-1"))
	job, err := f.store.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusStopped, job.Status)
	require.Equal(t, models.ReasonStoppedByUser, job.Reason)
}

func TestTimeoutFailsJob(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py", Timeout: 50 * time.Millisecond})
	f.waitStatus(t, "job-1", models.JobStatusRunning)

	job := f.waitStatus(t, "job-1", models.JobStatusFailed)
	require.Equal(t, models.ReasonTimeout, job.Reason)
}

// stopDuringAdmissionStore issues a stop request the instant the
// queued->running transition commits, before the scheduler returns from it.
type stopDuringAdmissionStore struct {
	*fakeStore
	sched *scheduler.Scheduler
	once  gosync.Once
}

func (s *stopDuringAdmissionStore) MarkJobRunning(id string, startedAt time.Time, logPath string, vizPort *int, pid int, note string) (bool, error) {
	applied, err := s.fakeStore.MarkJobRunning(id, startedAt, logPath, vizPort, pid, note)
	if applied {
		s.once.Do(func() { _ = s.sched.StopJob(id) })
	}
	return applied, err
}

func TestStopDuringAdmissionTerminatesProcess(t *testing.T) {
	store := newFakeStore()
	wrapped := &stopDuringAdmissionStore{fakeStore: store}
	launcher := &fakeLauncher{}
	settings := staticSettings{settings: models.Settings{
		MaxConcurrent: 1,
		OutputPath:    t.TempDir(),
	}}
	sched := scheduler.NewScheduler(wrapped, settings, launcher, newFakeViz(), &fakeSyncer{}, &fakeSyncRecs{})
	wrapped.sched = sched

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Start(ctx)

	job := &models.Job{ID: "job-1", Command: "python train.py", Status: models.JobStatusQueued, CreatedAt: time.Now().UTC()}
	store.put(job)
	sched.Enqueue(job)

	var got *models.Job
	require.Eventually(t, func() bool {
		var err error
		got, err = store.GetJob("job-1")
		return err == nil && got.Status == models.JobStatusStopped
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, models.ReasonStoppedByUser, got.Reason)

	// The stop must have reached the live process, not just the record.
	require.Positive(t, launcher.handle(0).stops())
	require.Eventually(t, func() bool { return sched.RunningCount() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestImmediateDeadline(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	// A deadline that is already due when the job is admitted must still
	// terminate it rather than being dropped.
	f.submit(t, &models.Job{ID: "job-1", Command: "python train.py", Timeout: time.Nanosecond})

	job := f.waitStatus(t, "job-1", models.JobStatusFailed)
	require.Equal(t, models.ReasonTimeout, job.Reason)
}

func TestSchedulerStopIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	f.start(t)

	f.sched.Stop()
	require.NotPanics(t, func() { f.sched.Stop() })
}

func TestReconcileOrphanedAndQueued(t *testing.T) {
	f := newFixture(t, 1)

	// Persisted state from a previous run: one row claims to be running with
	// no live process, one is still queued.
	started := time.Now().UTC().Add(-time.Hour)
	f.store.put(&models.Job{ID: "orphan", Command: "a", Status: models.JobStatusRunning, StartedAt: &started, CreatedAt: started})
	f.store.put(&models.Job{ID: "waiting", Command: "b", Status: models.JobStatusQueued, CreatedAt: started.Add(time.Minute)})

	f.start(t)

	orphan := f.waitStatus(t, "orphan", models.JobStatusFailed)
	require.Equal(t, models.ReasonLostOnRestart, orphan.Reason)
	f.waitStatus(t, "waiting", models.JobStatusRunning)
}
