package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"training-manager/core/logs"
	"training-manager/core/metrics"
	"training-manager/core/models"
	"training-manager/core/repository"
	"training-manager/core/runner"
	"training-manager/core/scheduler"

	"github.com/gorilla/mux"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobRepo   *repository.JobRepository
	eventRepo *repository.EventRepository
	scheduler *scheduler.Scheduler
	launcher  *runner.SubprocessLauncher
}

// NewJobHandler creates a new job handler
func NewJobHandler(
	jobRepo *repository.JobRepository,
	eventRepo *repository.EventRepository,
	sched *scheduler.Scheduler,
	launcher *runner.SubprocessLauncher,
) *JobHandler {
	return &JobHandler{
		jobRepo:   jobRepo,
		eventRepo: eventRepo,
		scheduler: sched,
		launcher:  launcher,
	}
}

// SubmitJobRequest represents the request to submit a job
type SubmitJobRequest struct {
	Name           string `json:"name"`
	Command        string `json:"command"`
	Environment    string `json:"environment"`
	WorkingDir     string `json:"working_dir"`
	SyncSource     string `json:"sync_source"`
	Visualize      bool   `json:"visualize"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
}

type jobResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Command           string     `json:"command"`
	Environment       string     `json:"environment"`
	WorkingDir        string     `json:"working_dir,omitempty"`
	SyncSource        string     `json:"sync_source,omitempty"`
	Visualize         bool       `json:"visualize"`
	TimeoutSeconds    int64      `json:"timeout_seconds,omitempty"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	PID               *int       `json:"pid,omitempty"`
	VisualizationPort *int       `json:"visualization_port,omitempty"`
	LogPath           string     `json:"log_path,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

func toJobResponse(job *models.Job) jobResponse {
	return jobResponse{
		ID:                job.ID,
		Name:              job.Name,
		Command:           job.Command,
		Environment:       job.Environment,
		WorkingDir:        job.WorkingDir,
		SyncSource:        job.SyncSource,
		Visualize:         job.Visualize,
		TimeoutSeconds:    int64(job.Timeout / time.Second),
		Status:            string(job.Status),
		Reason:            job.Reason,
		PID:               job.PID,
		VisualizationPort: job.VisualizationPort,
		LogPath:           job.LogPath,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		FinishedAt:        job.FinishedAt,
	}
}

// SubmitJob handles POST /v1/jobs
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Submission errors reject the request before any record exists.
	if strings.TrimSpace(req.Command) == "" {
		http.Error(w, "command is required", http.StatusBadRequest)
		return
	}
	if req.TimeoutSeconds < 0 {
		http.Error(w, "timeout_seconds must be >= 0", http.StatusBadRequest)
		return
	}
	if strings.ContainsAny(req.Environment, " \t\n") {
		http.Error(w, "environment must be a single name", http.StatusBadRequest)
		return
	}
	if req.SyncSource != "" && !filepath.IsAbs(req.SyncSource) {
		http.Error(w, "sync_source must be an absolute path", http.StatusBadRequest)
		return
	}

	name := req.Name
	if name == "" {
		name = extractJobName(req.Command)
	}

	job := &models.Job{
		Name:        name,
		Command:     req.Command,
		Environment: req.Environment,
		WorkingDir:  req.WorkingDir,
		SyncSource:  req.SyncSource,
		Visualize:   req.Visualize,
		Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
	}
	if err := h.jobRepo.CreateJob(job); err != nil {
		http.Error(w, "Failed to create job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.scheduler.Enqueue(job)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toJobResponse(job))
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var status *models.JobStatus
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		s, err := models.ParseJobStatus(statusParam)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = &s
	}

	jobs, err := h.jobRepo.ListJobs(status)
	if err != nil {
		http.Error(w, "Failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		items[i] = toJobResponse(job)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.fetchJob(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toJobResponse(job))
}

// StopJob handles POST /v1/jobs/{id}/stop
func (h *JobHandler) StopJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.scheduler.StopJob(id); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to stop job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	job, err := h.jobRepo.GetJob(id)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toJobResponse(job))
}

// GetJobLogs handles GET /v1/jobs/{id}/logs. With follow=true (the default
// for running jobs) the response tails the log until the job is terminal;
// offset resumes a previous stream.
func (h *JobHandler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := h.fetchJob(w, r)
	if !ok {
		return
	}
	if job.LogPath == "" {
		http.Error(w, "Job has no log yet", http.StatusNotFound)
		return
	}

	offset := int64(0)
	if v := r.URL.Query().Get("offset"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		offset = parsed
	}

	follow := !job.Status.Terminal()
	if v := r.URL.Query().Get("follow"); v != "" {
		follow = v == "true"
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	isLive := func() (bool, error) {
		if !follow {
			return false, nil
		}
		fresh, err := h.jobRepo.GetJob(job.ID)
		if err != nil {
			return false, err
		}
		return !fresh.Status.Terminal(), nil
	}
	if _, err := logs.Tail(r.Context(), job.LogPath, offset, w, isLive); err != nil && !errors.Is(err, r.Context().Err()) {
		// Headers are already out; all we can do is cut the stream.
		return
	}
}

// GetJobMetrics handles GET /v1/jobs/{id}/metrics
func (h *JobHandler) GetJobMetrics(w http.ResponseWriter, r *http.Request) {
	job, ok := h.fetchJob(w, r)
	if !ok {
		return
	}

	data := metrics.Data{
		LatestFixedMetrics: map[string]string{},
		HistoricalMetrics:  map[string][]metrics.HistoricalPoint{},
	}
	if job.LogPath != "" {
		content, err := logs.ReadLast(job.LogPath, 4<<20)
		if err == nil {
			data = metrics.ParseLog(content)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// GetJobEvents handles GET /v1/jobs/{id}/events
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := h.fetchJob(w, r)
	if !ok {
		return
	}

	events, err := h.eventRepo.GetJobEvents(job.ID, 100)
	if err != nil {
		http.Error(w, "Failed to fetch events: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(events))
	for i, event := range events {
		item := map[string]interface{}{
			"at":        event.At,
			"to_status": event.ToStatus,
			"reason":    event.Reason,
		}
		if event.FromStatus != nil {
			item["from_status"] = *event.FromStatus
		}
		items[i] = item
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
}

// GetQueue handles GET /v1/queue
func (h *JobHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"queued": h.scheduler.QueuedIDs(),
	})
}

// GetEnvironments handles GET /v1/environments
func (h *JobHandler) GetEnvironments(w http.ResponseWriter, r *http.Request) {
	envs := h.launcher.ListEnvironments(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"environments": envs})
}

func (h *JobHandler) fetchJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id := mux.Vars(r)["id"]
	job, err := h.jobRepo.GetJob(id)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
		} else {
			http.Error(w, "Failed to fetch job: "+err.Error(), http.StatusInternalServerError)
		}
		return nil, false
	}
	return job, true
}

// extractJobName derives a display name from a --task= argument when the
// submission does not name the job.
func extractJobName(command string) string {
	for _, part := range strings.Fields(command) {
		if name, found := strings.CutPrefix(part, "--task="); found && name != "" {
			return name
		}
	}
	return "Training Job"
}
