package handlers

import (
	"encoding/json"
	"net/http"

	"training-manager/core/monitoring"
	"training-manager/core/repository"
	"training-manager/core/scheduler"
	"training-manager/core/viz"
)

// SystemHandler serves the dashboard summary and host resource endpoints
type SystemHandler struct {
	jobRepo   *repository.JobRepository
	scheduler *scheduler.Scheduler
	viz       *viz.Supervisor
	sampler   *monitoring.Sampler
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(
	jobRepo *repository.JobRepository,
	sched *scheduler.Scheduler,
	vizSup *viz.Supervisor,
	sampler *monitoring.Sampler,
) *SystemHandler {
	return &SystemHandler{
		jobRepo:   jobRepo,
		scheduler: sched,
		viz:       vizSup,
		sampler:   sampler,
	}
}

// GetDashboard handles GET /v1/dashboard
func (h *SystemHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobRepo.CountByStatus()
	if err != nil {
		http.Error(w, "Failed to count jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs_by_status": counts,
		"running":        h.scheduler.RunningCount(),
		"queue_depth":    len(h.scheduler.QueuedIDs()),
		"visualization": map[string]int{
			"active": h.viz.Active(),
			"free":   h.viz.Free(),
		},
	})
}

// GetResources handles GET /v1/resources
func (h *SystemHandler) GetResources(w http.ResponseWriter, r *http.Request) {
	info, err := h.sampler.Sample(r.Context())
	if err != nil {
		http.Error(w, "Failed to sample resources: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
