package handlers

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"training-manager/core/models"
	"training-manager/core/repository"
	"training-manager/core/sync"
)

// SyncHandler handles manual code-sync requests
type SyncHandler struct {
	syncer       sync.Syncer
	syncRepo     *repository.SyncRepository
	settingsRepo *repository.SettingsRepository
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(
	syncer sync.Syncer,
	syncRepo *repository.SyncRepository,
	settingsRepo *repository.SettingsRepository,
) *SyncHandler {
	return &SyncHandler{
		syncer:       syncer,
		syncRepo:     syncRepo,
		settingsRepo: settingsRepo,
	}
}

// TriggerSyncRequest represents a manual sync request. Target and excludes
// default to the configured sync settings.
type TriggerSyncRequest struct {
	SourcePath string   `json:"source_path"`
	TargetPath string   `json:"target_path"`
	Excludes   []string `json:"excludes"`
}

type syncRecordResponse struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	TargetPath string    `json:"target_path"`
	Status     string    `json:"status"`
	Output     string    `json:"output"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSyncRecordResponse(rec *models.SyncRecord) syncRecordResponse {
	return syncRecordResponse{
		ID:         rec.ID,
		SourcePath: rec.SourcePath,
		TargetPath: rec.TargetPath,
		Status:     string(rec.Status),
		Output:     rec.Output,
		CreatedAt:  rec.CreatedAt,
	}
}

// TriggerSync handles POST /v1/sync
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req TriggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !filepath.IsAbs(req.SourcePath) {
		http.Error(w, "source_path must be an absolute path", http.StatusBadRequest)
		return
	}

	settings, err := h.settingsRepo.Snapshot()
	if err != nil {
		http.Error(w, "Failed to load settings: "+err.Error(), http.StatusInternalServerError)
		return
	}
	target := req.TargetPath
	if target == "" {
		target = settings.SyncTargetPath
	}
	excludes := req.Excludes
	if excludes == nil {
		excludes = settings.SyncExcludes
	}

	rec, syncErr := h.syncer.Sync(r.Context(), req.SourcePath, target, excludes)
	if rec == nil {
		http.Error(w, "Sync failed: "+syncErr.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.syncRepo.CreateSyncRecord(rec); err != nil {
		http.Error(w, "Failed to persist sync record: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if syncErr != nil {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(toSyncRecordResponse(rec))
}

// ListSyncRecords handles GET /v1/sync/records
func (h *SyncHandler) ListSyncRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.syncRepo.ListSyncRecords(50)
	if err != nil {
		http.Error(w, "Failed to list sync records: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]syncRecordResponse, len(records))
	for i := range records {
		items[i] = toSyncRecordResponse(&records[i])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
}
