package handlers

import (
	"encoding/json"
	"net/http"

	"training-manager/core/models"
	"training-manager/core/repository"
)

// SettingsHandler exposes the runtime settings table
type SettingsHandler struct {
	settingsRepo *repository.SettingsRepository
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settingsRepo *repository.SettingsRepository) *SettingsHandler {
	return &SettingsHandler{settingsRepo: settingsRepo}
}

// SettingsPayload is the wire form of the runtime settings document
type SettingsPayload struct {
	MaxConcurrent      int      `json:"max_concurrent"`
	VizBasePort        int      `json:"visualization_base_port"`
	VizMaxInstances    int      `json:"visualization_max_instances"`
	DefaultEnvironment string   `json:"default_environment"`
	WorkingDirectory   string   `json:"working_directory"`
	OutputPath         string   `json:"output_path"`
	SyncTargetPath     string   `json:"sync_target_path"`
	SyncExcludes       []string `json:"sync_excludes"`
}

func toSettingsPayload(s models.Settings) SettingsPayload {
	return SettingsPayload(s)
}

// GetSettings handles GET /v1/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsRepo.Snapshot()
	if err != nil {
		http.Error(w, "Failed to load settings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingsPayload(settings))
}

// UpdateSettings handles PUT /v1/settings. The full settings document is
// replaced; the scheduler picks the new values up on its next admission.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload SettingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.settingsRepo.Save(models.Settings(payload)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := h.settingsRepo.Snapshot()
	if err != nil {
		http.Error(w, "Failed to reload settings: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSettingsPayload(saved))
}
