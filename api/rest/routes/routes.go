package routes

import (
	"training-manager/api/rest/handlers"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(
	router *mux.Router,
	jobHandler *handlers.JobHandler,
	syncHandler *handlers.SyncHandler,
	settingsHandler *handlers.SettingsHandler,
	systemHandler *handlers.SystemHandler,
) {
	api := router.PathPrefix("/v1").Subrouter()

	// Job routes
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/stop", jobHandler.StopJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/logs", jobHandler.GetJobLogs).Methods("GET")
	api.HandleFunc("/jobs/{id}/metrics", jobHandler.GetJobMetrics).Methods("GET")
	api.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")

	// Queue and environments
	api.HandleFunc("/queue", jobHandler.GetQueue).Methods("GET")
	api.HandleFunc("/environments", jobHandler.GetEnvironments).Methods("GET")

	// Code sync
	api.HandleFunc("/sync", syncHandler.TriggerSync).Methods("POST")
	api.HandleFunc("/sync/records", syncHandler.ListSyncRecords).Methods("GET")

	// Runtime settings
	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods("GET")
	api.HandleFunc("/settings", settingsHandler.UpdateSettings).Methods("PUT")

	// System
	api.HandleFunc("/dashboard", systemHandler.GetDashboard).Methods("GET")
	api.HandleFunc("/resources", systemHandler.GetResources).Methods("GET")

	// Health check
	router.HandleFunc("/health", handlers.Health).Methods("GET")
}
