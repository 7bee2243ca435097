package repository

import (
	"encoding/json"
	"fmt"
	"strconv"

	"training-manager/core/models"
)

// Settings keys as persisted in the settings table.
const (
	keyMaxConcurrent      = "scheduler_max_concurrent"
	keyVizBasePort        = "visualization_base_port"
	keyVizMaxInstances    = "visualization_max_instances"
	keyDefaultEnvironment = "default_environment"
	keyWorkingDirectory   = "working_directory"
	keyOutputPath         = "output_path"
	keySyncTargetPath     = "sync_target_path"
	keySyncExcludes       = "sync_default_excludes"
)

// SettingsRepository owns the key/value runtime configuration table. The
// scheduler reads a fresh snapshot on every admission, so updates take effect
// without a restart.
type SettingsRepository struct {
	db       *DB
	defaults models.Settings
}

// NewSettingsRepository creates a settings repository with fallback defaults
// applied for keys missing from the table.
func NewSettingsRepository(db *DB, defaults models.Settings) *SettingsRepository {
	return &SettingsRepository{db: db, defaults: defaults}
}

// Snapshot loads the current runtime settings, falling back to defaults for
// absent keys.
func (r *SettingsRepository) Snapshot() (models.Settings, error) {
	rows, err := r.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return models.Settings{}, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return models.Settings{}, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return models.Settings{}, err
	}

	s := r.defaults
	if v, ok := values[keyMaxConcurrent]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			s.MaxConcurrent = n
		}
	}
	if v, ok := values[keyVizBasePort]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.VizBasePort = n
		}
	}
	if v, ok := values[keyVizMaxInstances]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.VizMaxInstances = n
		}
	}
	if v, ok := values[keyDefaultEnvironment]; ok {
		s.DefaultEnvironment = v
	}
	if v, ok := values[keyWorkingDirectory]; ok {
		s.WorkingDirectory = v
	}
	if v, ok := values[keyOutputPath]; ok {
		s.OutputPath = v
	}
	if v, ok := values[keySyncTargetPath]; ok {
		s.SyncTargetPath = v
	}
	if v, ok := values[keySyncExcludes]; ok {
		var excludes []string
		if err := json.Unmarshal([]byte(v), &excludes); err == nil {
			s.SyncExcludes = excludes
		}
	}
	return s, nil
}

// Save upserts all settings keys in one transaction.
func (r *SettingsRepository) Save(s models.Settings) error {
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be >= 1, got %d", s.MaxConcurrent)
	}
	if s.VizMaxInstances < 0 {
		return fmt.Errorf("visualization instance cap must be >= 0, got %d", s.VizMaxInstances)
	}

	excludesJSON, err := json.Marshal(s.SyncExcludes)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	pairs := []struct {
		key   string
		value string
	}{
		{keyMaxConcurrent, strconv.Itoa(s.MaxConcurrent)},
		{keyVizBasePort, strconv.Itoa(s.VizBasePort)},
		{keyVizMaxInstances, strconv.Itoa(s.VizMaxInstances)},
		{keyDefaultEnvironment, s.DefaultEnvironment},
		{keyWorkingDirectory, s.WorkingDirectory},
		{keyOutputPath, s.OutputPath},
		{keySyncTargetPath, s.SyncTargetPath},
		{keySyncExcludes, string(excludesJSON)},
	}
	for _, p := range pairs {
		if _, err := tx.Exec(query, p.key, p.value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns the raw persisted entries with their update timestamps.
func (r *SettingsRepository) List() ([]models.SettingsEntry, error) {
	rows, err := r.db.Query(`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SettingsEntry
	for rows.Next() {
		var e models.SettingsEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
