package repository

import (
	"database/sql"
	"encoding/json"

	"training-manager/core/models"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetJobEvents retrieves the most recent events for a job
func (r *EventRepository) GetJobEvents(jobID string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT id, job_id, at, from_status, to_status, reason, meta_json
		FROM job_events
		WHERE job_id = $1
		ORDER BY at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(query, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var event models.JobEvent
		var fromStatus sql.NullString
		var metaJSON string

		err := rows.Scan(
			&event.ID,
			&event.JobID,
			&event.At,
			&fromStatus,
			&event.ToStatus,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}

		if fromStatus.Valid {
			status, err := models.ParseJobStatus(fromStatus.String)
			if err != nil {
				return nil, err
			}
			event.FromStatus = &status
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &event.Meta)
		}

		events = append(events, event)
	}
	return events, rows.Err()
}

func insertJobEventTx(tx *sql.Tx, jobID string, fromStatus *models.JobStatus, toStatus models.JobStatus, reason string, meta map[string]interface{}) error {
	query := `
		INSERT INTO job_events (job_id, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5)
	`

	var fromStatusStr *string
	if fromStatus != nil {
		s := string(*fromStatus)
		fromStatusStr = &s
	}

	metaJSON := "{}"
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}

	_, err := tx.Exec(query, jobID, fromStatusStr, toStatus, reason, metaJSON)
	return err
}
