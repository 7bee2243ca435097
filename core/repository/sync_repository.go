package repository

import (
	"time"

	"training-manager/core/models"

	"github.com/google/uuid"
)

// SyncRepository handles database operations for code-sync records
type SyncRepository struct {
	db *DB
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// CreateSyncRecord inserts one immutable sync attempt record
func (r *SyncRepository) CreateSyncRecord(rec *models.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_records (id, source_path, target_path, status, output, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(query,
		rec.ID,
		rec.SourcePath,
		rec.TargetPath,
		rec.Status,
		rec.Output,
		rec.CreatedAt,
	)
	return err
}

// ListSyncRecords returns the most recent sync attempts
func (r *SyncRepository) ListSyncRecords(limit int) ([]models.SyncRecord, error) {
	query := `
		SELECT id, source_path, target_path, status, output, created_at
		FROM sync_records
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.SyncRecord
	for rows.Next() {
		var rec models.SyncRecord
		err := rows.Scan(
			&rec.ID,
			&rec.SourcePath,
			&rec.TargetPath,
			&rec.Status,
			&rec.Output,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
