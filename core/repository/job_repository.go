package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"training-manager/core/models"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job id does not exist in the store.
var ErrJobNotFound = errors.New("job not found")

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, name, command, environment, working_dir, sync_source, visualize,
	timeout_seconds, status, reason, pid, visualization_port, log_path,
	created_at, started_at, finished_at
`

// CreateJob inserts a new queued job and its initial event
func (r *JobRepository) CreateJob(job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	} else if _, err := uuid.Parse(job.ID); err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	job.Status = models.JobStatusQueued
	job.CreatedAt = time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO jobs (
			id, name, command, environment, working_dir, sync_source, visualize,
			timeout_seconds, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(query,
		job.ID,
		job.Name,
		job.Command,
		job.Environment,
		job.WorkingDir,
		job.SyncSource,
		job.Visualize,
		int64(job.Timeout/time.Second),
		job.Status,
		job.CreatedAt,
	)
	if err != nil {
		return err
	}

	if err := insertJobEventTx(tx, job.ID, nil, job.Status, "job created", nil); err != nil {
		return err
	}

	return tx.Commit()
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(id string) (*models.Job, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs lists jobs ordered by creation time ascending, optionally filtered
// by status. Ascending order is what queue replay depends on.
func (r *JobRepository) ListJobs(status *models.JobStatus) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkJobRunning transitions a queued job to running, recording its start
// time, log path, pid and optional visualization port in one statement. The
// note carries degraded-feature conditions (e.g. no visualization port free).
// Returns false when the job is no longer queued (stopped concurrently).
func (r *JobRepository) MarkJobRunning(id string, startedAt time.Time, logPath string, vizPort *int, pid int, note string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := `
		UPDATE jobs
		SET status = $2, started_at = $3, log_path = $4, visualization_port = $5, pid = $6, reason = $7
		WHERE id = $1 AND status = $8
	`
	res, err := tx.Exec(query, id, models.JobStatusRunning, startedAt, logPath, vizPort, pid, note, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	reason := "admitted"
	if note != "" {
		reason = "admitted: " + note
	}
	from := models.JobStatusQueued
	if err := insertJobEventTx(tx, id, &from, models.JobStatusRunning, reason, nil); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// FailJobAtAdmission moves a queued job directly to failed when an admission
// step (sync, launch) does not succeed. The process never reached running.
func (r *JobRepository) FailJobAtAdmission(id string, at time.Time, logPath string, reason string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := `
		UPDATE jobs
		SET status = $2, reason = $3, started_at = $4, finished_at = $4, log_path = $5
		WHERE id = $1 AND status = $6
	`
	res, err := tx.Exec(query, id, models.JobStatusFailed, reason, at, logPath, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	from := models.JobStatusQueued
	if err := insertJobEventTx(tx, id, &from, models.JobStatusFailed, reason, nil); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// MarkJobTerminal transitions a job from any non-terminal status to the given
// terminal one. Returns false when the job was already terminal, which makes
// stop requests against finished jobs a no-op.
func (r *JobRepository) MarkJobTerminal(id string, to models.JobStatus, reason string, finishedAt time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", to)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var from string
	err = tx.QueryRow(`SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, err
	}

	fromStatus, err := models.ParseJobStatus(from)
	if err != nil {
		return false, err
	}
	if fromStatus.Terminal() {
		return false, nil
	}

	query := `
		UPDATE jobs
		SET status = $2, reason = $3, finished_at = $4
		WHERE id = $1
	`
	if _, err := tx.Exec(query, id, to, reason, finishedAt); err != nil {
		return false, err
	}

	if err := insertJobEventTx(tx, id, &fromStatus, to, reason, nil); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// CountByStatus returns the number of jobs per status, used by the dashboard.
func (r *JobRepository) CountByStatus() (map[models.JobStatus]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, err
		}
		status, err := models.ParseJobStatus(raw)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var rawStatus string
	var timeoutSeconds int64
	var pid sql.NullInt64
	var vizPort sql.NullInt64
	var startedAt sql.NullTime
	var finishedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Command,
		&job.Environment,
		&job.WorkingDir,
		&job.SyncSource,
		&job.Visualize,
		&timeoutSeconds,
		&rawStatus,
		&job.Reason,
		&pid,
		&vizPort,
		&job.LogPath,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status, err = models.ParseJobStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	job.Timeout = time.Duration(timeoutSeconds) * time.Second
	if pid.Valid {
		p := int(pid.Int64)
		job.PID = &p
	}
	if vizPort.Valid {
		p := int(vizPort.Int64)
		job.VisualizationPort = &p
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}
