package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-leave-api/internal/models"
)

const ingestionJobColumns = `id, target, rows, total, processed, failed_records, status, error_message, created_by, created_at, finished_at`

// IngestionRepository persists bulk ingestion jobs and their progress.
type IngestionRepository struct {
	db *sqlx.DB
}

// NewIngestionRepository constructs the repository.
func NewIngestionRepository(db *sqlx.DB) *IngestionRepository {
	return &IngestionRepository{db: db}
}

// Create inserts a new job row in the running state.
func (r *IngestionRepository) Create(ctx context.Context, job *models.IngestionJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.IngestionStatusRunning
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.FailedRecords == nil {
		job.FailedRecords = models.FailedRecords{}
	}
	const query = `INSERT INTO ingestion_jobs (id, target, rows, total, processed, failed_records, status, error_message, created_by, created_at, finished_at)
VALUES (:id, :target, :rows, :total, :processed, :failed_records, :status, :error_message, :created_by, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create ingestion job: %w", err)
	}
	return nil
}

// GetByID returns a job including its stored rows. Missing rows surface as sql.ErrNoRows.
func (r *IngestionRepository) GetByID(ctx context.Context, id string) (*models.IngestionJob, error) {
	query := `SELECT ` + ingestionJobColumns + ` FROM ingestion_jobs WHERE id = $1`
	var job models.IngestionJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get ingestion job: %w", err)
	}
	return &job, nil
}

// GetProgress returns a job without its stored rows.
func (r *IngestionRepository) GetProgress(ctx context.Context, id string) (*models.IngestionJob, error) {
	const query = `SELECT id, target, total, processed, failed_records, status, error_message, created_by, created_at, finished_at
FROM ingestion_jobs WHERE id = $1`
	var job models.IngestionJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get ingestion progress: %w", err)
	}
	return &job, nil
}

// SaveProgress persists the processed offset and failures. The offset never moves backwards;
// a stale write affects no rows and returns sql.ErrNoRows.
func (r *IngestionRepository) SaveProgress(ctx context.Context, id string, processed int, failures models.FailedRecords) error {
	const query = `UPDATE ingestion_jobs SET processed = $1, failed_records = $2
WHERE id = $3 AND status = 'running' AND processed <= $1`
	result, err := r.db.ExecContext(ctx, query, processed, failures, id)
	if err != nil {
		return fmt.Errorf("save ingestion progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check ingestion progress rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Finish moves a running job into a terminal status.
func (r *IngestionRepository) Finish(ctx context.Context, id string, status models.IngestionStatus, errorMessage *string, finishedAt time.Time) error {
	const query = `UPDATE ingestion_jobs SET status = $1, error_message = $2, finished_at = $3
WHERE id = $4 AND status = 'running'`
	result, err := r.db.ExecContext(ctx, query, status, errorMessage, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish ingestion job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check ingestion finish rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListRunning returns jobs still marked running, oldest first (used for cold start recovery).
func (r *IngestionRepository) ListRunning(ctx context.Context, limit int) ([]models.IngestionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, target, total, processed, failed_records, status, error_message, created_by, created_at, finished_at
FROM ingestion_jobs WHERE status = 'running' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.IngestionJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list running ingestion jobs: %w", err)
	}
	return jobs, nil
}
