package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/productimporter/pkg/models"
)

const importJobColumns = `id, state, status, progress, total_records, processed_records,
	successful_records, failed_records, error_message, file_name, file_size,
	started_at, completed_at, created_at, updated_at`

type importJobRepo struct {
	db Querier
}

func scanImportJob(row pgx.Row, job *models.ImportJob) error {
	return row.Scan(
		&job.ID, &job.State, &job.Status, &job.Progress, &job.TotalRecords, &job.ProcessedRecords,
		&job.SuccessfulRecords, &job.FailedRecords, &job.ErrorMessage, &job.FileName, &job.FileSize,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
}

func (r *importJobRepo) Create(ctx context.Context, job *models.ImportJob) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO import_jobs (`+importJobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.State, job.Status, job.Progress, job.TotalRecords, job.ProcessedRecords,
		job.SuccessfulRecords, job.FailedRecords, job.ErrorMessage, job.FileName, job.FileSize,
		job.StartedAt, job.CompletedAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert import job: %w", err)
	}
	return nil
}

func (r *importJobRepo) Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	var job models.ImportJob
	row := r.db.QueryRow(ctx, "SELECT "+importJobColumns+" FROM import_jobs WHERE id = $1", id)
	if err := scanImportJob(row, &job); err != nil {
		return nil, notFoundOr(err, "import job", id)
	}
	return &job, nil
}

func (r *importJobRepo) UpdateStatus(ctx context.Context, job *models.ImportJob, from models.JobStatus) error {
	row := r.db.QueryRow(ctx, `
		UPDATE import_jobs
		SET status = $2, error_message = $3, started_at = $4, completed_at = $5, updated_at = $6
		WHERE id = $1 AND status = $7
		RETURNING `+importJobColumns,
		job.ID, job.Status, job.ErrorMessage, job.StartedAt, job.CompletedAt, job.UpdatedAt, from)

	if err := scanImportJob(row, job); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("import job %s is no longer %s: %w", job.ID, from, ErrStaleStatus)
		}
		return fmt.Errorf("failed to update import job status: %w", err)
	}
	return nil
}

func (r *importJobRepo) SetTotal(ctx context.Context, id uuid.UUID, total int, now time.Time) error {
	_, err := r.db.Exec(ctx,
		"UPDATE import_jobs SET total_records = $2, updated_at = $3 WHERE id = $1", id, total, now)
	if err != nil {
		return fmt.Errorf("failed to record total records: %w", err)
	}
	return nil
}

func (r *importJobRepo) SetProgress(ctx context.Context, id uuid.UUID, progress int, now time.Time) (int, error) {
	var stored int
	err := r.db.QueryRow(ctx, `
		UPDATE import_jobs
		SET progress = GREATEST(progress, LEAST($2::int, 100)), updated_at = $3
		WHERE id = $1
		RETURNING progress`,
		id, progress, now).Scan(&stored)
	if err != nil {
		return 0, notFoundOr(err, "import job", id)
	}
	return stored, nil
}

func (r *importJobRepo) AddCounts(ctx context.Context, id uuid.UUID, successful, failed, processed int, now time.Time) (JobCounters, error) {
	var c JobCounters
	err := r.db.QueryRow(ctx, `
		UPDATE import_jobs
		SET successful_records = successful_records + $2,
		    failed_records = failed_records + $3,
		    processed_records = processed_records + $4,
		    updated_at = $5
		WHERE id = $1
		RETURNING processed_records, successful_records, failed_records`,
		id, successful, failed, processed, now).Scan(&c.Processed, &c.Successful, &c.Failed)
	if err != nil {
		return JobCounters{}, notFoundOr(err, "import job", id)
	}
	return c, nil
}
