package services

import (
	"context"
	"fmt"
	"mime/multipart"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/tasks"
	"github.com/temcen/productimporter/pkg/models"
)

// ImportService accepts CSV uploads and reports import progress.
type ImportService struct {
	intake   *FileIntake
	ledger   *ImportLedger
	enqueuer tasks.Enqueuer
	logger   *logrus.Logger
}

func NewImportService(intake *FileIntake, ledger *ImportLedger, enqueuer tasks.Enqueuer, logger *logrus.Logger) *ImportService {
	return &ImportService{
		intake:   intake,
		ledger:   ledger,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// Upload stages the file, opens a PENDING job and queues the import.
func (is *ImportService) Upload(ctx context.Context, upload *multipart.FileHeader) (models.UploadAccepted, error) {
	staged, err := is.intake.Stage(upload)
	if err != nil {
		return models.UploadAccepted{}, err
	}

	job, err := is.ledger.Create(ctx, staged.Name, staged.Size)
	if err != nil {
		is.intake.Remove(staged.Path)
		return models.UploadAccepted{}, err
	}

	if err := is.enqueuer.Enqueue(ctx, TaskProcessCSVImport, ImportTask{JobID: job.ID, FilePath: staged.Path}); err != nil {
		is.intake.Remove(staged.Path)
		if failErr := is.ledger.Fail(ctx, job, "Failed to queue import"); failErr != nil {
			is.logger.WithError(failErr).WithField("job_id", job.ID).Error("Failed to record queueing failure")
		}
		return models.UploadAccepted{}, fmt.Errorf("failed to queue import: %w", err)
	}

	return models.UploadAccepted{
		JobID:    job.ID,
		Status:   job.Status,
		FileName: job.FileName,
		FileSize: job.FileSize,
	}, nil
}

// Status returns the current snapshot of a job.
func (is *ImportService) Status(ctx context.Context, jobID uuid.UUID) (models.ImportSnapshot, error) {
	return is.ledger.GetStatus(ctx, jobID)
}
