package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/store"
	"github.com/temcen/productimporter/pkg/models"
)

// ErrInvalidTransition is returned when a job status change would move
// backwards or leave a terminal status.
var ErrInvalidTransition = errors.New("invalid import job status transition")

// SnapshotCache stores job snapshots outside PostgreSQL. Get returns nil and
// no error on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, jobID uuid.UUID) (*models.ImportSnapshot, error)
	Set(ctx context.Context, snapshot models.ImportSnapshot) error
}

// ImportLedger owns import job state. Every counter and status change goes
// through it; PostgreSQL is authoritative and the cache only serves
// finished jobs.
type ImportLedger struct {
	jobs    store.ImportJobs
	cache   SnapshotCache
	metrics *Metrics
	logger  *logrus.Logger
	now     func() time.Time
}

// NewImportLedger creates a ledger. cache may be nil.
func NewImportLedger(jobs store.ImportJobs, cache SnapshotCache, metrics *Metrics, logger *logrus.Logger) *ImportLedger {
	return &ImportLedger{
		jobs:    jobs,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create records a PENDING job for an accepted upload.
func (l *ImportLedger) Create(ctx context.Context, fileName string, fileSize int64) (*models.ImportJob, error) {
	job := models.NewImportJob(fileName, fileSize, l.now())
	if err := l.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"file_name": fileName,
		"file_size": fileSize,
	}).Info("Import job created")

	return job, nil
}

func (l *ImportLedger) Get(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	return l.jobs.Get(ctx, jobID)
}

// AdvanceStatus moves job to next. Entering PROCESSING stamps started_at,
// entering a terminal status stamps completed_at. job is left untouched when
// the change is rejected.
func (l *ImportLedger) AdvanceStatus(ctx context.Context, job *models.ImportJob, next models.JobStatus) error {
	return l.transition(ctx, job, next, job.ErrorMessage)
}

func (l *ImportLedger) transition(ctx context.Context, job *models.ImportJob, next models.JobStatus, message *string) error {
	from := job.Status
	if !from.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	now := l.now()
	updated := *job
	updated.Status = next
	updated.ErrorMessage = message
	updated.UpdatedAt = now
	switch {
	case next == models.JobStatusProcessing:
		updated.StartedAt = &now
	case next.Terminal():
		updated.CompletedAt = &now
	}

	if err := l.jobs.UpdateStatus(ctx, &updated, from); err != nil {
		return fmt.Errorf("failed to update import job status: %w", err)
	}
	*job = updated

	l.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"from":   from,
		"to":     next,
	}).Debug("Import job status changed")

	if job.Status.Terminal() {
		l.metrics.jobFinished(job)
		l.cacheSnapshot(ctx, job)
	}
	return nil
}

// RecordTotals stores the number of data rows found by the counting pass.
func (l *ImportLedger) RecordTotals(ctx context.Context, job *models.ImportJob, total int) error {
	if err := l.jobs.SetTotal(ctx, job.ID, total, l.now()); err != nil {
		return fmt.Errorf("failed to record import totals: %w", err)
	}
	job.TotalRecords = total
	return nil
}

// RecordProgress derives the percentage from processed rows. Nothing changes
// while the total is unknown, and the stored value never goes down.
func (l *ImportLedger) RecordProgress(ctx context.Context, job *models.ImportJob, processed int) error {
	progress, ok := models.ProgressFor(processed, job.TotalRecords)
	if !ok {
		return nil
	}

	stored, err := l.jobs.SetProgress(ctx, job.ID, progress, l.now())
	if err != nil {
		return fmt.Errorf("failed to record import progress: %w", err)
	}
	job.Progress = stored
	return nil
}

// RecordChunkResult adds one chunk's outcome to the job counters using the
// chunk's transaction.
func (l *ImportLedger) RecordChunkResult(ctx context.Context, tx store.Repositories, job *models.ImportJob, created, updated, failed int) error {
	successful := created + updated
	counters, err := tx.ImportJobs().AddCounts(ctx, job.ID, successful, failed, successful+failed, l.now())
	if err != nil {
		return fmt.Errorf("failed to record chunk result: %w", err)
	}

	job.ProcessedRecords = counters.Processed
	job.SuccessfulRecords = counters.Successful
	job.FailedRecords = counters.Failed
	return nil
}

// Fail marks the job FAILED with message. It persists even when ctx has been
// cancelled, a time-limited run still has to record why it stopped.
func (l *ImportLedger) Fail(ctx context.Context, job *models.ImportJob, message string) error {
	ctx = context.WithoutCancel(ctx)
	if err := l.transition(ctx, job, models.JobStatusFailed, &message); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"error":  message,
	}).Error("Import job failed")
	return nil
}

// Complete marks the job COMPLETED.
func (l *ImportLedger) Complete(ctx context.Context, job *models.ImportJob) error {
	if err := l.transition(ctx, job, models.JobStatusCompleted, nil); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"total":      job.TotalRecords,
		"successful": job.SuccessfulRecords,
		"failed":     job.FailedRecords,
		"duration":   job.Duration(),
	}).Info("Import job completed")
	return nil
}

// GetStatus returns the job snapshot, NotFound when the id is unknown.
func (l *ImportLedger) GetStatus(ctx context.Context, jobID uuid.UUID) (models.ImportSnapshot, error) {
	if l.cache != nil {
		snapshot, err := l.cache.Get(ctx, jobID)
		if err != nil {
			l.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to read job snapshot from cache")
		} else if snapshot != nil {
			return *snapshot, nil
		}
	}

	job, err := l.jobs.Get(ctx, jobID)
	if err != nil {
		return models.ImportSnapshot{}, err
	}

	if job.Status.Terminal() {
		l.cacheSnapshot(ctx, job)
	}
	return job.Snapshot(), nil
}

func (l *ImportLedger) cacheSnapshot(ctx context.Context, job *models.ImportJob) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, job.Snapshot()); err != nil {
		l.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to cache job snapshot")
	}
}

// KeyValueClient is the subset of go-redis used for snapshots.
type KeyValueClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSnapshotCache keeps finished job snapshots under import_job:<id>.
type RedisSnapshotCache struct {
	client KeyValueClient
	ttl    time.Duration
}

func NewRedisSnapshotCache(client KeyValueClient, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(jobID uuid.UUID) string {
	return fmt.Sprintf("import_job:%s", jobID)
}

func (c *RedisSnapshotCache) Get(ctx context.Context, jobID uuid.UUID) (*models.ImportSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var snapshot models.ImportSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode job snapshot: %w", err)
	}
	return &snapshot, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot models.ImportSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode job snapshot: %w", err)
	}
	return c.client.Set(ctx, snapshotKey(snapshot.JobID), data, c.ttl).Err()
}
