package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle of an import job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces PENDING -> PROCESSING -> COMPLETED|FAILED, with
// PENDING -> FAILED allowed when processing never starts.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

type ImportJob struct {
	Base
	Status            JobStatus  `json:"status" db:"status"`
	Progress          int        `json:"progress" db:"progress"`
	TotalRecords      int        `json:"total_records" db:"total_records"`
	ProcessedRecords  int        `json:"processed_records" db:"processed_records"`
	SuccessfulRecords int        `json:"successful_records" db:"successful_records"`
	FailedRecords     int        `json:"failed_records" db:"failed_records"`
	ErrorMessage      *string    `json:"error_message" db:"error_message"`
	FileName          string     `json:"file_name" db:"file_name"`
	FileSize          int64      `json:"file_size" db:"file_size"`
	StartedAt         *time.Time `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at" db:"completed_at"`
}

// NewImportJob returns a PENDING job with zeroed counters.
func NewImportJob(fileName string, fileSize int64, now time.Time) *ImportJob {
	return &ImportJob{
		Base:     NewBase(now),
		Status:   JobStatusPending,
		FileName: fileName,
		FileSize: fileSize,
	}
}

// Duration is the elapsed processing time in seconds, nil until both
// timestamps are set.
func (j *ImportJob) Duration() *float64 {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return nil
	}
	d := math.Round(j.CompletedAt.Sub(*j.StartedAt).Seconds()*1000) / 1000
	return &d
}

// ProgressFor computes the percentage for processed rows out of total. The
// second return is false when total is zero and progress must be left alone.
func ProgressFor(processed, total int) (int, bool) {
	if total <= 0 {
		return 0, false
	}
	p := processed * 100 / total
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p, true
}

// ImportSnapshot is the externally visible job status.
type ImportSnapshot struct {
	JobID             uuid.UUID  `json:"job_id"`
	Status            JobStatus  `json:"status"`
	Progress          int        `json:"progress"`
	TotalRecords      int        `json:"total_records"`
	ProcessedRecords  int        `json:"processed_records"`
	SuccessfulRecords int        `json:"successful_records"`
	FailedRecords     int        `json:"failed_records"`
	FileName          string     `json:"file_name"`
	FileSize          int64      `json:"file_size"`
	ErrorMessage      *string    `json:"error_message"`
	StartedAt         *time.Time `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	Duration          *float64   `json:"duration"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (j *ImportJob) Snapshot() ImportSnapshot {
	return ImportSnapshot{
		JobID:             j.ID,
		Status:            j.Status,
		Progress:          j.Progress,
		TotalRecords:      j.TotalRecords,
		ProcessedRecords:  j.ProcessedRecords,
		SuccessfulRecords: j.SuccessfulRecords,
		FailedRecords:     j.FailedRecords,
		FileName:          j.FileName,
		FileSize:          j.FileSize,
		ErrorMessage:      j.ErrorMessage,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
		Duration:          j.Duration(),
		CreatedAt:         j.CreatedAt,
	}
}

// UploadAccepted is the response to a successful upload.
type UploadAccepted struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   JobStatus `json:"status"`
	FileName string    `json:"file_name"`
	FileSize int64     `json:"file_size"`
}
