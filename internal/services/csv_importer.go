package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/store"
	"github.com/temcen/productimporter/internal/tasks"
	"github.com/temcen/productimporter/internal/validation"
	"github.com/temcen/productimporter/pkg/models"
)

// TimeLimitMessage is stored on jobs stopped by the soft time limit.
const TimeLimitMessage = "Import exceeded time limit"

// EventTrigger starts webhook fan-out for an event.
type EventTrigger interface {
	Trigger(ctx context.Context, eventType models.EventType, payload interface{}) error
}

// CSVImporter upserts products from a staged CSV file in fixed-size chunks,
// one transaction per chunk.
type CSVImporter struct {
	store   store.Store
	ledger  *ImportLedger
	rules   *validation.Rules
	events  EventTrigger
	metrics *Metrics
	cfg     config.ImporterConfig
	logger  *logrus.Logger
	now     func() time.Time
}

func NewCSVImporter(
	st store.Store,
	ledger *ImportLedger,
	rules *validation.Rules,
	events EventTrigger,
	metrics *Metrics,
	cfg config.ImporterConfig,
	logger *logrus.Logger,
) *CSVImporter {
	return &CSVImporter{
		store:   st,
		ledger:  ledger,
		rules:   rules,
		events:  events,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run imports the file at path into the catalog on behalf of job jobID.
// Failures after the job started are recorded on the job, announced as
// import.failed and returned as *apperrors.JobFatalError.
func (ci *CSVImporter) Run(ctx context.Context, jobID uuid.UUID, path string) error {
	job, err := ci.ledger.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load import job: %w", err)
	}

	if job.Status != models.JobStatusPending {
		// Redelivered task for a job another run already owns
		ci.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"status": job.Status,
		}).Warn("Skipping import job that is not pending")
		return nil
	}

	if err := ci.ledger.AdvanceStatus(ctx, job, models.JobStatusProcessing); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			ci.logger.WithField("job_id", jobID).Warn("Import job was claimed by another run")
			return nil
		}
		return ci.fail(ctx, job, err)
	}

	logger := ci.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"file_name": job.FileName,
	})
	logger.Info("Import started")

	if err := ci.process(ctx, job, path); err != nil {
		return ci.fail(ctx, job, err)
	}

	if err := ci.ledger.Complete(ctx, job); err != nil {
		return ci.fail(ctx, job, err)
	}

	ci.trigger(ctx, models.EventImportCompleted, job)
	return nil
}

func (ci *CSVImporter) fail(ctx context.Context, job *models.ImportJob, cause error) error {
	message := cause.Error()
	if errors.Is(context.Cause(ctx), tasks.ErrSoftTimeLimit) {
		message = TimeLimitMessage
	}

	if err := ci.ledger.Fail(ctx, job, message); err != nil {
		ci.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to record import failure")
	}

	ci.trigger(context.WithoutCancel(ctx), models.EventImportFailed, job)
	return &apperrors.JobFatalError{JobID: job.ID.String(), Err: errors.New(message)}
}

func (ci *CSVImporter) trigger(ctx context.Context, eventType models.EventType, job *models.ImportJob) {
	payload := map[string]interface{}{"import_job": job.Snapshot()}
	if err := ci.events.Trigger(ctx, eventType, payload); err != nil {
		ci.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":     job.ID,
			"event_type": eventType,
		}).Error("Failed to trigger import webhook")
	}
}

func (ci *CSVImporter) process(ctx context.Context, job *models.ImportJob, path string) error {
	total, err := ci.countRows(path)
	if err != nil {
		return err
	}
	if err := ci.ledger.RecordTotals(ctx, job, total); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	reader := newCSVReader(f)
	columns, err := readHeader(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ci.ledger.RecordProgress(ctx, job, 0)
		}
		return err
	}

	interval := ci.cfg.ProgressUpdateInterval
	nextProgress := interval
	c := &chunk{}

	flush := func() error {
		if c.rows == 0 {
			return nil
		}
		if err := ci.upsertChunk(ctx, job, c); err != nil {
			return err
		}
		c.reset()

		// Progress is paced on upserted rows and reported over all processed rows
		if interval > 0 && job.SuccessfulRecords >= nextProgress {
			if err := ci.ledger.RecordProgress(ctx, job, job.ProcessedRecords); err != nil {
				return err
			}
			for nextProgress <= job.SuccessfulRecords {
				nextProgress += interval
			}
		}
		return nil
	}

	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		switch {
		case errors.As(readErr, &parseErr):
			c.rows++
			ci.rejectRow(job, c, &apperrors.RowError{Line: parseErr.StartLine, Reason: parseErr.Err.Error()})
		case readErr != nil:
			return fmt.Errorf("failed to read import file: %w", readErr)
		default:
			c.rows++
			line, _ := reader.FieldPos(0)
			if row, reason := ci.parseRow(columns, record); reason != "" {
				ci.rejectRow(job, c, &apperrors.RowError{Line: line, Reason: reason})
			} else {
				c.add(row)
			}
		}

		if c.valid >= ci.cfg.ChunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}
	return ci.ledger.RecordProgress(ctx, job, job.ProcessedRecords)
}

func (ci *CSVImporter) rejectRow(job *models.ImportJob, c *chunk, rowErr *apperrors.RowError) {
	c.failed++
	ci.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"line":   rowErr.Line,
	}).Debug(rowErr.Error())
}

func (ci *CSVImporter) parseRow(columns headerColumns, record []string) (validation.ImportRow, string) {
	for _, field := range record {
		if !utf8.ValidString(field) {
			return validation.ImportRow{}, "invalid UTF-8"
		}
	}
	return ci.rules.Row(
		columns.value(record, columnSKU),
		columns.value(record, columnName),
		columns.value(record, columnDescription),
	)
}

// upsertChunk writes one chunk and its counters in a single transaction.
func (ci *CSVImporter) upsertChunk(ctx context.Context, job *models.ImportJob, c *chunk) error {
	now := ci.now()
	var created, updated int

	err := ci.store.WithinTx(ctx, func(tx store.Repositories) error {
		created, updated = 0, 0
		if len(c.order) > 0 {
			existing, err := tx.Products().FindBySKUs(ctx, c.order)
			if err != nil {
				return fmt.Errorf("failed to look up existing products: %w", err)
			}

			var toCreate, toUpdate []*models.Product
			for _, sku := range c.order {
				row := c.bySKU[sku]
				if current, ok := existing[sku]; ok {
					current.Name = row.Name
					current.Description = row.Description
					current.State = models.StateActive
					current.UpdatedAt = now
					toUpdate = append(toUpdate, current)
					updated++
				} else {
					toCreate = append(toCreate, &models.Product{
						Base:        models.NewBase(now),
						SKU:         sku,
						Name:        row.Name,
						Description: row.Description,
					})
					created++
				}
				// Repeats of a SKU inside the chunk overwrite the first row
				updated += c.repeats[sku]
			}

			batchSize := ci.cfg.BulkCreateBatchSize
			if batchSize <= 0 {
				batchSize = len(toCreate)
			}
			for start := 0; start < len(toCreate); start += batchSize {
				end := start + batchSize
				if end > len(toCreate) {
					end = len(toCreate)
				}
				if err := tx.Products().InsertBatch(ctx, toCreate[start:end]); err != nil {
					return fmt.Errorf("failed to insert products: %w", err)
				}
			}

			if len(toUpdate) > 0 {
				if err := tx.Products().UpdateBatch(ctx, toUpdate, now); err != nil {
					return fmt.Errorf("failed to update products: %w", err)
				}
			}
		}

		return ci.ledger.RecordChunkResult(ctx, tx, job, created, updated, c.failed)
	})
	if err != nil {
		return err
	}

	ci.metrics.rows(created, updated, c.failed)
	ci.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"created":   created,
		"updated":   updated,
		"failed":    c.failed,
		"processed": job.ProcessedRecords,
	}).Debug("Chunk imported")
	return nil
}

// countRows counts data rows. Rows that fail to parse still count.
func (ci *CSVImporter) countRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	reader := newCSVReader(f)
	reader.ReuseRecord = true

	rows := -1
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return 0, fmt.Errorf("failed to read import file: %w", err)
		}
		rows++
	}
	if rows < 0 {
		rows = 0
	}
	return rows, nil
}

// newCSVReader skips a leading UTF-8 byte order mark.
func newCSVReader(r io.Reader) *csv.Reader {
	buffered := bufio.NewReader(r)
	if bom, err := buffered.Peek(3); err == nil && bytes.Equal(bom, utf8BOM) {
		_, _ = buffered.Discard(3)
	}
	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1
	return reader
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const (
	columnSKU         = "sku"
	columnName        = "name"
	columnDescription = "description"
)

// headerColumns maps normalized header names to record positions.
type headerColumns map[string]int

func readHeader(reader *csv.Reader) (headerColumns, error) {
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(headerColumns, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, seen := columns[name]; !seen {
			columns[name] = i
		}
	}
	return columns, nil
}

func (h headerColumns) value(record []string, column string) string {
	i, ok := h[column]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// chunk buffers valid rows keyed by SKU in first-seen order. rows counts
// every record read into the chunk, valid only the accepted ones.
type chunk struct {
	rows    int
	valid   int
	failed  int
	order   []string
	bySKU   map[string]validation.ImportRow
	repeats map[string]int
}

func (c *chunk) add(row validation.ImportRow) {
	c.valid++
	if c.bySKU == nil {
		c.bySKU = make(map[string]validation.ImportRow)
		c.repeats = make(map[string]int)
	}
	if _, seen := c.bySKU[row.SKU]; seen {
		c.repeats[row.SKU]++
	} else {
		c.order = append(c.order, row.SKU)
	}
	c.bySKU[row.SKU] = row
}

func (c *chunk) reset() {
	*c = chunk{}
}
