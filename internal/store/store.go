// Package store persists products, webhook subscriptions and import jobs in
// PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/temcen/productimporter/pkg/models"
)

// ErrStaleStatus is returned when a status transition races with another writer
// or starts from an unexpected status.
var ErrStaleStatus = errors.New("import job status changed concurrently")

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Products interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetBySKU(ctx context.Context, sku string) (*models.Product, error)
	FindBySKUs(ctx context.Context, skus []string) (map[string]*models.Product, error)
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, p *models.Product) error
	// InsertBatch writes new rows in one statement. A concurrent insert of the
	// same SKU turns into an update.
	InsertBatch(ctx context.Context, products []*models.Product) error
	// UpdateBatch overwrites name and description of existing SKUs and
	// reactivates them.
	UpdateBatch(ctx context.Context, products []*models.Product, now time.Time) error
	Count(ctx context.Context, filter models.ProductFilter) (int, error)
	List(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error)
	SetState(ctx context.Context, id uuid.UUID, state models.LifecycleState, now time.Time) error
	DeactivateAll(ctx context.Context, now time.Time) (int64, error)
}

type Webhooks interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Webhook, error)
	Create(ctx context.Context, w *models.Webhook) error
	Update(ctx context.Context, w *models.Webhook) error
	List(ctx context.Context, filter models.WebhookFilter) ([]*models.Webhook, error)
	SetState(ctx context.Context, id uuid.UUID, state models.LifecycleState, now time.Time) error
}

type ImportJobs interface {
	Create(ctx context.Context, job *models.ImportJob) error
	Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	// UpdateStatus persists status, timestamps and error message only when the
	// stored status still equals from, then reloads job from the row.
	UpdateStatus(ctx context.Context, job *models.ImportJob, from models.JobStatus) error
	SetTotal(ctx context.Context, id uuid.UUID, total int, now time.Time) error
	// SetProgress never lowers the stored value and returns what was kept.
	SetProgress(ctx context.Context, id uuid.UUID, progress int, now time.Time) (int, error)
	// AddCounts increments the counters and returns processed, successful and
	// failed totals after the increment.
	AddCounts(ctx context.Context, id uuid.UUID, successful, failed, processed int, now time.Time) (JobCounters, error)
}

// JobCounters are the row counters of an import job.
type JobCounters struct {
	Processed  int
	Successful int
	Failed     int
}

// Repositories groups the per-entity repositories bound to one connection or
// transaction.
type Repositories interface {
	Products() Products
	Webhooks() Webhooks
	ImportJobs() ImportJobs
}

// Store is the entry point used by services.
type Store interface {
	Repositories
	// WithinTx runs fn in a transaction. Returning an error rolls back.
	WithinTx(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
}
