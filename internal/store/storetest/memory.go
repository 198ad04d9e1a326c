// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/store"
	"github.com/temcen/productimporter/pkg/models"
)

type tables struct {
	products map[uuid.UUID]models.Product
	webhooks map[uuid.UUID]models.Webhook
	jobs     map[uuid.UUID]models.ImportJob
}

func (t *tables) clone() *tables {
	c := &tables{
		products: make(map[uuid.UUID]models.Product, len(t.products)),
		webhooks: make(map[uuid.UUID]models.Webhook, len(t.webhooks)),
		jobs:     make(map[uuid.UUID]models.ImportJob, len(t.jobs)),
	}
	for k, v := range t.products {
		c.products[k] = v
	}
	for k, v := range t.webhooks {
		c.webhooks[k] = v
	}
	for k, v := range t.jobs {
		c.jobs[k] = v
	}
	return c
}

// MemoryStore keeps rows in maps guarded by one mutex. WithinTx works on a copy
// that replaces the live tables only when fn succeeds.
type MemoryStore struct {
	mu sync.Mutex
	t  *tables

	// FailTx, when set, is returned from WithinTx after fn ran and before the
	// copy is committed.
	FailTx error
}

var _ store.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{t: &tables{
		products: map[uuid.UUID]models.Product{},
		webhooks: map[uuid.UUID]models.Webhook{},
		jobs:     map[uuid.UUID]models.ImportJob{},
	}}
}

// repos is bound either to the live tables (locking per call) or to a
// transaction copy (already exclusive).
type repos struct {
	s  *MemoryStore
	tx *tables
}

func (r *repos) with(fn func(t *tables) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return fn(r.s.t)
}

func (s *MemoryStore) live() *repos { return &repos{s: s} }

func (s *MemoryStore) Products() store.Products     { return &products{s.live()} }
func (s *MemoryStore) Webhooks() store.Webhooks     { return &webhooks{s.live()} }
func (s *MemoryStore) ImportJobs() store.ImportJobs { return &jobs{s.live()} }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.t.clone()
	if err := fn(&txRepos{r: &repos{s: s, tx: tx}}); err != nil {
		return err
	}
	if s.FailTx != nil {
		return s.FailTx
	}
	s.t = tx
	return nil
}

type txRepos struct{ r *repos }

func (t *txRepos) Products() store.Products     { return &products{t.r} }
func (t *txRepos) Webhooks() store.Webhooks     { return &webhooks{t.r} }
func (t *txRepos) ImportJobs() store.ImportJobs { return &jobs{t.r} }

// AllProducts returns every product regardless of state, sorted by SKU.
func (s *MemoryStore) AllProducts() []models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Product, 0, len(s.t.products))
	for _, p := range s.t.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// AllImportJobs returns every import job.
func (s *MemoryStore) AllImportJobs() []models.ImportJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ImportJob, 0, len(s.t.jobs))
	for _, j := range s.t.jobs {
		out = append(out, j)
	}
	return out
}

type products struct{ r *repos }

func findSKU(t *tables, sku string) (models.Product, bool) {
	for _, p := range t.products {
		if p.SKU == sku {
			return p, true
		}
	}
	return models.Product{}, false
}

func duplicateSKU() error {
	return apperrors.NewFieldValidation(map[string]string{"sku": "Product with this SKU already exists"})
}

func (p *products) Get(_ context.Context, id uuid.UUID) (*models.Product, error) {
	var out *models.Product
	err := p.r.with(func(t *tables) error {
		row, ok := t.products[id]
		if !ok {
			return apperrors.NotFound("product", id)
		}
		out = &row
		return nil
	})
	return out, err
}

func (p *products) GetBySKU(_ context.Context, sku string) (*models.Product, error) {
	var out *models.Product
	err := p.r.with(func(t *tables) error {
		row, ok := findSKU(t, sku)
		if !ok {
			return fmt.Errorf("product with sku %q: %w", sku, apperrors.ErrNotFound)
		}
		out = &row
		return nil
	})
	return out, err
}

func (p *products) FindBySKUs(_ context.Context, skus []string) (map[string]*models.Product, error) {
	found := map[string]*models.Product{}
	err := p.r.with(func(t *tables) error {
		wanted := make(map[string]struct{}, len(skus))
		for _, s := range skus {
			wanted[s] = struct{}{}
		}
		for _, row := range t.products {
			if _, ok := wanted[row.SKU]; ok {
				row := row
				found[row.SKU] = &row
			}
		}
		return nil
	})
	return found, err
}

func (p *products) Create(_ context.Context, in *models.Product) error {
	return p.r.with(func(t *tables) error {
		if _, ok := findSKU(t, in.SKU); ok {
			return duplicateSKU()
		}
		t.products[in.ID] = *in
		return nil
	})
}

func (p *products) Update(_ context.Context, in *models.Product) error {
	return p.r.with(func(t *tables) error {
		existing, ok := t.products[in.ID]
		if !ok {
			return apperrors.NotFound("product", in.ID)
		}
		if other, ok := findSKU(t, in.SKU); ok && other.ID != in.ID {
			return duplicateSKU()
		}
		row := *in
		row.CreatedAt = existing.CreatedAt
		t.products[in.ID] = row
		return nil
	})
}

func (p *products) InsertBatch(_ context.Context, in []*models.Product) error {
	return p.r.with(func(t *tables) error {
		for _, np := range in {
			if existing, ok := findSKU(t, np.SKU); ok {
				existing.Name = np.Name
				existing.Description = np.Description
				existing.State = models.StateActive
				existing.UpdatedAt = np.UpdatedAt
				t.products[existing.ID] = existing
				continue
			}
			row := *np
			row.State = models.StateActive
			t.products[row.ID] = row
		}
		return nil
	})
}

func (p *products) UpdateBatch(_ context.Context, in []*models.Product, now time.Time) error {
	return p.r.with(func(t *tables) error {
		for _, up := range in {
			existing, ok := findSKU(t, up.SKU)
			if !ok {
				continue
			}
			existing.Name = up.Name
			existing.Description = up.Description
			existing.State = models.StateActive
			existing.UpdatedAt = now
			t.products[existing.ID] = existing
		}
		return nil
	})
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (p *products) filtered(t *tables, f models.ProductFilter) []models.Product {
	state := models.StateActive
	if f.Active != nil {
		state = models.StateFromBool(*f.Active)
	}

	var out []models.Product
	for _, row := range t.products {
		if row.State != state {
			continue
		}
		if f.SKU != "" && !containsFold(row.SKU, f.SKU) {
			continue
		}
		if f.Name != "" && !containsFold(row.Name, f.Name) {
			continue
		}
		if f.Description != "" && (row.Description == nil || !containsFold(*row.Description, f.Description)) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (p *products) Count(_ context.Context, f models.ProductFilter) (int, error) {
	var n int
	err := p.r.with(func(t *tables) error {
		n = len(p.filtered(t, f))
		return nil
	})
	return n, err
}

func (p *products) List(_ context.Context, f models.ProductFilter) ([]*models.Product, error) {
	var out []*models.Product
	err := p.r.with(func(t *tables) error {
		rows := p.filtered(t, f)
		if f.Offset >= len(rows) {
			return nil
		}
		end := len(rows)
		if f.Limit > 0 && f.Offset+f.Limit < end {
			end = f.Offset + f.Limit
		}
		for i := f.Offset; i < end; i++ {
			row := rows[i]
			out = append(out, &row)
		}
		return nil
	})
	return out, err
}

func (p *products) SetState(_ context.Context, id uuid.UUID, state models.LifecycleState, now time.Time) error {
	return p.r.with(func(t *tables) error {
		row, ok := t.products[id]
		if !ok {
			return apperrors.NotFound("product", id)
		}
		row.State = state
		row.UpdatedAt = now
		t.products[id] = row
		return nil
	})
}

func (p *products) DeactivateAll(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := p.r.with(func(t *tables) error {
		for id, row := range t.products {
			if row.State != models.StateActive {
				continue
			}
			row.State = models.StateInactive
			row.UpdatedAt = now
			t.products[id] = row
			n++
		}
		return nil
	})
	return n, err
}

type webhooks struct{ r *repos }

func duplicateWebhook(t *tables, w *models.Webhook) bool {
	for _, row := range t.webhooks {
		if row.ID != w.ID && row.URL == w.URL && row.EventType == w.EventType {
			return true
		}
	}
	return false
}

func errDuplicateWebhook() error {
	return apperrors.NewFieldValidation(map[string]string{
		"url": "Webhook with this URL and event type already exists",
	})
}

func (w *webhooks) Get(_ context.Context, id uuid.UUID) (*models.Webhook, error) {
	var out *models.Webhook
	err := w.r.with(func(t *tables) error {
		row, ok := t.webhooks[id]
		if !ok {
			return apperrors.NotFound("webhook", id)
		}
		out = &row
		return nil
	})
	return out, err
}

func (w *webhooks) Create(_ context.Context, in *models.Webhook) error {
	return w.r.with(func(t *tables) error {
		if duplicateWebhook(t, in) {
			return errDuplicateWebhook()
		}
		t.webhooks[in.ID] = *in
		return nil
	})
}

func (w *webhooks) Update(_ context.Context, in *models.Webhook) error {
	return w.r.with(func(t *tables) error {
		existing, ok := t.webhooks[in.ID]
		if !ok {
			return apperrors.NotFound("webhook", in.ID)
		}
		if duplicateWebhook(t, in) {
			return errDuplicateWebhook()
		}
		row := *in
		row.CreatedAt = existing.CreatedAt
		t.webhooks[in.ID] = row
		return nil
	})
}

func (w *webhooks) List(_ context.Context, f models.WebhookFilter) ([]*models.Webhook, error) {
	out := []*models.Webhook{}
	err := w.r.with(func(t *tables) error {
		for _, row := range t.webhooks {
			if f.EventType != "" && row.EventType != f.EventType {
				continue
			}
			if f.Enabled != nil && row.State != models.StateFromBool(*f.Enabled) {
				continue
			}
			row := row
			out = append(out, &row)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (w *webhooks) SetState(_ context.Context, id uuid.UUID, state models.LifecycleState, now time.Time) error {
	return w.r.with(func(t *tables) error {
		row, ok := t.webhooks[id]
		if !ok {
			return apperrors.NotFound("webhook", id)
		}
		row.State = state
		row.UpdatedAt = now
		t.webhooks[id] = row
		return nil
	})
}

type jobs struct{ r *repos }

func (j *jobs) Create(_ context.Context, job *models.ImportJob) error {
	return j.r.with(func(t *tables) error {
		t.jobs[job.ID] = *job
		return nil
	})
}

func (j *jobs) Get(_ context.Context, id uuid.UUID) (*models.ImportJob, error) {
	var out *models.ImportJob
	err := j.r.with(func(t *tables) error {
		row, ok := t.jobs[id]
		if !ok {
			return apperrors.NotFound("import job", id)
		}
		out = &row
		return nil
	})
	return out, err
}

func (j *jobs) UpdateStatus(_ context.Context, job *models.ImportJob, from models.JobStatus) error {
	return j.r.with(func(t *tables) error {
		row, ok := t.jobs[job.ID]
		if !ok || row.Status != from {
			return fmt.Errorf("import job %s is no longer %s: %w", job.ID, from, store.ErrStaleStatus)
		}
		row.Status = job.Status
		row.ErrorMessage = job.ErrorMessage
		row.StartedAt = job.StartedAt
		row.CompletedAt = job.CompletedAt
		row.UpdatedAt = job.UpdatedAt
		t.jobs[job.ID] = row
		*job = row
		return nil
	})
}

func (j *jobs) SetTotal(_ context.Context, id uuid.UUID, total int, now time.Time) error {
	return j.r.with(func(t *tables) error {
		row, ok := t.jobs[id]
		if !ok {
			return apperrors.NotFound("import job", id)
		}
		row.TotalRecords = total
		row.UpdatedAt = now
		t.jobs[id] = row
		return nil
	})
}

func (j *jobs) SetProgress(_ context.Context, id uuid.UUID, progress int, now time.Time) (int, error) {
	var stored int
	err := j.r.with(func(t *tables) error {
		row, ok := t.jobs[id]
		if !ok {
			return apperrors.NotFound("import job", id)
		}
		if progress > 100 {
			progress = 100
		}
		if progress > row.Progress {
			row.Progress = progress
		}
		row.UpdatedAt = now
		t.jobs[id] = row
		stored = row.Progress
		return nil
	})
	return stored, err
}

func (j *jobs) AddCounts(_ context.Context, id uuid.UUID, successful, failed, processed int, now time.Time) (store.JobCounters, error) {
	var c store.JobCounters
	err := j.r.with(func(t *tables) error {
		row, ok := t.jobs[id]
		if !ok {
			return apperrors.NotFound("import job", id)
		}
		row.SuccessfulRecords += successful
		row.FailedRecords += failed
		row.ProcessedRecords += processed
		row.UpdatedAt = now
		t.jobs[id] = row
		c = store.JobCounters{
			Processed:  row.ProcessedRecords,
			Successful: row.SuccessfulRecords,
			Failed:     row.FailedRecords,
		}
		return nil
	})
	return c, err
}
