package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/config"
	"github.com/temcen/productimporter/internal/store"
	"github.com/temcen/productimporter/internal/validation"
	"github.com/temcen/productimporter/pkg/models"
)

// ProductQuery is a listing request as received from the API.
type ProductQuery struct {
	SKU         string
	Name        string
	Description string
	Active      *bool
	Page        int
	PageSize    int
}

// ProductService serves single-row catalog edits and listings, announcing
// each change to webhook subscribers.
type ProductService struct {
	products store.Products
	rules    *validation.Rules
	events   EventTrigger
	cfg      config.ImporterConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewProductService(
	products store.Products,
	rules *validation.Rules,
	events EventTrigger,
	cfg config.ImporterConfig,
	logger *logrus.Logger,
) *ProductService {
	return &ProductService{
		products: products,
		rules:    rules,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create adds a product. A soft-deleted product with the same SKU is
// reactivated and overwritten instead.
func (ps *ProductService) Create(ctx context.Context, in models.ProductInput) (*models.Product, error) {
	in, err := ps.rules.Product(in)
	if err != nil {
		return nil, err
	}

	now := ps.now()
	product, err := ps.products.GetBySKU(ctx, in.SKU)
	switch {
	case err == nil && product.IsActive():
		return nil, apperrors.NewFieldValidation(map[string]string{"sku": "Product with this SKU already exists"})
	case err == nil:
		product.Name = in.Name
		product.Description = in.Description
		product.State = models.StateActive
		product.UpdatedAt = now
		if err := ps.products.Update(ctx, product); err != nil {
			return nil, err
		}
		ps.logger.WithFields(logrus.Fields{
			"product_id": product.ID,
			"sku":        product.SKU,
		}).Info("Product reactivated")
	case errors.Is(err, apperrors.ErrNotFound):
		product = &models.Product{
			Base:        models.NewBase(now),
			SKU:         in.SKU,
			Name:        in.Name,
			Description: in.Description,
		}
		if err := ps.products.Create(ctx, product); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	ps.announce(ctx, models.EventProductCreated, product)
	return product, nil
}

// Get returns a product in any lifecycle state.
func (ps *ProductService) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return ps.products.Get(ctx, id)
}

// Update replaces the product's fields. Its lifecycle state is kept.
func (ps *ProductService) Update(ctx context.Context, id uuid.UUID, in models.ProductInput) (*models.Product, error) {
	in, err := ps.rules.Product(in)
	if err != nil {
		return nil, err
	}

	product, err := ps.products.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	product.SKU = in.SKU
	product.Name = in.Name
	product.Description = in.Description
	product.UpdatedAt = ps.now()
	if err := ps.products.Update(ctx, product); err != nil {
		return nil, err
	}

	ps.announce(ctx, models.EventProductUpdated, product)
	return product, nil
}

// Delete soft-deletes the product and returns it as it was before.
func (ps *ProductService) Delete(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product, err := ps.products.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := ps.products.SetState(ctx, id, models.StateInactive, ps.now()); err != nil {
		return nil, err
	}

	ps.announce(ctx, models.EventProductDeleted, product)
	return product, nil
}

// BulkDelete soft-deletes every active product and returns how many changed.
func (ps *ProductService) BulkDelete(ctx context.Context) (int64, error) {
	count, err := ps.products.DeactivateAll(ctx, ps.now())
	if err != nil {
		return 0, err
	}

	ps.logger.WithField("count", count).Info("Products bulk deleted")
	return count, nil
}

// List returns one page of products. Page size falls back to the default
// and is capped; a page past the end returns the last page.
func (ps *ProductService) List(ctx context.Context, q ProductQuery) (models.ProductPage, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = ps.cfg.DefaultPageSize
	}
	if pageSize > ps.cfg.MaxPageSize {
		pageSize = ps.cfg.MaxPageSize
	}

	filter := models.ProductFilter{
		SKU:         validation.NormalizeSKU(q.SKU),
		Name:        q.Name,
		Description: q.Description,
		Active:      q.Active,
	}

	total, err := ps.products.Count(ctx, filter)
	if err != nil {
		return models.ProductPage{}, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	products, err := ps.products.List(ctx, filter)
	if err != nil {
		return models.ProductPage{}, err
	}

	results := make([]models.ProductView, 0, len(products))
	for _, p := range products {
		results = append(results, p.View())
	}

	return models.ProductPage{
		Results:     results,
		TotalCount:  total,
		Page:        page,
		PageSize:    pageSize,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}

func (ps *ProductService) announce(ctx context.Context, eventType models.EventType, product *models.Product) {
	payload := map[string]interface{}{"product": product.View()}
	if err := ps.events.Trigger(ctx, eventType, payload); err != nil {
		ps.logger.WithError(err).WithFields(logrus.Fields{
			"product_id": product.ID,
			"event_type": eventType,
		}).Error("Failed to trigger product webhook")
	}
}
