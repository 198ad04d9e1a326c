package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/pkg/models"
)

const productColumns = "id, sku, name, description, state, created_at, updated_at"

type productRepo struct {
	db Querier
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.State, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	row := r.db.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProduct(row)
	if err != nil {
		return nil, notFoundOr(err, "product", id)
	}
	return p, nil
}

func (r *productRepo) GetBySKU(ctx context.Context, sku string) (*models.Product, error) {
	row := r.db.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE sku = $1", sku)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product with sku %q: %w", sku, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product by sku: %w", err)
	}
	return p, nil
}

func (r *productRepo) FindBySKUs(ctx context.Context, skus []string) (map[string]*models.Product, error) {
	found := make(map[string]*models.Product, len(skus))
	if len(skus) == 0 {
		return found, nil
	}

	rows, err := r.db.Query(ctx, "SELECT "+productColumns+" FROM products WHERE sku = ANY($1)", skus)
	if err != nil {
		return nil, fmt.Errorf("failed to look up skus: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		found[p.SKU] = p
	}
	return found, rows.Err()
}

func (r *productRepo) Create(ctx context.Context, p *models.Product) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SKU, p.Name, p.Description, p.State, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err, "products_sku_key") {
		return apperrors.NewFieldValidation(map[string]string{"sku": "Product with this SKU already exists"})
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (r *productRepo) Update(ctx context.Context, p *models.Product) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET sku = $2, name = $3, description = $4, state = $5, updated_at = $6
		WHERE id = $1`,
		p.ID, p.SKU, p.Name, p.Description, p.State, p.UpdatedAt)
	if isUniqueViolation(err, "products_sku_key") {
		return apperrors.NewFieldValidation(map[string]string{"sku": "Product with this SKU already exists"})
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("product", p.ID)
	}
	return nil
}

func (r *productRepo) InsertBatch(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}

	ids := make([]string, len(products))
	skus := make([]string, len(products))
	names := make([]string, len(products))
	descriptions := make([]*string, len(products))
	for i, p := range products {
		ids[i] = p.ID.String()
		skus[i] = p.SKU
		names[i] = p.Name
		descriptions[i] = p.Description
	}
	now := products[0].CreatedAt

	_, err := r.db.Exec(ctx, `
		INSERT INTO products (id, sku, name, description, state, created_at, updated_at)
		SELECT u.id, u.sku, u.name, u.description, 'ACTIVE', $5, $5
		FROM unnest($1::uuid[], $2::text[], $3::text[], $4::text[]) AS u(id, sku, name, description)
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description,
		    state = 'ACTIVE', updated_at = EXCLUDED.updated_at`,
		ids, skus, names, descriptions, now)
	if err != nil {
		return fmt.Errorf("failed to insert %d products: %w", len(products), err)
	}
	return nil
}

func (r *productRepo) UpdateBatch(ctx context.Context, products []*models.Product, now time.Time) error {
	if len(products) == 0 {
		return nil
	}

	skus := make([]string, len(products))
	names := make([]string, len(products))
	descriptions := make([]*string, len(products))
	for i, p := range products {
		skus[i] = p.SKU
		names[i] = p.Name
		descriptions[i] = p.Description
	}

	_, err := r.db.Exec(ctx, `
		UPDATE products AS p
		SET name = u.name, description = u.description, state = 'ACTIVE', updated_at = $4
		FROM unnest($1::text[], $2::text[], $3::text[]) AS u(sku, name, description)
		WHERE p.sku = u.sku`,
		skus, names, descriptions, now)
	if err != nil {
		return fmt.Errorf("failed to update %d products: %w", len(products), err)
	}
	return nil
}

// likePattern escapes LIKE metacharacters so user input matches literally.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func productWhere(filter models.ProductFilter) (string, []interface{}) {
	state := models.StateActive
	if filter.Active != nil {
		state = models.StateFromBool(*filter.Active)
	}

	clauses := []string{"state = $1"}
	args := []interface{}{state}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, likePattern(value))
		clauses = append(clauses, fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, column, len(args)))
	}
	add("sku", filter.SKU)
	add("name", filter.Name)
	add("description", filter.Description)

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *productRepo) Count(ctx context.Context, filter models.ProductFilter) (int, error) {
	where, args := productWhere(filter)

	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

func (r *productRepo) List(ctx context.Context, filter models.ProductFilter) ([]*models.Product, error) {
	where, args := productWhere(filter)
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		productColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *productRepo) SetState(ctx context.Context, id uuid.UUID, state models.LifecycleState, now time.Time) error {
	tag, err := r.db.Exec(ctx, "UPDATE products SET state = $2, updated_at = $3 WHERE id = $1", id, state, now)
	if err != nil {
		return fmt.Errorf("failed to change product state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("product", id)
	}
	return nil
}

func (r *productRepo) DeactivateAll(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE products SET state = 'INACTIVE', updated_at = $1 WHERE state = 'ACTIVE'", now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate products: %w", err)
	}
	return tag.RowsAffected(), nil
}
