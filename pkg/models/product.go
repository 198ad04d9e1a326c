package models

import "time"

type Product struct {
	Base
	SKU         string  `json:"sku" db:"sku"`
	Name        string  `json:"name" db:"name"`
	Description *string `json:"description" db:"description"`
}

// ProductView is the API and webhook representation of a product.
type ProductView struct {
	ID          string  `json:"id"`
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func (p *Product) View() ProductView {
	return ProductView{
		ID:          p.ID.String(),
		SKU:         p.SKU,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.IsActive(),
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ProductInput is the request body for product create and update.
type ProductInput struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// ProductFilter narrows product listings. Nil Active means "active only".
type ProductFilter struct {
	SKU         string
	Name        string
	Description string
	Active      *bool
	Offset      int
	Limit       int
}

// ProductPage is the paginated listing envelope.
type ProductPage struct {
	Results     []ProductView `json:"results"`
	TotalCount  int           `json:"total_count"`
	Page        int           `json:"page"`
	PageSize    int           `json:"page_size"`
	TotalPages  int           `json:"total_pages"`
	HasNext     bool          `json:"has_next"`
	HasPrevious bool          `json:"has_previous"`
}
