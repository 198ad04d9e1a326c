package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/productimporter/internal/apperrors"
	"github.com/temcen/productimporter/internal/store/storetest"
	"github.com/temcen/productimporter/pkg/models"
)

func newTestProductService(t *testing.T) (*ProductService, *storetest.MemoryStore, *recordingTrigger) {
	t.Helper()
	cfg := testConfig(t)
	st := storetest.NewMemoryStore()
	events := &recordingTrigger{}
	return NewProductService(st.Products(), testRules(cfg), events, cfg.Importer, testLogger()), st, events
}

func TestProductService_Create(t *testing.T) {
	ps, _, events := newTestProductService(t)
	ctx := context.Background()

	product, err := ps.Create(ctx, models.ProductInput{SKU: " ABC ", Name: "Widget", Description: strPtr("Blue")})
	require.NoError(t, err)
	assert.Equal(t, "abc", product.SKU)
	assert.True(t, product.IsActive())

	_, err = ps.Create(ctx, models.ProductInput{SKU: "abc", Name: "Other"})
	require.True(t, apperrors.IsValidation(err))

	_, err = ps.Create(ctx, models.ProductInput{SKU: "", Name: ""})
	require.True(t, apperrors.IsValidation(err))

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventProductCreated, got[0].EventType)
	payload := got[0].Payload["product"].(map[string]interface{})
	assert.Equal(t, "abc", payload["sku"])
	assert.Equal(t, true, payload["active"])
}

func TestProductService_CreateReactivatesDeletedSKU(t *testing.T) {
	ps, _, _ := newTestProductService(t)
	ctx := context.Background()

	original, err := ps.Create(ctx, models.ProductInput{SKU: "abc", Name: "Widget"})
	require.NoError(t, err)
	_, err = ps.Delete(ctx, original.ID)
	require.NoError(t, err)

	recreated, err := ps.Create(ctx, models.ProductInput{SKU: "ABC", Name: "Widget 2"})
	require.NoError(t, err)
	assert.Equal(t, original.ID, recreated.ID)
	assert.Equal(t, "Widget 2", recreated.Name)
	assert.True(t, recreated.IsActive())
}

func TestProductService_UpdateAndDelete(t *testing.T) {
	ps, _, events := newTestProductService(t)
	ctx := context.Background()

	product, err := ps.Create(ctx, models.ProductInput{SKU: "abc", Name: "Widget"})
	require.NoError(t, err)
	other, err := ps.Create(ctx, models.ProductInput{SKU: "xyz", Name: "Other"})
	require.NoError(t, err)

	updated, err := ps.Update(ctx, product.ID, models.ProductInput{SKU: "abc", Name: "Renamed", Description: strPtr("new")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	_, err = ps.Update(ctx, product.ID, models.ProductInput{SKU: "XYZ", Name: "Clash"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = ps.Update(ctx, uuid.New(), models.ProductInput{SKU: "q", Name: "q"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	deleted, err := ps.Delete(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsActive(), "delete returns the product as it was")

	// Soft-deleted products stay readable by id
	fetched, err := ps.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, fetched.IsActive())

	_, err = ps.Delete(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var kinds []models.EventType
	for _, e := range events.all() {
		kinds = append(kinds, e.EventType)
	}
	assert.Equal(t, []models.EventType{
		models.EventProductCreated,
		models.EventProductCreated,
		models.EventProductUpdated,
		models.EventProductDeleted,
	}, kinds)
}

func TestProductService_List(t *testing.T) {
	ps, _, _ := newTestProductService(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := ps.Create(ctx, models.ProductInput{SKU: fmt.Sprintf("sku-%02d", i), Name: fmt.Sprintf("Item %d", i)})
		require.NoError(t, err)
	}
	special, err := ps.Create(ctx, models.ProductInput{SKU: "promo", Name: "100% Cotton_Shirt"})
	require.NoError(t, err)
	_, err = ps.Delete(ctx, special.ID)
	require.NoError(t, err)

	page, err := ps.List(ctx, ProductQuery{})
	require.NoError(t, err)
	assert.Equal(t, 25, page.TotalCount)
	assert.Equal(t, 20, page.PageSize)
	assert.Len(t, page.Results, 20)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrevious)

	page, err = ps.List(ctx, ProductQuery{Page: 99})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Len(t, page.Results, 5)
	assert.False(t, page.HasNext)

	page, err = ps.List(ctx, ProductQuery{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, page.PageSize)

	page, err = ps.List(ctx, ProductQuery{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.Equal(t, 10, page.TotalCount)

	inactive := false
	page, err = ps.List(ctx, ProductQuery{Active: &inactive, Name: "cotton"})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, "promo", page.Results[0].SKU)

	page, err = ps.List(ctx, ProductQuery{Name: "nothing matches"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalCount)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.TotalPages)
	assert.NotNil(t, page.Results)
}

func TestProductService_BulkDelete(t *testing.T) {
	ps, st, _ := newTestProductService(t)
	ctx := context.Background()

	for _, sku := range []string{"a", "b", "c"} {
		_, err := ps.Create(ctx, models.ProductInput{SKU: sku, Name: sku})
		require.NoError(t, err)
	}

	count, err := ps.BulkDelete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	for _, p := range st.AllProducts() {
		assert.Equal(t, models.StateInactive, p.State)
	}

	count, err = ps.BulkDelete(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
