package repository

import (
	"context"
	"path/filepath"
	"testing"

	"catalog-import-service/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormStore(db)
}

func TestGormStore_Products(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	refs, err := store.InsertProducts(ctx, []*models.Product{
		{Brand: "brand-1", SKU: "A1", Name: "Runner", Price: decimal.RequireFromString("59.90"), Images: []string{"u1", "u2"}},
		{Brand: "brand-1", SKU: "B2", Name: "Walker"},
		{Brand: "brand-2", SKU: "A1", Name: "Other brand"},
	})
	require.NoError(t, err)
	require.Len(t, refs, 3)
	for _, r := range refs {
		assert.NotEmpty(t, r.ID)
	}

	found, err := store.FindProductsBySKUs(ctx, "brand-1", []string{"A1", "C3"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, refs[0].ID, found[0].ID)

	require.NoError(t, store.UpsertProducts(ctx, []*models.Product{
		{ID: refs[0].ID, Brand: "brand-1", SKU: "A1", Name: "Runner v2", Images: []string{"u3"}},
	}))
	var got ProductModel
	require.NoError(t, store.db.First(&got, "id = ?", refs[0].ID).Error)
	assert.Equal(t, "Runner v2", got.Name)
	assert.Equal(t, []string{"u3"}, []string(got.Images.StringArray))

	_, err = store.InsertProducts(ctx, []*models.Product{{Brand: "brand-1", SKU: "A1"}})
	assert.Error(t, err, "brand and sku are unique")
}

func TestGormStore_VariantsAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	refs, err := store.InsertProducts(ctx, []*models.Product{
		{Brand: "brand-1", SKU: "A1"},
		{Brand: "brand-2", SKU: "Z9"},
	})
	require.NoError(t, err)
	a1, z9 := refs[0].ID, refs[1].ID

	require.NoError(t, store.InsertVariants(ctx, []models.VariantRecord{
		{ProductID: a1, Size: "M", Stock: 1},
		{ProductID: a1, Size: "L", Stock: 2},
		{ProductID: z9, Size: "S", Stock: 3},
	}))

	vs, err := store.FindVariantsByProductIDs(ctx, []string{a1})
	require.NoError(t, err)
	require.Len(t, vs, 2)

	var m models.VariantRef
	for _, v := range vs {
		if v.Size == "M" {
			m = v
		}
	}
	require.NotEmpty(t, m.ID)
	require.NoError(t, store.UpsertVariants(ctx, []models.VariantRecord{{ID: m.ID, ProductID: a1, Size: "M", Stock: 9, SimpleCurve: 4}}))
	var got VariantModel
	require.NoError(t, store.db.First(&got, "id = ?", m.ID).Error)
	assert.Equal(t, 9, got.Stock)
	assert.Equal(t, 4, got.SimpleCurve)

	n, err := store.DeleteBrandCatalog(ctx, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	vs, err = store.FindVariantsByProductIDs(ctx, []string{a1, z9})
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, z9, vs[0].ProductID)
}

func TestGormStore_EmptyInputs(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	refs, err := store.FindProductsBySKUs(ctx, "brand-1", nil)
	assert.NoError(t, err)
	assert.Empty(t, refs)
	assert.NoError(t, store.UpsertProducts(ctx, nil))
	assert.NoError(t, store.InsertVariants(ctx, nil))
}
