package repository

import (
	"context"
	"errors"
	"fmt"

	"catalog-import-service/models"
)

// Table names shared by every catalog adapter.
const (
	ProductsTable = "products"
	VariantsTable = "product_variants"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("record not found")

// PartialWriteError reports a bulk write that failed after its first Written
// requests were committed. Requests past Written may be partly applied too.
type PartialWriteError struct {
	Written int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%v (%d written before the failure)", e.Err, e.Written)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// CatalogStore is the backing store used by the import pipeline. Each method
// is one bulk call. An adapter that has to split a call into several commits
// reports a failure after the first commit as *PartialWriteError.
type CatalogStore interface {
	// FindProductsBySKUs returns existing products of brand whose SKU is in skus.
	FindProductsBySKUs(ctx context.Context, brand string, skus []string) ([]models.ProductRef, error)
	// InsertProducts creates products and returns the assigned identifiers.
	// On a *PartialWriteError the refs of the committed products are returned
	// with it.
	InsertProducts(ctx context.Context, products []*models.Product) ([]models.ProductRef, error)
	// UpsertProducts writes products keyed by their existing ID.
	UpsertProducts(ctx context.Context, products []*models.Product) error
	FindVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.VariantRef, error)
	InsertVariants(ctx context.Context, variants []models.VariantRecord) error
	// UpsertVariants writes variants keyed by their existing ID.
	UpsertVariants(ctx context.Context, variants []models.VariantRecord) error
	// DeleteBrandCatalog removes every product and variant of brand and
	// returns the number of products removed.
	DeleteBrandCatalog(ctx context.Context, brand string) (int64, error)
}

// ProgressStore persists one ImportRunState per brand.
type ProgressStore interface {
	Save(ctx context.Context, state models.ImportRunState) error
	// Load returns ErrNotFound when nothing is stored for brand.
	Load(ctx context.Context, brand string) (*models.ImportRunState, error)
	Delete(ctx context.Context, brand string) error
}

// UploadStore keeps staged import files until their run finishes.
type UploadStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
