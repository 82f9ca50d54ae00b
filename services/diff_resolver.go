package services

import (
	"context"

	"catalog-import-service/models"
	"catalog-import-service/repository"
)

// DiffResolver splits a batch into inserts and updates against the store.
type DiffResolver struct {
	store   repository.CatalogStore
	timeout callTimeout
}

func NewDiffResolver(store repository.CatalogStore, timeout callTimeout) *DiffResolver {
	return &DiffResolver{store: store, timeout: timeout}
}

// Resolve issues a single existence read for the batch SKUs. A failed read
// returns *BatchReadError and no plan.
func (r *DiffResolver) Resolve(ctx context.Context, brand string, index int, batch []*models.Product) (models.BatchPlan, error) {
	skus := make([]string, 0, len(batch))
	for _, p := range batch {
		skus = append(skus, p.SKU)
	}

	callCtx, cancel := r.timeout.wrap(ctx)
	existing, err := r.store.FindProductsBySKUs(callCtx, brand, skus)
	cancel()
	if err != nil {
		return models.BatchPlan{}, &BatchReadError{Batch: index, Err: err}
	}
	return ClassifyBatch(index, batch, existing), nil
}

// ClassifyBatch is the pure half of Resolve: products whose SKU exists become
// updates carrying the existing ID, the rest become inserts. Input products
// are not mutated; updates are copies.
func ClassifyBatch(index int, batch []*models.Product, existing []models.ProductRef) models.BatchPlan {
	ids := make(map[string]string, len(existing))
	for _, e := range existing {
		ids[e.SKU] = e.ID
	}

	plan := models.BatchPlan{Index: index}
	for _, p := range batch {
		id, ok := ids[p.SKU]
		if !ok {
			plan.Inserts = append(plan.Inserts, p)
			continue
		}
		upd := *p
		upd.ID = id
		plan.Updates = append(plan.Updates, &upd)
	}
	return plan
}
