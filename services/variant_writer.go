package services

import (
	"context"

	"catalog-import-service/models"
	"catalog-import-service/repository"

	"go.uber.org/zap"
)

// VariantWriter writes the size variants of one batch once parent
// identifiers are known.
type VariantWriter struct {
	store   repository.CatalogStore
	timeout callTimeout
}

func NewVariantWriter(store repository.CatalogStore, timeout callTimeout) *VariantWriter {
	return &VariantWriter{store: store, timeout: timeout}
}

type variantKey struct {
	productID string
	size      string
}

// Write reads existing variants for all parents in one call, then issues one
// bulk insert and one bulk upsert. Variants of products without a parent ID
// are not submitted and are counted as orphaned.
func (w *VariantWriter) Write(ctx context.Context, batch int, parentIDs map[string]string, products []*models.Product) (models.VariantWriteResult, error) {
	var res models.VariantWriteResult

	var pending []models.VariantRecord
	parents := make([]string, 0, len(parentIDs))
	seenParent := make(map[string]bool, len(parentIDs))
	for _, p := range products {
		res.Pending += len(p.Variants)
		id, ok := parentIDs[p.SKU]
		if !ok {
			res.Orphaned += len(p.Variants)
			continue
		}
		if !seenParent[id] {
			seenParent[id] = true
			parents = append(parents, id)
		}
		for _, v := range p.Variants {
			pending = append(pending, models.VariantRecord{
				ProductID:       id,
				Size:            v.Size,
				Stock:           v.Stock,
				SimpleCurve:     v.SimpleCurve,
				ReinforcedCurve: v.ReinforcedCurve,
			})
		}
	}
	res.Submitted = len(pending)
	if res.Orphaned > 0 {
		zap.L().Warn("dropping variants without a parent product",
			zap.Int("batch", batch),
			zap.Int("orphaned", res.Orphaned),
		)
	}
	if len(pending) == 0 {
		return res, nil
	}

	callCtx, cancel := w.timeout.wrap(ctx)
	existing, err := w.store.FindVariantsByProductIDs(callCtx, parents)
	cancel()
	if err != nil {
		return res, &BatchWriteError{Batch: batch, Stage: StageVariantRead, Err: err}
	}
	ids := make(map[variantKey]string, len(existing))
	for _, e := range existing {
		ids[variantKey{e.ProductID, e.Size}] = e.ID
	}

	var inserts, updates []models.VariantRecord
	for _, rec := range pending {
		if id, ok := ids[variantKey{rec.ProductID, rec.Size}]; ok {
			rec.ID = id
			updates = append(updates, rec)
			continue
		}
		inserts = append(inserts, rec)
	}

	if len(inserts) > 0 {
		callCtx, cancel := w.timeout.wrap(ctx)
		err := w.store.InsertVariants(callCtx, inserts)
		cancel()
		if err != nil {
			return res, &BatchWriteError{Batch: batch, Stage: StageVariantInsert, Err: err}
		}
		res.Inserted = len(inserts)
	}
	if len(updates) > 0 {
		callCtx, cancel := w.timeout.wrap(ctx)
		err := w.store.UpsertVariants(callCtx, updates)
		cancel()
		if err != nil {
			return res, &BatchWriteError{Batch: batch, Stage: StageVariantUpdate, Err: err}
		}
		res.Updated = len(updates)
	}
	return res, nil
}
