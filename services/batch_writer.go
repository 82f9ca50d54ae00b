package services

import (
	"context"
	"time"

	"catalog-import-service/models"
	"catalog-import-service/repository"
)

// callTimeout bounds a single store call. Zero disables it.
type callTimeout time.Duration

func (t callTimeout) wrap(ctx context.Context) (context.Context, context.CancelFunc) {
	if t <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(t))
}

// BatchWriter performs the product writes of one batch.
type BatchWriter struct {
	store   repository.CatalogStore
	timeout callTimeout
}

func NewBatchWriter(store repository.CatalogStore, timeout callTimeout) *BatchWriter {
	return &BatchWriter{store: store, timeout: timeout}
}

// Write runs one bulk insert and then one bulk upsert. The first failing call
// ends the batch with *BatchWriteError; identifiers already resolved are still
// returned.
func (w *BatchWriter) Write(ctx context.Context, plan models.BatchPlan) (models.ParentWriteResult, error) {
	res := models.ParentWriteResult{ParentIDs: make(map[string]string, len(plan.Inserts)+len(plan.Updates))}

	if len(plan.Inserts) > 0 {
		callCtx, cancel := w.timeout.wrap(ctx)
		refs, err := w.store.InsertProducts(callCtx, plan.Inserts)
		cancel()
		// refs may be non-empty on a partial write; those rows exist.
		for _, ref := range refs {
			if ref.ID == "" {
				continue
			}
			res.ParentIDs[ref.SKU] = ref.ID
		}
		res.Inserted = len(refs)
		if err != nil {
			return res, &BatchWriteError{Batch: plan.Index, Stage: StageInsert, Err: err}
		}
	}

	if len(plan.Updates) > 0 {
		callCtx, cancel := w.timeout.wrap(ctx)
		err := w.store.UpsertProducts(callCtx, plan.Updates)
		cancel()
		if err != nil {
			return res, &BatchWriteError{Batch: plan.Index, Stage: StageUpdate, Err: err}
		}
		for _, p := range plan.Updates {
			res.ParentIDs[p.SKU] = p.ID
		}
		res.Updated = len(plan.Updates)
	}
	return res, nil
}
