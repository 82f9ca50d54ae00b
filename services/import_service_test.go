package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"catalog-import-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogCSV = "sku,name,talle,curva_simple,stock,precio\n" +
	"A1,Runner,M,2,10,59.90\n" +
	"A1,Runner,L,1,5,59.90\n" +
	"B2,Walker,S,1,3,20\n" +
	"C3,Trail,42,0,1,80\n" +
	",Nameless,M,1,1,1\n"

type serviceFixture struct {
	svc      *ImportService
	store    *memStore
	progress *memProgress
	uploads  *memUploads
	obs      *recordingObserver
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		store:    newMemStore(),
		progress: newMemProgress(),
		uploads:  newMemUploads(),
		obs:      &recordingObserver{},
	}
	f.svc = NewImportService(f.store, f.progress, f.uploads, ImportOptions{
		Pipeline: PipelineOptions{BatchSize: 2},
	}, f.obs)
	return f
}

func (f *serviceFixture) stage(t *testing.T, name, data string) ImportRequest {
	t.Helper()
	req, err := f.svc.Stage(context.Background(), "brand-1", name, []byte(data))
	require.NoError(t, err)
	return req
}

func TestImportService_Stage(t *testing.T) {
	f := newServiceFixture()
	req := f.stage(t, "Catalog.CSV", catalogCSV)
	assert.Equal(t, "brand-1", req.Brand)
	assert.Equal(t, req.UploadID+".csv", req.UploadKey)
	assert.True(t, f.uploads.has(req.UploadKey))

	_, err := f.svc.Stage(context.Background(), "brand-1", "catalog.pdf", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestImportService_Import(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh import inserts everything and cleans up", func(t *testing.T) {
		f := newServiceFixture()
		req := f.stage(t, "catalog.csv", catalogCSV)

		summary, err := f.svc.Import(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, models.PhaseCompleted, summary.Phase)
		assert.Equal(t, 5, summary.TotalRows)
		assert.Equal(t, 3, summary.TotalProducts)
		assert.Equal(t, 4, summary.TotalVariants)
		assert.Equal(t, 2, summary.TotalBatches)
		assert.Equal(t, 3, summary.ProductsInserted)
		assert.Equal(t, 4, summary.VariantsInserted)
		require.Len(t, summary.SkippedRows, 1)
		assert.Equal(t, 6, summary.SkippedRows[0].Line)

		a1 := f.store.productBySKU("A1")
		require.NotNil(t, a1)
		assert.Equal(t, "brand-1", a1.Brand)
		assert.Len(t, f.store.variantsOf(a1.ID), 2)

		_, err = f.progress.Load(ctx, "brand-1")
		assert.Error(t, err, "completed runs leave no progress record")
		assert.False(t, f.uploads.has(req.UploadKey))
		assert.False(t, f.svc.Active("brand-1"))
		assert.Equal(t, []models.ImportPhase{
			models.PhaseParsing, models.PhasePreparing, models.PhaseUploading, models.PhaseCompleted,
		}, f.obs.phases)
	})

	t.Run("re-import updates in place", func(t *testing.T) {
		f := newServiceFixture()
		_, err := f.svc.Import(ctx, f.stage(t, "catalog.csv", catalogCSV))
		require.NoError(t, err)

		summary, err := f.svc.Import(ctx, f.stage(t, "catalog.csv", catalogCSV))
		require.NoError(t, err)
		assert.Zero(t, summary.ProductsInserted)
		assert.Equal(t, 3, summary.ProductsUpdated)
		assert.Equal(t, 4, summary.VariantsUpdated)
		assert.Len(t, f.store.variantsOf(f.store.productBySKU("A1").ID), 2)
	})

	t.Run("parse error aborts before any write", func(t *testing.T) {
		f := newServiceFixture()
		req := f.stage(t, "catalog.csv", "sku,size\nA1,M,extra\n")

		summary, err := f.svc.Import(ctx, req)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		require.NotNil(t, summary)
		assert.Equal(t, models.PhaseError, summary.Phase)
		require.Len(t, summary.Errors, 1)
		assert.Equal(t, StageParse, summary.Errors[0].Stage)
		assert.Equal(t, 2, summary.Errors[0].Line)
		assert.Zero(t, f.store.count("FindProductsBySKUs"))

		saved, err := f.progress.Load(ctx, "brand-1")
		require.NoError(t, err)
		assert.Equal(t, models.PhaseError, saved.Phase)
		assert.False(t, saved.IsUploading)
	})

	t.Run("missing upload fails the run", func(t *testing.T) {
		f := newServiceFixture()
		summary, err := f.svc.Import(ctx, ImportRequest{Brand: "brand-1", FileName: "x.csv", UploadKey: "gone.csv"})
		require.Error(t, err)
		assert.Equal(t, models.PhaseError, summary.Phase)
	})

	t.Run("a failed batch does not stop the run", func(t *testing.T) {
		f := newServiceFixture()
		f.store.fail("FindProductsBySKUs", errors.New("timeout"), 1)

		summary, err := f.svc.Import(ctx, f.stage(t, "catalog.csv", catalogCSV))
		require.NoError(t, err)
		assert.Equal(t, models.PhaseCompleted, summary.Phase)
		assert.Equal(t, 1, summary.FailedBatches)
		assert.Equal(t, 1, summary.ProductsInserted)
		assert.NotNil(t, f.store.productBySKU("C3"))
	})

	t.Run("one run per brand", func(t *testing.T) {
		f := newServiceFixture()
		_, err := f.svc.acquire("brand-1")
		require.NoError(t, err)

		_, err = f.svc.Import(ctx, f.stage(t, "catalog.csv", catalogCSV))
		assert.ErrorIs(t, err, ErrImportInProgress)
		_, err = f.svc.ResumableRun(ctx, "brand-1")
		assert.ErrorIs(t, err, ErrImportInProgress)
		_, err = f.svc.DeleteCatalog(ctx, "brand-1")
		assert.ErrorIs(t, err, ErrImportInProgress)

		f.svc.release("brand-1")
		_, err = f.svc.Import(ctx, f.stage(t, "catalog.csv", catalogCSV))
		assert.NoError(t, err)
	})
}

func TestImportService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("active run stops and forgets its state", func(t *testing.T) {
		f := newServiceFixture()
		f.obs.onBatch = func(models.BatchResult) {
			require.NoError(t, f.svc.Cancel(ctx, "brand-1"))
		}
		req := f.stage(t, "catalog.csv", catalogCSV)

		summary, err := f.svc.Import(ctx, req)
		require.NoError(t, err)
		assert.True(t, summary.Cancelled)
		assert.Len(t, summary.BatchResults, 1)
		assert.Nil(t, f.store.productBySKU("C3"))

		_, err = f.progress.Load(ctx, "brand-1")
		assert.Error(t, err)
		assert.False(t, f.uploads.has(req.UploadKey))
	})

	t.Run("persisted run is discarded", func(t *testing.T) {
		f := newServiceFixture()
		require.NoError(t, f.uploads.Put(ctx, "u.csv", []byte(catalogCSV)))
		require.NoError(t, f.progress.Save(ctx, models.ImportRunState{Brand: "brand-1", UploadKey: "u.csv", IsUploading: true}))

		require.NoError(t, f.svc.Cancel(ctx, "brand-1"))
		_, err := f.progress.Load(ctx, "brand-1")
		assert.Error(t, err)
		assert.False(t, f.uploads.has("u.csv"))
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		f := newServiceFixture()
		assert.ErrorIs(t, f.svc.Cancel(ctx, "brand-1"), ErrNoResumableRun)
	})
}

func TestImportService_InterruptAndResume(t *testing.T) {
	f := newServiceFixture()
	req := f.stage(t, "catalog.csv", catalogCSV)

	runCtx, stop := context.WithCancel(context.Background())
	var once sync.Once
	f.obs.onBatch = func(models.BatchResult) { once.Do(stop) }

	summary, err := f.svc.Import(runCtx, req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, summary.BatchResults, 1)
	assert.Nil(t, f.store.productBySKU("C3"))

	ctx := context.Background()
	saved, err := f.progress.Load(ctx, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseUploading, saved.Phase)
	assert.True(t, saved.IsUploading)
	assert.Equal(t, 0, saved.LastCompletedBatch)
	assert.Equal(t, 2, saved.Progress.Current)
	assert.True(t, f.uploads.has(req.UploadKey))

	state, err := f.svc.ResumableRun(ctx, "brand-1")
	require.NoError(t, err)
	assert.True(t, state.CanResume)
	assert.Equal(t, req.UploadID, state.UploadID)

	reads := f.store.count("FindProductsBySKUs")
	resumed, err := f.svc.Resume(ctx, "brand-1")
	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, 1, resumed.StartBatch)
	assert.Equal(t, models.PhaseCompleted, resumed.Phase)
	assert.Equal(t, 1, resumed.ProductsInserted)
	assert.Equal(t, reads+1, f.store.count("FindProductsBySKUs"))
	assert.NotNil(t, f.store.productBySKU("C3"))

	_, err = f.progress.Load(ctx, "brand-1")
	assert.Error(t, err)
	assert.False(t, f.uploads.has(req.UploadKey))

	_, err = f.svc.ResumableRun(ctx, "brand-1")
	assert.ErrorIs(t, err, ErrNoResumableRun)
}

func TestImportService_InterruptedBatchIsReplayed(t *testing.T) {
	f := newServiceFixture()
	req := f.stage(t, "catalog.csv", catalogCSV)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	store := &interruptingStore{memStore: f.store, runCtx: runCtx, cancel: stop, onCall: 1, failCall: true}
	f.svc = NewImportService(store, f.progress, f.uploads, ImportOptions{
		Pipeline: PipelineOptions{BatchSize: 2},
	}, f.obs)

	summary, err := f.svc.Import(runCtx, req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.BatchResults)

	ctx := context.Background()
	saved, err := f.progress.Load(ctx, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, -1, saved.LastCompletedBatch)
	assert.Zero(t, saved.Progress.Current)

	resumed, err := f.svc.Resume(ctx, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, 0, resumed.StartBatch)
	assert.Equal(t, models.PhaseCompleted, resumed.Phase)
	assert.Equal(t, 3, resumed.ProductsInserted)
	assert.Equal(t, 4, resumed.VariantsInserted)
	for _, sku := range []string{"A1", "B2", "C3"} {
		assert.NotNil(t, f.store.productBySKU(sku), sku)
	}
}

func TestImportService_PendingRunOnFreshImport(t *testing.T) {
	ctx := context.Background()

	interrupt := func(t *testing.T, f *serviceFixture) ImportRequest {
		t.Helper()
		req := f.stage(t, "catalog.csv", catalogCSV)
		runCtx, stop := context.WithCancel(ctx)
		var once sync.Once
		f.obs.onBatch = func(models.BatchResult) { once.Do(stop) }
		_, err := f.svc.Import(runCtx, req)
		require.ErrorIs(t, err, context.Canceled)
		f.obs.onBatch = nil
		return req
	}

	t.Run("resumable run is surfaced, not overwritten", func(t *testing.T) {
		f := newServiceFixture()
		first := interrupt(t, f)
		second := f.stage(t, "catalog.csv", catalogCSV)

		summary, err := f.svc.Import(ctx, second)
		assert.ErrorIs(t, err, ErrResumableRunPending)
		assert.Nil(t, summary)
		assert.False(t, f.uploads.has(second.UploadKey))
		assert.True(t, f.uploads.has(first.UploadKey))

		state, err := f.svc.ResumableRun(ctx, "brand-1")
		require.NoError(t, err)
		assert.Equal(t, first.UploadID, state.UploadID)
		assert.True(t, state.CanResume)
	})

	t.Run("discard drops the pending run and its upload", func(t *testing.T) {
		f := newServiceFixture()
		first := interrupt(t, f)
		second := f.stage(t, "catalog.csv", catalogCSV)
		second.DiscardPending = true

		summary, err := f.svc.Import(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseCompleted, summary.Phase)
		assert.False(t, f.uploads.has(first.UploadKey))
		assert.NotNil(t, f.store.productBySKU("C3"))

		_, err = f.svc.ResumableRun(ctx, "brand-1")
		assert.ErrorIs(t, err, ErrNoResumableRun)
	})

	t.Run("failed run left behind is cleaned up", func(t *testing.T) {
		f := newServiceFixture()
		require.NoError(t, f.uploads.Put(ctx, "old.csv", []byte("sku\n")))
		require.NoError(t, f.progress.Save(ctx, models.ImportRunState{
			Brand:     "brand-1",
			UploadKey: "old.csv",
			Phase:     models.PhaseError,
			Timestamp: time.Now().UnixMilli(),
		}))

		_, err := f.svc.Import(ctx, f.stage(t, "catalog.csv", catalogCSV))
		require.NoError(t, err)
		assert.False(t, f.uploads.has("old.csv"))
	})
}

func TestImportService_SummaryReconcilesVariants(t *testing.T) {
	f := newServiceFixture()
	f.store.fail("InsertProducts", errors.New("constraint"), 1)

	summary, err := f.svc.Import(context.Background(), f.stage(t, "catalog.csv", catalogCSV))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, 1, summary.VariantsInserted)
	assert.Equal(t, 3, summary.VariantsFailed)
	assert.Equal(t, summary.TotalVariants,
		summary.VariantsInserted+summary.VariantsUpdated+summary.VariantsOrphaned+summary.VariantsFailed)
}

func TestImportService_StaleRunIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	require.NoError(t, f.uploads.Put(ctx, "u.csv", []byte(catalogCSV)))
	require.NoError(t, f.progress.Save(ctx, models.ImportRunState{
		Brand:       "brand-1",
		UploadKey:   "u.csv",
		Phase:       models.PhaseUploading,
		IsUploading: true,
		Timestamp:   time.Now().Add(-2 * time.Hour).UnixMilli(),
	}))

	_, err := f.svc.Resume(ctx, "brand-1")
	assert.ErrorIs(t, err, ErrNoResumableRun)
	_, err = f.progress.Load(ctx, "brand-1")
	assert.Error(t, err)
	assert.False(t, f.uploads.has("u.csv"))
}

func TestImportService_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("classifies without writing", func(t *testing.T) {
		f := newServiceFixture()
		_, err := f.store.InsertProducts(ctx, []*models.Product{product("B2")})
		require.NoError(t, err)
		inserts := f.store.count("InsertProducts")

		v, err := f.svc.Validate(ctx, "brand-1", "catalog.csv", []byte(catalogCSV))
		require.NoError(t, err)
		assert.Equal(t, 3, v.TotalProducts)
		assert.Equal(t, 4, v.TotalVariants)
		assert.Equal(t, 2, v.TotalBatches)
		assert.Equal(t, 2, v.WouldInsert)
		assert.Equal(t, 1, v.WouldUpdate)
		assert.Len(t, v.SkippedRows, 1)
		assert.Equal(t, inserts, f.store.count("InsertProducts"))
	})

	t.Run("parse errors are reported, not returned", func(t *testing.T) {
		f := newServiceFixture()
		v, err := f.svc.Validate(ctx, "brand-1", "catalog.csv", []byte("name\nx\n"))
		require.NoError(t, err)
		require.Len(t, v.ParseErrors, 1)
		assert.Equal(t, 1, v.ParseErrors[0].Line)
	})

	t.Run("failed reads leave skus unchecked", func(t *testing.T) {
		f := newServiceFixture()
		f.store.fail("FindProductsBySKUs", errors.New("down"), 2)
		v, err := f.svc.Validate(ctx, "brand-1", "catalog.csv", []byte(catalogCSV))
		require.NoError(t, err)
		assert.Equal(t, 1, v.UncheckedSKUs)
		assert.Equal(t, 2, v.WouldInsert)
		require.Len(t, v.Errors, 1)
		assert.Equal(t, 1, v.Errors[0].Batch)
	})
}

func TestImportService_DeleteCatalog(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	_, err := f.svc.Import(ctx, f.stage(t, "catalog.csv", catalogCSV))
	require.NoError(t, err)

	n, err := f.svc.DeleteCatalog(ctx, "brand-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Nil(t, f.store.productBySKU("A1"))

	f.store.fail("DeleteBrandCatalog", errors.New("down"), 0)
	_, err = f.svc.DeleteCatalog(ctx, "brand-1")
	assert.Error(t, err)
}
