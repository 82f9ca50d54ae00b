package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"catalog-import-service/models"
	"catalog-import-service/repository"

	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize     = 50
	DefaultThrottleDelay = 100 * time.Millisecond
)

// PipelineOptions tunes the upload phase.
type PipelineOptions struct {
	BatchSize     int
	ThrottleDelay time.Duration
	CallTimeout   time.Duration
}

func (o PipelineOptions) withDefaults() PipelineOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ThrottleDelay < 0 {
		o.ThrottleDelay = 0
	}
	return o
}

// RunControl is the cooperative cancellation flag of one run.
type RunControl struct {
	cancelled atomic.Bool
}

func (c *RunControl) Cancel() { c.cancelled.Store(true) }

func (c *RunControl) Cancelled() bool { return c != nil && c.cancelled.Load() }

// StopReason says why the batch loop ended.
type StopReason int

const (
	StopFinished StopReason = iota
	StopCancelled
	StopInterrupted
)

// UploadInput is everything the batch loop needs for one run.
type UploadInput struct {
	Brand      string
	Batches    [][]*models.Product
	StartBatch int
	Tracker    *ProgressTracker
	Control    *RunControl
	Summary    *models.ImportSummary
}

// Pipeline runs the per-batch resolve/write/variant sequence.
type Pipeline struct {
	resolver *DiffResolver
	writer   *BatchWriter
	variants *VariantWriter
	opts     PipelineOptions
}

func NewPipeline(store repository.CatalogStore, opts PipelineOptions) *Pipeline {
	opts = opts.withDefaults()
	timeout := callTimeout(opts.CallTimeout)
	return &Pipeline{
		resolver: NewDiffResolver(store, timeout),
		writer:   NewBatchWriter(store, timeout),
		variants: NewVariantWriter(store, timeout),
		opts:     opts,
	}
}

// BatchSize is the configured batch size for new runs.
func (p *Pipeline) BatchSize() int { return p.opts.BatchSize }

// Upload processes batches sequentially starting at in.StartBatch. Batch
// failures are recorded in the summary and never stop the loop; only the
// cancel flag or ctx do, checked once before each batch. A batch that fails
// while ctx is done is not recorded and ends the loop as interrupted.
func (p *Pipeline) Upload(ctx context.Context, in UploadInput) StopReason {
	limiter := rate.NewLimiter(rate.Every(p.opts.ThrottleDelay), 1)
	processed := 0
	if in.Tracker != nil {
		processed = in.Tracker.State().Progress.Current
	}

	for i := in.StartBatch; i < len(in.Batches); i++ {
		if in.Control.Cancelled() {
			return StopCancelled
		}
		if ctx.Err() != nil {
			return StopInterrupted
		}
		if err := limiter.Wait(ctx); err != nil {
			return StopInterrupted
		}

		// A started batch runs to the end of its store calls; shutdown only
		// takes effect between batches. CallTimeout still bounds each call.
		batchCtx := context.WithoutCancel(ctx)
		batch := in.Batches[i]
		result, err := p.runBatch(batchCtx, in.Brand, i, batch)
		if err != nil && ctx.Err() != nil {
			// The failure may be the interruption itself. Leave the batch
			// unrecorded so a resume replays it.
			return StopInterrupted
		}
		processed += len(batch)
		result.Processed = processed

		if in.Summary != nil {
			in.Summary.Add(result)
			if err != nil {
				in.Summary.Errors = append(in.Summary.Errors, batchError(i, result.Stage, err, batch))
			}
			if result.VariantsOrphaned > 0 {
				in.Summary.Errors = append(in.Summary.Errors, models.ImportError{
					Batch: i,
					Stage: StageOrphanVariants,
					Error: fmt.Sprintf("%d variant(s) dropped: parent product has no identifier", result.VariantsOrphaned),
				})
			}
		}
		if in.Tracker != nil {
			in.Tracker.BatchDone(batchCtx, result)
		}
	}
	return StopFinished
}

func (p *Pipeline) runBatch(ctx context.Context, brand string, index int, batch []*models.Product) (models.BatchResult, error) {
	start := time.Now()
	result := models.BatchResult{Index: index, Size: len(batch)}

	plan, err := p.resolver.Resolve(ctx, brand, index, batch)
	if err != nil {
		return p.fail(result, batch, StageRead, err, start), err
	}

	parents, err := p.writer.Write(ctx, plan)
	result.ProductsInserted = parents.Inserted
	result.ProductsUpdated = parents.Updated
	if err != nil {
		return p.fail(result, batch, stageOf(err, StageInsert), err, start), err
	}

	variants, err := p.variants.Write(ctx, index, parents.ParentIDs, batch)
	result.VariantsInserted = variants.Inserted
	result.VariantsUpdated = variants.Updated
	result.VariantsOrphaned = variants.Orphaned
	if err != nil {
		return p.fail(result, batch, stageOf(err, StageVariantRead), err, start), err
	}

	result.Success = true
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// fail marks the batch failed. Variants the batch did not write or drop as
// orphans are counted as failed.
func (p *Pipeline) fail(result models.BatchResult, batch []*models.Product, stage string, err error, start time.Time) models.BatchResult {
	pending := 0
	for _, prod := range batch {
		pending += len(prod.Variants)
	}
	result.VariantsFailed = pending - result.VariantsInserted - result.VariantsUpdated - result.VariantsOrphaned
	result.Success = false
	result.Stage = stage
	result.Error = err.Error()
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func stageOf(err error, fallback string) string {
	var we *BatchWriteError
	if errors.As(err, &we) {
		return we.Stage
	}
	return fallback
}

func batchError(index int, stage string, err error, batch []*models.Product) models.ImportError {
	skus := make([]string, 0, len(batch))
	for _, p := range batch {
		skus = append(skus, p.SKU)
	}
	return models.ImportError{Batch: index, Stage: stage, Error: err.Error(), SKUs: skus}
}
