package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"catalog-import-service/models"
	"catalog-import-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImportOptions configures an ImportService.
type ImportOptions struct {
	Pipeline     PipelineOptions
	ResumeWindow time.Duration
	Parse        ParseOptions
}

// ImportRequest identifies a staged upload to import.
type ImportRequest struct {
	Brand     string `json:"brand"`
	FileName  string `json:"file_name"`
	UploadID  string `json:"upload_id"`
	UploadKey string `json:"upload_key"`
	// DiscardPending drops a resumable run of the brand instead of refusing
	// to start.
	DiscardPending bool `json:"discard_pending,omitempty"`
}

// ImportService is the entry point for catalog imports. It stages uploads,
// runs the pipeline and owns the per-brand run registry.
type ImportService struct {
	store     repository.CatalogStore
	progress  repository.ProgressStore
	uploads   repository.UploadStore
	pipeline  *Pipeline
	observers []ImportObserver
	opts      ImportOptions
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*RunControl
}

func NewImportService(
	store repository.CatalogStore,
	progress repository.ProgressStore,
	uploads repository.UploadStore,
	opts ImportOptions,
	observers ...ImportObserver,
) *ImportService {
	if opts.ResumeWindow <= 0 {
		opts.ResumeWindow = DefaultResumeWindow
	}
	return &ImportService{
		store:     store,
		progress:  progress,
		uploads:   uploads,
		pipeline:  NewPipeline(store, opts.Pipeline),
		observers: observers,
		opts:      opts,
		now:       time.Now,
		active:    make(map[string]*RunControl),
	}
}

// Stage stores an uploaded file so the run can be resumed from it later.
func (s *ImportService) Stage(ctx context.Context, brand, fileName string, data []byte) (ImportRequest, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", ".txt", ".xlsx":
	default:
		return ImportRequest{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	id := uuid.NewString()
	req := ImportRequest{Brand: brand, FileName: fileName, UploadID: id, UploadKey: id + ext}
	if err := s.uploads.Put(ctx, req.UploadKey, data); err != nil {
		return ImportRequest{}, fmt.Errorf("stage upload: %w", err)
	}
	return req, nil
}

// Import runs a fresh import of a staged upload. The returned summary is
// non-nil whenever the run got as far as parsing.
func (s *ImportService) Import(ctx context.Context, req ImportRequest) (*models.ImportSummary, error) {
	control, err := s.acquire(req.Brand)
	if err != nil {
		return nil, err
	}
	defer s.release(req.Brand)

	if err := s.settlePrevious(ctx, req); err != nil {
		if errors.Is(err, ErrResumableRunPending) {
			s.deleteUpload(ctx, req.UploadKey)
		}
		return nil, err
	}

	start := s.now()
	batchSize := s.pipeline.BatchSize()
	tracker := NewProgressTracker(s.progress, models.ImportRunState{
		Brand:              req.Brand,
		UploadID:           req.UploadID,
		UploadKey:          req.UploadKey,
		FileName:           req.FileName,
		BatchSize:          batchSize,
		LastCompletedBatch: -1,
	}, s.subscribers()...)
	summary := &models.ImportSummary{
		UploadID:  req.UploadID,
		Brand:     req.Brand,
		FileName:  req.FileName,
		BatchSize: batchSize,
	}

	if err := tracker.Transition(ctx, models.PhaseParsing); err != nil {
		return nil, err
	}
	group, err := s.load(ctx, req.UploadKey, req.FileName, req.Brand, summary)
	if err != nil {
		s.fail(ctx, tracker, summary, start)
		return summary, err
	}

	if err := tracker.Transition(ctx, models.PhasePreparing); err != nil {
		return summary, err
	}
	batches := SplitBatches(group.Products, batchSize)
	summary.TotalBatches = len(batches)
	tracker.SetTotal(ctx, len(group.Products))

	if err := tracker.Transition(ctx, models.PhaseUploading); err != nil {
		return summary, err
	}
	reason := s.pipeline.Upload(ctx, UploadInput{
		Brand:   req.Brand,
		Batches: batches,
		Tracker: tracker,
		Control: control,
		Summary: summary,
	})
	return s.finish(ctx, tracker, summary, reason, start)
}

// settlePrevious deals with the brand's persisted run before a fresh one
// overwrites it. A resumable run is surfaced as ErrResumableRunPending unless
// the request discards it; anything else left behind is discarded.
func (s *ImportService) settlePrevious(ctx context.Context, req ImportRequest) error {
	state, err := FindResumable(ctx, s.progress, req.Brand, s.now(), s.opts.ResumeWindow)
	if state == nil {
		if errors.Is(err, ErrNoResumableRun) {
			return nil
		}
		return err
	}
	if err == nil && !req.DiscardPending {
		zap.L().Info("fresh import refused: interrupted run pending",
			zap.String("brand", req.Brand),
			zap.String("pending_upload_id", state.UploadID),
			zap.Int("last_completed_batch", state.LastCompletedBatch),
		)
		return ErrResumableRunPending
	}
	if state.UploadKey == req.UploadKey {
		state.UploadKey = ""
	}
	s.discard(ctx, state)
	return nil
}

// ResumableRun surfaces an interrupted run for brand, if any, and marks it
// resumable.
func (s *ImportService) ResumableRun(ctx context.Context, brand string) (*models.ImportRunState, error) {
	if s.isActive(brand) {
		return nil, ErrImportInProgress
	}
	state, err := FindResumable(ctx, s.progress, brand, s.now(), s.opts.ResumeWindow)
	if errors.Is(err, ErrNoResumableRun) && state != nil && state.IsUploading {
		// Interrupted too long ago: nothing can pick it up any more.
		s.discard(ctx, state)
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Resume continues an interrupted run from the batch after the last one
// completed, using the batch size the run started with.
func (s *ImportService) Resume(ctx context.Context, brand string) (*models.ImportSummary, error) {
	state, err := s.ResumableRun(ctx, brand)
	if err != nil {
		return nil, err
	}
	control, err := s.acquire(brand)
	if err != nil {
		return nil, err
	}
	defer s.release(brand)

	accepted, err := AcceptResume(ctx, s.progress, *state, s.now())
	if err != nil {
		return nil, err
	}
	if accepted.BatchSize <= 0 {
		accepted.BatchSize = s.pipeline.BatchSize()
	}

	start := s.now()
	tracker := NewProgressTracker(s.progress, accepted, s.subscribers()...)
	summary := &models.ImportSummary{
		UploadID:   accepted.UploadID,
		Brand:      brand,
		FileName:   accepted.FileName,
		Phase:      models.PhaseUploading,
		BatchSize:  accepted.BatchSize,
		StartBatch: accepted.NextBatch(),
		Resumed:    true,
	}

	group, err := s.load(ctx, accepted.UploadKey, accepted.FileName, brand, summary)
	if err != nil {
		s.fail(ctx, tracker, summary, start)
		return summary, err
	}
	batches := SplitBatches(group.Products, accepted.BatchSize)
	summary.TotalBatches = len(batches)
	tracker.SetTotal(ctx, len(group.Products))

	zap.L().Info("resuming catalog import",
		zap.String("brand", brand),
		zap.String("upload_id", accepted.UploadID),
		zap.Int("start_batch", summary.StartBatch),
		zap.Int("total_batches", summary.TotalBatches),
	)

	reason := s.pipeline.Upload(ctx, UploadInput{
		Brand:      brand,
		Batches:    batches,
		StartBatch: summary.StartBatch,
		Tracker:    tracker,
		Control:    control,
		Summary:    summary,
	})
	return s.finish(ctx, tracker, summary, reason, start)
}

// Cancel stops the brand's active run before its next batch, or discards a
// persisted interrupted run.
func (s *ImportService) Cancel(ctx context.Context, brand string) error {
	s.mu.Lock()
	control, ok := s.active[brand]
	s.mu.Unlock()
	if ok {
		control.Cancel()
		return nil
	}

	state, err := s.progress.Load(ctx, brand)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoResumableRun
	}
	if err != nil {
		return fmt.Errorf("load import progress: %w", err)
	}
	s.discard(ctx, state)
	return nil
}

// Validate parses, groups and diff-classifies a file without writing.
func (s *ImportService) Validate(ctx context.Context, brand, fileName string, data []byte) (*models.ImportValidation, error) {
	rows, err := ParseFile(fileName, bytes.NewReader(data), s.opts.Parse)
	var pe *ParseError
	if errors.As(err, &pe) {
		return &models.ImportValidation{ParseErrors: parseErrors(pe)}, nil
	}
	if err != nil {
		return nil, err
	}

	group := GroupRows(brand, rows)
	batches := SplitBatches(group.Products, s.pipeline.BatchSize())
	v := &models.ImportValidation{
		TotalRows:     group.Rows,
		TotalProducts: len(group.Products),
		TotalVariants: group.VariantCount(),
		TotalBatches:  len(batches),
		SkippedRows:   group.Skipped,
	}
	for i, batch := range batches {
		plan, err := s.pipeline.resolver.Resolve(ctx, brand, i, batch)
		if err != nil {
			v.UncheckedSKUs += len(batch)
			v.Errors = append(v.Errors, batchError(i, StageRead, err, batch))
			continue
		}
		v.WouldInsert += len(plan.Inserts)
		v.WouldUpdate += len(plan.Updates)
	}
	return v, nil
}

// DeleteCatalog removes every product and variant of brand.
func (s *ImportService) DeleteCatalog(ctx context.Context, brand string) (int64, error) {
	if s.isActive(brand) {
		return 0, ErrImportInProgress
	}
	n, err := s.store.DeleteBrandCatalog(ctx, brand)
	if err != nil {
		return 0, fmt.Errorf("delete catalog: %w", err)
	}
	zap.L().Info("brand catalog deleted", zap.String("brand", brand), zap.Int64("products", n))
	return n, nil
}

// Active reports whether brand has a run in progress in this process.
func (s *ImportService) Active(brand string) bool { return s.isActive(brand) }

func (s *ImportService) load(ctx context.Context, key, fileName, brand string, summary *models.ImportSummary) (models.GroupResult, error) {
	data, err := s.uploads.Get(ctx, key)
	if err != nil {
		summary.Errors = append(summary.Errors, models.ImportError{Stage: StageParse, Error: err.Error()})
		return models.GroupResult{}, fmt.Errorf("read staged upload: %w", err)
	}
	rows, err := ParseFile(fileName, bytes.NewReader(data), s.opts.Parse)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			summary.Errors = append(summary.Errors, parseErrors(pe)...)
		}
		return models.GroupResult{}, err
	}

	group := GroupRows(brand, rows)
	summary.TotalRows = group.Rows
	summary.TotalProducts = len(group.Products)
	summary.TotalVariants = group.VariantCount()
	summary.SkippedRows = group.Skipped
	return group, nil
}

func (s *ImportService) fail(ctx context.Context, tracker *ProgressTracker, summary *models.ImportSummary, start time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := tracker.Transition(ctx, models.PhaseError); err != nil {
		zap.L().Warn("failed to mark import as failed", zap.Error(err))
	}
	summary.Phase = models.PhaseError
	summary.ProcessingMs = s.now().Sub(start).Milliseconds()
}

func (s *ImportService) finish(ctx context.Context, tracker *ProgressTracker, summary *models.ImportSummary, reason StopReason, start time.Time) (*models.ImportSummary, error) {
	cleanup := context.WithoutCancel(ctx)
	summary.ProcessingMs = s.now().Sub(start).Milliseconds()

	switch reason {
	case StopCancelled:
		tracker.Cancel(cleanup)
		s.deleteUpload(cleanup, tracker.State().UploadKey)
		summary.Cancelled = true
		summary.Phase = tracker.State().Phase
		zap.L().Info("catalog import cancelled", zap.String("brand", summary.Brand), zap.Int("processed", tracker.State().Progress.Current))
		return summary, nil
	case StopInterrupted:
		// State stays persisted so the run can be resumed.
		summary.Phase = tracker.State().Phase
		return summary, ctx.Err()
	}

	if err := tracker.Transition(cleanup, models.PhaseCompleted); err != nil {
		return summary, err
	}
	s.deleteUpload(cleanup, tracker.State().UploadKey)
	summary.Phase = models.PhaseCompleted
	zap.L().Info("catalog import completed",
		zap.String("brand", summary.Brand),
		zap.String("upload_id", summary.UploadID),
		zap.Int("products_inserted", summary.ProductsInserted),
		zap.Int("products_updated", summary.ProductsUpdated),
		zap.Int("variants_inserted", summary.VariantsInserted),
		zap.Int("variants_updated", summary.VariantsUpdated),
		zap.Int("variants_orphaned", summary.VariantsOrphaned),
		zap.Int("variants_failed", summary.VariantsFailed),
		zap.Int("failed_batches", summary.FailedBatches),
		zap.Int64("processing_ms", summary.ProcessingMs),
	)
	return summary, nil
}

func (s *ImportService) discard(ctx context.Context, state *models.ImportRunState) {
	if err := s.progress.Delete(ctx, state.Brand); err != nil && !errors.Is(err, repository.ErrNotFound) {
		zap.L().Warn("failed to delete import progress", zap.String("brand", state.Brand), zap.Error(err))
	}
	s.deleteUpload(ctx, state.UploadKey)
}

func (s *ImportService) deleteUpload(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.uploads.Delete(ctx, key); err != nil && !errors.Is(err, repository.ErrNotFound) {
		zap.L().Warn("failed to delete staged upload", zap.String("key", key), zap.Error(err))
	}
}

func (s *ImportService) subscribers() []ImportObserver {
	return append([]ImportObserver(nil), s.observers...)
}

func (s *ImportService) acquire(brand string) (*RunControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[brand]; ok {
		return nil, ErrImportInProgress
	}
	c := &RunControl{}
	s.active[brand] = c
	return c, nil
}

func (s *ImportService) release(brand string) {
	s.mu.Lock()
	delete(s.active, brand)
	s.mu.Unlock()
}

func (s *ImportService) isActive(brand string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[brand]
	return ok
}

func parseErrors(pe *ParseError) []models.ImportError {
	out := make([]models.ImportError, 0, len(pe.Errors))
	for _, le := range pe.Errors {
		out = append(out, models.ImportError{Line: le.Line, Stage: StageParse, Error: le.Reason})
	}
	return out
}
