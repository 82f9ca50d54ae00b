package services

import (
	"context"

	"catalog-import-service/models"

	"go.uber.org/zap"
)

// LogObserver writes run progress to the global zap logger.
type LogObserver struct{}

func (LogObserver) OnPhaseChange(_ context.Context, state models.ImportRunState) {
	zap.L().Info("import phase changed",
		zap.String("brand", state.Brand),
		zap.String("upload_id", state.UploadID),
		zap.String("phase", string(state.Phase)),
		zap.Int("current", state.Progress.Current),
		zap.Int("total", state.Progress.Total),
	)
}

func (LogObserver) OnBatchComplete(_ context.Context, state models.ImportRunState, r models.BatchResult) {
	fields := []zap.Field{
		zap.String("brand", state.Brand),
		zap.String("upload_id", state.UploadID),
		zap.Int("batch", r.Index),
		zap.Int("products_inserted", r.ProductsInserted),
		zap.Int("products_updated", r.ProductsUpdated),
		zap.Int("variants_inserted", r.VariantsInserted),
		zap.Int("variants_updated", r.VariantsUpdated),
		zap.Int("variants_orphaned", r.VariantsOrphaned),
		zap.Int("variants_failed", r.VariantsFailed),
		zap.Int("current", state.Progress.Current),
		zap.Int("total", state.Progress.Total),
	}
	if !r.Success {
		zap.L().Warn("import batch failed", append(fields, zap.String("stage", r.Stage), zap.String("error", r.Error))...)
		return
	}
	zap.L().Info("import batch completed", fields...)
}

// MetricsRecorder is the subset of the CloudWatch metrics client used here.
type MetricsRecorder interface {
	RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error
}

// Metric names emitted per batch and per run.
const (
	MetricProductsInserted = "CatalogImportProductsInserted"
	MetricProductsUpdated  = "CatalogImportProductsUpdated"
	MetricVariantsWritten  = "CatalogImportVariantsWritten"
	MetricVariantsOrphaned = "CatalogImportVariantsOrphaned"
	MetricVariantsFailed   = "CatalogImportVariantsFailed"
	MetricBatchFailures    = "CatalogImportBatchFailures"
	MetricRunsCompleted    = "CatalogImportRunsCompleted"
	MetricRunsFailed       = "CatalogImportRunsFailed"
)

// MetricsObserver forwards batch counters to a metrics backend.
type MetricsObserver struct {
	Recorder MetricsRecorder
}

func (m MetricsObserver) OnPhaseChange(ctx context.Context, state models.ImportRunState) {
	switch state.Phase {
	case models.PhaseCompleted:
		m.record(ctx, MetricRunsCompleted, 1, state.Brand)
	case models.PhaseError:
		m.record(ctx, MetricRunsFailed, 1, state.Brand)
	}
}

func (m MetricsObserver) OnBatchComplete(ctx context.Context, state models.ImportRunState, r models.BatchResult) {
	if !r.Success {
		m.record(ctx, MetricBatchFailures, 1, state.Brand)
	}
	m.record(ctx, MetricProductsInserted, float64(r.ProductsInserted), state.Brand)
	m.record(ctx, MetricProductsUpdated, float64(r.ProductsUpdated), state.Brand)
	m.record(ctx, MetricVariantsWritten, float64(r.VariantsInserted+r.VariantsUpdated), state.Brand)
	if r.VariantsOrphaned > 0 {
		m.record(ctx, MetricVariantsOrphaned, float64(r.VariantsOrphaned), state.Brand)
	}
	if r.VariantsFailed > 0 {
		m.record(ctx, MetricVariantsFailed, float64(r.VariantsFailed), state.Brand)
	}
}

func (m MetricsObserver) record(ctx context.Context, name string, value float64, brand string) {
	if m.Recorder == nil {
		return
	}
	if err := m.Recorder.RecordValue(ctx, name, value, map[string]string{"Brand": brand}); err != nil {
		zap.L().Debug("failed to record import metric", zap.String("metric", name), zap.Error(err))
	}
}
