package events

import (
	"context"
	"time"

	"catalog-import-service/models"

	"go.uber.org/zap"
)

// Sink delivers import events to a message broker.
type Sink interface {
	Publish(ctx context.Context, event models.ImportEvent) error
	Close() error
}

// Publisher turns run progress into events. Delivery failures are logged and
// never affect the import.
type Publisher struct {
	sink Sink
	now  func() time.Time
}

func NewPublisher(sink Sink) *Publisher {
	return &Publisher{sink: sink, now: time.Now}
}

func (p *Publisher) OnPhaseChange(ctx context.Context, state models.ImportRunState) {
	p.publish(ctx, models.ImportEvent{
		Type:      models.EventImportPhase,
		Brand:     state.Brand,
		UploadID:  state.UploadID,
		Phase:     state.Phase,
		Timestamp: p.now().UTC(),
	})
}

func (p *Publisher) OnBatchComplete(ctx context.Context, state models.ImportRunState, result models.BatchResult) {
	p.publish(ctx, models.ImportEvent{
		Type:      models.EventImportBatch,
		Brand:     state.Brand,
		UploadID:  state.UploadID,
		Phase:     state.Phase,
		Batch:     &result,
		Timestamp: p.now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, event models.ImportEvent) {
	if p == nil || p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, event); err != nil {
		zap.L().Warn("failed to publish import event",
			zap.String("type", event.Type),
			zap.String("brand", event.Brand),
			zap.Error(err),
		)
	}
}

// Close releases the underlying sink.
func (p *Publisher) Close() error {
	if p == nil || p.sink == nil {
		return nil
	}
	return p.sink.Close()
}
