package controllers

import (
	"context"
	"time"

	"catalog-import-service/models"
	"catalog-import-service/services"
)

const (
	DefaultContextTimeout = 30 * time.Second
	MaxUploadSize         = 50 * 1024 * 1024 // 50MB
)

// ImportServiceAPI is the import facade used by the handlers.
type ImportServiceAPI interface {
	Stage(ctx context.Context, brand, fileName string, data []byte) (services.ImportRequest, error)
	Import(ctx context.Context, req services.ImportRequest) (*models.ImportSummary, error)
	Validate(ctx context.Context, brand, fileName string, data []byte) (*models.ImportValidation, error)
	ResumableRun(ctx context.Context, brand string) (*models.ImportRunState, error)
	Resume(ctx context.Context, brand string) (*models.ImportSummary, error)
	Cancel(ctx context.Context, brand string) error
	DeleteCatalog(ctx context.Context, brand string) (int64, error)
	Active(brand string) bool
}

// JobQueueAPI queues imports for the background worker.
type JobQueueAPI interface {
	Enqueue(ctx context.Context, kind string, req services.ImportRequest) (*services.ImportJob, error)
	Get(ctx context.Context, id string) (*services.ImportJob, error)
}
