package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-import-service/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	importQueueKey  = "catalog_import:queue"
	importJobPrefix = "catalog_import:job:"
	importJobTTL    = 24 * time.Hour
)

// Job kinds.
const (
	JobKindImport = "import"
	JobKindResume = "resume"
)

// Job statuses.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

var ErrJobNotFound = errors.New("import job not found")

// ImportJob is the metadata stored in Redis for an asynchronous import.
type ImportJob struct {
	ID        string                `json:"id"`
	Kind      string                `json:"kind"`
	Status    string                `json:"status"`
	Request   ImportRequest         `json:"request"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Error     string                `json:"error,omitempty"`
	Result    *models.ImportSummary `json:"result,omitempty"`
}

// JobQueue is a Redis list of job IDs plus one metadata key per job.
type JobQueue struct {
	rdb *redis.Client
}

func NewJobQueue(rdb *redis.Client) *JobQueue {
	return &JobQueue{rdb: rdb}
}

// Enqueue persists job metadata and pushes the job ID onto the queue.
func (q *JobQueue) Enqueue(ctx context.Context, kind string, req ImportRequest) (*ImportJob, error) {
	now := time.Now().UTC()
	job := &ImportJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	if err := q.rdb.RPush(ctx, importQueueKey, job.ID).Err(); err != nil {
		return nil, fmt.Errorf("enqueue import job: %w", err)
	}
	return job, nil
}

// Get returns the job metadata, or ErrJobNotFound.
func (q *JobQueue) Get(ctx context.Context, id string) (*ImportJob, error) {
	val, err := q.rdb.Get(ctx, importJobPrefix+id).Result()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	var job ImportJob
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, fmt.Errorf("decode import job: %w", err)
	}
	return &job, nil
}

func (q *JobQueue) save(ctx context.Context, job *ImportJob) error {
	job.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode import job: %w", err)
	}
	if err := q.rdb.Set(ctx, importJobPrefix+job.ID, b, importJobTTL).Err(); err != nil {
		return fmt.Errorf("save import job: %w", err)
	}
	return nil
}

// StartImportWorker consumes job IDs from the Redis queue and runs them one
// at a time until ctx is done.
func StartImportWorker(ctx context.Context, q *JobQueue, svc *ImportService) {
	if q == nil || q.rdb == nil || svc == nil {
		zap.L().Warn("import worker not started: missing dependencies")
		return
	}

	go func() {
		zap.L().Info("import worker started", zap.String("queue", importQueueKey))
		for {
			select {
			case <-ctx.Done():
				zap.L().Info("import worker stopping")
				return
			default:
			}

			res, err := q.rdb.BLPop(ctx, 0, importQueueKey).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				zap.L().Error("redis BLPop failed", zap.Error(err))
				time.Sleep(500 * time.Millisecond)
				continue
			}
			if len(res) < 2 {
				continue
			}
			q.process(ctx, svc, res[1])
		}
	}()
}

func (q *JobQueue) process(ctx context.Context, svc *ImportService, id string) {
	job, err := q.Get(ctx, id)
	if err != nil {
		zap.L().Error("failed to read import job", zap.String("job", id), zap.Error(err))
		return
	}

	job.Status = JobProcessing
	if err := q.save(ctx, job); err != nil {
		zap.L().Warn("failed to update import job", zap.String("job", id), zap.Error(err))
	}

	var summary *models.ImportSummary
	switch job.Kind {
	case JobKindResume:
		summary, err = svc.Resume(ctx, job.Request.Brand)
	default:
		summary, err = svc.Import(ctx, job.Request)
	}

	job.Result = summary
	if err != nil {
		zap.L().Error("import job failed", zap.String("job", id), zap.String("brand", job.Request.Brand), zap.Error(err))
		job.Status = JobFailed
		job.Error = err.Error()
	} else {
		job.Status = JobDone
	}
	// Persist the outcome even when shutting down.
	if err := q.save(context.WithoutCancel(ctx), job); err != nil {
		zap.L().Error("failed to store import job result", zap.String("job", id), zap.Error(err))
	}
}
