package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalog-import-service/models"
	"catalog-import-service/repository"

	"go.uber.org/zap"
)

// DefaultResumeWindow is how long an interrupted run stays resumable.
const DefaultResumeWindow = time.Hour

// ImportObserver is notified after every tracked state change.
type ImportObserver interface {
	OnPhaseChange(ctx context.Context, state models.ImportRunState)
	OnBatchComplete(ctx context.Context, state models.ImportRunState, result models.BatchResult)
}

var allowedTransitions = map[models.ImportPhase][]models.ImportPhase{
	"":                    {models.PhaseParsing},
	models.PhaseParsing:   {models.PhasePreparing, models.PhaseError},
	models.PhasePreparing: {models.PhaseUploading, models.PhaseError},
	models.PhaseUploading: {models.PhaseCompleted, models.PhaseError},
	models.PhaseCompleted: nil,
	models.PhaseError:     nil,
}

// ProgressTracker owns the run state machine, persists every change to the
// progress store and fans it out to observers. Persistence failures are
// logged and never stop the import.
type ProgressTracker struct {
	mu        sync.Mutex
	store     repository.ProgressStore
	observers []ImportObserver
	state     models.ImportRunState
	now       func() time.Time
}

// NewProgressTracker starts from initial, which is a fresh state or one
// accepted for resumption.
func NewProgressTracker(store repository.ProgressStore, initial models.ImportRunState, observers ...ImportObserver) *ProgressTracker {
	return &ProgressTracker{
		store:     store,
		observers: observers,
		state:     initial,
		now:       time.Now,
	}
}

// State returns a copy of the current state.
func (t *ProgressTracker) State() models.ImportRunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves to phase and persists it.
func (t *ProgressTracker) Transition(ctx context.Context, phase models.ImportPhase) error {
	t.mu.Lock()
	if !canTransition(t.state.Phase, phase) {
		from := t.state.Phase
		t.mu.Unlock()
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, phase)
	}
	t.state.Phase = phase
	t.state.IsUploading = !phase.Terminal()
	snapshot := t.touch()
	t.mu.Unlock()

	if phase == models.PhaseCompleted {
		t.remove(ctx)
	} else {
		t.persist(ctx, snapshot)
	}
	for _, o := range t.observers {
		o.OnPhaseChange(ctx, snapshot)
	}
	return nil
}

// SetTotal records the number of products the run will process.
func (t *ProgressTracker) SetTotal(ctx context.Context, total int) {
	t.mu.Lock()
	t.state.Progress.Total = total
	if t.state.Progress.Current > total {
		t.state.Progress.Current = total
	}
	snapshot := t.touch()
	t.mu.Unlock()
	t.persist(ctx, snapshot)
}

// BatchDone records that batch index was processed and processed products
// are done in total. Counters never go backwards.
func (t *ProgressTracker) BatchDone(ctx context.Context, result models.BatchResult) {
	t.mu.Lock()
	if result.Processed > t.state.Progress.Current {
		t.state.Progress.Current = result.Processed
	}
	if result.Index > t.state.LastCompletedBatch {
		t.state.LastCompletedBatch = result.Index
	}
	snapshot := t.touch()
	t.mu.Unlock()

	t.persist(ctx, snapshot)
	for _, o := range t.observers {
		o.OnBatchComplete(ctx, snapshot, result)
	}
}

// Cancel forgets the run: the persisted record is deleted.
func (t *ProgressTracker) Cancel(ctx context.Context) {
	t.mu.Lock()
	t.state.IsUploading = false
	t.touch()
	t.mu.Unlock()
	t.remove(ctx)
}

// touch stamps the state; callers hold mu.
func (t *ProgressTracker) touch() models.ImportRunState {
	t.state.Timestamp = t.now().UnixMilli()
	return t.state
}

func (t *ProgressTracker) persist(ctx context.Context, state models.ImportRunState) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(ctx, state); err != nil {
		zap.L().Warn("failed to persist import progress",
			zap.String("brand", state.Brand),
			zap.String("phase", string(state.Phase)),
			zap.Error(err),
		)
	}
}

func (t *ProgressTracker) remove(ctx context.Context) {
	if t.store == nil {
		return
	}
	brand := t.State().Brand
	if err := t.store.Delete(ctx, brand); err != nil && !errors.Is(err, repository.ErrNotFound) {
		zap.L().Warn("failed to clear import progress", zap.String("brand", brand), zap.Error(err))
	}
}

func canTransition(from, to models.ImportPhase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// IsResumable reports whether a persisted state belongs to an interrupted run
// that is still inside the resume window.
func IsResumable(state *models.ImportRunState, now time.Time, window time.Duration) bool {
	if state == nil || !state.IsUploading || state.Phase.Terminal() {
		return false
	}
	if window <= 0 {
		window = DefaultResumeWindow
	}
	return now.Sub(state.UpdatedAt()) < window
}

// FindResumable loads the brand's persisted state and, if it is resumable,
// marks it canResume. Stale or finished states yield ErrNoResumableRun.
func FindResumable(ctx context.Context, store repository.ProgressStore, brand string, now time.Time, window time.Duration) (*models.ImportRunState, error) {
	state, err := store.Load(ctx, brand)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoResumableRun
	}
	if err != nil {
		return nil, fmt.Errorf("load import progress: %w", err)
	}
	if !IsResumable(state, now, window) {
		return state, ErrNoResumableRun
	}
	if !state.CanResume {
		state.CanResume = true
		if err := store.Save(ctx, *state); err != nil {
			return nil, fmt.Errorf("save import progress: %w", err)
		}
	}
	return state, nil
}

// AcceptResume clears canResume and puts the run back into uploading.
func AcceptResume(ctx context.Context, store repository.ProgressStore, state models.ImportRunState, now time.Time) (models.ImportRunState, error) {
	state.CanResume = false
	state.Phase = models.PhaseUploading
	state.IsUploading = true
	state.Timestamp = now.UnixMilli()
	if err := store.Save(ctx, state); err != nil {
		return state, fmt.Errorf("save import progress: %w", err)
	}
	return state, nil
}
