package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"catalog-import-service/models"
	"catalog-import-service/repository"
)

// memStore is an in-memory CatalogStore with per-call failure injection.
type memStore struct {
	mu       sync.Mutex
	products map[string]*models.Product // by id
	variants map[string]models.VariantRecord
	nextID   int

	// failures maps a method name to the error it returns; failOnCall limits
	// the failure to the n-th call (1-based) when set.
	failures   map[string]error
	failOnCall map[string]int
	calls      map[string]int

	// noID lists SKUs whose insert succeeds without returning an identifier.
	noID map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		products:   make(map[string]*models.Product),
		variants:   make(map[string]models.VariantRecord),
		failures:   make(map[string]error),
		failOnCall: make(map[string]int),
		calls:      make(map[string]int),
		noID:       make(map[string]bool),
	}
}

func (m *memStore) fail(method string, err error, onCall int) {
	m.failures[method] = err
	if onCall > 0 {
		m.failOnCall[method] = onCall
	}
}

// hit records a call; callers hold mu.
func (m *memStore) hit(method string) error {
	m.calls[method]++
	err, ok := m.failures[method]
	if !ok {
		return nil
	}
	if n, limited := m.failOnCall[method]; limited && n != m.calls[method] {
		return nil
	}
	return err
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) FindProductsBySKUs(_ context.Context, brand string, skus []string) ([]models.ProductRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("FindProductsBySKUs"); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(skus))
	for _, s := range skus {
		want[s] = true
	}
	var refs []models.ProductRef
	for id, p := range m.products {
		if p.Brand == brand && want[p.SKU] {
			refs = append(refs, models.ProductRef{ID: id, SKU: p.SKU})
		}
	}
	return refs, nil
}

func (m *memStore) InsertProducts(_ context.Context, products []*models.Product) ([]models.ProductRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("InsertProducts"); err != nil {
		return nil, err
	}
	refs := make([]models.ProductRef, 0, len(products))
	for _, p := range products {
		cp := *p
		cp.ID = m.id("p")
		cp.Variants = nil
		m.products[cp.ID] = &cp
		if m.noID[cp.SKU] {
			refs = append(refs, models.ProductRef{SKU: cp.SKU})
			continue
		}
		refs = append(refs, models.ProductRef{ID: cp.ID, SKU: cp.SKU})
	}
	return refs, nil
}

func (m *memStore) UpsertProducts(_ context.Context, products []*models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("UpsertProducts"); err != nil {
		return err
	}
	for _, p := range products {
		if p.ID == "" {
			return errors.New("upsert without id")
		}
		cp := *p
		cp.Variants = nil
		m.products[p.ID] = &cp
	}
	return nil
}

func (m *memStore) FindVariantsByProductIDs(_ context.Context, ids []string) ([]models.VariantRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("FindVariantsByProductIDs"); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var refs []models.VariantRef
	for id, v := range m.variants {
		if want[v.ProductID] {
			refs = append(refs, models.VariantRef{ID: id, ProductID: v.ProductID, Size: v.Size})
		}
	}
	return refs, nil
}

func (m *memStore) InsertVariants(_ context.Context, variants []models.VariantRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("InsertVariants"); err != nil {
		return err
	}
	for _, v := range variants {
		v.ID = m.id("v")
		m.variants[v.ID] = v
	}
	return nil
}

func (m *memStore) UpsertVariants(_ context.Context, variants []models.VariantRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("UpsertVariants"); err != nil {
		return err
	}
	for _, v := range variants {
		m.variants[v.ID] = v
	}
	return nil
}

func (m *memStore) DeleteBrandCatalog(_ context.Context, brand string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteBrandCatalog"); err != nil {
		return 0, err
	}
	var n int64
	for id, p := range m.products {
		if p.Brand != brand {
			continue
		}
		for vid, v := range m.variants {
			if v.ProductID == id {
				delete(m.variants, vid)
			}
		}
		delete(m.products, id)
		n++
	}
	return n, nil
}

func (m *memStore) productBySKU(sku string) *models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.SKU == sku {
			return p
		}
	}
	return nil
}

func (m *memStore) variantsOf(productID string) map[string]models.VariantRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.VariantRecord)
	for _, v := range m.variants {
		if v.ProductID == productID {
			out[v.Size] = v
		}
	}
	return out
}

func (m *memStore) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// memProgress is an in-memory ProgressStore that keeps a history of saves.
type memProgress struct {
	mu      sync.Mutex
	states  map[string]models.ImportRunState
	history []models.ImportRunState
	deletes int
}

func newMemProgress() *memProgress {
	return &memProgress{states: make(map[string]models.ImportRunState)}
}

func (p *memProgress) Save(_ context.Context, s models.ImportRunState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[s.Brand] = s
	p.history = append(p.history, s)
	return nil
}

func (p *memProgress) Load(_ context.Context, brand string) (*models.ImportRunState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[brand]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (p *memProgress) Delete(_ context.Context, brand string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	delete(p.states, brand)
	return nil
}

func (p *memProgress) saved() []models.ImportRunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ImportRunState(nil), p.history...)
}

// memUploads is an in-memory UploadStore.
type memUploads struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemUploads() *memUploads {
	return &memUploads{files: make(map[string][]byte)}
}

func (u *memUploads) Put(_ context.Context, key string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.files[key] = append([]byte(nil), data...)
	return nil
}

func (u *memUploads) Get(_ context.Context, key string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.files[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b, nil
}

func (u *memUploads) Delete(_ context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.files, key)
	return nil
}

func (u *memUploads) has(key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.files[key]
	return ok
}

// recordingObserver captures notifications in order.
type recordingObserver struct {
	mu      sync.Mutex
	phases  []models.ImportPhase
	batches []models.BatchResult
	onBatch func(models.BatchResult)
}

func (r *recordingObserver) OnPhaseChange(_ context.Context, s models.ImportRunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, s.Phase)
}

func (r *recordingObserver) OnBatchComplete(_ context.Context, _ models.ImportRunState, res models.BatchResult) {
	r.mu.Lock()
	r.batches = append(r.batches, res)
	hook := r.onBatch
	r.mu.Unlock()
	if hook != nil {
		hook(res)
	}
}

func product(sku string, sizes ...string) *models.Product {
	p := &models.Product{Brand: "brand-1", SKU: sku, Name: sku}
	for _, s := range sizes {
		p.Variants = append(p.Variants, models.Variant{Size: s, Stock: 1})
	}
	return p
}

// interruptingStore cancels the run context during the n-th InsertProducts
// call. With failCall set, that call reports the cancellation the way a
// driver watching the run context would.
type interruptingStore struct {
	*memStore
	runCtx   context.Context
	cancel   context.CancelFunc
	onCall   int
	failCall bool

	inserts int
	callErr error
}

func (s *interruptingStore) InsertProducts(ctx context.Context, products []*models.Product) ([]models.ProductRef, error) {
	s.inserts++
	if s.inserts == s.onCall {
		s.cancel()
		s.callErr = ctx.Err()
		if s.failCall {
			return nil, s.runCtx.Err()
		}
	}
	return s.memStore.InsertProducts(ctx, products)
}

// partialInsertStore commits only the first commit products of an insert and
// reports the rest as a partial write.
type partialInsertStore struct {
	*memStore
	commit int
}

func (s *partialInsertStore) InsertProducts(ctx context.Context, products []*models.Product) ([]models.ProductRef, error) {
	refs, err := s.memStore.InsertProducts(ctx, products[:s.commit])
	if err != nil {
		return nil, err
	}
	return refs, &repository.PartialWriteError{Written: s.commit, Err: errors.New("throttled")}
}
