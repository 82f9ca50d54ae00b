package models

// ImportError is one reported failure, attributed to a batch or a line.
type ImportError struct {
	Batch int      `json:"batch"`
	Line  int      `json:"line,omitempty"`
	Stage string   `json:"stage"`
	Error string   `json:"error"`
	SKUs  []string `json:"skus,omitempty"`
}

// BatchPlan is the diff of one batch against the backing store.
type BatchPlan struct {
	Index   int
	Inserts []*Product
	Updates []*Product
}

// ParentWriteResult carries identifiers resolved by the product write step.
type ParentWriteResult struct {
	ParentIDs map[string]string
	Inserted  int
	Updated   int
}

// VariantWriteResult summarises the variant write step of one batch.
type VariantWriteResult struct {
	Pending   int `json:"pending"`
	Submitted int `json:"submitted"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Orphaned  int `json:"orphaned"`
}

// BatchResult is the outcome of one batch.
type BatchResult struct {
	Index            int    `json:"index"`
	Size             int    `json:"size"`
	Success          bool   `json:"success"`
	Stage            string `json:"stage,omitempty"`
	Error            string `json:"error,omitempty"`
	ProductsInserted int    `json:"products_inserted"`
	ProductsUpdated  int    `json:"products_updated"`
	VariantsInserted int    `json:"variants_inserted"`
	VariantsUpdated  int    `json:"variants_updated"`
	VariantsOrphaned int    `json:"variants_orphaned"`
	VariantsFailed   int    `json:"variants_failed"`
	Processed        int    `json:"processed"`
	DurationMs       int64  `json:"duration_ms"`
}

// ImportSummary is the structured end-of-run report.
type ImportSummary struct {
	UploadID         string        `json:"upload_id"`
	Brand            string        `json:"brand"`
	FileName         string        `json:"file_name,omitempty"`
	Phase            ImportPhase   `json:"phase"`
	TotalRows        int           `json:"total_rows"`
	TotalProducts    int           `json:"total_products"`
	TotalVariants    int           `json:"total_variants"`
	TotalBatches     int           `json:"total_batches"`
	BatchSize        int           `json:"batch_size"`
	StartBatch       int           `json:"start_batch"`
	Resumed          bool          `json:"resumed"`
	Cancelled        bool          `json:"cancelled"`
	ProductsInserted int           `json:"products_inserted"`
	ProductsUpdated  int           `json:"products_updated"`
	VariantsInserted int           `json:"variants_inserted"`
	VariantsUpdated  int           `json:"variants_updated"`
	VariantsOrphaned int           `json:"variants_orphaned"`
	VariantsFailed   int           `json:"variants_failed"`
	FailedBatches    int           `json:"failed_batches"`
	SkippedRows      []SkippedRow  `json:"skipped_rows,omitempty"`
	Errors           []ImportError `json:"errors,omitempty"`
	BatchResults     []BatchResult `json:"batch_results,omitempty"`
	ProcessingMs     int64         `json:"processing_ms"`
}

// Add folds a batch result into the summary totals.
func (s *ImportSummary) Add(r BatchResult) {
	s.BatchResults = append(s.BatchResults, r)
	s.ProductsInserted += r.ProductsInserted
	s.ProductsUpdated += r.ProductsUpdated
	s.VariantsInserted += r.VariantsInserted
	s.VariantsUpdated += r.VariantsUpdated
	s.VariantsOrphaned += r.VariantsOrphaned
	s.VariantsFailed += r.VariantsFailed
	if !r.Success {
		s.FailedBatches++
	}
}

// ImportValidation is the dry-run report: nothing is written.
type ImportValidation struct {
	TotalRows     int           `json:"total_rows"`
	TotalProducts int           `json:"total_products"`
	TotalVariants int           `json:"total_variants"`
	TotalBatches  int           `json:"total_batches"`
	WouldInsert   int           `json:"would_insert"`
	WouldUpdate   int           `json:"would_update"`
	UncheckedSKUs int           `json:"unchecked_skus"`
	SkippedRows   []SkippedRow  `json:"skipped_rows,omitempty"`
	ParseErrors   []ImportError `json:"parse_errors,omitempty"`
	Errors        []ImportError `json:"errors,omitempty"`
}
