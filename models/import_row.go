package models

// MaxImageColumns is the number of image URL columns read per row.
const MaxImageColumns = 5

// RawRow is one parsed data line. Values are untouched text; coercion happens
// in the grouper.
type RawRow struct {
	Line            int
	SKU             string
	Name            string
	Description     string
	Silhouette      string
	Gender          string
	Category        string
	BrandName       string
	Department      string
	Status          string
	Size            string
	SimpleCurve     string
	ReinforcedCurve string
	AvailableQty    string
	Price           string
	Images          [MaxImageColumns]string
	// Fields holds every column keyed by its trimmed header.
	Fields map[string]string
}

// SkippedRow records a row excluded from grouping without aborting the run.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// GroupResult is the grouper output: products in first-seen order.
type GroupResult struct {
	Products []*Product
	Skipped  []SkippedRow
	Rows     int
}

// VariantCount returns the number of variants across all products.
func (g GroupResult) VariantCount() int {
	n := 0
	for _, p := range g.Products {
		n += len(p.Variants)
	}
	return n
}
