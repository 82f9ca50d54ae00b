package models

import "github.com/shopspring/decimal"

// Product is one logical catalog product assembled from the import rows that
// share a SKU. It is keyed by (Brand, SKU).
type Product struct {
	ID          string          `json:"id,omitempty"`
	Brand       string          `json:"brand_id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Silhouette  string          `json:"silhouette"`
	Gender      string          `json:"gender"`
	Category    string          `json:"category"`
	BrandName   string          `json:"brand_name"`
	Department  string          `json:"department"`
	Status      string          `json:"status"`
	Enabled     bool            `json:"enabled"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images"`
	Variants    []Variant       `json:"variants,omitempty"`
}

// Variant is a size-specific stock record. Size is a label, not a number.
type Variant struct {
	Size            string `json:"size"`
	Stock           int    `json:"stock"`
	SimpleCurve     int    `json:"simple_curve"`
	ReinforcedCurve int    `json:"reinforced_curve"`
}

// ProductRef is the minimal projection returned by existence checks and inserts.
type ProductRef struct {
	ID  string `json:"id"`
	SKU string `json:"sku"`
}

// VariantRef identifies an existing variant row.
type VariantRef struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
}

// VariantRecord is a variant bound to its parent product identifier, ready to
// be written. ID is empty for inserts.
type VariantRecord struct {
	ID              string `json:"id,omitempty"`
	ProductID       string `json:"product_id"`
	Size            string `json:"size"`
	Stock           int    `json:"stock"`
	SimpleCurve     int    `json:"simple_curve"`
	ReinforcedCurve int    `json:"reinforced_curve"`
}
