package services

import (
	"math"
	"strconv"
	"strings"

	"catalog-import-service/models"

	"github.com/shopspring/decimal"
)

// enabledStatuses are the status values that publish a product. An empty
// status also counts as enabled.
var enabledStatuses = map[string]bool{
	"active": true, "activo": true, "habilitado": true, "enabled": true,
	"available": true, "disponible": true, "true": true, "si": true, "s\u00ed": true, "1": true,
}

// productBuilder accumulates one SKU during a single grouping pass.
type productBuilder struct {
	product   *models.Product
	sizeIndex map[string]int
}

// GroupRows folds flat rows into one product per SKU. Products keep the order
// of their first row; a repeated size overwrites the earlier quantities.
func GroupRows(brand string, rows []models.RawRow) models.GroupResult {
	result := models.GroupResult{Rows: len(rows)}
	builders := make(map[string]*productBuilder)

	for _, row := range rows {
		sku := strings.TrimSpace(row.SKU)
		if sku == "" {
			result.Skipped = append(result.Skipped, models.SkippedRow{Line: row.Line, Reason: "missing sku"})
			continue
		}

		b, ok := builders[sku]
		if !ok {
			b = &productBuilder{product: newProduct(brand, sku, row), sizeIndex: make(map[string]int)}
			builders[sku] = b
			result.Products = append(result.Products, b.product)
		}
		b.upsertVariant(row)
	}
	return result
}

func newProduct(brand, sku string, row models.RawRow) *models.Product {
	name := strings.TrimSpace(row.Name)
	description := strings.TrimSpace(row.Description)
	if name == "" {
		name = description
	}
	status := strings.TrimSpace(row.Status)
	return &models.Product{
		Brand:       brand,
		SKU:         sku,
		Name:        name,
		Description: description,
		Silhouette:  strings.TrimSpace(row.Silhouette),
		Gender:      strings.TrimSpace(row.Gender),
		Category:    strings.TrimSpace(row.Category),
		BrandName:   strings.TrimSpace(row.BrandName),
		Department:  strings.TrimSpace(row.Department),
		Status:      status,
		Enabled:     StatusEnabled(status),
		Price:       ParsePrice(row.Price),
		Images:      CollectImages(row.Images),
	}
}

func (b *productBuilder) upsertVariant(row models.RawRow) {
	v := models.Variant{
		Size:            strings.TrimSpace(row.Size),
		Stock:           ParseQuantity(row.AvailableQty),
		SimpleCurve:     ParseQuantity(row.SimpleCurve),
		ReinforcedCurve: ParseQuantity(row.ReinforcedCurve),
	}
	if i, ok := b.sizeIndex[v.Size]; ok {
		b.product.Variants[i] = v
		return
	}
	b.sizeIndex[v.Size] = len(b.product.Variants)
	b.product.Variants = append(b.product.Variants, v)
}

// StatusEnabled maps free-text status to the enabled flag.
func StatusEnabled(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	return s == "" || enabledStatuses[s]
}

var priceReplacer = strings.NewReplacer("$", "", "\u20ac", "", " ", "", "\u00a0", "")

// ParsePrice coerces a price cell. Anything unparseable is zero rather than
// an error.
func ParsePrice(raw string) decimal.Decimal {
	s := priceReplacer.Replace(strings.TrimSpace(raw))
	if strings.Contains(s, ",") && !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ParseQuantity coerces a quantity cell; unparseable or negative is zero.
func ParseQuantity(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		n = int(f)
	}
	if n < 0 {
		return 0
	}
	return n
}

// CollectImages keeps non-empty trimmed URLs in column order, without repeats.
func CollectImages(cols [models.MaxImageColumns]string) []string {
	images := make([]string, 0, models.MaxImageColumns)
	seen := make(map[string]bool, models.MaxImageColumns)
	for _, c := range cols {
		u := strings.TrimSpace(c)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		images = append(images, u)
	}
	return images
}

// SplitBatches cuts products into consecutive batches of size; the last one
// may be shorter. size <= 0 uses DefaultBatchSize.
func SplitBatches(products []*models.Product, size int) [][]*models.Product {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]*models.Product, 0, (len(products)+size-1)/size)
	for i := 0; i < len(products); i += size {
		end := i + size
		if end > len(products) {
			end = len(products)
		}
		batches = append(batches, products[i:end])
	}
	return batches
}
