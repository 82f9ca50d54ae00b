package repository

import (
	"context"
	"fmt"
	"strings"

	"catalog-import-service/models"

	"github.com/shopspring/decimal"
	"github.com/supabase-community/postgrest-go"
)

// deleteChunk bounds how many ids go into one in.() filter.
const deleteChunk = 200

type productRow struct {
	ID          string          `json:"id,omitempty"`
	BrandID     string          `json:"brand_id"`
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
}

func toProductRow(p *models.Product) productRow {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return productRow{
		ID:          p.ID,
		BrandID:     p.Brand,
		SKU:         p.SKU,
		Name:        p.Name,
		Description: p.Description,
		Silhouette:  p.Silhouette,
		Gender:      p.Gender,
		Category:    p.Category,
		BrandName:   p.BrandName,
		Department:  p.Department,
		Status:      p.Status,
		Enabled:     p.Enabled,
		Price:       p.Price,
		Images:      images,
	}
}

// withContext runs call but stops waiting once ctx is done. The client takes
// no context, so an abandoned request still completes in the background and
// its outcome is unknown to the caller.
func withContext(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PostgRESTStore talks to a Supabase (PostgREST) project over HTTP.
type PostgRESTStore struct {
	client *postgrest.Client
}

// NewPostgRESTStore builds a client for baseURL (the project URL, without
// /rest/v1) authenticated with a service key.
func NewPostgRESTStore(baseURL, serviceKey string) (*PostgRESTStore, error) {
	restURL := strings.TrimRight(baseURL, "/") + "/rest/v1"
	client := postgrest.NewClient(restURL, "public", map[string]string{
		"apikey":        serviceKey,
		"Authorization": "Bearer " + serviceKey,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("postgrest client: %w", client.ClientError)
	}
	return &PostgRESTStore{client: client}, nil
}

func (s *PostgRESTStore) FindProductsBySKUs(ctx context.Context, brand string, skus []string) ([]models.ProductRef, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	var out []models.ProductRef
	err := withContext(ctx, func() error {
		_, err := s.client.From(ProductsTable).
			Select("id,sku", "", false).
			Eq("brand_id", brand).
			In("sku", skus).
			ExecuteTo(&out)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	return out, nil
}

func (s *PostgRESTStore) InsertProducts(ctx context.Context, products []*models.Product) ([]models.ProductRef, error) {
	if len(products) == 0 {
		return nil, nil
	}
	rows := make([]productRow, 0, len(products))
	for _, p := range products {
		r := toProductRow(p)
		r.ID = ""
		rows = append(rows, r)
	}
	var out []models.ProductRef
	err := withContext(ctx, func() error {
		_, err := s.client.From(ProductsTable).
			Insert(rows, false, "", "representation", "").
			ExecuteTo(&out)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert products: %w", err)
	}
	return out, nil
}

func (s *PostgRESTStore) UpsertProducts(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}
	rows := make([]productRow, 0, len(products))
	for _, p := range products {
		rows = append(rows, toProductRow(p))
	}
	err := withContext(ctx, func() error {
		_, _, err := s.client.From(ProductsTable).
			Upsert(rows, "id", "minimal", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}
	return nil
}

func (s *PostgRESTStore) FindVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.VariantRef, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var out []models.VariantRef
	err := withContext(ctx, func() error {
		_, err := s.client.From(VariantsTable).
			Select("id,product_id,size", "", false).
			In("product_id", productIDs).
			ExecuteTo(&out)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select variants: %w", err)
	}
	return out, nil
}

func (s *PostgRESTStore) InsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	if len(variants) == 0 {
		return nil
	}
	rows := make([]models.VariantRecord, len(variants))
	for i, v := range variants {
		v.ID = ""
		rows[i] = v
	}
	err := withContext(ctx, func() error {
		_, _, err := s.client.From(VariantsTable).
			Insert(rows, false, "", "minimal", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("insert variants: %w", err)
	}
	return nil
}

func (s *PostgRESTStore) UpsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	if len(variants) == 0 {
		return nil
	}
	err := withContext(ctx, func() error {
		_, _, err := s.client.From(VariantsTable).
			Upsert(variants, "id", "minimal", "").
			Execute()
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert variants: %w", err)
	}
	return nil
}

func (s *PostgRESTStore) DeleteBrandCatalog(ctx context.Context, brand string) (int64, error) {
	var refs []models.ProductRef
	if err := withContext(ctx, func() error {
		_, err := s.client.From(ProductsTable).
			Select("id,sku", "", false).
			Eq("brand_id", brand).
			ExecuteTo(&refs)
		return err
	}); err != nil {
		return 0, fmt.Errorf("select brand products: %w", err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		chunk := ids[start:end]
		if err := withContext(ctx, func() error {
			_, _, err := s.client.From(VariantsTable).
				Delete("minimal", "").
				In("product_id", chunk).
				Execute()
			return err
		}); err != nil {
			return 0, fmt.Errorf("delete variants: %w", err)
		}
	}
	if err := withContext(ctx, func() error {
		_, _, err := s.client.From(ProductsTable).
			Delete("minimal", "").
			Eq("brand_id", brand).
			Execute()
		return err
	}); err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	return int64(len(ids)), nil
}
