package repository

import (
	"context"
	"fmt"
	"time"

	"catalog-import-service/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// imageList is a text[] column on Postgres and a text column elsewhere.
type imageList struct {
	pq.StringArray
}

func (imageList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// ProductModel is the gorm mapping of the products table.
type ProductModel struct {
	ID          string          `gorm:"primaryKey;type:uuid"`
	BrandID     string          `gorm:"not null;uniqueIndex:idx_products_brand_sku"`
	SKU         string          `gorm:"column:sku;not null;uniqueIndex:idx_products_brand_sku"`
	Name        string
	Description string
	Silhouette  string
	Gender      string
	Category    string
	BrandName   string
	Department  string
	Status      string
	Enabled     bool
	Price       decimal.Decimal `gorm:"type:numeric(12,2)"`
	Images      imageList
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProductModel) TableName() string { return ProductsTable }

func (m *ProductModel) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// VariantModel is the gorm mapping of the product_variants table.
type VariantModel struct {
	ID              string `gorm:"primaryKey;type:uuid"`
	ProductID       string `gorm:"type:uuid;not null;uniqueIndex:idx_variants_product_size"`
	Size            string `gorm:"not null;uniqueIndex:idx_variants_product_size"`
	Stock           int
	SimpleCurve     int
	ReinforcedCurve int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (VariantModel) TableName() string { return VariantsTable }

func (m *VariantModel) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

func productModel(p *models.Product) ProductModel {
	return ProductModel{
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
		Images:      imageList{pq.StringArray(p.Images)},
	}
}

func variantModel(v models.VariantRecord) VariantModel {
	return VariantModel{
		ID:              v.ID,
		ProductID:       v.ProductID,
		Size:            v.Size,
		Stock:           v.Stock,
		SimpleCurve:     v.SimpleCurve,
		ReinforcedCurve: v.ReinforcedCurve,
	}
}

// GormStore is the relational catalog store (Postgres in production, SQLite
// for local runs and tests).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenPostgres connects with retries and migrates the catalog tables.
func OpenPostgres(dsn string, attempts int) (*gorm.DB, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < attempts; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			sqlDB, poolErr := db.DB()
			if poolErr == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(5 * time.Minute)
			}
			zap.L().Info("connected to PostgreSQL")
			return db, Migrate(db)
		}
		zap.L().Warn("PostgreSQL not ready, retrying", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", attempts, err)
}

// OpenSQLite opens (or creates) a SQLite database and migrates it.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, Migrate(db)
}

// Migrate creates or updates the catalog tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ProductModel{}, &VariantModel{}); err != nil {
		return fmt.Errorf("migrate catalog tables: %w", err)
	}
	return nil
}

func (s *GormStore) FindProductsBySKUs(ctx context.Context, brand string, skus []string) ([]models.ProductRef, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	var refs []models.ProductRef
	err := s.db.WithContext(ctx).
		Model(&ProductModel{}).
		Select("id", "sku").
		Where("brand_id = ? AND sku IN ?", brand, skus).
		Scan(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	return refs, nil
}

func (s *GormStore) InsertProducts(ctx context.Context, products []*models.Product) ([]models.ProductRef, error) {
	if len(products) == 0 {
		return nil, nil
	}
	rows := make([]ProductModel, 0, len(products))
	for _, p := range products {
		m := productModel(p)
		m.ID = ""
		rows = append(rows, m)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("insert products: %w", err)
	}
	refs := make([]models.ProductRef, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, models.ProductRef{ID: r.ID, SKU: r.SKU})
	}
	return refs, nil
}

func (s *GormStore) UpsertProducts(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}
	rows := make([]ProductModel, 0, len(products))
	for _, p := range products {
		rows = append(rows, productModel(p))
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(productUpdateColumns),
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}
	return nil
}

var productUpdateColumns = []string{
	"name", "description", "silhouette", "gender", "category", "brand_name",
	"department", "status", "enabled", "price", "images", "updated_at",
}

func (s *GormStore) FindVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.VariantRef, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var refs []models.VariantRef
	err := s.db.WithContext(ctx).
		Model(&VariantModel{}).
		Select("id", "product_id", "size").
		Where("product_id IN ?", productIDs).
		Scan(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("select variants: %w", err)
	}
	return refs, nil
}

func (s *GormStore) InsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	if len(variants) == 0 {
		return nil
	}
	rows := make([]VariantModel, 0, len(variants))
	for _, v := range variants {
		m := variantModel(v)
		m.ID = ""
		rows = append(rows, m)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert variants: %w", err)
	}
	return nil
}

func (s *GormStore) UpsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	if len(variants) == 0 {
		return nil
	}
	rows := make([]VariantModel, 0, len(variants))
	for _, v := range variants {
		rows = append(rows, variantModel(v))
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stock", "simple_curve", "reinforced_curve", "updated_at"}),
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert variants: %w", err)
	}
	return nil
}

func (s *GormStore) DeleteBrandCatalog(ctx context.Context, brand string) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&ProductModel{}).Select("id").Where("brand_id = ?", brand)
		if err := tx.Where("product_id IN (?)", sub).Delete(&VariantModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("brand_id = ?", brand).Delete(&ProductModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete brand catalog: %w", err)
	}
	return deleted, nil
}
