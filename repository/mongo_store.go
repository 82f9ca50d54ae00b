package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalog-import-service/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoProduct struct {
	ID          string               `bson:"_id"`
	BrandID     string               `bson:"brand_id"`
	SKU         string               `bson:"sku"`
	Name        string               `bson:"name"`
	Description string               `bson:"description,omitempty"`
	Silhouette  string               `bson:"silhouette,omitempty"`
	Gender      string               `bson:"gender,omitempty"`
	Category    string               `bson:"category,omitempty"`
	BrandName   string               `bson:"brand_name,omitempty"`
	Department  string               `bson:"department,omitempty"`
	Status      string               `bson:"status,omitempty"`
	Enabled     bool                 `bson:"enabled"`
	Price       primitive.Decimal128 `bson:"price"`
	Images      []string             `bson:"images,omitempty"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

type mongoVariant struct {
	ID              string    `bson:"_id"`
	ProductID       string    `bson:"product_id"`
	Size            string    `bson:"size"`
	Stock           int       `bson:"stock"`
	SimpleCurve     int       `bson:"simple_curve"`
	ReinforcedCurve int       `bson:"reinforced_curve"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// MongoStore keeps the catalog in two MongoDB collections.
type MongoStore struct {
	products *mongo.Collection
	variants *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		products: db.Collection(ProductsTable),
		variants: db.Collection(VariantsTable),
	}
}

// ConnectMongo connects and pings within a 10s budget.
func ConnectMongo(ctx context.Context, mongoURL, dbName string) (*mongo.Client, *mongo.Database, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(timeoutCtx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(timeoutCtx, nil); err != nil {
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, client.Database(dbName), nil
}

// EnsureIndexes creates the (brand_id, sku) and (product_id, size) unique
// indexes.
func (m *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.products.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "brand_id", Value: 1}, {Key: "sku", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create products index: %w", err)
	}
	_, err = m.variants.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "product_id", Value: 1}, {Key: "size", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create variants index: %w", err)
	}
	return nil
}

func toMongoProduct(p *models.Product, id string, now time.Time) (mongoProduct, error) {
	price, err := primitive.ParseDecimal128(p.Price.String())
	if err != nil {
		return mongoProduct{}, fmt.Errorf("price for sku %s: %w", p.SKU, err)
	}
	return mongoProduct{
		ID:          id,
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
		Price:       price,
		Images:      p.Images,
		UpdatedAt:   now,
	}, nil
}

func toMongoVariant(v models.VariantRecord, id string, now time.Time) mongoVariant {
	return mongoVariant{
		ID:              id,
		ProductID:       v.ProductID,
		Size:            v.Size,
		Stock:           v.Stock,
		SimpleCurve:     v.SimpleCurve,
		ReinforcedCurve: v.ReinforcedCurve,
		UpdatedAt:       now,
	}
}

func (m *MongoStore) FindProductsBySKUs(ctx context.Context, brand string, skus []string) ([]models.ProductRef, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	cur, err := m.products.Find(ctx,
		bson.M{"brand_id": brand, "sku": bson.M{"$in": skus}},
		options.Find().SetProjection(bson.M{"_id": 1, "sku": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	var docs []mongoProduct
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	refs := make([]models.ProductRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, models.ProductRef{ID: d.ID, SKU: d.SKU})
	}
	return refs, nil
}

func (m *MongoStore) InsertProducts(ctx context.Context, products []*models.Product) ([]models.ProductRef, error) {
	if len(products) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(products))
	refs := make([]models.ProductRef, 0, len(products))
	for _, p := range products {
		id := uuid.NewString()
		doc, err := toMongoProduct(p, id, now)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		refs = append(refs, models.ProductRef{ID: id, SKU: p.SKU})
	}
	if _, err := m.products.InsertMany(ctx, docs); err != nil {
		err = fmt.Errorf("insert products: %w", err)
		// Ordered inserts stop at the first failing document.
		if n := committedBefore(err); n > 0 {
			return refs[:n], &PartialWriteError{Written: n, Err: err}
		}
		return nil, err
	}
	return refs, nil
}

func (m *MongoStore) UpsertProducts(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ops := make([]mongo.WriteModel, 0, len(products))
	for _, p := range products {
		doc, err := toMongoProduct(p, p.ID, now)
		if err != nil {
			return err
		}
		ops = append(ops, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": p.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := m.products.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}
	return nil
}

func (m *MongoStore) FindVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.VariantRef, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	cur, err := m.variants.Find(ctx,
		bson.M{"product_id": bson.M{"$in": productIDs}},
		options.Find().SetProjection(bson.M{"_id": 1, "product_id": 1, "size": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("find variants: %w", err)
	}
	var docs []mongoVariant
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	refs := make([]models.VariantRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, models.VariantRef{ID: d.ID, ProductID: d.ProductID, Size: d.Size})
	}
	return refs, nil
}

func (m *MongoStore) InsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	if len(variants) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(variants))
	for _, v := range variants {
		docs = append(docs, toMongoVariant(v, uuid.NewString(), now))
	}
	if _, err := m.variants.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert variants: %w", err)
	}
	return nil
}

func (m *MongoStore) UpsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	if len(variants) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ops := make([]mongo.WriteModel, 0, len(variants))
	for _, v := range variants {
		ops = append(ops, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": v.ID}).
			SetReplacement(toMongoVariant(v, v.ID, now)).
			SetUpsert(true))
	}
	if _, err := m.variants.BulkWrite(ctx, ops, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("upsert variants: %w", err)
	}
	return nil
}

func (m *MongoStore) DeleteBrandCatalog(ctx context.Context, brand string) (int64, error) {
	cur, err := m.products.Find(ctx, bson.M{"brand_id": brand}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("find brand products: %w", err)
	}
	var docs []mongoProduct
	if err := cur.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("decode products: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	if len(ids) > 0 {
		if _, err := m.variants.DeleteMany(ctx, bson.M{"product_id": bson.M{"$in": ids}}); err != nil {
			return 0, fmt.Errorf("delete variants: %w", err)
		}
	}
	res, err := m.products.DeleteMany(ctx, bson.M{"brand_id": brand})
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	return res.DeletedCount, nil
}

// committedBefore is the index of the first failed write of an ordered bulk
// operation, which is also the number of documents written before it.
func committedBefore(err error) int {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return 0
	}
	return bwe.WriteErrors[0].Index
}
