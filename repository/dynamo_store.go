package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalog-import-service/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	ddbWriteChunk   = 25
	ddbFilterChunk  = 100
	ddbMaxAttempts  = 3
	ddbRetryBackoff = 300 * time.Millisecond
)

// DynamoAPI is the part of the DynamoDB client the store uses.
type DynamoAPI interface {
	dynamodb.ScanAPIClient
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore keeps products (key product_id) and variants (key variant_id)
// in two DynamoDB tables.
type DynamoStore struct {
	client        DynamoAPI
	productsTable string
	variantsTable string
}

func NewDynamoStore(client DynamoAPI, productsTable, variantsTable string) *DynamoStore {
	if productsTable == "" {
		productsTable = ProductsTable
	}
	if variantsTable == "" {
		variantsTable = VariantsTable
	}
	return &DynamoStore{client: client, productsTable: productsTable, variantsTable: variantsTable}
}

type ddbProduct struct {
	ProductID   string   `dynamodbav:"product_id"`
	BrandID     string   `dynamodbav:"brand_id"`
	SKU         string   `dynamodbav:"sku"`
	Name        string   `dynamodbav:"name"`
	Description string   `dynamodbav:"description,omitempty"`
	Silhouette  string   `dynamodbav:"silhouette,omitempty"`
	Gender      string   `dynamodbav:"gender,omitempty"`
	Category    string   `dynamodbav:"category,omitempty"`
	BrandName   string   `dynamodbav:"brand_name,omitempty"`
	Department  string   `dynamodbav:"department,omitempty"`
	Status      string   `dynamodbav:"status,omitempty"`
	Enabled     bool     `dynamodbav:"enabled"`
	Price       string   `dynamodbav:"price"`
	Images      []string `dynamodbav:"images,omitempty"`
	UpdatedAt   string   `dynamodbav:"updated_at"`
}

type ddbVariant struct {
	VariantID       string `dynamodbav:"variant_id"`
	ProductID       string `dynamodbav:"product_id"`
	Size            string `dynamodbav:"size"`
	Stock           int    `dynamodbav:"stock"`
	SimpleCurve     int    `dynamodbav:"simple_curve"`
	ReinforcedCurve int    `dynamodbav:"reinforced_curve"`
	UpdatedAt       string `dynamodbav:"updated_at"`
}

func toDDBProduct(p *models.Product, id string, now time.Time) ddbProduct {
	return ddbProduct{
		ProductID:   id,
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
		Price:       p.Price.String(),
		Images:      p.Images,
		UpdatedAt:   now.UTC().Format(time.RFC3339),
	}
}

func (d *DynamoStore) FindProductsBySKUs(ctx context.Context, brand string, skus []string) ([]models.ProductRef, error) {
	var refs []models.ProductRef
	for start := 0; start < len(skus); start += ddbFilterChunk {
		end := min(start+ddbFilterChunk, len(skus))
		expr, values, err := inFilter("sku", ":s", skus[start:end])
		if err != nil {
			return nil, err
		}
		values[":b"] = &types.AttributeValueMemberS{Value: brand}
		items, err := d.scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(d.productsTable),
			FilterExpression:          aws.String("brand_id = :b AND " + expr),
			ExpressionAttributeValues: values,
			ProjectionExpression:      aws.String("product_id, sku"),
		})
		if err != nil {
			return nil, fmt.Errorf("scan for skus failed: %w", err)
		}
		for _, it := range items {
			var dp ddbProduct
			if err := attributevalue.UnmarshalMap(it, &dp); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			refs = append(refs, models.ProductRef{ID: dp.ProductID, SKU: dp.SKU})
		}
	}
	return refs, nil
}

func (d *DynamoStore) InsertProducts(ctx context.Context, products []*models.Product) ([]models.ProductRef, error) {
	now := time.Now()
	refs := make([]models.ProductRef, 0, len(products))
	reqs := make([]types.WriteRequest, 0, len(products))
	for _, p := range products {
		id := uuid.NewString()
		item, err := attributevalue.MarshalMap(toDDBProduct(p, id, now))
		if err != nil {
			return nil, fmt.Errorf("marshal batch item: %w", err)
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		refs = append(refs, models.ProductRef{ID: id, SKU: p.SKU})
	}
	if err := d.batchWrite(ctx, d.productsTable, reqs); err != nil {
		var pw *PartialWriteError
		if errors.As(err, &pw) {
			return refs[:pw.Written], err
		}
		return nil, err
	}
	return refs, nil
}

func (d *DynamoStore) UpsertProducts(ctx context.Context, products []*models.Product) error {
	now := time.Now()
	reqs := make([]types.WriteRequest, 0, len(products))
	for _, p := range products {
		item, err := attributevalue.MarshalMap(toDDBProduct(p, p.ID, now))
		if err != nil {
			return fmt.Errorf("marshal batch item: %w", err)
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return d.batchWrite(ctx, d.productsTable, reqs)
}

func (d *DynamoStore) FindVariantsByProductIDs(ctx context.Context, productIDs []string) ([]models.VariantRef, error) {
	var refs []models.VariantRef
	for start := 0; start < len(productIDs); start += ddbFilterChunk {
		end := min(start+ddbFilterChunk, len(productIDs))
		expr, values, err := inFilter("product_id", ":p", productIDs[start:end])
		if err != nil {
			return nil, err
		}
		items, err := d.scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(d.variantsTable),
			FilterExpression:          aws.String(expr),
			ExpressionAttributeValues: values,
			ProjectionExpression:      aws.String("variant_id, product_id, #sz"),
			ExpressionAttributeNames:  map[string]string{"#sz": "size"},
		})
		if err != nil {
			return nil, fmt.Errorf("scan variants failed: %w", err)
		}
		for _, it := range items {
			var dv ddbVariant
			if err := attributevalue.UnmarshalMap(it, &dv); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			refs = append(refs, models.VariantRef{ID: dv.VariantID, ProductID: dv.ProductID, Size: dv.Size})
		}
	}
	return refs, nil
}

func (d *DynamoStore) InsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	return d.putVariants(ctx, variants, true)
}

func (d *DynamoStore) UpsertVariants(ctx context.Context, variants []models.VariantRecord) error {
	return d.putVariants(ctx, variants, false)
}

func (d *DynamoStore) putVariants(ctx context.Context, variants []models.VariantRecord, fresh bool) error {
	now := time.Now().UTC().Format(time.RFC3339)
	reqs := make([]types.WriteRequest, 0, len(variants))
	for _, v := range variants {
		id := v.ID
		if fresh || id == "" {
			id = uuid.NewString()
		}
		item, err := attributevalue.MarshalMap(ddbVariant{
			VariantID:       id,
			ProductID:       v.ProductID,
			Size:            v.Size,
			Stock:           v.Stock,
			SimpleCurve:     v.SimpleCurve,
			ReinforcedCurve: v.ReinforcedCurve,
			UpdatedAt:       now,
		})
		if err != nil {
			return fmt.Errorf("marshal batch item: %w", err)
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return d.batchWrite(ctx, d.variantsTable, reqs)
}

func (d *DynamoStore) DeleteBrandCatalog(ctx context.Context, brand string) (int64, error) {
	items, err := d.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(d.productsTable),
		FilterExpression:          aws.String("brand_id = :b"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":b": &types.AttributeValueMemberS{Value: brand}},
		ProjectionExpression:      aws.String("product_id"),
	})
	if err != nil {
		return 0, fmt.Errorf("scan brand products failed: %w", err)
	}
	ids := make([]string, 0, len(items))
	productDeletes := make([]types.WriteRequest, 0, len(items))
	for _, it := range items {
		var dp ddbProduct
		if err := attributevalue.UnmarshalMap(it, &dp); err != nil {
			return 0, fmt.Errorf("unmarshal item: %w", err)
		}
		ids = append(ids, dp.ProductID)
		productDeletes = append(productDeletes, deleteRequest("product_id", dp.ProductID))
	}

	variants, err := d.FindVariantsByProductIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	variantDeletes := make([]types.WriteRequest, 0, len(variants))
	for _, v := range variants {
		variantDeletes = append(variantDeletes, deleteRequest("variant_id", v.ID))
	}
	if err := d.batchWrite(ctx, d.variantsTable, variantDeletes); err != nil {
		return 0, err
	}
	if err := d.batchWrite(ctx, d.productsTable, productDeletes); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (d *DynamoStore) scan(ctx context.Context, input *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan page failed: %w", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// batchWrite sends reqs in chunks of 25, retrying unprocessed items with a
// linear backoff. A failure after the first chunk is a *PartialWriteError
// counting the chunks already committed.
func (d *DynamoStore) batchWrite(ctx context.Context, table string, reqs []types.WriteRequest) error {
	for i := 0; i < len(reqs); i += ddbWriteChunk {
		if err := d.writeChunk(ctx, table, reqs[i:min(i+ddbWriteChunk, len(reqs))]); err != nil {
			if i == 0 {
				return err
			}
			return &PartialWriteError{Written: i, Err: err}
		}
	}
	return nil
}

func (d *DynamoStore) writeChunk(ctx context.Context, table string, chunk []types.WriteRequest) error {
	req := &dynamodb.BatchWriteItemInput{RequestItems: map[string][]types.WriteRequest{table: chunk}}
	attempts := 0
	for {
		out, err := d.client.BatchWriteItem(ctx, req)
		if err != nil {
			return fmt.Errorf("batch write failed: %w", err)
		}
		unp := out.UnprocessedItems[table]
		if len(unp) == 0 {
			return nil
		}
		attempts++
		if attempts >= ddbMaxAttempts {
			return fmt.Errorf("batch write had %d unprocessed items after retries", len(unp))
		}
		req.RequestItems[table] = unp
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempts) * ddbRetryBackoff):
		}
	}
}

func deleteRequest(key, id string) types.WriteRequest {
	return types.WriteRequest{DeleteRequest: &types.DeleteRequest{
		Key: map[string]types.AttributeValue{key: &types.AttributeValueMemberS{Value: id}},
	}}
}

// inFilter builds "attr IN (:p0, :p1, ...)" with its placeholder values.
func inFilter(attr, prefix string, values []string) (string, map[string]types.AttributeValue, error) {
	placeholders := make([]string, 0, len(values))
	av := make(map[string]types.AttributeValue, len(values)+1)
	for i, v := range values {
		ph := fmt.Sprintf("%s%d", prefix, i)
		val, err := attributevalue.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("marshal filter value: %w", err)
		}
		placeholders = append(placeholders, ph)
		av[ph] = val
	}
	return fmt.Sprintf("%s IN (%s)", attr, strings.Join(placeholders, ", ")), av, nil
}
