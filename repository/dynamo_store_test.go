package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"catalog-import-service/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo serves canned scan pages and records batch writes.
type fakeDynamo struct {
	pages       map[string][][]map[string]types.AttributeValue
	scans       []*dynamodb.ScanInput
	writes      []map[string][]types.WriteRequest
	unprocessed int // number of leading calls that bounce their last item
	writeErr    error
	failOnWrite int // 1-based call that fails with writeErr; 0 fails every call
	writeCalls  int
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans = append(f.scans, in)
	pages := f.pages[aws.ToString(in.TableName)]
	idx := 0
	if in.ExclusiveStartKey != nil {
		fmt.Sscanf(in.ExclusiveStartKey["page"].(*types.AttributeValueMemberN).Value, "%d", &idx)
	}
	if idx >= len(pages) {
		return &dynamodb.ScanOutput{}, nil
	}
	out := &dynamodb.ScanOutput{Items: pages[idx]}
	if idx+1 < len(pages) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"page": &types.AttributeValueMemberN{Value: fmt.Sprint(idx + 1)}}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.writeCalls++
	if f.writeErr != nil && (f.failOnWrite == 0 || f.failOnWrite == f.writeCalls) {
		return nil, f.writeErr
	}
	copied := make(map[string][]types.WriteRequest, len(in.RequestItems))
	for k, v := range in.RequestItems {
		copied[k] = append([]types.WriteRequest(nil), v...)
	}
	f.writes = append(f.writes, copied)
	if f.unprocessed > 0 {
		f.unprocessed--
		for table, reqs := range in.RequestItems {
			return &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{table: reqs[len(reqs)-1:]}}, nil
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func item(t *testing.T, v interface{}) map[string]types.AttributeValue {
	t.Helper()
	m, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return m
}

func TestDynamoStore_FindProductsBySKUs(t *testing.T) {
	client := &fakeDynamo{pages: map[string][][]map[string]types.AttributeValue{
		"products": {
			{item(t, ddbProduct{ProductID: "p1", SKU: "A1"})},
			{item(t, ddbProduct{ProductID: "p2", SKU: "B2"})},
		},
	}}
	store := NewDynamoStore(client, "", "")

	refs, err := store.FindProductsBySKUs(context.Background(), "brand-1", []string{"A1", "B2"})
	require.NoError(t, err)
	assert.Equal(t, []models.ProductRef{{ID: "p1", SKU: "A1"}, {ID: "p2", SKU: "B2"}}, refs)

	require.Len(t, client.scans, 2)
	in := client.scans[0]
	assert.Equal(t, "brand_id = :b AND sku IN (:s0, :s1)", aws.ToString(in.FilterExpression))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "brand-1"}, in.ExpressionAttributeValues[":b"])
}

func TestDynamoStore_InsertChunksAndRetries(t *testing.T) {
	client := &fakeDynamo{unprocessed: 1}
	store := NewDynamoStore(client, "products", "product_variants")

	products := make([]*models.Product, 0, 30)
	for i := 0; i < 30; i++ {
		products = append(products, &models.Product{Brand: "brand-1", SKU: fmt.Sprintf("S%02d", i)})
	}
	refs, err := store.InsertProducts(context.Background(), products)
	require.NoError(t, err)
	require.Len(t, refs, 30)
	assert.NotEmpty(t, refs[0].ID)

	// 25 items, 1 retried item, then the remaining 5.
	require.Len(t, client.writes, 3)
	assert.Len(t, client.writes[0]["products"], 25)
	assert.Len(t, client.writes[1]["products"], 1)
	assert.Len(t, client.writes[2]["products"], 5)

	var written ddbProduct
	require.NoError(t, attributevalue.UnmarshalMap(client.writes[0]["products"][0].PutRequest.Item, &written))
	assert.Equal(t, "S00", written.SKU)
	assert.Equal(t, "0", written.Price)
}

func TestDynamoStore_VariantsKeepIDsOnUpsert(t *testing.T) {
	client := &fakeDynamo{}
	store := NewDynamoStore(client, "products", "product_variants")
	ctx := context.Background()

	require.NoError(t, store.UpsertVariants(ctx, []models.VariantRecord{{ID: "v1", ProductID: "p1", Size: "M", Stock: 4}}))
	require.NoError(t, store.InsertVariants(ctx, []models.VariantRecord{{ID: "ignored", ProductID: "p1", Size: "L"}}))

	var up, ins ddbVariant
	require.NoError(t, attributevalue.UnmarshalMap(client.writes[0]["product_variants"][0].PutRequest.Item, &up))
	require.NoError(t, attributevalue.UnmarshalMap(client.writes[1]["product_variants"][0].PutRequest.Item, &ins))
	assert.Equal(t, "v1", up.VariantID)
	assert.Equal(t, 4, up.Stock)
	assert.NotEqual(t, "ignored", ins.VariantID)
}

func TestDynamoStore_DeleteBrandCatalog(t *testing.T) {
	client := &fakeDynamo{pages: map[string][][]map[string]types.AttributeValue{
		"products":         {{item(t, ddbProduct{ProductID: "p1"}), item(t, ddbProduct{ProductID: "p2"})}},
		"product_variants": {{item(t, ddbVariant{VariantID: "v1", ProductID: "p1", Size: "M"})}},
	}}
	store := NewDynamoStore(client, "products", "product_variants")

	n, err := store.DeleteBrandCatalog(context.Background(), "brand-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, client.writes, 2)
	assert.Len(t, client.writes[0]["product_variants"], 1)
	assert.Len(t, client.writes[1]["products"], 2)
	assert.NotNil(t, client.writes[1]["products"][0].DeleteRequest)
	assert.True(t, strings.HasPrefix(aws.ToString(client.scans[1].FilterExpression), "product_id IN"))
}

func TestDynamoStore_WriteError(t *testing.T) {
	client := &fakeDynamo{writeErr: errors.New("throttled")}
	store := NewDynamoStore(client, "products", "product_variants")
	err := store.UpsertProducts(context.Background(), []*models.Product{{ID: "p1", SKU: "A1"}})
	assert.ErrorContains(t, err, "throttled")
}

func TestDynamoStore_PartialInsertIsReported(t *testing.T) {
	client := &fakeDynamo{writeErr: errors.New("throttled"), failOnWrite: 2}
	store := NewDynamoStore(client, "products", "product_variants")

	products := make([]*models.Product, 0, 50)
	for i := 0; i < 50; i++ {
		products = append(products, &models.Product{Brand: "brand-1", SKU: fmt.Sprintf("S%02d", i)})
	}
	refs, err := store.InsertProducts(context.Background(), products)

	var pw *PartialWriteError
	require.ErrorAs(t, err, &pw)
	assert.Equal(t, 25, pw.Written)
	assert.ErrorContains(t, err, "throttled")
	require.Len(t, refs, 25)
	assert.Equal(t, "S24", refs[24].SKU)
	require.Len(t, client.writes, 1)
}

func TestDynamoStore_FirstChunkFailureIsNotPartial(t *testing.T) {
	client := &fakeDynamo{writeErr: errors.New("throttled"), failOnWrite: 1}
	store := NewDynamoStore(client, "products", "product_variants")

	refs, err := store.InsertProducts(context.Background(), []*models.Product{{SKU: "A1"}})
	require.Error(t, err)
	var pw *PartialWriteError
	assert.False(t, errors.As(err, &pw))
	assert.Empty(t, refs)
}
