package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws"
)

// Record is the shape persisted in the items DynamoDB table.
type Record struct {
	ItemID    int       `dynamodbav:"item_id"` // PK
	Kind      string    `dynamodbav:"kind"`
	Name      string    `dynamodbav:"name"`
	Size      string    `dynamodbav:"size"`
	Price     float64   `dynamodbav:"price"`
	Brand     string    `dynamodbav:"brand"`
	Stock     int       `dynamodbav:"stock"`
	Version   int64     `dynamodbav:"version"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// Store encapsulates operations on the items table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new items Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put writes the full item, replacing any stored copy.
func (s *Store) Put(ctx context.Context, item *Item) error {
	stock, version := item.StockState()
	rec := Record{
		ItemID:    item.ID(),
		Kind:      item.TypeLabel(),
		Name:      item.Name(),
		Size:      item.Size(),
		Price:     item.Price(),
		Brand:     item.Brand(),
		Stock:     stock,
		Version:   version,
		UpdatedAt: s.nowFunc().UTC(),
	}
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches an item by id. Returns (nil, nil) if not found. Stored records
// are re-validated through New.
func (s *Store) Get(ctx context.Context, id int) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       itemKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	kind, err := KindFor(rec.Kind)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	item, err := New(kind, Attributes{
		ID:    rec.ItemID,
		Name:  rec.Name,
		Size:  rec.Size,
		Price: rec.Price,
		Brand: rec.Brand,
		Stock: rec.Stock,
	})
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	item.version = rec.Version
	return item, nil
}

// StockLevel is the stored stock of an item and the version of its last
// change.
type StockLevel struct {
	Stock   int   `dynamodbav:"stock"`
	Version int64 `dynamodbav:"version"`
}

// Reserve takes quantity units out of the stored stock in one conditional
// update. When fewer than quantity units are stored it reports false with the
// current level and changes nothing. ErrNotFound is returned for an unknown id.
func (s *Store) Reserve(ctx context.Context, id, quantity int) (StockLevel, bool, error) {
	input := s.stockDelta(id, -quantity)
	input.ConditionExpression = awsString("stock >= :q")
	input.ExpressionAttributeValues[":q"] = &types.AttributeValueMemberN{Value: strconv.Itoa(quantity)}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return StockLevel{}, false, fmt.Errorf("reserve stock: %w", err)
		}
		level, err := s.Level(ctx, id)
		return level, false, err
	}
	level, err := levelOf(out.Attributes)
	return level, err == nil, err
}

// Release puts quantity units back into the stored stock.
func (s *Store) Release(ctx context.Context, id, quantity int) (StockLevel, error) {
	input := s.stockDelta(id, quantity)
	input.ConditionExpression = awsString("attribute_exists(item_id)")

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return StockLevel{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return StockLevel{}, fmt.Errorf("release stock: %w", err)
	}
	return levelOf(out.Attributes)
}

// Level reads the stored stock of id.
func (s *Store) Level(ctx context.Context, id int) (StockLevel, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            itemKey(id),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return StockLevel{}, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return StockLevel{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return levelOf(out.Item)
}

func (s *Store) stockDelta(id, delta int) *dyn.UpdateItemInput {
	return &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              itemKey(id),
		UpdateExpression: awsString("ADD stock :delta, version :one SET updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":ua":    &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueAllNew,
	}
}

func levelOf(av map[string]types.AttributeValue) (StockLevel, error) {
	var level StockLevel
	if err := attributevalue.UnmarshalMap(av, &level); err != nil {
		return StockLevel{}, fmt.Errorf("unmarshal stock: %w", err)
	}
	return level, nil
}

func itemKey(id int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"item_id": &types.AttributeValueMemberN{Value: strconv.Itoa(id)},
	}
}

func awsString(s string) *string { return &s }
