package customers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws"
)

// scanPageSize bounds each Scan page read by List.
const scanPageSize = 100

// ErrPointsConflict means the stored balance changed since it was read.
var ErrPointsConflict = errors.New("points changed concurrently")

// Record is the shape persisted in the customers DynamoDB table.
type Record struct {
	CustomerID    int       `dynamodbav:"customer_id"` // PK
	Name          string    `dynamodbav:"name"`
	PreferredSize string    `dynamodbav:"preferred_size"`
	Points        int       `dynamodbav:"points"`
	UpdatedAt     time.Time `dynamodbav:"updated_at"`
}

// Store encapsulates operations on the customers table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new customers Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put writes the customer, replacing any stored copy.
func (s *Store) Put(ctx context.Context, c *Customer) error {
	attrs := c.Attributes()
	av, err := attributevalue.MarshalMap(Record{
		CustomerID:    attrs.ID,
		Name:          attrs.Name,
		PreferredSize: attrs.PreferredSize,
		Points:        attrs.Points,
		UpdatedAt:     s.nowFunc().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches a customer by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id int) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       customerKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return fromItem(out.Item)
}

// List returns every customer ordered by id.
func (s *Store) List(ctx context.Context) ([]*Customer, error) {
	var (
		all   []*Customer
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			Limit:             sdkaws.Int32(scanPageSize),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan customers: %w", err)
		}
		for _, item := range out.Items {
			c, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			all = append(all, c)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	return all, nil
}

func fromItem(item map[string]types.AttributeValue) (*Customer, error) {
	var rec Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	c, err := New(Attributes{
		ID:            rec.CustomerID,
		Name:          rec.Name,
		PreferredSize: rec.PreferredSize,
		Points:        rec.Points,
	})
	if err != nil {
		return nil, fmt.Errorf("customer %d: %w", rec.CustomerID, err)
	}
	return c, nil
}

// SavePoints conditionally updates the balance from previous -> current.
// Returns ErrPointsConflict if the stored balance is no longer previous.
func (s *Store) SavePoints(ctx context.Context, id, previous, current int) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              customerKey(id),
		UpdateExpression: awsString("SET points = :new, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberN{Value: strconv.Itoa(current)},
			":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(previous)},
			":ua":       &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ConditionExpression: awsString("points = :expected"),
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrPointsConflict
		}
		return fmt.Errorf("update points: %w", err)
	}
	return nil
}

func customerKey(id int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"customer_id": &types.AttributeValueMemberN{Value: strconv.Itoa(id)},
	}
}

func awsString(s string) *string { return &s }
