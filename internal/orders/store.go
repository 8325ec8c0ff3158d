package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws"
)

// sequenceKey is the reserved order_id of the row holding the id counter.
const sequenceKey = 0

var (
	// ErrStatusMismatch is returned when a conditional write finds the stored
	// order in another status or at another revision.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrOrderExists is returned when creating an order id that is taken.
	ErrOrderExists = errors.New("order already exists")
	// ErrCreateConflict is returned when the create transaction was cancelled,
	// most likely because the idempotency key already exists.
	ErrCreateConflict = errors.New("create transaction cancelled")
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// NextID atomically increments the counter row and returns the new value.
func (s *Store) NextID(ctx context.Context) (int, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(sequenceKey),
		UpdateExpression: awsString("ADD next_id :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("next order id: %w", err)
	}
	n, ok := out.Attributes["next_id"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("next order id: counter missing from response")
	}
	id, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("next order id: %w", err)
	}
	return id, nil
}

// Create writes a new order. Returns ErrOrderExists if the id is taken.
func (s *Store) Create(ctx context.Context, rec Record) error {
	orderMap, err := s.marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                orderMap,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %d", ErrOrderExists, rec.OrderID)
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in orders table (with ConditionExpression attribute_not_exists(order_id))
//
// idempotencyItem must be a serializable struct with attribute idempotency_key present.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, rec Record, ttlWindow time.Duration) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	// add expires_at when the caller did not set one
	if v, ok := idempMap["expires_at"]; (!ok || isZeroNumber(v)) && ttlWindow > 0 {
		expires := s.nowFunc().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	}

	orderMap, err := s.marshal(rec)
	if err != nil {
		return err
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %v", ErrCreateConflict, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID int) (*Record, error) {
	if orderID == sequenceKey {
		return nil, nil
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &rec, nil
}

// Save replaces the stored order when it is still in expected status at
// rec.Revision, and writes it as the next revision. Returns ErrStatusMismatch
// otherwise.
func (s *Store) Save(ctx context.Context, rec Record, expected Status) error {
	current := rec.Revision
	rec.Revision++
	orderMap, err := s.marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     orderMap,
		ConditionExpression:      awsString("#s = :expected AND revision = :rev"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":rev":      &types.AttributeValueMemberN{Value: strconv.FormatInt(current, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// revision is the revision the caller last read; the write bumps it.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID int, expectedStatus, newStatus Status, revision int64) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua, revision = :next"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(newStatus)},
			":expected": &types.AttributeValueMemberS{Value: string(expectedStatus)},
			":ua":       &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			":rev":      &types.AttributeValueMemberN{Value: strconv.FormatInt(revision, 10)},
			":next":     &types.AttributeValueMemberN{Value: strconv.FormatInt(revision+1, 10)},
		},
		ConditionExpression: awsString("#s = :expected AND revision = :rev"),
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *Store) marshal(rec Record) (map[string]types.AttributeValue, error) {
	now := s.nowFunc().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	orderMap, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	return orderMap, nil
}

func orderKey(id int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberN{Value: strconv.Itoa(id)},
	}
}

func isZeroNumber(v types.AttributeValue) bool {
	n, ok := v.(*types.AttributeValueMemberN)
	return ok && n.Value == "0"
}

func awsString(s string) *string { return &s }
