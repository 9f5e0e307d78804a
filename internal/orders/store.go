package orders

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-payment-reconciler/internal/aws"
	"github.com/imrishuroy/go-payment-reconciler/internal/retry"
)

const (
	conditionTransition = "attribute_exists(order_id) AND payment_status = :expected"
	conditionAttach     = "attribute_exists(order_id) AND (attribute_not_exists(external_reference) OR external_reference = :ref)"
)

// DynamoStore encapsulates operations on the orders table.
//
// The table is keyed by order_id. Two GSIs are expected: referenceIndex on
// external_reference, and statusIndex on payment_status with created_at as sort key.
type DynamoStore struct {
	client         aws.DynamoDBAPI
	tableName      string
	referenceIndex string
	statusIndex    string
	nowFunc        func() time.Time
}

// NewDynamoStore creates a new orders store backed by DynamoDB.
func NewDynamoStore(client aws.DynamoDBAPI, tableName, referenceIndex, statusIndex string) *DynamoStore {
	return &DynamoStore{
		client:         client,
		tableName:      tableName,
		referenceIndex: referenceIndex,
		statusIndex:    statusIndex,
		nowFunc:        time.Now,
	}
}

// Get fetches an order by order_id with a strongly consistent read.
func (s *DynamoStore) Get(ctx context.Context, orderID string) (*Order, error) {
	consistent := true
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, classify("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByReference looks the reference up on the GSI, then re-reads the base item consistently
// since GSI reads are eventually consistent.
func (s *DynamoStore) GetByReference(ctx context.Context, reference string) (*Order, error) {
	limit := int32(1)
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.referenceIndex,
		KeyConditionExpression: awsString("external_reference = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: reference},
		},
		Limit: &limit,
	})
	if err != nil {
		return nil, classify("query reference index", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}
	id, ok := out.Items[0]["order_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("reference index item without order_id")
	}
	return s.Get(ctx, id.Value)
}

// ApplyTransition conditionally updates the order payment state from expected -> t.PaymentStatus.
// Returns nil on success, ErrStatusMismatch if the condition failed.
func (s *DynamoStore) ApplyTransition(ctx context.Context, orderID string, expected PaymentStatus, t Transition) error {
	expr := updateExpression{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
	expr.set("payment_status", ":ps", &types.AttributeValueMemberS{Value: string(t.PaymentStatus)})
	expr.set("updated_at", ":ua", &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)})
	if t.Status != "" {
		// status is a DynamoDB reserved word
		expr.names["#st"] = "status"
		expr.set("#st", ":st", &types.AttributeValueMemberS{Value: string(t.Status)})
	}
	if t.PaymentError != "" {
		expr.set("payment_error", ":pe", &types.AttributeValueMemberS{Value: t.PaymentError})
	} else if t.ClearPaymentError {
		expr.remove = append(expr.remove, "payment_error")
	}
	if t.ExternalReference != "" {
		expr.setIfNotExists("external_reference", ":ref", &types.AttributeValueMemberS{Value: t.ExternalReference})
	}
	if t.PaymentAccount != "" {
		expr.setIfNotExists("payment_account", ":pa", &types.AttributeValueMemberS{Value: t.PaymentAccount})
	}
	expr.values[":expected"] = &types.AttributeValueMemberS{Value: string(expected)}

	input := &dyn.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 orderKey(orderID),
		UpdateExpression:                    awsString(expr.String()),
		ConditionExpression:                 awsString(conditionTransition),
		ExpressionAttributeValues:           expr.values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if len(expr.names) > 0 {
		input.ExpressionAttributeNames = expr.names
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return ErrNotFound
			}
			return ErrStatusMismatch
		}
		return classify("update item", err)
	}
	return nil
}

// AttachReference sets external_reference once.
func (s *DynamoStore) AttachReference(ctx context.Context, orderID, reference string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderID),
		UpdateExpression:    awsString("SET external_reference = :ref, updated_at = :ua"),
		ConditionExpression: awsString(conditionAttach),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: reference},
			":ua":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return ErrNotFound
			}
			return ErrReferenceConflict
		}
		return classify("attach reference", err)
	}
	return nil
}

// ListPending pages through the status index until limit matching orders are collected.
func (s *DynamoStore) ListPending(ctx context.Context, limit int) ([]Order, error) {
	forward := true
	var (
		result   []Order
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			IndexName:              &s.statusIndex,
			KeyConditionExpression: awsString("payment_status = :ps"),
			FilterExpression:       awsString("attribute_exists(external_reference)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ps": &types.AttributeValueMemberS{Value: string(PaymentPending)},
			},
			ScanIndexForward:  &forward,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, classify("query status index", err)
		}

		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal pending orders: %w", err)
		}
		for _, o := range page {
			result = append(result, o)
			if len(result) >= limit {
				return result, nil
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

type updateExpression struct {
	sets   []string
	remove []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e *updateExpression) set(attr, placeholder string, v types.AttributeValue) {
	e.sets = append(e.sets, fmt.Sprintf("%s = %s", attr, placeholder))
	e.values[placeholder] = v
}

func (e *updateExpression) setIfNotExists(attr, placeholder string, v types.AttributeValue) {
	e.sets = append(e.sets, fmt.Sprintf("%s = if_not_exists(%s, %s)", attr, attr, placeholder))
	e.values[placeholder] = v
}

func (e *updateExpression) String() string {
	expr := "SET " + strings.Join(e.sets, ", ")
	if len(e.remove) > 0 {
		expr += " REMOVE " + strings.Join(e.remove, ", ")
	}
	return expr
}

// classify wraps err and marks throttling, server-side and network timeout failures as transient.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if isTransientAWS(err) {
		return retry.MarkTransient(wrapped)
	}
	return wrapped
}

func isTransientAWS(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException",
			"ThrottlingException",
			"RequestLimitExceeded",
			"InternalServerError",
			"ServiceUnavailable",
			"TransactionConflictException":
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
