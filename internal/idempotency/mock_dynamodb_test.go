package idempotency

import (
	"context"
	"errors"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/grocery-orderflow/internal/aws"
)

// simpleMock is a small in-memory table that understands the expressions
// Store issues. TransactWriteItems applies Update items built by
// CompletionWrite.
type simpleMock struct {
	aws.DynamoDBAPI

	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func keyValue(key map[string]types.AttributeValue) string {
	return key["idempotency_key"].(*types.AttributeValueMemberS).Value
}

func sval(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func nval(av types.AttributeValue) int64 {
	if v, ok := av.(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyValue(params.Item)
	if params.ConditionExpression == nil || *params.ConditionExpression != condCreate {
		return nil, errors.New("mock: unexpected put condition")
	}
	if cur, ok := m.table[k]; ok && nval(cur["expires_at"]) >= nval(params.ExpressionAttributeValues[":now"]) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table[keyValue(params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

// apply evaluates one update; the caller holds the lock.
func (m *simpleMock) apply(key map[string]types.AttributeValue, expr string, vals map[string]types.AttributeValue) error {
	item, ok := m.table[keyValue(key)]
	if !ok {
		return &types.ConditionalCheckFailedException{}
	}
	status := sval(item["status"])
	switch expr {
	case exprComplete:
		if status != StatusInProgress || sval(item["order_id"]) != sval(vals[":oid"]) {
			return &types.ConditionalCheckFailedException{}
		}
		item["status"] = vals[":done"]
		item["response_status"] = vals[":rs"]
	case exprFailed:
		if status != StatusInProgress {
			return &types.ConditionalCheckFailedException{}
		}
		item["status"] = vals[":failed"]
		item["note"] = vals[":n"]
	case exprReclaim:
		if status != StatusFailed {
			return &types.ConditionalCheckFailedException{}
		}
		item["status"] = vals[":inprogress"]
		item["order_id"] = vals[":oid"]
		item["expires_at"] = vals[":exp"]
		delete(item, "note")
	default:
		return errors.New("mock: unsupported update expression " + expr)
	}
	item["updated_at"] = vals[":ua"]
	return nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.apply(params.Key, *params.UpdateExpression, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{}, nil
}

// TransactWriteItems handles the single-table case: every item is an Update.
func (m *simpleMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range params.TransactItems {
		u := it.Update
		if u == nil {
			return nil, errors.New("mock: only update items are supported")
		}
		if err := m.apply(u.Key, *u.UpdateExpression, u.ExpressionAttributeValues); err != nil {
			return nil, &types.TransactionCanceledException{}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
