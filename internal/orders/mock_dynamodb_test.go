package orders

import (
	"context"
	"errors"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/grocery-orderflow/internal/aws"
)

// mockDynamo stores items per table (table -> pk -> item) and interprets the
// expressions DynamoStore issues. Tables are keyed by order_id, or by
// idempotency_key for the idempotency table.
type mockDynamo struct {
	aws.DynamoDBAPI

	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

func keyOf(item map[string]types.AttributeValue) string {
	for _, attr := range []string{"order_id", "idempotency_key"} {
		if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
	}
	return ""
}

func str(item map[string]types.AttributeValue, attr string) string {
	if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) put(tableName string, item map[string]types.AttributeValue, cond *string, vals map[string]types.AttributeValue) error {
	t := m.table(tableName)
	id := keyOf(item)
	cur, exists := t[id]
	if cond != nil {
		switch *cond {
		case condOrderNotExists:
			if exists {
				return &types.ConditionalCheckFailedException{}
			}
		case condReplace:
			if !exists || str(cur, "updated_at") != vals[":prev"].(*types.AttributeValueMemberS).Value {
				return &types.ConditionalCheckFailedException{}
			}
		default:
			return errors.New("mock: unsupported put condition " + *cond)
		}
	}
	t[id] = copyItem(item)
	return nil
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.put(*in.TableName, in.Item, in.ConditionExpression, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table(*in.TableName)[keyOf(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, exists := m.table(*in.TableName)[keyOf(in.Key)]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	vals := in.ExpressionAttributeValues

	switch *in.UpdateExpression {
	case exprStatus:
		if str(item, "status") != vals[":expected"].(*types.AttributeValueMemberS).Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if *in.ConditionExpression == condLeave {
			if _, ok := item["reserved"].(*types.AttributeValueMemberM); !ok {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
		item["status"] = vals[":new"]
	case exprReserved:
		if str(item, "status") != vals[":processing"].(*types.AttributeValueMemberS).Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item["reserved"] = vals[":r"]
	case exprPaid:
		if str(item, "payment_status") != vals[":unpaid"].(*types.AttributeValueMemberS).Value {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item["payment_status"] = vals[":paid"]
	default:
		return nil, errors.New("mock: unsupported update expression " + *in.UpdateExpression)
	}
	item["updated_at"] = vals[":ua"]
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(*in.TableName)
	id := keyOf(in.Key)
	if _, ok := t[id]; !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(t, id)
	return &dyn.DeleteItemOutput{}, nil
}

// Query supports the two secondary indexes by matching the single key value.
func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var attr, want string
	switch *in.IndexName {
	case SessionIndex:
		attr, want = "session_ref", in.ExpressionAttributeValues[":sr"].(*types.AttributeValueMemberS).Value
	case UserIndex:
		attr, want = "user_id", in.ExpressionAttributeValues[":u"].(*types.AttributeValueMemberS).Value
	default:
		return nil, errors.New("mock: unknown index " + *in.IndexName)
	}
	out := &dyn.QueryOutput{}
	for _, it := range m.table(*in.TableName) {
		if str(it, attr) == want {
			out.Items = append(out.Items, copyItem(it))
		}
	}
	sort.Slice(out.Items, func(i, j int) bool {
		return str(out.Items[i], "created_at") > str(out.Items[j], "created_at")
	})
	return out, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &dyn.ScanOutput{}
	for _, it := range m.table(*in.TableName) {
		out.Items = append(out.Items, copyItem(it))
	}
	return out, nil
}

// TransactWriteItems checks every condition before applying any write.
func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			if _, exists := m.table(*ti.Put.TableName)[keyOf(ti.Put.Item)]; exists {
				return nil, &types.TransactionCanceledException{}
			}
		case ti.ConditionCheck != nil:
			if _, exists := m.table(*ti.ConditionCheck.TableName)[keyOf(ti.ConditionCheck.Key)]; !exists {
				return nil, &types.TransactionCanceledException{}
			}
		default:
			return nil, errors.New("mock: unsupported transact item")
		}
	}
	for _, ti := range in.TransactItems {
		if ti.Put != nil {
			m.table(*ti.Put.TableName)[keyOf(ti.Put.Item)] = copyItem(ti.Put.Item)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
