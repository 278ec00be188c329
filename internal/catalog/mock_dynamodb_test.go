package catalog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/grocery-orderflow/internal/aws"
)

// mockDynamo understands exactly the expressions DynamoStore issues. Each call
// holds the mutex, which gives the same per-item atomicity DynamoDB does.
type mockDynamo struct {
	aws.DynamoDBAPI

	mu     sync.Mutex
	items  map[string]map[string]types.AttributeValue
	calls  int
	onCall func(call int)
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func pk(key map[string]types.AttributeValue) string {
	return key["product_id"].(*types.AttributeValueMemberS).Value
}

func num(av types.AttributeValue) int {
	n, _ := strconv.Atoi(av.(*types.AttributeValueMemberN).Value)
	return n
}

func setNum(item map[string]types.AttributeValue, attr string, v int) {
	item[attr] = &types.AttributeValueMemberN{Value: strconv.Itoa(v)}
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := pk(in.Item)
	if in.ConditionExpression != nil && *in.ConditionExpression == exprNotExists {
		if _, ok := m.items[id]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[id] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dyn.GetItemOutput{Item: m.items[pk(in.Key)]}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &dyn.ScanOutput{}
	for _, it := range m.items {
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	hook := m.onCall
	m.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := pk(in.Key)
	item, exists := m.items[id]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	vals := in.ExpressionAttributeValues
	stock := num(item["stock"])
	expr := *in.UpdateExpression

	switch {
	case expr == exprDecrement:
		q := num(vals[":q"])
		if stock < q {
			return nil, &types.ConditionalCheckFailedException{}
		}
		setNum(item, "stock", stock-q)
		return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"stock": item["stock"]}}, nil
	case expr == exprFloor:
		q := num(vals[":q"])
		if stock >= q {
			return nil, &types.ConditionalCheckFailedException{}
		}
		old := item["stock"]
		setNum(item, "stock", 0)
		return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"stock": old}}, nil
	case expr == exprIncrement:
		setNum(item, "stock", stock+num(vals[":q"]))
		return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"stock": item["stock"]}}, nil
	case expr == exprSetStock:
		old := item["stock"]
		item["stock"] = vals[":s"]
		return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"stock": old}}, nil
	case strings.HasPrefix(expr, exprUpdateDetails):
		item["name"] = vals[":n"]
		item["price"] = vals[":p"]
		item["category"] = vals[":c"]
		item["image_ref"] = vals[":img"]
		item["updated_at"] = vals[":ua"]
		if lp, ok := vals[":lp"]; ok {
			item["list_price"] = lp
		} else {
			delete(item, "list_price")
		}
		return &dyn.UpdateItemOutput{Attributes: item}, nil
	}
	return nil, errors.New("mock: unsupported update expression " + expr)
}
