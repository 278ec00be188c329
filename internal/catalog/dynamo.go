package catalog

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
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/aws"
)

// Expressions issued against the products table.
const (
	exprNotExists     = "attribute_not_exists(product_id)"
	exprExists        = "attribute_exists(product_id)"
	exprDecrement     = "SET stock = stock - :q, updated_at = :ua"
	condDecrement     = "attribute_exists(product_id) AND stock >= :q"
	exprFloor         = "SET stock = :zero, updated_at = :ua"
	condFloor         = "attribute_exists(product_id) AND stock < :q"
	exprIncrement     = "SET stock = stock + :q, updated_at = :ua"
	exprSetStock      = "SET stock = :s, updated_at = :ua"
	exprUpdateDetails = "SET #n = :n, price = :p, category = :c, image_ref = :img, updated_at = :ua"
)

// maxDecrementAttempts bounds the retry of the decrement/floor write pair
// when concurrent writers keep invalidating both conditions.
const maxDecrementAttempts = 8

// productRecord is the DynamoDB item shape. Money is stored as a decimal
// string so no precision is lost to float conversion.
type productRecord struct {
	ProductID string    `dynamodbav:"product_id"` // PK
	Name      string    `dynamodbav:"name"`
	Price     string    `dynamodbav:"price"`
	ListPrice string    `dynamodbav:"list_price,omitempty"`
	Category  string    `dynamodbav:"category,omitempty"`
	Stock     int       `dynamodbav:"stock"`
	ImageRef  string    `dynamodbav:"image_ref,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

func toRecord(p Product) productRecord {
	r := productRecord{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price.String(),
		Category:  p.Category,
		Stock:     p.Stock,
		ImageRef:  p.ImageRef,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.ListPrice != nil {
		r.ListPrice = p.ListPrice.String()
	}
	return r
}

func (r productRecord) toProduct() (Product, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s: bad price %q: %w", r.ProductID, r.Price, err)
	}
	p := Product{
		ID:        r.ProductID,
		Name:      r.Name,
		Price:     price,
		Category:  r.Category,
		Stock:     r.Stock,
		ImageRef:  r.ImageRef,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ListPrice != "" {
		lp, err := decimal.NewFromString(r.ListPrice)
		if err != nil {
			return Product{}, fmt.Errorf("product %s: bad list price %q: %w", r.ProductID, r.ListPrice, err)
		}
		p.ListPrice = &lp
	}
	return p, nil
}

// DynamoStore keeps products in a DynamoDB table keyed by product_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoStore) now() types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)}
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(id),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, notFound(id)
	}
	var rec productRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	p, err := rec.toProduct()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *DynamoStore) List(ctx context.Context) ([]Product, error) {
	var out []Product
	pager := dyn.NewScanPaginator(s.client, &dyn.ScanInput{TableName: &s.tableName})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		var recs []productRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal products: %w", err)
		}
		for _, r := range recs {
			p, err := r.toProduct()
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *DynamoStore) Create(ctx context.Context, p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.nowFunc().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	item, err := attributevalue.MarshalMap(toRecord(p))
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: sdkaws.String(exprNotExists),
	})
	if err != nil {
		if conditionFailed(err) {
			return alreadyExists(p.ID)
		}
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

func (s *DynamoStore) UpdateDetails(ctx context.Context, p Product) (*Product, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	update := exprUpdateDetails
	values := map[string]types.AttributeValue{
		":n":   &types.AttributeValueMemberS{Value: p.Name},
		":p":   &types.AttributeValueMemberS{Value: p.Price.String()},
		":c":   &types.AttributeValueMemberS{Value: p.Category},
		":img": &types.AttributeValueMemberS{Value: p.ImageRef},
		":ua":  s.now(),
	}
	if p.ListPrice != nil {
		update += ", list_price = :lp"
		values[":lp"] = &types.AttributeValueMemberS{Value: p.ListPrice.String()}
	} else {
		update += " REMOVE list_price"
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(p.ID),
		UpdateExpression:          &update,
		ConditionExpression:       sdkaws.String(exprExists),
		ExpressionAttributeNames:  map[string]string{"#n": "name"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if conditionFailed(err) {
			return nil, notFound(p.ID)
		}
		return nil, fmt.Errorf("update product: %w", err)
	}
	var rec productRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	updated, err := rec.toProduct()
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DecrementFloor never reads stock into the application. It first tries the
// plain subtraction guarded by stock >= q; if that condition fails it writes
// zero guarded by stock < q. Exactly one of the two can hold for any stored
// value, so the pair is retried only when another writer changes stock in
// between.
func (s *DynamoStore) DecrementFloor(ctx context.Context, id string, qty int) (StockChange, error) {
	q := &types.AttributeValueMemberN{Value: strconv.Itoa(qty)}

	for attempt := 0; attempt < maxDecrementAttempts; attempt++ {
		out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:           &s.tableName,
			Key:                 s.key(id),
			UpdateExpression:    sdkaws.String(exprDecrement),
			ConditionExpression: sdkaws.String(condDecrement),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":  q,
				":ua": s.now(),
			},
			ReturnValues: types.ReturnValueUpdatedNew,
		})
		if err == nil {
			cur, err := stockAttr(out.Attributes)
			if err != nil {
				return StockChange{}, err
			}
			return StockChange{Previous: cur + qty, Current: cur}, nil
		}
		if !conditionFailed(err) {
			return StockChange{}, fmt.Errorf("decrement stock: %w", err)
		}

		out, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:           &s.tableName,
			Key:                 s.key(id),
			UpdateExpression:    sdkaws.String(exprFloor),
			ConditionExpression: sdkaws.String(condFloor),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":    q,
				":zero": &types.AttributeValueMemberN{Value: "0"},
				":ua":   s.now(),
			},
			ReturnValues: types.ReturnValueUpdatedOld,
		})
		if err == nil {
			prev, err := stockAttr(out.Attributes)
			if err != nil {
				return StockChange{}, err
			}
			return StockChange{Previous: prev, Current: 0}, nil
		}
		if !conditionFailed(err) {
			return StockChange{}, fmt.Errorf("floor stock: %w", err)
		}

		// Both guards failed: the item is gone, or stock moved between the writes.
		if _, err := s.Get(ctx, id); err != nil {
			return StockChange{}, err
		}
	}
	return StockChange{}, apperr.Conflict("stock_contention", "product %s: stock changed concurrently %d times", id, maxDecrementAttempts)
}

func (s *DynamoStore) Increment(ctx context.Context, id string, qty int) (StockChange, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(id),
		UpdateExpression:    sdkaws.String(exprIncrement),
		ConditionExpression: sdkaws.String(exprExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":  &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
			":ua": s.now(),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if conditionFailed(err) {
			return StockChange{}, notFound(id)
		}
		return StockChange{}, fmt.Errorf("increment stock: %w", err)
	}
	cur, err := stockAttr(out.Attributes)
	if err != nil {
		return StockChange{}, err
	}
	return StockChange{Previous: cur - qty, Current: cur}, nil
}

func (s *DynamoStore) SetStock(ctx context.Context, id string, stock int) (StockChange, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(id),
		UpdateExpression:    sdkaws.String(exprSetStock),
		ConditionExpression: sdkaws.String(exprExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberN{Value: strconv.Itoa(stock)},
			":ua": s.now(),
		},
		ReturnValues: types.ReturnValueUpdatedOld,
	})
	if err != nil {
		if conditionFailed(err) {
			return StockChange{}, notFound(id)
		}
		return StockChange{}, fmt.Errorf("set stock: %w", err)
	}
	prev, err := stockAttr(out.Attributes)
	if err != nil {
		return StockChange{}, err
	}
	return StockChange{Previous: prev, Current: stock}, nil
}

func stockAttr(attrs map[string]types.AttributeValue) (int, error) {
	var v struct {
		Stock int `dynamodbav:"stock"`
	}
	if err := attributevalue.UnmarshalMap(attrs, &v); err != nil {
		return 0, fmt.Errorf("unmarshal stock: %w", err)
	}
	return v.Stock, nil
}

func conditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}
