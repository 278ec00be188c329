package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/aws"
	"github.com/imrishuroy/grocery-orderflow/internal/pricing"
)

// Secondary indexes on the orders table.
const (
	UserIndex    = "user_id-index"
	SessionIndex = "session_ref-index"
)

// Expressions issued against the orders table.
const (
	condOrderNotExists = "attribute_not_exists(order_id)"
	condOrderExists    = "attribute_exists(order_id)"
	exprStatus         = "SET #s = :new, updated_at = :ua"
	condStatus         = "#s = :expected"
	condLeave          = "#s = :expected AND attribute_type(#r, :map)"
	exprReserved       = "SET #r = :r, updated_at = :ua"
	condReserved       = "#s = :processing"
	exprPaid           = "SET payment_status = :paid, updated_at = :ua"
	condPaid           = "attribute_exists(order_id) AND payment_status = :unpaid"
	condReplace        = "updated_at = :prev"
)

type itemRecord struct {
	ProductID string `dynamodbav:"product_id"`
	Name      string `dynamodbav:"name"`
	UnitPrice string `dynamodbav:"unit_price"`
	Quantity  int    `dynamodbav:"quantity"`
	ImageRef  string `dynamodbav:"image_ref,omitempty"`
}

// orderRecord is the item stored in the orders table. Amounts are decimal
// strings.
type orderRecord struct {
	OrderID          string         `dynamodbav:"order_id"` // PK
	UserID           string         `dynamodbav:"user_id"`
	Customer         Customer       `dynamodbav:"customer"`
	Items            []itemRecord   `dynamodbav:"items"`
	PaymentMethod    string         `dynamodbav:"payment_method"`
	PaymentStatus    string         `dynamodbav:"payment_status"`
	SessionRef       string         `dynamodbav:"session_ref,omitempty"`
	PaymentIntentRef string         `dynamodbav:"payment_intent_ref,omitempty"`
	Status           string         `dynamodbav:"status"`
	Notes            string         `dynamodbav:"notes,omitempty"`
	DeliveryDate     *time.Time     `dynamodbav:"delivery_date,omitempty"`
	Subtotal         string         `dynamodbav:"subtotal"`
	Tax              string         `dynamodbav:"tax"`
	Shipping         string         `dynamodbav:"shipping"`
	Total            string         `dynamodbav:"total"`
	Reserved         map[string]int `dynamodbav:"reserved"` // NULL until recorded
	CreatedAt        time.Time      `dynamodbav:"created_at"`
	UpdatedAt        time.Time      `dynamodbav:"updated_at"`
}

func toRecord(o Order) orderRecord {
	items := make([]itemRecord, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemRecord{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice.String(),
			Quantity:  it.Quantity,
			ImageRef:  it.ImageRef,
		}
	}
	return orderRecord{
		OrderID:          o.OrderID,
		UserID:           o.UserID,
		Customer:         o.Customer,
		Items:            items,
		PaymentMethod:    string(o.PaymentMethod),
		PaymentStatus:    string(o.PaymentStatus),
		SessionRef:       o.SessionRef,
		PaymentIntentRef: o.PaymentIntentRef,
		Status:           string(o.Status),
		Notes:            o.Notes,
		DeliveryDate:     o.DeliveryDate,
		Subtotal:         o.Subtotal.String(),
		Tax:              o.Tax.String(),
		Shipping:         o.Shipping.String(),
		Total:            o.Total.String(),
		Reserved:         o.Reserved,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func (r orderRecord) toOrder() (Order, error) {
	amounts := make([]decimal.Decimal, 4)
	for i, s := range []string{r.Subtotal, r.Tax, r.Shipping, r.Total} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Order{}, fmt.Errorf("order %s: bad amount %q: %w", r.OrderID, s, err)
		}
		amounts[i] = d
	}
	items := make([]LineItem, len(r.Items))
	for i, it := range r.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return Order{}, fmt.Errorf("order %s: bad unit price %q: %w", r.OrderID, it.UnitPrice, err)
		}
		items[i] = LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: price,
			Quantity:  it.Quantity,
			ImageRef:  it.ImageRef,
		}
	}
	return Order{
		OrderID:          r.OrderID,
		UserID:           r.UserID,
		Customer:         r.Customer,
		Items:            items,
		PaymentMethod:    PaymentMethod(r.PaymentMethod),
		PaymentStatus:    PaymentStatus(r.PaymentStatus),
		SessionRef:       r.SessionRef,
		PaymentIntentRef: r.PaymentIntentRef,
		Status:           Status(r.Status),
		Notes:            r.Notes,
		DeliveryDate:     r.DeliveryDate,
		Breakdown: pricing.Breakdown{
			Subtotal: amounts[0],
			Tax:      amounts[1],
			Shipping: amounts[2],
			Total:    amounts[3],
		},
		Reserved:  r.Reserved,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func unmarshalOrder(item map[string]types.AttributeValue) (*Order, error) {
	var rec orderRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o, err := rec.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func unmarshalOrders(items []map[string]types.AttributeValue) ([]Order, error) {
	out := make([]Order, 0, len(items))
	for _, it := range items {
		o, err := unmarshalOrder(it)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// DynamoStore encapsulates operations on the orders table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	idem      IdempotencyCompleter
	nowFunc   func() time.Time
}

// NewDynamoStore creates an orders store. idem may be nil when idempotency
// keys are not used.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, idem IdempotencyCompleter) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		idem:      idem,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) key(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func (s *DynamoStore) now() time.Time { return s.nowFunc().UTC() }

func timeAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.Format(time.RFC3339Nano)}
}

// Create writes the order guarded by attribute_not_exists(order_id). With an
// idempotency key the order Put and the idempotency completion are issued as
// one TransactWriteItems call.
func (s *DynamoStore) Create(ctx context.Context, o Order, idempotencyKey string) error {
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(toRecord(o))
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	put := &types.Put{
		TableName:           &s.tableName,
		Item:                orderMap,
		ConditionExpression: sdkaws.String(condOrderNotExists),
	}

	if idempotencyKey == "" || s.idem == nil {
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           put.TableName,
			Item:                put.Item,
			ConditionExpression: put.ConditionExpression,
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				return apperr.Conflict("duplicate_order_id", "order %s already exists", o.OrderID)
			}
			return fmt.Errorf("put order: %w", err)
		}
		return nil
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: put},
			s.idem.CompletionWrite(idempotencyKey, o.OrderID, http.StatusCreated),
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return apperr.Conflict("idempotency_conflict", "order %s: transaction canceled (order id taken or idempotency key not held)", o.OrderID)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id.
func (s *DynamoStore) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(orderID),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, apperr.NotFound("order_not_found", "order %s not found", orderID)
	}
	return unmarshalOrder(out.Item)
}

func (s *DynamoStore) FindBySession(ctx context.Context, sessionRef string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              sdkaws.String(SessionIndex),
		KeyConditionExpression: sdkaws.String("session_ref = :sr"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sr": &types.AttributeValueMemberS{Value: sessionRef},
		},
		Limit: sdkaws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query by session: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, apperr.NotFound("order_not_found", "no order for session %s", sessionRef)
	}
	// The index may project keys only and is eventually consistent; reload
	// the full item from the table.
	var ref struct {
		OrderID string `dynamodbav:"order_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &ref); err != nil {
		return nil, fmt.Errorf("unmarshal session index item: %w", err)
	}
	return s.Get(ctx, ref.OrderID)
}

func (s *DynamoStore) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	var out []Order
	pager := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              sdkaws.String(UserIndex),
		KeyConditionExpression: sdkaws.String("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: sdkaws.Bool(false),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query orders by user: %w", err)
		}
		batch, err := unmarshalOrders(page.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *DynamoStore) ListAll(ctx context.Context) ([]Order, error) {
	var out []Order
	pager := dyn.NewScanPaginator(s.client, &dyn.ScanInput{TableName: &s.tableName})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		batch, err := unmarshalOrders(page.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// UpdateStatus conditionally updates the order status from expected -> next.
// Returns ErrStatusMismatch if the condition failed.
func (s *DynamoStore) UpdateStatus(ctx context.Context, orderID string, expected, next Status) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(orderID),
		UpdateExpression:         sdkaws.String(exprStatus),
		ConditionExpression:      sdkaws.String(condStatus),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(next)},
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":ua":       timeAttr(s.now()),
		},
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// LeaveProcessing claims the move out of PROCESSING only when the reservation
// map is present, and returns the stored reservation.
func (s *DynamoStore) LeaveProcessing(ctx context.Context, orderID string, next Status) (map[string]int, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(orderID),
		UpdateExpression:         sdkaws.String(exprStatus),
		ConditionExpression:      sdkaws.String(condLeave),
		ExpressionAttributeNames: map[string]string{"#s": "status", "#r": "reserved"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(next)},
			":expected": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":map":      &types.AttributeValueMemberS{Value: "M"},
			":ua":       timeAttr(s.now()),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if !errors.As(err, &sc) {
			return nil, fmt.Errorf("update item: %w", err)
		}
		o, gerr := s.Get(ctx, orderID)
		if gerr != nil {
			return nil, gerr
		}
		if o.Status == StatusProcessing && o.Reserved == nil {
			return nil, ErrReservationPending
		}
		return nil, ErrStatusMismatch
	}
	o, err := unmarshalOrder(out.Attributes)
	if err != nil {
		return nil, err
	}
	if o.Reserved == nil {
		o.Reserved = map[string]int{}
	}
	return o.Reserved, nil
}

func (s *DynamoStore) SetReserved(ctx context.Context, orderID string, reserved map[string]int) error {
	m := make(map[string]types.AttributeValue, len(reserved))
	for id, n := range reserved {
		m[id] = &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(orderID),
		UpdateExpression:         sdkaws.String(exprReserved),
		ConditionExpression:      sdkaws.String(condReserved),
		ExpressionAttributeNames: map[string]string{"#s": "status", "#r": "reserved"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r":          &types.AttributeValueMemberM{Value: m},
			":processing": &types.AttributeValueMemberS{Value: string(StatusProcessing)},
			":ua":         timeAttr(s.now()),
		},
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("set reserved: %w", err)
	}
	return nil
}

func (s *DynamoStore) MarkPaid(ctx context.Context, orderID string) (*Order, bool, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(orderID),
		UpdateExpression:    sdkaws.String(exprPaid),
		ConditionExpression: sdkaws.String(condPaid),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":paid":   &types.AttributeValueMemberS{Value: string(Paid)},
			":unpaid": &types.AttributeValueMemberS{Value: string(Unpaid)},
			":ua":     timeAttr(s.now()),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if !errors.As(err, &sc) {
			return nil, false, fmt.Errorf("mark paid: %w", err)
		}
		// Missing, or already paid.
		o, gerr := s.Get(ctx, orderID)
		if gerr != nil {
			return nil, false, gerr
		}
		return o, false, nil
	}
	o, err := unmarshalOrder(out.Attributes)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *DynamoStore) Replace(ctx context.Context, o Order, prevUpdatedAt time.Time) error {
	o.UpdatedAt = s.now()
	item, err := attributevalue.MarshalMap(toRecord(o))
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: sdkaws.String(condReplace),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prev": timeAttr(prevUpdatedAt),
		},
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return apperr.Conflict("concurrent_update", "order %s was modified concurrently", o.OrderID)
		}
		return fmt.Errorf("replace order: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, orderID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(orderID),
		ConditionExpression: sdkaws.String(condOrderExists),
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return apperr.NotFound("order_not_found", "order %s not found", orderID)
		}
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}
