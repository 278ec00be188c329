package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/auth"
	"github.com/imrishuroy/grocery-orderflow/internal/cart"
	"github.com/imrishuroy/grocery-orderflow/internal/catalog"
	"github.com/imrishuroy/grocery-orderflow/internal/idempotency"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
)

type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) PublishJSON(_ context.Context, eventType string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

// memIdem mimics idempotency.Store semantics in memory.
type memIdem struct {
	mu   sync.Mutex
	recs map[string]*idempotency.IdempotencyRecord
}

func newMemIdem() *memIdem {
	return &memIdem{recs: map[string]*idempotency.IdempotencyRecord{}}
}

func (m *memIdem) CreateIfNotExists(_ context.Context, key, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[key]; ok {
		return false, nil
	}
	m.recs[key] = &idempotency.IdempotencyRecord{IdempotencyKey: key, Status: idempotency.StatusInProgress, OrderID: orderID}
	return true, nil
}

func (m *memIdem) Get(_ context.Context, key string) (*idempotency.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[key]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memIdem) Reclaim(_ context.Context, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[key]
	if !ok || r.Status != idempotency.StatusFailed {
		return idempotency.ErrConditionFailed
	}
	r.Status, r.OrderID = idempotency.StatusInProgress, orderID
	return nil
}

func (m *memIdem) MarkFailed(_ context.Context, key, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[key]
	if !ok || r.Status != idempotency.StatusInProgress {
		return idempotency.ErrConditionFailed
	}
	r.Status, r.Note = idempotency.StatusFailed, note
	return nil
}

// completingStore marks the idempotency record done when an order with a key
// is created, as the DynamoDB transaction does.
type completingStore struct {
	*orders.MemoryStore
	idem      *memIdem
	createErr error
}

func (s *completingStore) Create(ctx context.Context, o orders.Order, key string) error {
	if s.createErr != nil {
		return s.createErr
	}
	if err := s.MemoryStore.Create(ctx, o, key); err != nil {
		return err
	}
	if key != "" && s.idem != nil {
		s.idem.mu.Lock()
		s.idem.recs[key].Status = idempotency.StatusDone
		s.idem.mu.Unlock()
	}
	return nil
}

type fixture struct {
	store   *completingStore
	gateway *FakeGateway
	idem    *memIdem
	carts   *cart.MemoryStore
	events  *recorder
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := catalog.NewMemoryStore(
		catalog.Product{ID: "A", Name: "Apple", Price: decimal.RequireFromString("2.99"), Stock: 10},
		catalog.Product{ID: "C", Name: "Chili", Price: decimal.RequireFromString("0.99"), Stock: 10},
	)
	f := &fixture{
		gateway: NewFakeGateway("https://pay.example"),
		idem:    newMemIdem(),
		carts:   cart.NewMemoryStore(),
		events:  &recorder{},
	}
	f.store = &completingStore{MemoryStore: orders.NewMemoryStore(), idem: f.idem}
	f.coord = NewCoordinator(Deps{
		Orders:      f.store,
		Resolver:    cart.NewResolver(cat),
		Gateway:     f.gateway,
		Idempotency: f.idem,
		Carts:       f.carts,
		Events:      f.events,
	}, Options{Currency: "inr", SuccessURL: "https://shop.example/ok", CancelURL: "https://shop.example/cancel"})
	return f
}

var buyer = auth.Principal{UserID: "u-1"}

func input(method orders.PaymentMethod) CreateOrderInput {
	return CreateOrderInput{
		Customer: orders.Customer{
			Name: "Asha", Email: "asha@example.com", Phone: "9876543210", Address: "12 Market Road",
		},
		Lines:         []orders.LineRequest{{ProductID: "A", Quantity: 2}, {ProductID: "C", Quantity: 1}},
		PaymentMethod: method,
	}
}

func TestCreateOrder_CashOnDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.carts.Add(ctx, "u-1", "A", 2)
	require.NoError(t, err)

	res, err := f.coord.CreateOrder(ctx, buyer, input(orders.CashOnDelivery))
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.Paid, o.PaymentStatus)
	assert.Empty(t, res.CheckoutURL)
	assert.Empty(t, o.SessionRef)
	assert.Empty(t, f.gateway.Requests, "cash on delivery never calls the gateway")
	assert.True(t, o.Subtotal.Equal(decimal.RequireFromString("6.97")))
	assert.True(t, o.Tax.Equal(decimal.RequireFromString("0.35")))
	assert.True(t, o.Total.Equal(decimal.RequireFromString("7.32")))

	stored, err := f.store.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "u-1", stored.UserID)
	assert.Equal(t, []string{orders.EventOrderCreated}, f.events.events())

	lines, err := f.carts.Lines(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, lines, "cart is cleared after the order is placed")
}

func TestCreateOrder_OnlinePayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.coord.CreateOrder(ctx, buyer, input(orders.OnlinePayment))
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, orders.Unpaid, o.PaymentStatus)
	assert.Equal(t, "cs_fake_1", o.SessionRef)
	assert.Equal(t, "pi_fake_1", o.PaymentIntentRef)
	assert.Equal(t, "https://pay.example/checkout/cs_fake_1", res.CheckoutURL)

	require.Len(t, f.gateway.Requests, 1)
	req := f.gateway.Requests[0]
	assert.Equal(t, o.OrderID, req.OrderID)
	assert.Equal(t, "asha@example.com", req.CustomerEmail)
	assert.Equal(t, []SessionLine{
		{Name: "Apple", UnitAmount: 299, Quantity: 2},
		{Name: "Chili", UnitAmount: 99, Quantity: 1},
		{Name: "Tax", UnitAmount: 35, Quantity: 1},
	}, req.Lines)

	var sum int64
	for _, l := range req.Lines {
		sum += l.UnitAmount * int64(l.Quantity)
	}
	assert.Equal(t, int64(732), sum, "the session charges the order total")
}

func TestCreateOrder_GatewayFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.Err = errors.New("connection reset")

	_, err := f.coord.CreateOrder(ctx, buyer, input(orders.OnlinePayment))
	assert.ErrorIs(t, err, apperr.ErrGateway)

	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.events.events())
}

func TestCreateOrder_PersistenceFailureExpiresSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.createErr = errors.New("dynamodb unavailable")

	_, err := f.coord.CreateOrder(ctx, buyer, input(orders.OnlinePayment))
	require.Error(t, err)
	assert.Equal(t, []string{"cs_fake_1"}, f.gateway.Expired)
}

func TestCreateOrder_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	in := input(orders.CashOnDelivery)
	in.Customer.Email = "not-an-email"
	_, err := f.coord.CreateOrder(ctx, buyer, in)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	in = input(orders.CashOnDelivery)
	in.Customer.Phone = "12345"
	_, err = f.coord.CreateOrder(ctx, buyer, in)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	in = input(orders.CashOnDelivery)
	in.Lines = nil
	_, err = f.coord.CreateOrder(ctx, buyer, in)
	assert.ErrorIs(t, err, apperr.ErrEmptyOrder)

	in = input(orders.CashOnDelivery)
	in.Lines = append(in.Lines, orders.LineRequest{ProductID: "ghost", Quantity: 1})
	_, err = f.coord.CreateOrder(ctx, buyer, in)
	assert.ErrorIs(t, err, apperr.ErrItemNotFound)

	in = input("BARTER")
	_, err = f.coord.CreateOrder(ctx, buyer, in)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateOrder_ShippingOverride(t *testing.T) {
	f := newFixture(t)
	in := input(orders.CashOnDelivery)
	shipping := decimal.RequireFromString("3.00")
	in.Shipping = &shipping

	res, err := f.coord.CreateOrder(context.Background(), buyer, in)
	require.NoError(t, err)
	assert.True(t, res.Order.Total.Equal(decimal.RequireFromString("10.32")))
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := input(orders.OnlinePayment)
	in.IdempotencyKey = "k-1"

	first, err := f.coord.CreateOrder(ctx, buyer, in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.coord.CreateOrder(ctx, buyer, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Equal(t, first.CheckoutURL, second.CheckoutURL)
	assert.Len(t, f.gateway.Requests, 1)

	all, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// The same key from another user is a different request.
	other, err := f.coord.CreateOrder(ctx, auth.Principal{UserID: "u-2"}, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.OrderID, other.Order.OrderID)
}

func TestCreateOrder_IdempotencyInFlightAndRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := input(orders.OnlinePayment)
	in.IdempotencyKey = "k-2"

	_, err := f.idem.CreateIfNotExists(ctx, "u-1:k-2", "someone-else")
	require.NoError(t, err)
	_, err = f.coord.CreateOrder(ctx, buyer, in)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, f.idem.MarkFailed(ctx, "u-1:k-2", "gateway_error"))
	res, err := f.coord.CreateOrder(ctx, buyer, in)
	require.NoError(t, err)
	rec, err := f.idem.Get(ctx, "u-1:k-2")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.Equal(t, res.Order.OrderID, rec.OrderID)
}

func TestCreateOrder_FailureReleasesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.Err = errors.New("timeout")
	in := input(orders.OnlinePayment)
	in.IdempotencyKey = "k-3"

	_, err := f.coord.CreateOrder(ctx, buyer, in)
	require.Error(t, err)
	rec, err := f.idem.Get(ctx, "u-1:k-3")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusFailed, rec.Status)
	assert.Equal(t, "gateway_error", rec.Note)

	f.gateway.Err = nil
	_, err = f.coord.CreateOrder(ctx, buyer, in)
	assert.NoError(t, err)
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coord.ConfirmPayment(ctx, "cs_unknown", nil)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	res, err := f.coord.CreateOrder(ctx, buyer, input(orders.OnlinePayment))
	require.NoError(t, err)
	session := res.Order.SessionRef

	_, err = f.coord.ConfirmPayment(ctx, session, &buyer)
	assert.ErrorIs(t, err, apperr.ErrPaymentNotCompleted)

	_, err = f.coord.ConfirmPayment(ctx, session, &auth.Principal{UserID: "u-2"})
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	require.True(t, f.gateway.Pay(session))
	o, err := f.coord.ConfirmPayment(ctx, session, &buyer)
	require.NoError(t, err)
	assert.Equal(t, orders.Paid, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status, "payment does not move the fulfilment status")

	o, err = f.coord.ConfirmPayment(ctx, session, nil)
	require.NoError(t, err)
	assert.Equal(t, orders.Paid, o.PaymentStatus)
	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventOrderPaid}, f.events.events())
}

func TestConfirmPayment_GatewayFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res, err := f.coord.CreateOrder(ctx, buyer, input(orders.OnlinePayment))
	require.NoError(t, err)

	f.gateway.Err = errors.New("timeout")
	_, err = f.coord.ConfirmPayment(ctx, res.Order.SessionRef, nil)
	assert.ErrorIs(t, err, apperr.ErrGateway)

	stored, err := f.store.Get(ctx, res.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.Unpaid, stored.PaymentStatus)
}

func TestCreateOrder_UsesInjectedClockAndIDs(t *testing.T) {
	f := newFixture(t)
	f.coord.newID = func() string { return "fixed-id" }
	f.coord.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	res, err := f.coord.CreateOrder(context.Background(), buyer, input(orders.CashOnDelivery))
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", res.Order.OrderID)

	_, err = f.coord.CreateOrder(context.Background(), buyer, input(orders.CashOnDelivery))
	assert.ErrorIs(t, err, apperr.ErrConflict, "a colliding order id is a conflict")
}
