package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/auth"
	"github.com/imrishuroy/grocery-orderflow/internal/idempotency"
	"github.com/imrishuroy/grocery-orderflow/internal/metrics"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
	"github.com/imrishuroy/grocery-orderflow/internal/pricing"
	"github.com/imrishuroy/grocery-orderflow/internal/validation"
)

// IdempotencyStore is the part of idempotency.Store the coordinator uses.
type IdempotencyStore interface {
	CreateIfNotExists(ctx context.Context, key, orderID string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	Reclaim(ctx context.Context, key, orderID string) error
	MarkFailed(ctx context.Context, key, note string) error
}

// CartClearer empties a user's cart after a successful order.
type CartClearer interface {
	Clear(ctx context.Context, owner string) error
}

// Deps are the collaborators of a Coordinator. Idempotency, Carts and Events
// are optional.
type Deps struct {
	Orders      orders.Store
	Resolver    orders.Resolver
	Gateway     Gateway
	Idempotency IdempotencyStore
	Carts       CartClearer
	Events      orders.EventPublisher
}

type Options struct {
	Currency   string
	SuccessURL string
	CancelURL  string
	// Shipping is charged when the request does not name an amount.
	Shipping decimal.Decimal
}

type CreateOrderInput struct {
	Customer       orders.Customer
	Lines          []orders.LineRequest
	PaymentMethod  orders.PaymentMethod
	Notes          string
	DeliveryDate   *time.Time
	Shipping       *decimal.Decimal
	IdempotencyKey string
}

type CreateOrderResult struct {
	Order       *orders.Order `json:"order"`
	CheckoutURL string        `json:"checkout_url,omitempty"`
	// Replayed is set when the idempotency key had already produced this order.
	Replayed bool `json:"-"`
}

// Coordinator creates orders, branching on payment method, and confirms
// online payments.
type Coordinator struct {
	deps  Deps
	opts  Options
	newID func() string
	now   func() time.Time
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if deps.Events == nil {
		deps.Events = orders.NopPublisher{}
	}
	return &Coordinator{
		deps:  deps,
		opts:  opts,
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

// CreateOrder validates, prices and persists a new Pending order. Cash on
// delivery orders are marked paid; online orders get a checkout session and
// stay unpaid until ConfirmPayment. On any failure nothing is persisted.
func (c *Coordinator) CreateOrder(ctx context.Context, p auth.Principal, in CreateOrderInput) (*CreateOrderResult, error) {
	if err := validation.Struct(in.Customer); err != nil {
		return nil, err
	}
	if !in.PaymentMethod.Valid() {
		return nil, apperr.Validation("invalid_payment_method", "unknown payment method %q", in.PaymentMethod)
	}
	if len(in.Lines) == 0 {
		return nil, apperr.Validation("empty_order", "order has no items")
	}
	items, err := c.deps.Resolver.Resolve(ctx, in.Lines)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.Validation("empty_order", "order has no items")
	}
	shipping := c.opts.Shipping
	if in.Shipping != nil {
		shipping = *in.Shipping
	}
	breakdown, err := pricing.Price(orders.PricingLines(items), shipping)
	if err != nil {
		return nil, err
	}

	orderID := c.newID()
	idemKey := ""
	if in.IdempotencyKey != "" && c.deps.Idempotency != nil {
		idemKey = p.UserID + ":" + in.IdempotencyKey
		replay, err := c.claim(ctx, idemKey, orderID)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	res, err := c.place(ctx, p, in, orderID, items, breakdown, idemKey)
	if err != nil {
		if idemKey != "" {
			if mErr := c.deps.Idempotency.MarkFailed(ctx, idemKey, apperr.KindOf(err).String()); mErr != nil {
				log.WithError(mErr).WithField("order_id", orderID).Warn("failed to release idempotency key")
			}
		}
		return nil, err
	}
	return res, nil
}

// claim takes the idempotency key for orderID. A completed key returns the
// order it produced.
func (c *Coordinator) claim(ctx context.Context, key, orderID string) (*CreateOrderResult, error) {
	created, err := c.deps.Idempotency.CreateIfNotExists(ctx, key, orderID)
	if err != nil {
		return nil, err
	}
	if created {
		return nil, nil
	}
	rec, err := c.deps.Idempotency.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.Conflict("request_in_progress", "idempotency key is being reset, retry")
	}
	switch rec.Status {
	case idempotency.StatusDone:
		o, err := c.deps.Orders.Get(ctx, rec.OrderID)
		if err != nil {
			return nil, err
		}
		res := &CreateOrderResult{Order: o, Replayed: true}
		if o.PaymentMethod == orders.OnlinePayment && o.PaymentStatus == orders.Unpaid && o.SessionRef != "" {
			if s, err := c.deps.Gateway.GetSession(ctx, o.SessionRef); err == nil {
				res.CheckoutURL = s.URL
			}
		}
		return res, nil
	case idempotency.StatusFailed:
		if err := c.deps.Idempotency.Reclaim(ctx, key, orderID); err != nil {
			if errors.Is(err, idempotency.ErrConditionFailed) {
				return nil, apperr.Conflict("request_in_progress", "a retry with this idempotency key is in progress")
			}
			return nil, err
		}
		return nil, nil
	default:
		return nil, apperr.Conflict("request_in_progress", "a request with this idempotency key is in progress")
	}
}

func (c *Coordinator) place(ctx context.Context, p auth.Principal, in CreateOrderInput, orderID string, items []orders.LineItem, b pricing.Breakdown, idemKey string) (*CreateOrderResult, error) {
	var deliveryDate *time.Time
	if in.DeliveryDate != nil {
		d := in.DeliveryDate.UTC()
		deliveryDate = &d
	}
	o := orders.Order{
		OrderID:       orderID,
		UserID:        p.UserID,
		Customer:      in.Customer,
		Items:         items,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: orders.Unpaid,
		Status:        orders.StatusPending,
		Notes:         in.Notes,
		DeliveryDate:  deliveryDate,
		Breakdown:     b,
		CreatedAt:     c.now().UTC(),
	}

	res := &CreateOrderResult{}
	switch in.PaymentMethod {
	case orders.CashOnDelivery:
		o.PaymentStatus = orders.Paid
	case orders.OnlinePayment:
		s, err := c.deps.Gateway.CreateSession(ctx, c.sessionRequest(o))
		if err != nil {
			if apperr.KindOf(err) != apperr.KindGateway {
				err = apperr.Gateway(err, "payment gateway create session failed")
			}
			return nil, err
		}
		o.SessionRef = s.ID
		o.PaymentIntentRef = s.PaymentIntent
		res.CheckoutURL = s.URL
	}

	if err := c.deps.Orders.Create(ctx, o, idemKey); err != nil {
		if o.SessionRef != "" {
			if xErr := c.deps.Gateway.ExpireSession(ctx, o.SessionRef); xErr != nil {
				log.WithError(xErr).WithFields(log.Fields{
					"order_id":   orderID,
					"session_id": o.SessionRef,
				}).Warn("failed to expire checkout session of unsaved order")
			}
		}
		return nil, err
	}

	metrics.OrdersCreated.WithLabelValues(string(o.PaymentMethod)).Inc()
	total, _ := o.Total.Float64()
	metrics.OrderTotal.Observe(total)
	log.WithFields(log.Fields{
		"order_id":       orderID,
		"user_id":        p.UserID,
		"payment_method": o.PaymentMethod,
		"items":          len(items),
		"total":          o.Total.String(),
	}).Info("order created")

	orders.Publish(ctx, c.deps.Events, orders.EventOrderCreated, orders.Event{
		OrderID:       orderID,
		UserID:        p.UserID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		Total:         &o.Total,
		OccurredAt:    c.now().UTC(),
	})
	if c.deps.Carts != nil {
		if err := c.deps.Carts.Clear(ctx, p.UserID); err != nil {
			log.WithError(err).WithField("user_id", p.UserID).Warn("failed to clear cart after order")
		}
	}

	res.Order = &o
	return res, nil
}

// sessionRequest lists the order's items plus tax and shipping, so the amount
// charged equals the order total.
func (c *Coordinator) sessionRequest(o orders.Order) SessionRequest {
	lines := make([]SessionLine, 0, len(o.Items)+2)
	for _, it := range o.Items {
		lines = append(lines, SessionLine{
			Name:       it.Name,
			UnitAmount: pricing.MinorUnits(it.UnitPrice),
			Quantity:   it.Quantity,
			ImageRef:   it.ImageRef,
		})
	}
	if o.Tax.IsPositive() {
		lines = append(lines, SessionLine{Name: "Tax", UnitAmount: pricing.MinorUnits(o.Tax), Quantity: 1})
	}
	if o.Shipping.IsPositive() {
		lines = append(lines, SessionLine{Name: "Shipping", UnitAmount: pricing.MinorUnits(o.Shipping), Quantity: 1})
	}
	return SessionRequest{
		OrderID:       o.OrderID,
		CustomerEmail: o.Customer.Email,
		Currency:      c.opts.Currency,
		SuccessURL:    c.opts.SuccessURL,
		CancelURL:     c.opts.CancelURL,
		Lines:         lines,
	}
}

// ConfirmPayment marks the order behind sessionID paid once the gateway
// reports the money captured. It is safe to call repeatedly. p is nil for
// system callers such as the webhook worker.
func (c *Coordinator) ConfirmPayment(ctx context.Context, sessionID string, p *auth.Principal) (*orders.Order, error) {
	o, err := c.deps.Orders.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p != nil && !p.IsAdmin && !o.OwnedBy(p.UserID) {
		return nil, apperr.AccessDenied("order %s belongs to another user", o.OrderID)
	}
	fields := log.Fields{"order_id": o.OrderID, "session_id": sessionID}
	if o.PaymentStatus == orders.Paid {
		metrics.PaymentsConfirmed.WithLabelValues("already_paid").Inc()
		return o, nil
	}

	s, err := c.deps.Gateway.GetSession(ctx, sessionID)
	if err != nil {
		metrics.PaymentsConfirmed.WithLabelValues("gateway_error").Inc()
		if apperr.KindOf(err) != apperr.KindGateway {
			err = apperr.Gateway(err, "payment gateway get session failed")
		}
		return nil, err
	}
	if !s.Captured() {
		metrics.PaymentsConfirmed.WithLabelValues("not_captured").Inc()
		log.WithFields(fields).WithField("payment_status", s.PaymentStatus).Info("payment not completed")
		return nil, apperr.PaymentNotCompleted("payment for order %s is %s", o.OrderID, s.PaymentStatus)
	}

	updated, changed, err := c.deps.Orders.MarkPaid(ctx, o.OrderID)
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.PaymentsConfirmed.WithLabelValues("paid").Inc()
		log.WithFields(fields).Info("order paid")
		orders.Publish(ctx, c.deps.Events, orders.EventOrderPaid, orders.Event{
			OrderID:       updated.OrderID,
			UserID:        updated.UserID,
			Status:        updated.Status,
			PaymentMethod: updated.PaymentMethod,
			PaymentStatus: updated.PaymentStatus,
			Total:         &updated.Total,
			OccurredAt:    c.now().UTC(),
		})
	} else {
		metrics.PaymentsConfirmed.WithLabelValues("already_paid").Inc()
	}
	return updated, nil
}
