package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/grocery-orderflow/internal/pricing"
)

// Status is the fulfilment status of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// PaymentMethod is fixed at creation.
type PaymentMethod string

const (
	CashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	OnlinePayment  PaymentMethod = "ONLINE_PAYMENT"
)

func (m PaymentMethod) Valid() bool {
	return m == CashOnDelivery || m == OnlinePayment
}

// PaymentStatus tracks money capture, independently of Status.
type PaymentStatus string

const (
	Unpaid PaymentStatus = "UNPAID"
	Paid   PaymentStatus = "PAID"
)

type Customer struct {
	Name    string `json:"name" dynamodbav:"name" validate:"required"`
	Email   string `json:"email" dynamodbav:"email" validate:"required,email"`
	Phone   string `json:"phone" dynamodbav:"phone" validate:"required,phone"`
	Address string `json:"address" dynamodbav:"address" validate:"required"`
}

// LineRequest is an unresolved (product, quantity) pair.
type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is the snapshot of a product taken when the order was placed.
// Later catalog changes never alter it.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"image_ref,omitempty"`
}

// PricingLines projects line items for the pricing engine.
func PricingLines(items []LineItem) []pricing.Line {
	out := make([]pricing.Line, len(items))
	for i, it := range items {
		out[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	return out
}

type Order struct {
	OrderID          string        `json:"order_id"`
	UserID           string        `json:"user_id"`
	Customer         Customer      `json:"customer"`
	Items            []LineItem    `json:"items"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	SessionRef       string        `json:"session_ref,omitempty"`
	PaymentIntentRef string        `json:"payment_intent_ref,omitempty"`
	Status           Status        `json:"status"`
	Notes            string        `json:"notes,omitempty"`
	DeliveryDate     *time.Time    `json:"delivery_date,omitempty"`
	pricing.Breakdown
	// Reserved holds the units actually taken from stock per product when the
	// order entered processing. Cancellation gives back exactly these.
	Reserved  map[string]int `json:"reserved,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID != "" && o.UserID == userID
}
