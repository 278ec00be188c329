package validation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request DTOs. Client-supplied prices and totals are never part of a
// request; the server prices from the catalog.

type CustomerRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required,phone"`
	Address string `json:"address" validate:"required"`
}

type ItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// CreateOrderRequest with no items falls back to the caller's cart.
type CreateOrderRequest struct {
	Customer      CustomerRequest `json:"customer"`
	Items         []ItemRequest   `json:"items" validate:"omitempty,dive"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=CASH_ON_DELIVERY ONLINE_PAYMENT"`
	Notes         string          `json:"notes" validate:"max=1000"`
	DeliveryDate  *time.Time      `json:"delivery_date,omitempty"`
}

// UpdateOrderRequest carries a partial update; absent fields are untouched.
type UpdateOrderRequest struct {
	Notes        *string          `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Customer     *CustomerRequest `json:"customer,omitempty"`
	DeliveryDate *time.Time       `json:"delivery_date,omitempty"`
	Shipping     *decimal.Decimal `json:"shipping,omitempty"`
	Items        []ItemRequest    `json:"items,omitempty" validate:"omitempty,dive"`
	Status       *string          `json:"status,omitempty" validate:"omitempty,oneof=PENDING PROCESSING SHIPPED DELIVERED CANCELLED"`
}

type ConfirmPaymentRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// AddCartItemRequest merges Quantity (which may be negative) into the line.
type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

type ProductRequest struct {
	ID        string           `json:"id"`
	Name      string           `json:"name" validate:"required"`
	Price     decimal.Decimal  `json:"price"`
	ListPrice *decimal.Decimal `json:"list_price,omitempty"`
	Category  string           `json:"category"`
	Stock     int              `json:"stock" validate:"min=0"`
	ImageRef  string           `json:"image_ref"`
}

type StockRequest struct {
	Op       string `json:"op" validate:"required,oneof=set increment decrement"`
	Quantity int    `json:"quantity" validate:"min=0"`
}
