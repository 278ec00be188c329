// Package payment creates hosted checkout sessions with the payment gateway
// and coordinates order creation and payment confirmation around them.
package payment

import (
	"context"
	"time"
)

// Gateway session payment states as reported by the gateway.
const (
	SessionPaid   = "paid"
	SessionUnpaid = "unpaid"
)

// SessionLine is one checkout line in minor currency units.
type SessionLine struct {
	Name       string
	UnitAmount int64
	Quantity   int
	ImageRef   string
}

type SessionRequest struct {
	OrderID       string
	CustomerEmail string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Lines         []SessionLine
}

// Session is a hosted checkout session.
type Session struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
	PaymentStatus string `json:"payment_status"`
	Status        string `json:"status"`
	ExpiresAt     int64  `json:"expires_at"`
}

// Captured reports whether the gateway holds the customer's money.
func (s *Session) Captured() bool {
	return s.PaymentStatus == SessionPaid
}

// Gateway is the payment collaborator. Errors are apperr gateway errors.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ExpireSession(ctx context.Context, sessionID string) error
}

// DefaultTimeout bounds every gateway call.
const DefaultTimeout = 10 * time.Second
