package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Event types published to the orders queue.
const (
	EventOrderCreated  = "order.created"
	EventStatusChanged = "order.status_changed"
	EventOrderPaid     = "order.paid"
)

type Event struct {
	OrderID       string           `json:"order_id"`
	UserID        string           `json:"user_id,omitempty"`
	From          Status           `json:"from,omitempty"`
	Status        Status           `json:"status,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method,omitempty"`
	PaymentStatus PaymentStatus    `json:"payment_status,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// EventPublisher is satisfied by aws.Publisher.
type EventPublisher interface {
	PublishJSON(ctx context.Context, eventType string, payload any) error
}

// NopPublisher drops every event. Used when no queue is configured.
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, any) error { return nil }

// Publish is best-effort: the state change has already been committed, so a
// failed publish is logged rather than returned.
func Publish(ctx context.Context, p EventPublisher, eventType string, ev Event) {
	if p == nil {
		return
	}
	if err := p.PublishJSON(ctx, eventType, ev); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"order_id":   ev.OrderID,
			"event_type": eventType,
		}).Warn("failed to publish order event")
	}
}
