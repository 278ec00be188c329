package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/inventory"
	"github.com/imrishuroy/grocery-orderflow/internal/metrics"
)

// transitions is the complete set of legal status moves. Delivered and
// Cancelled are terminal; an order cannot be cancelled once shipped.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IllegalTransitionError reports a status change outside the transition table.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Kind() apperr.Kind { return apperr.KindIllegalTransition }

func ValidateTransition(from, to Status) error {
	if !to.Valid() {
		return apperr.Validation("invalid_status", "unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return &IllegalTransitionError{From: from, To: to}
	}
	return nil
}

// StockLedger is the part of inventory.Ledger the machine drives.
type StockLedger interface {
	Decrement(ctx context.Context, productID string, qty int) (inventory.Adjustment, error)
	Increment(ctx context.Context, productID string, qty int) (inventory.Adjustment, error)
}

// Machine applies status transitions and their stock side effects.
type Machine struct {
	store  Store
	ledger StockLedger
	events EventPublisher
}

func NewMachine(store Store, ledger StockLedger, events EventPublisher) *Machine {
	if events == nil {
		events = NopPublisher{}
	}
	return &Machine{store: store, ledger: ledger, events: events}
}

// Transition moves an order to status to. The status is claimed first with a
// conditional write so two concurrent callers cannot both apply the side
// effects; if a side effect fails, applied stock changes are reverted and the
// claim is released.
func (m *Machine) Transition(ctx context.Context, orderID string, to Status) (*Order, error) {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if err := ValidateTransition(from, to); err != nil {
		return nil, err
	}

	if err := m.claim(ctx, o, to); err != nil {
		return nil, err
	}

	if err := m.applyEffects(ctx, o, from, to); err != nil {
		if rbErr := m.store.UpdateStatus(ctx, orderID, to, from); rbErr != nil {
			log.WithError(rbErr).WithFields(log.Fields{
				"order_id": orderID, "from": from, "to": to,
			}).Error("failed to release transition claim")
		}
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	log.WithFields(log.Fields{"order_id": orderID, "from": from, "to": to}).Info("order status changed")

	updated, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	Publish(ctx, m.events, EventStatusChanged, Event{
		OrderID:    orderID,
		UserID:     o.UserID,
		From:       from,
		Status:     to,
		OccurredAt: time.Now().UTC(),
	})
	return updated, nil
}

// claim writes the new status conditionally. Leaving PROCESSING also requires
// the reservation to be recorded; the stored reservation replaces o.Reserved.
func (m *Machine) claim(ctx context.Context, o *Order, to Status) error {
	var err error
	if o.Status == StatusProcessing {
		var reserved map[string]int
		if reserved, err = m.store.LeaveProcessing(ctx, o.OrderID, to); err == nil {
			o.Reserved = reserved
		}
	} else {
		err = m.store.UpdateStatus(ctx, o.OrderID, o.Status, to)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrReservationPending):
		return apperr.Conflict("concurrent_transition", "order %s is still reserving stock", o.OrderID)
	case errors.Is(err, ErrStatusMismatch):
		return apperr.Conflict("concurrent_transition", "order %s changed status concurrently", o.OrderID)
	default:
		return fmt.Errorf("claim transition: %w", err)
	}
}

func (m *Machine) applyEffects(ctx context.Context, o *Order, from, to Status) error {
	switch {
	case from == StatusPending && to == StatusProcessing:
		return m.reserve(ctx, o)
	case from == StatusProcessing && to == StatusCancelled:
		return m.release(ctx, o)
	}
	return nil
}

// reserve takes every line item out of stock and records what was taken.
func (m *Machine) reserve(ctx context.Context, o *Order) error {
	taken := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		adj, err := m.ledger.Decrement(ctx, it.ProductID, it.Quantity)
		if err != nil {
			m.restore(ctx, o.OrderID, taken)
			return fmt.Errorf("reserve stock for order %s: %w", o.OrderID, err)
		}
		taken[it.ProductID] += adj.Previous - adj.Stock
	}
	if err := m.store.SetReserved(ctx, o.OrderID, taken); err != nil {
		m.restore(ctx, o.OrderID, taken)
		return fmt.Errorf("record reservation for order %s: %w", o.OrderID, err)
	}
	return nil
}

// release gives back the units reserve took. o.Reserved comes from the claim.
func (m *Machine) release(ctx context.Context, o *Order) error {
	given := make(map[string]int, len(o.Reserved))
	for productID, qty := range o.Reserved {
		if qty <= 0 {
			continue
		}
		if _, err := m.ledger.Increment(ctx, productID, qty); err != nil {
			for id, n := range given {
				if _, derr := m.ledger.Decrement(ctx, id, n); derr != nil {
					log.WithError(derr).WithFields(log.Fields{"order_id": o.OrderID, "product_id": id}).
						Error("failed to undo stock release")
				}
			}
			return fmt.Errorf("release stock for order %s: %w", o.OrderID, err)
		}
		given[productID] = qty
	}
	return nil
}

func (m *Machine) restore(ctx context.Context, orderID string, taken map[string]int) {
	for productID, qty := range taken {
		if qty <= 0 {
			continue
		}
		if _, err := m.ledger.Increment(ctx, productID, qty); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"order_id": orderID, "product_id": productID, "quantity": qty,
			}).Error("failed to restore stock after aborted reservation")
		}
	}
}
