package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/auth"
	"github.com/imrishuroy/grocery-orderflow/internal/pricing"
	"github.com/imrishuroy/grocery-orderflow/internal/validation"
)

// Resolver turns requested lines into priced snapshots. cart.Resolver
// implements it against the catalog.
type Resolver interface {
	Resolve(ctx context.Context, lines []LineRequest) ([]LineItem, error)
}

// Patch is a partial order update. Nil fields are left alone.
type Patch struct {
	Notes        *string
	Customer     *Customer
	DeliveryDate *time.Time
	Shipping     *decimal.Decimal
	Items        []LineRequest
	Status       *Status
}

func (p Patch) notesOnly() bool {
	return p.Customer == nil && p.DeliveryDate == nil && p.Shipping == nil && p.Items == nil && p.Status == nil
}

// Service exposes order operations with ownership and role checks applied.
type Service struct {
	store    Store
	machine  *Machine
	resolver Resolver
}

func NewService(store Store, machine *Machine, resolver Resolver) *Service {
	return &Service{store: store, machine: machine, resolver: resolver}
}

// List returns every order for admins and the caller's own orders otherwise.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]Order, error) {
	if p.IsAdmin {
		return s.store.ListAll(ctx)
	}
	return s.store.ListByUser(ctx, p.UserID)
}

func (s *Service) Get(ctx context.Context, orderID string, p auth.Principal) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin && !o.OwnedBy(p.UserID) {
		return nil, apperr.AccessDenied("order %s belongs to another user", orderID)
	}
	return o, nil
}

// Update applies patch. Owners may only change notes; admins may change
// everything, but items and shipping only while the order is pending. Field
// changes are written before the status transition so a reservation sees the
// new items; if the transition fails they are reverted.
func (s *Service) Update(ctx context.Context, orderID string, p auth.Principal, patch Patch) (*Order, error) {
	o, err := s.Get(ctx, orderID, p)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin && !patch.notesOnly() {
		return nil, apperr.AccessDenied("only notes can be changed on order %s", orderID)
	}

	if patch.Status != nil && *patch.Status != o.Status {
		if err := ValidateTransition(o.Status, *patch.Status); err != nil {
			return nil, err
		}
	}
	if patch.Customer != nil {
		if err := validation.Struct(patch.Customer); err != nil {
			return nil, err
		}
	}
	repriced := patch.Items != nil || patch.Shipping != nil
	if repriced && o.Status != StatusPending {
		return nil, apperr.Conflict("order_not_editable", "items and shipping of order %s can only change while pending", orderID)
	}

	next := clone(*o)
	changed := false
	if patch.Notes != nil {
		next.Notes = *patch.Notes
		changed = true
	}
	if patch.Customer != nil {
		next.Customer = *patch.Customer
		changed = true
	}
	if patch.DeliveryDate != nil {
		d := patch.DeliveryDate.UTC()
		next.DeliveryDate = &d
		changed = true
	}
	if repriced {
		if patch.Items != nil {
			if len(patch.Items) == 0 {
				return nil, apperr.Validation("empty_order", "order %s must keep at least one item", orderID)
			}
			items, err := s.resolver.Resolve(ctx, patch.Items)
			if err != nil {
				return nil, err
			}
			next.Items = items
		}
		shipping := next.Shipping
		if patch.Shipping != nil {
			shipping = *patch.Shipping
		}
		b, err := pricing.Price(PricingLines(next.Items), shipping)
		if err != nil {
			return nil, err
		}
		next.Breakdown = b
		changed = true
	}

	if changed {
		if err := s.store.Replace(ctx, next, o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("update order %s: %w", orderID, err)
		}
		log.WithFields(log.Fields{"order_id": orderID, "user_id": p.UserID}).Info("order updated")
	}

	if patch.Status != nil && *patch.Status != o.Status {
		updated, err := s.machine.Transition(ctx, orderID, *patch.Status)
		if err != nil {
			if changed {
				s.revert(ctx, *o)
			}
			return nil, err
		}
		return updated, nil
	}
	return s.store.Get(ctx, orderID)
}

// revert writes back the editable fields of prev, keeping whatever status,
// reservation and payment state the order holds now.
func (s *Service) revert(ctx context.Context, prev Order) {
	cur, err := s.store.Get(ctx, prev.OrderID)
	if err == nil {
		restored := clone(prev)
		restored.Status = cur.Status
		restored.Reserved = cur.Reserved
		restored.PaymentStatus = cur.PaymentStatus
		err = s.store.Replace(ctx, restored, cur.UpdatedAt)
	}
	if err != nil {
		log.WithError(err).WithField("order_id", prev.OrderID).Error("failed to revert order update")
	}
}

// Delete is admin only.
func (s *Service) Delete(ctx context.Context, orderID string, p auth.Principal) error {
	if !p.IsAdmin {
		return apperr.AccessDenied("only admins can delete orders")
	}
	if err := s.store.Delete(ctx, orderID); err != nil {
		return err
	}
	log.WithFields(log.Fields{"order_id": orderID, "user_id": p.UserID}).Info("order deleted")
	return nil
}
