package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

// MemoryStore keeps orders in process memory. Idempotency keys passed to
// Create are remembered so a replay of the same key is rejected the way the
// DynamoDB transaction rejects it.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]Order
	keys    map[string]string
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]Order),
		keys:    make(map[string]string),
		nowFunc: time.Now,
	}
}

func notFound(orderID string) error {
	return apperr.NotFound("order_not_found", "order %s not found", orderID)
}

// clone copies the slices and maps so callers never alias stored state.
func clone(o Order) Order {
	o.Items = append([]LineItem(nil), o.Items...)
	if o.Reserved != nil {
		r := make(map[string]int, len(o.Reserved))
		for k, v := range o.Reserved {
			r[k] = v
		}
		o.Reserved = r
	}
	return o
}

func (s *MemoryStore) Create(_ context.Context, o Order, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; ok {
		return apperr.Conflict("duplicate_order_id", "order %s already exists", o.OrderID)
	}
	if idempotencyKey != "" {
		if _, ok := s.keys[idempotencyKey]; ok {
			return apperr.Conflict("idempotency_conflict", "idempotency key already completed")
		}
		s.keys[idempotencyKey] = o.OrderID
	}
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.orders[o.OrderID] = clone(o)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, notFound(orderID)
	}
	o = clone(o)
	return &o, nil
}

func (s *MemoryStore) FindBySession(_ context.Context, sessionRef string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if sessionRef != "" && o.SessionRef == sessionRef {
			o = clone(o)
			return &o, nil
		}
	}
	return nil, apperr.NotFound("order_not_found", "no order for session %s", sessionRef)
}

func (s *MemoryStore) list(keep func(Order) bool) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Order, error) {
	return s.list(func(o Order) bool { return o.UserID == userID }), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Order, error) {
	return s.list(func(Order) bool { return true }), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, orderID string, expected, next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != expected {
		return ErrStatusMismatch
	}
	o.Status = next
	o.UpdatedAt = s.nowFunc().UTC()
	s.orders[orderID] = o
	return nil
}

func (s *MemoryStore) LeaveProcessing(_ context.Context, orderID string, next Status) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != StatusProcessing {
		return nil, ErrStatusMismatch
	}
	if o.Reserved == nil {
		return nil, ErrReservationPending
	}
	o.Status = next
	o.UpdatedAt = s.nowFunc().UTC()
	s.orders[orderID] = o
	return clone(o).Reserved, nil
}

func (s *MemoryStore) SetReserved(_ context.Context, orderID string, reserved map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return notFound(orderID)
	}
	if o.Status != StatusProcessing {
		return ErrStatusMismatch
	}
	if reserved == nil {
		reserved = map[string]int{}
	}
	o.Reserved = reserved
	o.UpdatedAt = s.nowFunc().UTC()
	s.orders[orderID] = clone(o)
	return nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, orderID string) (*Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, false, notFound(orderID)
	}
	changed := o.PaymentStatus != Paid
	if changed {
		o.PaymentStatus = Paid
		o.UpdatedAt = s.nowFunc().UTC()
		s.orders[orderID] = o
	}
	o = clone(o)
	return &o, changed, nil
}

func (s *MemoryStore) Replace(_ context.Context, o Order, prevUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.OrderID]
	if !ok || !cur.UpdatedAt.Equal(prevUpdatedAt) {
		return apperr.Conflict("concurrent_update", "order %s was modified concurrently", o.OrderID)
	}
	o.UpdatedAt = s.nowFunc().UTC()
	s.orders[o.OrderID] = clone(o)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return notFound(orderID)
	}
	delete(s.orders, orderID)
	return nil
}
