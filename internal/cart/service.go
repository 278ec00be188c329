package cart

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
	"github.com/imrishuroy/grocery-orderflow/internal/pricing"
)

// Store persists carts. RedisStore in production, MemoryStore locally.
type Store interface {
	Lines(ctx context.Context, owner string) ([]Line, error)
	// Add merges delta into the line and returns the new quantity (0 if removed).
	Add(ctx context.Context, owner, productID string, delta int) (int, error)
	// Set reports false if the line does not exist.
	Set(ctx context.Context, owner, productID string, qty int) (bool, error)
	Remove(ctx context.Context, owner, productID string) (bool, error)
	Clear(ctx context.Context, owner string) error
}

// View is a cart resolved against the current catalog.
type View struct {
	Items []orders.LineItem `json:"items"`
	pricing.Breakdown
}

type Service struct {
	store  Store
	lookup ProductLookup
}

func NewService(store Store, lookup ProductLookup) *Service {
	return &Service{store: store, lookup: lookup}
}

// Lines returns the raw cart.
func (s *Service) Lines(ctx context.Context, owner string) ([]Line, error) {
	return s.store.Lines(ctx, owner)
}

// Get resolves the cart with current prices. Lines whose product has left the
// catalog are skipped rather than failing the whole view.
func (s *Service) Get(ctx context.Context, owner string) (*View, error) {
	lines, err := s.store.Lines(ctx, owner)
	if err != nil {
		return nil, err
	}
	items := make([]orders.LineItem, 0, len(lines))
	for _, l := range lines {
		resolved, err := Resolve(ctx, []Line{l}, s.lookup)
		if err != nil {
			if errors.Is(err, apperr.ErrItemNotFound) {
				log.WithFields(log.Fields{"owner": owner, "product_id": l.ProductID}).Warn("cart line references missing product")
				continue
			}
			return nil, err
		}
		items = append(items, resolved...)
	}
	b, err := pricing.Price(orders.PricingLines(items), decimal.Zero)
	if err != nil {
		return nil, err
	}
	return &View{Items: items, Breakdown: b}, nil
}

// Add merges qty (possibly negative) into the cart line for productID.
func (s *Service) Add(ctx context.Context, owner, productID string, qty int) (int, error) {
	if qty == 0 {
		return 0, apperr.Validation("invalid_quantity", "quantity must not be zero")
	}
	if _, err := s.lookup.Get(ctx, productID); err != nil {
		return 0, err
	}
	return s.store.Add(ctx, owner, productID, qty)
}

func (s *Service) Update(ctx context.Context, owner, productID string, qty int) error {
	if qty < 1 {
		return apperr.Validation("invalid_quantity", "quantity must be >= 1, got %d", qty)
	}
	ok, err := s.store.Set(ctx, owner, productID, qty)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("cart_line_not_found", "product %s is not in the cart", productID)
	}
	return nil
}

func (s *Service) Remove(ctx context.Context, owner, productID string) error {
	ok, err := s.store.Remove(ctx, owner, productID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("cart_line_not_found", "product %s is not in the cart", productID)
	}
	return nil
}

func (s *Service) Clear(ctx context.Context, owner string) error {
	return s.store.Clear(ctx, owner)
}

// MemoryStore is a process-local Store for running without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]map[string]int)}
}

func (m *MemoryStore) Lines(_ context.Context, owner string) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]Line, 0, len(m.carts[owner]))
	for id, q := range m.carts[owner] {
		lines = append(lines, Line{ProductID: id, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (m *MemoryStore) Add(_ context.Context, owner, productID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[owner]
	if !ok {
		c = make(map[string]int)
		m.carts[owner] = c
	}
	cur, exists := c[productID]
	n := cur + delta
	switch {
	case exists && n < 1:
		delete(c, productID)
		return 0, nil
	case !exists && n < 1:
		n = 1
	}
	c[productID] = n
	return n, nil
}

func (m *MemoryStore) Set(_ context.Context, owner, productID string, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[owner][productID]; !ok {
		return false, nil
	}
	m.carts[owner][productID] = qty
	return true, nil
}

func (m *MemoryStore) Remove(_ context.Context, owner, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[owner][productID]; !ok {
		return false, nil
	}
	delete(m.carts[owner], productID)
	return true, nil
}

func (m *MemoryStore) Clear(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, owner)
	return nil
}
