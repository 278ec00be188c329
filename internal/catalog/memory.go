package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded catalog used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]Product
	nowFunc  func() time.Time
}

func NewMemoryStore(seed ...Product) *MemoryStore {
	s := &MemoryStore{products: make(map[string]Product), nowFunc: time.Now}
	for _, p := range seed {
		s.products[p.ID] = p
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, notFound(id)
	}
	return &p, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return alreadyExists(p.ID)
	}
	now := s.nowFunc()
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) UpdateDetails(_ context.Context, p Product) (*Product, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.products[p.ID]
	if !ok {
		return nil, notFound(p.ID)
	}
	p.Stock = old.Stock
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.nowFunc()
	s.products[p.ID] = p
	return &p, nil
}

func (s *MemoryStore) DecrementFloor(_ context.Context, id string, qty int) (StockChange, error) {
	return s.mutate(id, func(cur int) int {
		if cur-qty < 0 {
			return 0
		}
		return cur - qty
	})
}

func (s *MemoryStore) Increment(_ context.Context, id string, qty int) (StockChange, error) {
	return s.mutate(id, func(cur int) int { return cur + qty })
}

func (s *MemoryStore) SetStock(_ context.Context, id string, stock int) (StockChange, error) {
	return s.mutate(id, func(int) int { return stock })
}

func (s *MemoryStore) mutate(id string, fn func(int) int) (StockChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return StockChange{}, notFound(id)
	}
	ch := StockChange{Previous: p.Stock, Current: fn(p.Stock)}
	p.Stock = ch.Current
	p.UpdatedAt = s.nowFunc()
	s.products[id] = p
	return ch, nil
}
