// Package cart resolves carts into priced order lines and keeps each user's
// cart in Redis.
package cart

import (
	"context"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/catalog"
	"github.com/imrishuroy/grocery-orderflow/internal/orders"
)

// Line is one (product, quantity) entry of a cart.
type Line = orders.LineRequest

// ProductLookup is the read side of the catalog. catalog.Store satisfies it.
type ProductLookup interface {
	Get(ctx context.Context, id string) (*catalog.Product, error)
}

// Merge folds duplicate product ids together, keeping first-seen order.
func Merge(lines []Line) ([]Line, error) {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, apperr.Validation("invalid_line", "product_id is required")
		}
		if l.Quantity < 1 {
			return nil, apperr.Validation("invalid_quantity", "quantity for %s must be >= 1, got %d", l.ProductID, l.Quantity)
		}
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}

// Resolve snapshots each line against the catalog. A missing product aborts
// the whole resolution with ErrItemNotFound. Nothing is mutated.
func Resolve(ctx context.Context, lines []Line, lookup ProductLookup) ([]orders.LineItem, error) {
	merged, err := Merge(lines)
	if err != nil {
		return nil, err
	}
	items := make([]orders.LineItem, 0, len(merged))
	for _, l := range merged {
		p, err := lookup.Get(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, orders.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  l.Quantity,
			ImageRef:  p.ImageRef,
		})
	}
	return items, nil
}

// Resolver binds Resolve to a catalog for callers that take an
// orders.Resolver.
type Resolver struct {
	lookup ProductLookup
}

func NewResolver(lookup ProductLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

func (r *Resolver) Resolve(ctx context.Context, lines []orders.LineRequest) ([]orders.LineItem, error) {
	return Resolve(ctx, lines, r.lookup)
}
