// Package catalog holds product records and the stores that own their stock
// counters. Every stock mutation is a single atomic storage operation.
package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
)

// LowStockThreshold is the highest stock count still reported as low stock.
const LowStockThreshold = 10

// Level is a derived stock classification. It is never persisted.
type Level string

const (
	OutOfStock Level = "OUT_OF_STOCK"
	LowStock   Level = "LOW_STOCK"
	InStock    Level = "IN_STOCK"
)

// Classify maps a stock count to its level.
func Classify(stock int) Level {
	switch {
	case stock <= 0:
		return OutOfStock
	case stock <= LowStockThreshold:
		return LowStock
	default:
		return InStock
	}
}

type Product struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Price     decimal.Decimal  `json:"price"`
	ListPrice *decimal.Decimal `json:"list_price,omitempty"`
	Category  string           `json:"category,omitempty"`
	Stock     int              `json:"stock"`
	ImageRef  string           `json:"image_ref,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (p Product) Level() Level { return Classify(p.Stock) }

// StockChange reports a stock counter before and after one atomic mutation.
type StockChange struct {
	Previous int
	Current  int
}

// Store is implemented by every catalog backend.
type Store interface {
	Get(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context) ([]Product, error)
	// Create fails with a conflict if the id is taken.
	Create(ctx context.Context, p Product) error
	// UpdateDetails rewrites everything except the stock counter.
	UpdateDetails(ctx context.Context, p Product) (*Product, error)
	// DecrementFloor subtracts qty and floors the result at zero.
	DecrementFloor(ctx context.Context, id string, qty int) (StockChange, error)
	Increment(ctx context.Context, id string, qty int) (StockChange, error)
	SetStock(ctx context.Context, id string, stock int) (StockChange, error)
}

func notFound(id string) error {
	return apperr.NotFound("item_not_found", "product %s not found", id)
}

func alreadyExists(id string) error {
	return apperr.Conflict("product_exists", "product %s already exists", id)
}

// Validate checks the fields a store requires before a write.
func (p Product) Validate() error {
	switch {
	case p.ID == "":
		return apperr.Validation("invalid_product", "product id is required")
	case p.Name == "":
		return apperr.Validation("invalid_product", "product name is required")
	case p.Price.IsNegative():
		return apperr.Validation("invalid_product", "product price must be >= 0")
	case p.Stock < 0:
		return apperr.Validation("invalid_product", "product stock must be >= 0")
	}
	return nil
}
