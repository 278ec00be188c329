// Package inventory is the only writer of product stock in response to order
// events and admin stock edits.
package inventory

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/grocery-orderflow/internal/apperr"
	"github.com/imrishuroy/grocery-orderflow/internal/catalog"
	"github.com/imrishuroy/grocery-orderflow/internal/metrics"
)

// ClampMetricName is the CloudWatch metric emitted when a decrement is clamped.
const ClampMetricName = "StockClampedUnits"

// Adjustment is the outcome of one stock mutation. Clamped is set when the
// requested decrement exceeded the available stock by Shortfall units.
type Adjustment struct {
	ProductID string        `json:"product_id"`
	Previous  int           `json:"previous"`
	Stock     int           `json:"stock"`
	Level     catalog.Level `json:"level"`
	Clamped   bool          `json:"clamped"`
	Shortfall int           `json:"shortfall,omitempty"`
}

// MetricEmitter publishes business metrics (CloudWatch in production).
type MetricEmitter interface {
	EmitCount(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Ledger wraps a catalog store with validation and clamp observation.
type Ledger struct {
	store   catalog.Store
	emitter MetricEmitter
}

// NewLedger returns a Ledger. emitter may be nil.
func NewLedger(store catalog.Store, emitter MetricEmitter) *Ledger {
	return &Ledger{store: store, emitter: emitter}
}

// Decrement subtracts qty from the product's stock, flooring at zero. It does
// not reject oversells; a clamped decrement is logged, counted and emitted.
func (l *Ledger) Decrement(ctx context.Context, productID string, qty int) (Adjustment, error) {
	if qty <= 0 {
		return Adjustment{}, apperr.Validation("invalid_quantity", "decrement quantity must be > 0, got %d", qty)
	}
	ch, err := l.store.DecrementFloor(ctx, productID, qty)
	if err != nil {
		return Adjustment{}, fmt.Errorf("decrement %s: %w", productID, err)
	}

	adj := newAdjustment(productID, ch)
	if shortfall := qty - ch.Previous; shortfall > 0 {
		adj.Clamped = true
		adj.Shortfall = shortfall
		l.observeClamp(ctx, adj, qty)
	}
	metrics.InventoryLevel.WithLabelValues(productID).Set(float64(adj.Stock))
	return adj, nil
}

// Increment adds qty to the product's stock.
func (l *Ledger) Increment(ctx context.Context, productID string, qty int) (Adjustment, error) {
	if qty <= 0 {
		return Adjustment{}, apperr.Validation("invalid_quantity", "increment quantity must be > 0, got %d", qty)
	}
	ch, err := l.store.Increment(ctx, productID, qty)
	if err != nil {
		return Adjustment{}, fmt.Errorf("increment %s: %w", productID, err)
	}
	metrics.InventoryLevel.WithLabelValues(productID).Set(float64(ch.Current))
	return newAdjustment(productID, ch), nil
}

// Set overwrites the stock counter. Used by admin stock edits only.
func (l *Ledger) Set(ctx context.Context, productID string, stock int) (Adjustment, error) {
	if stock < 0 {
		return Adjustment{}, apperr.Validation("invalid_stock", "stock must be >= 0, got %d", stock)
	}
	ch, err := l.store.SetStock(ctx, productID, stock)
	if err != nil {
		return Adjustment{}, fmt.Errorf("set stock %s: %w", productID, err)
	}
	log.WithFields(log.Fields{
		"product_id": productID,
		"previous":   ch.Previous,
		"stock":      ch.Current,
	}).Info("stock set manually")
	metrics.InventoryLevel.WithLabelValues(productID).Set(float64(ch.Current))
	return newAdjustment(productID, ch), nil
}

// Classify returns the derived stock level of a product.
func (l *Ledger) Classify(p catalog.Product) catalog.Level {
	return catalog.Classify(p.Stock)
}

func newAdjustment(productID string, ch catalog.StockChange) Adjustment {
	return Adjustment{
		ProductID: productID,
		Previous:  ch.Previous,
		Stock:     ch.Current,
		Level:     catalog.Classify(ch.Current),
	}
}

func (l *Ledger) observeClamp(ctx context.Context, adj Adjustment, requested int) {
	log.WithFields(log.Fields{
		"product_id": adj.ProductID,
		"requested":  requested,
		"available":  adj.Previous,
		"shortfall":  adj.Shortfall,
	}).Warn("stock decrement clamped at zero")

	metrics.StockClampedUnits.WithLabelValues(adj.ProductID).Add(float64(adj.Shortfall))

	if l.emitter == nil {
		return
	}
	err := l.emitter.EmitCount(ctx, ClampMetricName, float64(adj.Shortfall), map[string]string{"ProductId": adj.ProductID})
	if err != nil {
		log.WithError(err).WithField("product_id", adj.ProductID).Warn("failed to emit clamp metric")
	}
}
