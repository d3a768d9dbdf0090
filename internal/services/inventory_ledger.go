package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

// InventoryLedger applies an order's stock deltas to the catalogue. It runs inside the
// caller's transaction: every product is read before the first stock write.
type InventoryLedger struct {
	products repositories.ProductRepository
	clock    func() time.Time
	logger   Logger
	metrics  *Metrics
}

// NewInventoryLedger constructs a ledger over the product repository.
func NewInventoryLedger(products repositories.ProductRepository, clock func() time.Time, logger Logger, metrics *Metrics) (*InventoryLedger, error) {
	if products == nil {
		return nil, errors.New("inventory ledger: product repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = nopLogger
	}
	return &InventoryLedger{
		products: products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Commit subtracts ordered quantities from stock and adds them to SoldCount. Stock that
// would go negative is clamped at zero and reported as an integrity warning. Warnings are
// appended to order.InventoryWarnings; callers guard with order.InventoryUpdated.
func (l *InventoryLedger) Commit(ctx context.Context, order *domain.Order) error {
	return l.apply(ctx, order, true)
}

// Restore reverses Commit. SoldCount never drops below zero.
func (l *InventoryLedger) Restore(ctx context.Context, order *domain.Order) error {
	return l.apply(ctx, order, false)
}

func (l *InventoryLedger) apply(ctx context.Context, order *domain.Order, commit bool) error {
	if order == nil {
		return errors.New("inventory ledger: order is required")
	}

	loaded := make(map[string]*domain.Product)
	missing := make(map[string]bool)
	var ordered []string
	for _, item := range order.Items {
		if _, ok := loaded[item.ProductID]; ok || missing[item.ProductID] {
			continue
		}
		product, err := l.products.FindByID(ctx, item.ProductID)
		if err != nil {
			if isNotFound(err) {
				missing[item.ProductID] = true
				continue
			}
			return fmt.Errorf("inventory ledger: load product %s: %w", item.ProductID, mapRepositoryError(err))
		}
		loaded[item.ProductID] = &product
		ordered = append(ordered, item.ProductID)
	}

	now := l.clock()
	touched := make(map[string]bool)
	for _, item := range order.Items {
		if missing[item.ProductID] {
			l.warn(ctx, order, "product_missing", fmt.Sprintf("product %s no longer exists", item.ProductID))
			continue
		}
		product := loaded[item.ProductID]
		qty := item.Quantity

		if item.VariationID != "" {
			_, idx, ok := product.Variation(item.VariationID)
			if !ok {
				l.warn(ctx, order, "variation_missing", fmt.Sprintf("variation %s of product %s no longer exists", item.VariationID, item.ProductID))
				continue
			}
			stock, oversold := adjustStock(product.Variations[idx].Stock, qty, commit)
			if oversold {
				l.warn(ctx, order, "oversold", fmt.Sprintf("variation %s of product %s oversold by %d", item.VariationID, item.ProductID, qty-product.Variations[idx].Stock))
			}
			product.Variations[idx].Stock = stock
		} else {
			stock, oversold := adjustStock(product.Stock, qty, commit)
			if oversold {
				l.warn(ctx, order, "oversold", fmt.Sprintf("product %s oversold by %d", item.ProductID, qty-product.Stock))
			}
			product.Stock = stock
		}

		if commit {
			product.SoldCount += qty
		} else {
			product.SoldCount = max(0, product.SoldCount-qty)
		}
		product.UpdatedAt = now
		touched[item.ProductID] = true
	}

	for _, productID := range ordered {
		if !touched[productID] {
			continue
		}
		if err := l.products.UpdateStock(ctx, *loaded[productID]); err != nil {
			return fmt.Errorf("inventory ledger: update product %s: %w", productID, mapRepositoryError(err))
		}
	}
	return nil
}

func adjustStock(current, qty int, commit bool) (int, bool) {
	if !commit {
		return current + qty, false
	}
	next := current - qty
	if next < 0 {
		return 0, true
	}
	return next, false
}

func (l *InventoryLedger) warn(ctx context.Context, order *domain.Order, reason, message string) {
	order.InventoryWarnings = append(order.InventoryWarnings, message)
	l.metrics.recordIntegrityWarning(ctx, reason)
	l.logger(ctx, "inventory.integrity_warning", map[string]any{
		"severity":          "ERROR",
		"integrity_warning": true,
		"orderId":           order.ID,
		"orderNumber":       order.Number,
		"reason":            reason,
		"message":           message,
	})
}
