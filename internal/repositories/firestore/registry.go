package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	products *ProductRepository
	coupons  *CouponRepository
	shipping *ShippingMethodRepository
	tasks    *FulfillmentTaskRepository
	health   repositories.HealthRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("order repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("product repository: %w", err)
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("coupon repository: %w", err)
	}
	shipping, err := NewShippingMethodRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("shipping method repository: %w", err)
	}
	tasks, err := NewFulfillmentTaskRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("fulfillment task repository: %w", err)
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		products: products,
		coupons:  coupons,
		shipping: shipping,
		tasks:    tasks,
		health:   health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository                     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository                 { return r.products }
func (r *Registry) Coupons() repositories.CouponRepository                   { return r.coupons }
func (r *Registry) ShippingMethods() repositories.ShippingMethodRepository   { return r.shipping }
func (r *Registry) FulfillmentTasks() repositories.FulfillmentTaskRepository { return r.tasks }
func (r *Registry) Health() repositories.HealthRepository                    { return r.health }

// RunInTx runs fn inside a Firestore transaction. The context handed to fn carries the
// transaction so repository calls join it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction function is required")
	}
	return r.provider.RunInTx(ctx, fn)
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
