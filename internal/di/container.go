package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/services"
	"github.com/hanko-field/orders/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders      services.OrderService
	Coupons     services.CouponService
	Payments    services.PaymentService
	Fulfillment services.FulfillmentService
	System      services.SystemService
}

// Infrastructure carries the external adapters the services depend on. Main builds the
// production adapters; tests pass stubs.
type Infrastructure struct {
	Gateway  payments.Gateway
	Webhooks services.GatewayEventParser
	Shipping shipping.Provider
	Events   services.OrderEventPublisher
	Notifier services.Notifier
	Meter    metric.Meter
	Logger   *zap.Logger
	Clock    func() time.Time
	Build    services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Runner       *services.BackgroundRunner
	Sweeper      *services.FulfillmentSweeper
}

// NewContainer constructs the runtime dependencies.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if infra.Shipping == nil {
		return nil, errors.New("shipping provider is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Meter == nil {
		infra.Meter = otel.GetMeterProvider().Meter("github.com/hanko-field/orders")
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	runner := services.NewBackgroundRunner(cfg.Background.Timeout, observability.EventLogger(infra.Logger, "background"))

	svc, err := buildServices(ctx, cfg, reg, infra, runner)
	if err != nil {
		return nil, err
	}

	var sweeper *services.FulfillmentSweeper
	if cfg.Fulfillment.SweepInterval > 0 {
		sweeper, err = services.NewFulfillmentSweeper(svc.Fulfillment, cfg.Fulfillment.SweepInterval, observability.EventLogger(infra.Logger, "sweeper"))
		if err != nil {
			return nil, fmt.Errorf("fulfillment sweeper: %w", err)
		}
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Runner:       runner,
		Sweeper:      sweeper,
	}, nil
}

// Close drains background work and releases the repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Runner != nil {
		if err := c.Runner.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("background runner: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure, runner *services.BackgroundRunner) (Services, error) {
	var svc Services

	metrics, err := services.NewMetrics(infra.Meter)
	if err != nil {
		return svc, fmt.Errorf("metrics: %w", err)
	}

	inventory, err := services.NewInventoryLedger(reg.Products(), infra.Clock, observability.EventLogger(infra.Logger, "inventory"), metrics)
	if err != nil {
		return svc, fmt.Errorf("inventory ledger: %w", err)
	}

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   infra.Clock,
	})
	if err != nil {
		return svc, fmt.Errorf("coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:           reg.Orders(),
		FulfillmentTasks: reg.FulfillmentTasks(),
		UnitOfWork:       reg,
		Provider:         infra.Shipping,
		PickupLocation:   cfg.Shipping.PickupLocation,
		MaxRetries:       cfg.Fulfillment.MaxRetries,
		DispatchTimeout:  cfg.Fulfillment.DispatchTimeout,
		LeaseDuration:    cfg.Fulfillment.LeaseDuration,
		SweepBatchSize:   cfg.Fulfillment.SweepBatchSize,
		SweepDelay:       cfg.Fulfillment.SweepDelay,
		Backoff:          dispatchBackoff(cfg.Fulfillment),
		Clock:            infra.Clock,
		Events:           infra.Events,
		Notifier:         infra.Notifier,
		Async:            runner,
		Metrics:          metrics,
		Logger:           observability.EventLogger(infra.Logger, "fulfillment"),
	})
	if err != nil {
		return svc, fmt.Errorf("fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:           reg.Orders(),
		FulfillmentTasks: reg.FulfillmentTasks(),
		Inventory:        inventory,
		UnitOfWork:       reg,
		Gateway:          infra.Gateway,
		Webhooks:         infra.Webhooks,
		Fulfillment:      fulfillmentSvc,
		Currency:         cfg.Payments.Currency,
		CallbackURL:      cfg.Payments.CallbackURL,
		Clock:            infra.Clock,
		Events:           infra.Events,
		Notifier:         infra.Notifier,
		Async:            runner,
		Metrics:          metrics,
		Logger:           observability.EventLogger(infra.Logger, "payments"),
	})
	if err != nil {
		return svc, fmt.Errorf("payment service: %w", err)
	}
	svc.Payments = paymentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           reg.Orders(),
		Products:         reg.Products(),
		Coupons:          reg.Coupons(),
		ShippingMethods:  reg.ShippingMethods(),
		FulfillmentTasks: reg.FulfillmentTasks(),
		Inventory:        inventory,
		UnitOfWork:       reg,
		Currency:         cfg.Payments.Currency,
		Clock:            infra.Clock,
		Events:           infra.Events,
		Notifier:         infra.Notifier,
		Async:            runner,
		Logger:           observability.EventLogger(infra.Logger, "orders"),
	})
	if err != nil {
		return svc, fmt.Errorf("order service: %w", err)
	}
	svc.Orders = orderSvc

	if health := reg.Health(); health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            infra.Clock,
			Build:            infra.Build,
			CacheTTL:         cfg.Server.HealthCacheTTL,
		})
		if err != nil {
			return svc, fmt.Errorf("system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// dispatchBackoff overrides the default retry spacing when the configuration sets one.
func dispatchBackoff(cfg config.FulfillmentConfig) *gax.Backoff {
	if cfg.InitialBackoff <= 0 {
		return nil
	}
	backoff := services.DefaultDispatchBackoff
	backoff.Initial = cfg.InitialBackoff
	if cfg.MaxBackoff > 0 {
		backoff.Max = cfg.MaxBackoff
	}
	return &backoff
}
