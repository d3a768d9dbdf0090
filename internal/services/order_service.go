package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	maxOrderNumberAttempts = 5
	maxNotesLength         = 1000
	maxReasonLength        = 500

	// DefaultCurrency is charged when no currency is configured.
	DefaultCurrency = "INR"

	orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// manualOrderStatuses are the statuses staff may set directly. Payment driven statuses
// move only through reconciliation; cancel and refund have dedicated operations.
var manualOrderStatuses = map[OrderStatus]bool{
	domain.OrderStatusProcessing: true,
	domain.OrderStatusShipped:    true,
	domain.OrderStatusDelivered:  true,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders           repositories.OrderRepository
	Products         repositories.ProductRepository
	Coupons          repositories.CouponRepository
	ShippingMethods  repositories.ShippingMethodRepository
	FulfillmentTasks repositories.FulfillmentTaskRepository
	Inventory        *InventoryLedger
	UnitOfWork       repositories.UnitOfWork
	Currency         string
	Clock            func() time.Time
	IDGenerator      func() string
	NumberGenerator  func(now time.Time) string
	Events           OrderEventPublisher
	Notifier         Notifier
	Async            AsyncRunner
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	coupons    repositories.CouponRepository
	shipping   repositories.ShippingMethodRepository
	tasks      repositories.FulfillmentTaskRepository
	inventory  *InventoryLedger
	unitOfWork repositories.UnitOfWork
	currency   string
	clock      func() time.Time
	newID      func() string
	newNumber  func(time.Time) string
	effects    sideEffects
	async      AsyncRunner
	logger     Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon repository is required")
	}
	if deps.ShippingMethods == nil {
		return nil, errors.New("order service: shipping method repository is required")
	}
	if deps.FulfillmentTasks == nil {
		return nil, errors.New("order service: fulfillment task repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory ledger is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	numberGen := deps.NumberGenerator
	if numberGen == nil {
		numberGen = NewOrderNumber
	}

	var logger Logger = nopLogger
	if deps.Logger != nil {
		logger = deps.Logger
	}

	async := deps.Async
	if async == nil {
		async = inlineRunner{logger: logger}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		coupons:    deps.Coupons,
		shipping:   deps.ShippingMethods,
		tasks:      deps.FulfillmentTasks,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		currency:   currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newNumber: numberGen,
		effects:   sideEffects{events: deps.Events, notifier: deps.Notifier, logger: logger},
		async:     async,
		logger:    logger,
	}, nil
}

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXXXX from the last four digits of the millisecond
// clock and four random base36 characters.
func NewOrderNumber(now time.Time) string {
	now = now.UTC()
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = orderNumberAlphabet[rand.IntN(len(orderNumberAlphabet))]
	}
	return fmt.Sprintf("ORD-%s-%04d%s", now.Format("20060102"), now.UnixMilli()%10000, suffix)
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateOrder(cmd); err != nil {
		return Order{}, err
	}

	now := s.now()
	couponCode := NormalizeCouponCode(cmd.CouponCode)
	shippingAddress := trimAddress(cmd.ShippingAddress)
	billingAddress := shippingAddress
	if cmd.BillingAddress != nil {
		billingAddress = trimAddress(*cmd.BillingAddress)
	}
	source := cmd.Source
	if source == "" {
		source = domain.OrderSourceWeb
	}

	base := Order{
		ID:     s.newID(),
		UserID: strings.TrimSpace(cmd.UserID),
		Status: domain.OrderStatusPendingPayment,
		Customer: Customer{
			Name:  strings.TrimSpace(cmd.Customer.Name),
			Email: strings.ToLower(strings.TrimSpace(cmd.Customer.Email)),
			Phone: strings.TrimSpace(cmd.Customer.Phone),
		},
		ShippingAddress: shippingAddress,
		BillingAddress:  billingAddress,
		Notes:           textutil.SanitizePlainText(cmd.Notes, maxNotesLength),
		Source:          source,
		Payment:         domain.PaymentState{Status: domain.PaymentStatusPending},
		Shipment:        domain.ShipmentState{Status: domain.ShipmentStatusPending},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order = base

		method, err := s.shipping.FindByID(txCtx, strings.TrimSpace(cmd.ShippingMethodID))
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s", ErrOrderInvalidShippingMethod, cmd.ShippingMethodID)
			}
			return mapRepositoryError(err)
		}
		if !method.IsActive {
			return fmt.Errorf("%w: %s is inactive", ErrOrderInvalidShippingMethod, method.ID)
		}

		var coupon *domain.Coupon
		if couponCode != "" {
			found, err := findCoupon(txCtx, s.coupons, couponCode)
			if err != nil {
				return err
			}
			validated, err := ValidateCoupon(found, couponCode, cmd.Subtotal, now)
			if err != nil {
				return err
			}
			coupon = &validated
		}

		items, subtotal, err := s.snapshotItems(txCtx, cmd.Items)
		if err != nil {
			return err
		}

		number, err := s.allocateNumber(txCtx, now)
		if err != nil {
			return err
		}

		if !domain.WithinTolerance(subtotal, cmd.Subtotal) {
			return fmt.Errorf("%w: subtotal %d does not match computed %d", ErrOrderPriceMismatch, cmd.Subtotal, subtotal)
		}
		pricing := domain.OrderPricing{
			Currency:     s.currency,
			Subtotal:     subtotal,
			Tax:          cmd.Tax,
			ShippingCost: method.Price,
		}
		if coupon != nil {
			applied := ApplyCoupon(*coupon, subtotal, method.Price)
			pricing.Discount = applied.DiscountAmount
			order.Coupon = &domain.AppliedCoupon{
				Code:           coupon.Code,
				Type:           coupon.Type,
				Value:          coupon.Value,
				DiscountAmount: applied.DiscountAmount,
			}
		}
		pricing.Total = pricing.ExpectedTotal()
		if !domain.WithinTolerance(pricing.Total, cmd.Total) {
			return fmt.Errorf("%w: total %d does not match computed %d", ErrOrderPriceMismatch, cmd.Total, pricing.Total)
		}
		if err := pricing.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}

		order.Number = number
		order.Items = items
		order.Pricing = pricing
		order.ShippingMethod = domain.ShippingMethodSnapshot{
			ID:            method.ID,
			Name:          method.Name,
			Price:         method.Price,
			EstimatedDays: method.EstimatedDays,
		}

		if coupon != nil {
			if err := s.coupons.UpdateUsage(txCtx, coupon.Code, coupon.UsedCount+1, now); err != nil {
				return mapRepositoryError(err)
			}
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.Number,
		"userId":      order.UserID,
		"total":       order.Pricing.Total,
		"coupon":      couponCode,
	})
	s.effects.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		ActorID:       order.UserID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":    order.Pricing.Total,
			"currency": order.Pricing.Currency,
			"items":    len(order.Items),
		},
	})
	return order, nil
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	var missing []string
	if strings.TrimSpace(cmd.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(cmd.Customer.Email) == "" && strings.TrimSpace(cmd.Customer.Phone) == "" {
		missing = append(missing, "customer.email")
	}
	if strings.TrimSpace(cmd.ShippingAddress.Line1) == "" {
		missing = append(missing, "shippingAddress.line1")
	}
	if strings.TrimSpace(cmd.ShippingAddress.City) == "" {
		missing = append(missing, "shippingAddress.city")
	}
	if strings.TrimSpace(cmd.ShippingAddress.PostalCode) == "" {
		missing = append(missing, "shippingAddress.postalCode")
	}
	if strings.TrimSpace(cmd.ShippingMethodID) == "" {
		missing = append(missing, "shippingMethodId")
	}
	if len(cmd.Items) == 0 {
		missing = append(missing, "items")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrOrderMissingFields, strings.Join(missing, ", "))
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: items[%d].productId", ErrOrderMissingFields, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: items[%d].unitPrice must not be negative", ErrOrderInvalidInput, i)
		}
	}
	if cmd.Subtotal < 0 || cmd.Tax < 0 || cmd.Total < 0 {
		return fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
	}
	return nil
}

// snapshotItems loads each product once and copies the purchase-time details onto the lines.
func (s *orderService) snapshotItems(ctx context.Context, lines []CreateOrderItem) ([]OrderLineItem, int64, error) {
	products := make(map[string]domain.Product, len(lines))
	requested := make(map[string]int, len(lines))
	items := make([]OrderLineItem, 0, len(lines))
	var subtotal int64

	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		product, ok := products[productID]
		if !ok {
			loaded, err := s.products.FindByID(ctx, productID)
			if err != nil {
				if isNotFound(err) {
					return nil, 0, fmt.Errorf("%w: product %s not found", ErrOrderProductUnavailable, productID)
				}
				return nil, 0, mapRepositoryError(err)
			}
			products[productID] = loaded
			product = loaded
		}
		if !product.Purchasable() {
			return nil, 0, fmt.Errorf("%w: %q is not available", ErrOrderProductUnavailable, product.Name)
		}

		price, stock := product.Price, product.Stock
		sku, image := product.SKU, product.Image
		var attributes domain.Attributes

		variationID := strings.TrimSpace(line.VariationID)
		if variationID != "" {
			variation, _, ok := product.Variation(variationID)
			if !ok {
				return nil, 0, fmt.Errorf("%w: %q has no variation %s", ErrOrderProductUnavailable, product.Name, variationID)
			}
			if err := variation.Attributes.Validate(product.AttributeNames); err != nil {
				return nil, 0, fmt.Errorf("%w: %q variation %s: %v", ErrOrderProductUnavailable, product.Name, variationID, err)
			}
			if variation.Price > 0 {
				price = variation.Price
			}
			stock = variation.Stock
			if variation.SKU != "" {
				sku = variation.SKU
			}
			if variation.Image != "" {
				image = variation.Image
			}
			attributes = variation.Attributes.Clone()
		}

		key := productID + "/" + variationID
		requested[key] += line.Quantity
		if requested[key] > stock {
			return nil, 0, &StockError{
				ProductID:   productID,
				ProductName: product.Name,
				VariationID: variationID,
				Requested:   requested[key],
				Available:   max(stock, 0),
			}
		}

		if !domain.WithinTolerance(line.UnitPrice, price) {
			return nil, 0, fmt.Errorf("%w: %q costs %d, cart has %d", ErrOrderPriceMismatch, product.Name, price, line.UnitPrice)
		}

		lineTotal := price * int64(line.Quantity)
		items = append(items, OrderLineItem{
			ProductID:         productID,
			VariationID:       variationID,
			Quantity:          line.Quantity,
			UnitPrice:         price,
			OriginalUnitPrice: price,
			LineTotal:         lineTotal,
			Name:              product.Name,
			Image:             image,
			SKU:               sku,
			Attributes:        attributes,
		})
		subtotal += lineTotal
	}
	return items, subtotal, nil
}

func (s *orderService) allocateNumber(ctx context.Context, now time.Time) (string, error) {
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		number := s.newNumber(now)
		taken, err := s.orders.NumberTaken(ctx, number)
		if err != nil {
			return "", mapRepositoryError(err)
		}
		if !taken {
			return number, nil
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNumber": number,
			"attempt":     attempt,
		})
	}
	return "", ErrOrderNumberExhausted
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, number string) (Order, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && from.After(*to) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: date range start after end", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if target != "" && !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	now := s.now()
	var (
		order   Order
		prev    OrderStatus
		changed bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		changed = false
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		order = current
		prev = order.Status

		if target != "" && target != order.Status {
			if !manualOrderStatuses[target] {
				return fmt.Errorf("%w: %s cannot be set directly", ErrOrderInvalidState, target)
			}
			if !domain.CanTransitionOrder(order.Status, target) {
				return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
			}
			order.Status = target
			switch target {
			case domain.OrderStatusShipped:
				if order.ShippedAt == nil {
					order.ShippedAt = timePtr(now)
				}
			case domain.OrderStatusDelivered:
				if order.ShippedAt == nil {
					order.ShippedAt = timePtr(now)
				}
				if order.DeliveredAt == nil {
					order.DeliveredAt = timePtr(now)
				}
			}
			changed = true
		}
		if cmd.TrackingNumber != nil {
			if tracking := strings.TrimSpace(*cmd.TrackingNumber); tracking != order.TrackingNumber {
				order.TrackingNumber = tracking
				changed = true
			}
		}
		if cmd.Carrier != nil {
			if carrier := strings.TrimSpace(*cmd.Carrier); carrier != order.Carrier {
				order.Carrier = carrier
				changed = true
			}
		}
		if !changed {
			return nil
		}
		order.UpdatedAt = now
		return mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}
	if !changed {
		return order, nil
	}

	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId": order.ID,
		"from":    string(prev),
		"to":      string(order.Status),
		"actor":   cmd.ActorID,
	})
	if prev != order.Status {
		s.effects.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			PreviousStatus: string(prev),
			CurrentStatus:  string(order.Status),
			ActorID:        cmd.ActorID,
			OccurredAt:     now,
		})
		if kind, ok := statusNotification(order.Status); ok {
			notification := notificationFor(kind, order)
			s.async.Go(ctx, "order.notify."+string(kind), func(ctx context.Context) error {
				s.effects.notify(ctx, notification)
				return nil
			})
		}
	}
	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	reason := textutil.SanitizePlainText(cmd.Reason, maxReasonLength)

	now := s.now()
	var (
		order Order
		prev  OrderStatus
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		order = current
		prev = order.Status

		if !cmd.ActorRole.Staff() && order.UserID != actorID {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.Status)
		}
		if order.Payment.Status.PostCharge() {
			return fmt.Errorf("%w: payment already charged, refund instead", ErrOrderNotCancellable)
		}

		var coupon *domain.Coupon
		if order.Coupon != nil {
			found, err := findCoupon(txCtx, s.coupons, order.Coupon.Code)
			if err != nil {
				return err
			}
			coupon = found
		}

		task, hasTask, err := loadTask(txCtx, s.tasks, order.ID)
		if err != nil {
			return err
		}

		if order.InventoryUpdated {
			if err := s.inventory.Restore(txCtx, &order); err != nil {
				return err
			}
			order.InventoryUpdated = false
		}

		if coupon != nil {
			if err := s.coupons.UpdateUsage(txCtx, coupon.Code, max(0, coupon.UsedCount-1), now); err != nil {
				return mapRepositoryError(err)
			}
		} else if order.Coupon != nil {
			s.logger(txCtx, "order.cancel.coupon_missing", map[string]any{
				"orderId": order.ID,
				"coupon":  order.Coupon.Code,
			})
		}

		if hasTask && task.Status != domain.FulfillmentTaskDone && task.Status != domain.FulfillmentTaskCancelled {
			task.Status = domain.FulfillmentTaskCancelled
			task.LeaseUntil = nil
			task.UpdatedAt = now
			if err := s.tasks.Save(txCtx, task); err != nil {
				return mapRepositoryError(err)
			}
		}

		order.Status = domain.OrderStatusCancelled
		order.CancelReason = reason
		order.CancelledBy = actorID
		order.CancelledAt = timePtr(now)
		order.UpdatedAt = now
		return mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":  order.ID,
		"from":     string(prev),
		"actor":    actorID,
		"role":     string(cmd.ActorRole),
		"restored": len(order.Items),
	})
	s.effects.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     now,
		Metadata:       map[string]any{"reason": reason},
	})
	notification := notificationFor(NotificationOrderCancelled, order)
	notification.Reason = reason
	s.async.Go(ctx, "order.notify.cancelled", func(ctx context.Context) error {
		s.effects.notify(ctx, notification)
		return nil
	})
	return order, nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

// loadTask returns the fulfillment task of an order, reporting whether one exists.
func loadTask(ctx context.Context, tasks repositories.FulfillmentTaskRepository, orderID string) (domain.FulfillmentTask, bool, error) {
	task, err := tasks.Get(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return domain.FulfillmentTask{}, false, nil
		}
		return domain.FulfillmentTask{}, false, mapRepositoryError(err)
	}
	return task, true, nil
}

func statusNotification(status OrderStatus) (NotificationKind, bool) {
	switch status {
	case domain.OrderStatusShipped:
		return NotificationOrderShipped, true
	case domain.OrderStatusDelivered:
		return NotificationOrderDelivered, true
	}
	return "", false
}

func trimAddress(addr Address) Address {
	return Address{
		Name:       strings.TrimSpace(addr.Name),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}
