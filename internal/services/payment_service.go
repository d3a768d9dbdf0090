package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	orderEventPaymentInitiated = "order.payment.initiated"
	orderEventPaymentUpdated   = "order.payment.updated"
	orderEventRefunded         = "order.payment.refunded"

	paymentSourceInitiate ReconcileSource = "initiate"
	paymentSourceRefund   ReconcileSource = "refund"
)

var tracer = otel.Tracer("github.com/hanko-field/orders/internal/services")

// GatewayEventParser authenticates and decodes gateway webhook deliveries.
type GatewayEventParser interface {
	Parse(payload []byte, signature string) (payments.GatewayEvent, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders           repositories.OrderRepository
	FulfillmentTasks repositories.FulfillmentTaskRepository
	Inventory        *InventoryLedger
	UnitOfWork       repositories.UnitOfWork
	Gateway          payments.Gateway
	Webhooks         GatewayEventParser
	Fulfillment      FulfillmentDispatcher
	Currency         string
	// CallbackURL receives the customer after checkout when the caller supplies no return URL.
	CallbackURL string
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Notifier    Notifier
	Async       AsyncRunner
	Metrics     *Metrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders      repositories.OrderRepository
	tasks       repositories.FulfillmentTaskRepository
	inventory   *InventoryLedger
	unitOfWork  repositories.UnitOfWork
	gateway     payments.Gateway
	webhooks    GatewayEventParser
	fulfillment FulfillmentDispatcher
	currency    string
	callbackURL string
	clock       func() time.Time
	newID       func() string
	effects     sideEffects
	async       AsyncRunner
	metrics     *Metrics
	logger      Logger
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService wires the gateway and repositories into a PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.FulfillmentTasks == nil {
		return nil, errors.New("payment service: fulfillment task repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("payment service: inventory ledger is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
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

	return &paymentService{
		orders:      deps.Orders,
		tasks:       deps.FulfillmentTasks,
		inventory:   deps.Inventory,
		unitOfWork:  unit,
		gateway:     deps.Gateway,
		webhooks:    deps.Webhooks,
		fulfillment: deps.Fulfillment,
		currency:    currency,
		callbackURL: strings.TrimSpace(deps.CallbackURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		effects: sideEffects{events: deps.Events, notifier: deps.Notifier, logger: logger},
		async:   async,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentSession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentSession{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentSession{}, mapRepositoryError(err)
	}
	if !cmd.ActorRole.Staff() && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return PaymentSession{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err := checkPayable(order); err != nil {
		return PaymentSession{}, err
	}

	currency := order.Pricing.Currency
	if currency == "" {
		currency = s.currency
	}
	attempt := order.Payment.AttemptCount + 1
	req := payments.SessionRequest{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Amount:      order.Pricing.Total,
		Currency:    currency,
		Customer: payments.Customer{
			ID:    order.UserID,
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		ReturnURL:   s.returnURL(cmd.ReturnURL, order.ID),
		CancelURL:   strings.TrimSpace(cmd.CancelURL),
		Description: "Order " + order.Number,
		Items:       gatewayLineItems(order.Items),
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.Number,
			"attempt":     strconv.Itoa(attempt),
		},
		IdempotencyKey: fmt.Sprintf("session_%s_%d", order.Number, attempt),
	}

	session, err := s.gateway.CreateSession(ctx, req)
	if err != nil {
		s.logger(ctx, "payment.session.failed", map[string]any{
			"orderId": order.ID,
			"attempt": attempt,
			"error":   err.Error(),
		})
		return PaymentSession{}, fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}

	now := s.now()
	var prev PaymentStatus
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if err := checkPayable(current); err != nil {
			return err
		}
		order = current
		prev = order.Payment.Status

		if order.Payment.Status != domain.PaymentStatusInitiated && domain.CanTransitionPayment(order.Payment.Status, domain.PaymentStatusInitiated) {
			order.Payment.Status = domain.PaymentStatusInitiated
		}
		order.Payment.Provider = session.Provider
		order.Payment.SessionID = session.ID
		order.Payment.PaymentURL = session.PaymentURL
		// A new session supersedes the previous attempt's intent.
		order.Payment.TransactionID = session.TransactionID
		order.Payment.ErrorCode = ""
		order.Payment.ErrorMessage = ""
		order.Payment.AttemptCount++
		order.Payment.LastAttemptAt = timePtr(now)
		order.Status = domain.DeriveOrderStatus(order.Status, order.Payment.Status)
		order.UpdatedAt = now
		return mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return PaymentSession{}, err
	}

	if prev != order.Payment.Status {
		s.metrics.recordPaymentTransition(ctx, prev, order.Payment.Status, paymentSourceInitiate)
	}
	s.logger(ctx, "payment.session.created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
		"attempt":   order.Payment.AttemptCount,
	})
	s.effects.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentInitiated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.ActorID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"sessionId": session.ID,
			"attempt":   order.Payment.AttemptCount,
		},
	})

	result := PaymentSession{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		SessionID:   session.ID,
		PaymentURL:  session.PaymentURL,
		Amount:      order.Pricing.Total,
		Currency:    currency,
	}
	if !session.ExpiresAt.IsZero() {
		result.ExpiresAt = timePtr(session.ExpiresAt.UTC())
	}
	return result, nil
}

func checkPayable(order Order) error {
	if order.Payment.Status.PostCharge() {
		return ErrPaymentAlreadyCharged
	}
	if order.Status != domain.OrderStatusPendingPayment && order.Status != domain.OrderStatusPaymentInitiated {
		return fmt.Errorf("%w: order is %s", ErrPaymentNotAllowed, order.Status)
	}
	if order.Pricing.Total <= 0 {
		return fmt.Errorf("%w: nothing to charge", ErrPaymentNotAllowed)
	}
	return nil
}

func (s *paymentService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "payments.reconcile")
	defer span.End()

	order, err := s.resolveOrder(ctx, cmd.OrderID, cmd.OrderNumber)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ReconcileResult{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	update := cmd
	update.OrderID = order.ID
	update.VendorStatus = strings.TrimSpace(cmd.VendorStatus)
	if update.VendorStatus == "" {
		if update.Source == "" {
			update.Source = ReconcileSourcePull
		}
		if err := s.poll(ctx, order, &update); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return ReconcileResult{}, err
		}
	}
	if update.Source == "" {
		update.Source = ReconcileSourcePush
	}
	span.SetAttributes(
		attribute.String("payment.vendor_status", update.VendorStatus),
		attribute.String("payment.source", string(update.Source)),
	)

	result, err := s.apply(ctx, update)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *paymentService) resolveOrder(ctx context.Context, orderID, number string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	number = strings.TrimSpace(number)
	var (
		order Order
		err   error
	)
	switch {
	case orderID != "":
		order, err = s.orders.FindByID(ctx, orderID)
		if err != nil && isNotFound(err) && number != "" {
			order, err = s.orders.FindByNumber(ctx, number)
		}
	case number != "":
		order, err = s.orders.FindByNumber(ctx, number)
	default:
		return Order{}, fmt.Errorf("%w: order reference is required", ErrOrderInvalidInput)
	}
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

// poll asks the gateway for the payment state and copies it onto update.
func (s *paymentService) poll(ctx context.Context, order Order, update *ReconcileCommand) error {
	req := payments.StatusRequest{
		SessionID:     firstNonEmpty(update.SessionID, order.Payment.SessionID),
		TransactionID: firstNonEmpty(update.TransactionID, order.Payment.TransactionID),
	}
	if req.SessionID == "" && req.TransactionID == "" {
		return ErrPaymentNotInitiated
	}
	status, err := s.gateway.GetStatus(ctx, req)
	if err != nil {
		s.logger(ctx, "payment.status.poll_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}
	update.VendorStatus = status.VendorStatus
	update.TransactionID = firstNonEmpty(status.TransactionID, update.TransactionID)
	if status.Method != "" {
		update.Method = status.Method
	}
	if status.Amount > 0 {
		update.Amount = status.Amount
	}
	update.ErrorCode = firstNonEmpty(status.ErrorCode, update.ErrorCode)
	update.ErrorMessage = firstNonEmpty(status.ErrorMessage, update.ErrorMessage)
	return nil
}

// apply moves the payment sub-state to the mapped vendor status in one transaction. Only the
// attempt that first enters charged commits inventory and enqueues fulfillment.
func (s *paymentService) apply(ctx context.Context, update ReconcileCommand) (ReconcileResult, error) {
	target := payments.MapVendorStatus(update.VendorStatus)
	now := s.now()

	var (
		result             ReconcileResult
		prev               PaymentStatus
		firstCharge        bool
		chargedAfterCancel bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		result = ReconcileResult{VendorStatus: update.VendorStatus}
		firstCharge = false
		chargedAfterCancel = false

		order, err := s.orders.FindByID(txCtx, update.OrderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		prev = order.Payment.Status
		result.Order = order
		result.PaymentStatus = prev

		if prev == target {
			if target != domain.PaymentStatusRefunded || !completeRefunds(&order) {
				return nil
			}
			order.UpdatedAt = now
			if err := s.orders.Update(txCtx, order); err != nil {
				return mapRepositoryError(err)
			}
			result.Order = order
			return nil
		}
		if prev.PostCharge() && !target.PostCharge() {
			result.Ignored = true
			return nil
		}
		if !domain.CanTransitionPayment(prev, target) {
			return fmt.Errorf("%w: %s -> %s", ErrPaymentInvalidTransition, prev, target)
		}

		entering := target == domain.PaymentStatusCharged
		cancelled := order.Status == domain.OrderStatusCancelled
		var (
			task    domain.FulfillmentTask
			hasTask bool
		)
		if entering && !cancelled {
			task, hasTask, err = loadTask(txCtx, s.tasks, order.ID)
			if err != nil {
				return err
			}
			if !order.InventoryUpdated {
				if err := s.inventory.Commit(txCtx, &order); err != nil {
					return err
				}
				order.InventoryUpdated = true
				order.InventoryUpdatedAt = timePtr(now)
			}
		}

		order.Payment.Status = target
		order.Payment.GatewayStatus = update.VendorStatus
		if update.TransactionID != "" {
			order.Payment.TransactionID = update.TransactionID
		}
		if update.Method != "" {
			order.Payment.Method = update.Method
		}
		if target.Failed() {
			order.Payment.ErrorCode = update.ErrorCode
			order.Payment.ErrorMessage = update.ErrorMessage
		} else {
			order.Payment.ErrorCode = ""
			order.Payment.ErrorMessage = ""
		}
		if entering && order.Payment.ChargedAt == nil {
			order.Payment.ChargedAt = timePtr(now)
		}
		if target == domain.PaymentStatusRefunded {
			if order.Payment.TotalRefunded < order.Pricing.Total {
				order.Payment.TotalRefunded = order.Pricing.Total
			}
			completeRefunds(&order)
		}
		order.Status = domain.DeriveOrderStatus(order.Status, target)

		if entering && cancelled {
			chargedAfterCancel = true
		}
		if entering && !cancelled {
			if !hasTask {
				task = domain.FulfillmentTask{
					OrderID:     order.ID,
					OrderNumber: order.Number,
					CreatedAt:   now,
				}
			}
			if task.Status != domain.FulfillmentTaskDone {
				task.Status = domain.FulfillmentTaskScheduled
				task.NextAttemptAt = now
				task.LeaseUntil = nil
			}
			task.UpdatedAt = now
			if err := s.tasks.Save(txCtx, task); err != nil {
				return mapRepositoryError(err)
			}
			firstCharge = true
		}

		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		result.Order = order
		result.PaymentStatus = target
		result.Changed = true
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.reconcile.failed", map[string]any{
			"orderId":      update.OrderID,
			"vendorStatus": update.VendorStatus,
			"source":       string(update.Source),
			"error":        err.Error(),
		})
		return ReconcileResult{}, err
	}

	order := result.Order
	if result.Ignored {
		s.logger(ctx, "payment.reconcile.stale", map[string]any{
			"orderId":      order.ID,
			"current":      string(order.Payment.Status),
			"vendorStatus": update.VendorStatus,
			"source":       string(update.Source),
		})
	}
	if !result.Changed {
		return result, nil
	}

	s.metrics.recordPaymentTransition(ctx, prev, target, update.Source)
	s.logger(ctx, "payment.reconciled", map[string]any{
		"orderId":      order.ID,
		"from":         string(prev),
		"to":           string(target),
		"vendorStatus": update.VendorStatus,
		"source":       string(update.Source),
		"orderStatus":  string(order.Status),
	})
	if target == domain.PaymentStatusCharged && update.Amount > 0 && update.Amount != order.Pricing.Total {
		s.logger(ctx, "payment.amount_mismatch", map[string]any{
			"severity": "ERROR",
			"orderId":  order.ID,
			"charged":  update.Amount,
			"total":    order.Pricing.Total,
		})
	}
	if chargedAfterCancel {
		s.logger(ctx, "payment.charged_after_cancel", map[string]any{
			"severity":      "ERROR",
			"orderId":       order.ID,
			"transactionId": order.Payment.TransactionID,
		})
	}
	s.effects.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentUpdated,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: string(prev),
		CurrentStatus:  string(target),
		OccurredAt:     now,
		Metadata: map[string]any{
			"orderStatus":  string(order.Status),
			"vendorStatus": update.VendorStatus,
			"source":       string(update.Source),
		},
	})

	if firstCharge {
		orderID := order.ID
		if s.fulfillment != nil {
			s.async.Go(ctx, "fulfillment.dispatch", func(ctx context.Context) error {
				_, err := s.fulfillment.Dispatch(ctx, orderID, DispatchTriggerPayment)
				return err
			})
		}
		s.async.Go(ctx, "order.notify.confirmed", func(ctx context.Context) error {
			return s.sendConfirmation(ctx, orderID)
		})
	}
	return result, nil
}

// sendConfirmation notifies the customer once and stamps ConfirmationSentAt.
func (s *paymentService) sendConfirmation(ctx context.Context, orderID string) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return mapRepositoryError(err)
	}
	if order.ConfirmationSentAt != nil {
		return nil
	}
	if !s.effects.notify(ctx, notificationFor(NotificationOrderConfirmed, order)) {
		return nil
	}
	now := s.now()
	return s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if current.ConfirmationSentAt != nil {
			return nil
		}
		current.ConfirmationSentAt = timePtr(now)
		return mapRepositoryError(s.orders.Update(txCtx, current))
	})
}

func (s *paymentService) CheckStatus(ctx context.Context, cmd CheckPaymentStatusCommand) (ReconcileResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ReconcileResult{}, mapRepositoryError(err)
	}
	if !cmd.ActorRole.Staff() && order.UserID != strings.TrimSpace(cmd.ActorID) {
		return ReconcileResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Payment.Status.PostCharge() {
		return ReconcileResult{
			Order:         order,
			PaymentStatus: order.Payment.Status,
			VendorStatus:  order.Payment.GatewayStatus,
		}, nil
	}
	return s.Reconcile(ctx, ReconcileCommand{OrderID: order.ID, Source: ReconcileSourcePull})
}

func (s *paymentService) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (ReconcileResult, error) {
	if s.webhooks == nil {
		return ReconcileResult{}, errors.New("payment service: webhook verifier not configured")
	}
	event, err := s.webhooks.Parse(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrPaymentSignature, err)
		case errors.Is(err, payments.ErrUnsupportedEvent):
			s.logger(ctx, "payment.webhook.ignored", map[string]any{"reason": err.Error()})
			return ReconcileResult{Ignored: true}, nil
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	result, err := s.Reconcile(ctx, ReconcileCommand{
		OrderID:       event.OrderID,
		OrderNumber:   event.OrderNumber,
		SessionID:     event.SessionID,
		VendorStatus:  event.VendorStatus,
		TransactionID: event.TransactionID,
		Method:        event.Method,
		Amount:        event.Amount,
		ErrorCode:     event.ErrorCode,
		ErrorMessage:  event.ErrorMessage,
		Source:        ReconcileSourcePush,
	})
	if errors.Is(err, ErrPaymentInvalidTransition) {
		s.logger(ctx, "payment.webhook.rejected_transition", map[string]any{
			"eventId": event.ID,
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
		return ReconcileResult{VendorStatus: event.VendorStatus, Ignored: true}, nil
	}
	return result, err
}

// completeRefunds marks every in-flight refund record completed and reports whether any changed.
func completeRefunds(order *domain.Order) bool {
	changed := false
	for i := range order.Payment.Refunds {
		if order.Payment.Refunds[i].Status == domain.RefundStatusProcessing {
			order.Payment.Refunds[i].Status = domain.RefundStatusCompleted
			changed = true
		}
	}
	return changed
}

func (s *paymentService) Refund(ctx context.Context, cmd RefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if !refundable(order.Payment.Status) {
		return Order{}, fmt.Errorf("%w: payment is %s", ErrRefundNotAllowed, order.Payment.Status)
	}

	remaining := order.RemainingRefundable()
	amount := remaining
	if cmd.Amount != nil {
		amount = *cmd.Amount
	}
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: refund amount must be positive", ErrOrderInvalidInput)
	}
	if amount > remaining {
		return Order{}, fmt.Errorf("%w: requested %d, remaining %d", ErrRefundExceedsBalance, amount, remaining)
	}

	transactionID := order.Payment.TransactionID
	if transactionID == "" {
		if order.Payment.SessionID == "" {
			return Order{}, fmt.Errorf("%w: no gateway transaction recorded", ErrRefundNotAllowed)
		}
		status, err := s.gateway.GetStatus(ctx, payments.StatusRequest{SessionID: order.Payment.SessionID})
		if err != nil {
			return Order{}, fmt.Errorf("%w: %w", ErrPaymentGateway, err)
		}
		if status.TransactionID == "" {
			return Order{}, fmt.Errorf("%w: gateway returned no transaction", ErrRefundNotAllowed)
		}
		transactionID = status.TransactionID
	}

	reason := textutil.SanitizePlainText(cmd.Reason, maxReasonLength)
	sequence := len(order.Payment.Refunds) + 1
	refund, err := s.gateway.Refund(ctx, payments.RefundRequest{
		TransactionID:  transactionID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("refund_%s_%d", order.Number, sequence),
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.Number,
		},
	})
	if err != nil {
		s.logger(ctx, "payment.refund.failed", map[string]any{
			"orderId": order.ID,
			"amount":  amount,
			"error":   err.Error(),
		})
		return Order{}, fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}

	now := s.now()
	var (
		prev      PaymentStatus
		duplicate bool
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		duplicate = false
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		order = current
		prev = order.Payment.Status

		for _, existing := range order.Payment.Refunds {
			if refund.ProviderRefundID != "" && existing.ProviderRefundID == refund.ProviderRefundID {
				duplicate = true
				return nil
			}
		}
		if amount > order.RemainingRefundable() {
			return fmt.Errorf("%w: requested %d, remaining %d", ErrRefundExceedsBalance, amount, order.RemainingRefundable())
		}

		task, hasTask, err := loadTask(txCtx, s.tasks, order.ID)
		if err != nil {
			return err
		}

		// The gateway's refund webhook moves the record to completed.
		order.Payment.Refunds = append(order.Payment.Refunds, domain.Refund{
			ID:               s.newID(),
			ProviderRefundID: refund.ProviderRefundID,
			Amount:           amount,
			Status:           domain.RefundStatusProcessing,
			Reason:           reason,
			InitiatedBy:      strings.TrimSpace(cmd.ActorID),
			InitiatedAt:      now,
		})
		order.Payment.TotalRefunded += amount
		if transactionID != "" {
			order.Payment.TransactionID = transactionID
		}

		next := domain.PaymentStatusPartiallyRefunded
		if order.Payment.TotalRefunded >= order.Pricing.Total {
			next = domain.PaymentStatusRefunded
		}
		if next != order.Payment.Status && domain.CanTransitionPayment(order.Payment.Status, next) {
			order.Payment.Status = next
		}
		order.Status = domain.DeriveOrderStatus(order.Status, order.Payment.Status)

		if order.Payment.Status == domain.PaymentStatusRefunded && hasTask &&
			(task.Status == domain.FulfillmentTaskScheduled || task.Status == domain.FulfillmentTaskExhausted) {
			task.Status = domain.FulfillmentTaskCancelled
			task.UpdatedAt = now
			if err := s.tasks.Save(txCtx, task); err != nil {
				return mapRepositoryError(err)
			}
		}

		order.UpdatedAt = now
		return mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		s.logger(ctx, "payment.refund.record_failed", map[string]any{
			"severity":         "ERROR",
			"orderId":          order.ID,
			"providerRefundId": refund.ProviderRefundID,
			"amount":           amount,
			"error":            err.Error(),
		})
		return Order{}, err
	}
	if duplicate {
		return order, nil
	}

	if prev != order.Payment.Status {
		s.metrics.recordPaymentTransition(ctx, prev, order.Payment.Status, paymentSourceRefund)
	}
	s.logger(ctx, "payment.refunded", map[string]any{
		"orderId":       order.ID,
		"amount":        amount,
		"totalRefunded": order.Payment.TotalRefunded,
		"paymentStatus": string(order.Payment.Status),
		"actor":         cmd.ActorID,
	})
	s.effects.publishEvent(ctx, OrderEvent{
		Type:           orderEventRefunded,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Payment.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"amount":        amount,
			"totalRefunded": order.Payment.TotalRefunded,
		},
	})
	notification := notificationFor(NotificationRefundInitiated, order)
	notification.Amount = amount
	notification.Reason = reason
	s.async.Go(ctx, "order.notify.refund", func(ctx context.Context) error {
		s.effects.notify(ctx, notification)
		return nil
	})
	return order, nil
}

func refundable(status PaymentStatus) bool {
	return status == domain.PaymentStatusCharged || status == domain.PaymentStatusPartiallyRefunded
}

func (s *paymentService) returnURL(requested, orderID string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if s.callbackURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(s.callbackURL, "?") {
		sep = "&"
	}
	return s.callbackURL + sep + "order_id=" + url.QueryEscape(orderID)
}

func gatewayLineItems(items []OrderLineItem) []payments.LineItem {
	out := make([]payments.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, payments.LineItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
		})
	}
	return out
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
