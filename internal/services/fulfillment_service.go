package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/shipping"
)

const (
	orderEventShipmentCreated = "order.shipment.created"
	orderEventShipmentFailed  = "order.shipment.failed"
	orderEventShipmentUpdated = "order.shipment.updated"

	defaultMaxShipmentRetries = 3
	defaultDispatchTimeout    = 30 * time.Second
	defaultDispatchLease      = 2 * time.Minute
	defaultSweepBatchSize     = 50
	defaultSweepDelay         = 5 * time.Second
	defaultTrackTimeout       = 15 * time.Second
)

var errTaskNotDue = errors.New("fulfillment: task not due")

// DefaultDispatchBackoff spaces automatic shipment retries.
var DefaultDispatchBackoff = gax.Backoff{
	Initial:    time.Minute,
	Max:        30 * time.Minute,
	Multiplier: 2,
}

// FulfillmentServiceDeps bundles collaborators required to construct the fulfillment service.
type FulfillmentServiceDeps struct {
	Orders           repositories.OrderRepository
	FulfillmentTasks repositories.FulfillmentTaskRepository
	UnitOfWork       repositories.UnitOfWork
	Provider         shipping.Provider
	PickupLocation   string
	MaxRetries       int
	DispatchTimeout  time.Duration
	LeaseDuration    time.Duration
	SweepBatchSize   int
	SweepDelay       time.Duration
	Backoff          *gax.Backoff
	Sleep            func(ctx context.Context, d time.Duration) error
	Clock            func() time.Time
	Events           OrderEventPublisher
	Notifier         Notifier
	Async            AsyncRunner
	Metrics          *Metrics
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders          repositories.OrderRepository
	tasks           repositories.FulfillmentTaskRepository
	unitOfWork      repositories.UnitOfWork
	provider        shipping.Provider
	pickupLocation  string
	maxRetries      int
	dispatchTimeout time.Duration
	lease           time.Duration
	batchSize       int
	sweepDelay      time.Duration
	backoff         gax.Backoff
	sleep           func(ctx context.Context, d time.Duration) error
	clock           func() time.Time
	effects         sideEffects
	async           AsyncRunner
	metrics         *Metrics
	logger          Logger
}

var _ FulfillmentService = (*fulfillmentService)(nil)

// NewFulfillmentService wires the shipping provider and repositories into a FulfillmentService.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.FulfillmentTasks == nil {
		return nil, errors.New("fulfillment service: fulfillment task repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("fulfillment service: shipping provider is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	var logger Logger = nopLogger
	if deps.Logger != nil {
		logger = deps.Logger
	}
	async := deps.Async
	if async == nil {
		async = inlineRunner{logger: logger}
	}
	maxRetries := deps.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxShipmentRetries
	}
	timeout := deps.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	lease := deps.LeaseDuration
	if lease <= 0 {
		lease = defaultDispatchLease
	}
	batch := deps.SweepBatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	delay := deps.SweepDelay
	if delay < 0 {
		delay = 0
	} else if delay == 0 {
		delay = defaultSweepDelay
	}
	backoff := DefaultDispatchBackoff
	if deps.Backoff != nil {
		backoff = *deps.Backoff
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &fulfillmentService{
		orders:          deps.Orders,
		tasks:           deps.FulfillmentTasks,
		unitOfWork:      unit,
		provider:        deps.Provider,
		pickupLocation:  strings.TrimSpace(deps.PickupLocation),
		maxRetries:      maxRetries,
		dispatchTimeout: timeout,
		lease:           lease,
		batchSize:       batch,
		sweepDelay:      delay,
		backoff:         backoff,
		sleep:           sleep,
		clock: func() time.Time {
			return clock().UTC()
		},
		effects: sideEffects{events: deps.Events, notifier: deps.Notifier, logger: logger},
		async:   async,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

type dispatchClaim struct {
	order      Order
	attempt    int
	dispatched bool
}

func (s *fulfillmentService) Dispatch(ctx context.Context, orderID string, trigger DispatchTrigger) (DispatchResult, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.dispatch", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("fulfillment.trigger", string(trigger)),
	))
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return DispatchResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	switch trigger {
	case DispatchTriggerPayment, DispatchTriggerSweep, DispatchTriggerManual:
	default:
		return DispatchResult{}, fmt.Errorf("%w: unknown dispatch trigger %q", ErrOrderInvalidInput, trigger)
	}

	claim, err := s.claim(ctx, orderID, trigger)
	if err != nil {
		s.metrics.recordDispatch(ctx, trigger, dispatchOutcome(err))
		if !errors.Is(err, errTaskNotDue) {
			s.logger(ctx, "fulfillment.dispatch.skipped", map[string]any{
				"orderId": orderID,
				"trigger": string(trigger),
				"reason":  err.Error(),
			})
		}
		return DispatchResult{OrderID: orderID}, err
	}
	if claim.dispatched {
		s.metrics.recordDispatch(ctx, trigger, "already_dispatched")
		return DispatchResult{OrderID: orderID, Success: true, Shipment: claim.order.Shipment}, nil
	}

	req := shipping.NewShipmentRequest(claim.order, shipping.RequestOptions{
		PickupLocation: s.pickupLocation,
		Now:            s.now(),
	})
	callCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	created, callErr := s.provider.CreateShipment(callCtx, req)
	cancel()

	order, err := s.settle(ctx, orderID, created, callErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger(ctx, "fulfillment.dispatch.settle_failed", map[string]any{
			"severity": "ERROR",
			"orderId":  orderID,
			"trigger":  string(trigger),
			"created":  callErr == nil,
			"error":    err.Error(),
		})
		return DispatchResult{OrderID: orderID}, err
	}

	result := DispatchResult{OrderID: orderID, Success: callErr == nil, Shipment: order.Shipment}
	fields := map[string]any{
		"orderId":    orderID,
		"trigger":    string(trigger),
		"attempt":    claim.attempt,
		"retryCount": order.Shipment.RetryCount,
	}
	if callErr != nil {
		result.Error = callErr.Error()
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		s.metrics.recordDispatch(ctx, trigger, "failed")
		fields["error"] = callErr.Error()
		if providerErr, ok := shipping.AsProviderError(callErr); ok {
			fields["kind"] = string(providerErr.Kind)
			fields["httpStatus"] = providerErr.HTTPStatus
		}
		s.logger(ctx, "fulfillment.dispatch.failed", fields)
		s.effects.publishEvent(ctx, OrderEvent{
			Type:          orderEventShipmentFailed,
			OrderID:       order.ID,
			OrderNumber:   order.Number,
			CurrentStatus: string(order.Shipment.Status),
			OccurredAt:    s.now(),
			Metadata: map[string]any{
				"trigger":    string(trigger),
				"retryCount": order.Shipment.RetryCount,
				"error":      callErr.Error(),
			},
		})
		return result, nil
	}

	s.metrics.recordDispatch(ctx, trigger, "created")
	fields["shipmentId"] = order.Shipment.ShipmentID
	fields["trackingCode"] = order.Shipment.TrackingCode
	s.logger(ctx, "fulfillment.dispatch.created", fields)
	s.effects.publishEvent(ctx, OrderEvent{
		Type:          orderEventShipmentCreated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		OccurredAt:    s.now(),
		Metadata: map[string]any{
			"trigger":      string(trigger),
			"shipmentId":   order.Shipment.ShipmentID,
			"trackingCode": order.Shipment.TrackingCode,
			"courier":      order.Shipment.CourierName,
		},
	})
	return result, nil
}

// claim takes the dispatch lease on the order's task. Sweep and manual attempts count as
// retries.
func (s *fulfillmentService) claim(ctx context.Context, orderID string, trigger DispatchTrigger) (dispatchClaim, error) {
	now := s.now()
	var (
		claim   dispatchClaim
		outcome error
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		claim = dispatchClaim{}
		outcome = nil

		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		task, hasTask, err := loadTask(txCtx, s.tasks, orderID)
		if err != nil {
			return err
		}
		if !hasTask {
			task = domain.FulfillmentTask{
				OrderID:       order.ID,
				OrderNumber:   order.Number,
				Status:        domain.FulfillmentTaskScheduled,
				NextAttemptAt: now,
				CreatedAt:     now,
			}
		}

		if reason := ineligibleForShipment(order); reason != "" {
			outcome = fmt.Errorf("%w: %s", ErrFulfillmentNotEligible, reason)
			if hasTask && (task.Status == domain.FulfillmentTaskScheduled || task.Status == domain.FulfillmentTaskInFlight) {
				task.Status = domain.FulfillmentTaskCancelled
				task.LeaseUntil = nil
				task.LastError = reason
				task.UpdatedAt = now
				return mapRepositoryError(s.tasks.Save(txCtx, task))
			}
			return nil
		}

		if !order.Shipment.Status.Dispatchable() {
			claim = dispatchClaim{order: order, dispatched: true}
			if task.Status != domain.FulfillmentTaskDone {
				task.Status = domain.FulfillmentTaskDone
				task.LeaseUntil = nil
				task.UpdatedAt = now
				return mapRepositoryError(s.tasks.Save(txCtx, task))
			}
			return nil
		}

		if task.Status == domain.FulfillmentTaskInFlight && task.LeaseUntil != nil && task.LeaseUntil.After(now) {
			return ErrFulfillmentInProgress
		}

		switch trigger {
		case DispatchTriggerSweep:
			if !task.Due(now) {
				outcome = errTaskNotDue
				return nil
			}
			if order.Shipment.RetryCount >= s.maxRetries {
				outcome = ErrFulfillmentExhausted
				task.Status = domain.FulfillmentTaskExhausted
				task.LeaseUntil = nil
				task.UpdatedAt = now
				return mapRepositoryError(s.tasks.Save(txCtx, task))
			}
		case DispatchTriggerPayment:
			if task.Status == domain.FulfillmentTaskExhausted || task.Status == domain.FulfillmentTaskCancelled {
				outcome = ErrFulfillmentExhausted
				return nil
			}
		}

		if trigger != DispatchTriggerPayment {
			order.Shipment.RetryCount++
		}
		order.Shipment.LastAttemptAt = timePtr(now)
		order.UpdatedAt = now

		lease := now.Add(s.lease)
		task.Status = domain.FulfillmentTaskInFlight
		task.Attempt++
		task.LeaseUntil = &lease
		task.UpdatedAt = now

		if err := s.tasks.Save(txCtx, task); err != nil {
			return mapRepositoryError(err)
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		claim = dispatchClaim{order: order, attempt: task.Attempt}
		return nil
	})
	if err != nil {
		return dispatchClaim{}, err
	}
	if outcome != nil {
		return dispatchClaim{}, outcome
	}
	return claim, nil
}

// settle records the provider outcome and releases the lease. A failed attempt is
// rescheduled with backoff until the retry ceiling is reached.
func (s *fulfillmentService) settle(ctx context.Context, orderID string, created shipping.ShipmentResult, callErr error) (Order, error) {
	now := s.now()
	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		order = current
		task, hasTask, err := loadTask(txCtx, s.tasks, orderID)
		if err != nil {
			return err
		}
		if !hasTask {
			task = domain.FulfillmentTask{OrderID: order.ID, OrderNumber: order.Number, CreatedAt: now}
		}
		task.LeaseUntil = nil
		task.UpdatedAt = now

		if callErr == nil {
			shipment := &order.Shipment
			// A tracking push may land before the create call returns.
			if domain.CanApplyShipmentPush(shipment.Status, domain.ShipmentStatusCreated) {
				shipment.Status = domain.ShipmentStatusCreated
			}
			shipment.ProviderOrderID = created.ProviderOrderID
			shipment.ShipmentID = created.ShipmentID
			shipment.TrackingCode = created.TrackingCode
			shipment.CourierName = created.CourierName
			shipment.CourierID = created.CourierID
			shipment.LabelURL = created.LabelURL
			shipment.LastError = nil
			if created.TrackingCode != "" {
				order.TrackingNumber = created.TrackingCode
			}
			if created.CourierName != "" {
				order.Carrier = created.CourierName
			}
			if domain.CanTransitionOrder(order.Status, domain.OrderStatusProcessing) {
				order.Status = domain.OrderStatusProcessing
			}
			task.Status = domain.FulfillmentTaskDone
			task.LastError = ""
		} else if order.Shipment.Status.Dispatchable() {
			lastErr := &domain.ShipmentError{Message: callErr.Error(), OccurredAt: now}
			if providerErr, ok := shipping.AsProviderError(callErr); ok {
				lastErr.HTTPStatus = providerErr.HTTPStatus
				lastErr.Code = providerErr.Code
				if lastErr.Code == "" {
					lastErr.Code = string(providerErr.Kind)
				}
			}
			order.Shipment.Status = domain.ShipmentStatusFailed
			order.Shipment.LastError = lastErr
			task.LastError = callErr.Error()
			if order.Shipment.RetryCount >= s.maxRetries {
				task.Status = domain.FulfillmentTaskExhausted
			} else {
				task.Status = domain.FulfillmentTaskScheduled
				task.NextAttemptAt = now.Add(s.retryDelay(order.Shipment.RetryCount))
			}
		} else {
			task.Status = domain.FulfillmentTaskDone
		}

		order.UpdatedAt = now
		if err := s.tasks.Save(txCtx, task); err != nil {
			return mapRepositoryError(err)
		}
		return mapRepositoryError(s.orders.Update(txCtx, order))
	})
	return order, err
}

// retryDelay returns the backoff pause for the given retry count.
func (s *fulfillmentService) retryDelay(retries int) time.Duration {
	bo := s.backoff
	var delay time.Duration
	for i := 0; i <= retries; i++ {
		delay = bo.Pause()
	}
	return delay
}

func ineligibleForShipment(order Order) string {
	switch {
	case order.Status == domain.OrderStatusCancelled:
		return "order cancelled"
	case order.Status == domain.OrderStatusRefunded:
		return "order refunded"
	case order.Payment.Status != domain.PaymentStatusCharged && order.Payment.Status != domain.PaymentStatusPartiallyRefunded:
		return fmt.Sprintf("payment is %s", order.Payment.Status)
	}
	return ""
}

func dispatchOutcome(err error) string {
	switch {
	case errors.Is(err, errTaskNotDue):
		return "not_due"
	case errors.Is(err, ErrFulfillmentNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrFulfillmentInProgress):
		return "in_progress"
	case errors.Is(err, ErrFulfillmentExhausted):
		return "exhausted"
	}
	return "error"
}

func (s *fulfillmentService) ManualRetry(ctx context.Context, cmd ManualRetryCommand) (DispatchResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return DispatchResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return DispatchResult{}, mapRepositoryError(err)
	}
	if reason := ineligibleForShipment(order); reason != "" {
		return DispatchResult{}, fmt.Errorf("%w: %s", ErrFulfillmentNotEligible, reason)
	}
	if !order.Shipment.Status.Dispatchable() {
		return DispatchResult{}, fmt.Errorf("%w: shipment already %s", ErrFulfillmentNotEligible, order.Shipment.Status)
	}

	s.logger(ctx, "fulfillment.manual_retry", map[string]any{
		"orderId":    orderID,
		"actor":      cmd.ActorID,
		"retryCount": order.Shipment.RetryCount,
	})
	return s.Dispatch(ctx, orderID, DispatchTriggerManual)
}

func (s *fulfillmentService) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.sweep")
	defer span.End()

	due, err := s.tasks.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		err = mapRepositoryError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return SweepReport{}, err
	}

	var report SweepReport
	for i, task := range due {
		if i > 0 {
			if err := s.sleep(ctx, s.sweepDelay); err != nil {
				return report, err
			}
		}
		report.Processed++
		result, err := s.Dispatch(ctx, task.OrderID, DispatchTriggerSweep)
		switch {
		case err == nil && result.Success:
			report.Succeeded++
		case err == nil:
			report.Failed++
		case errors.Is(err, errTaskNotDue), errors.Is(err, ErrFulfillmentNotEligible),
			errors.Is(err, ErrFulfillmentInProgress), errors.Is(err, ErrFulfillmentExhausted):
			report.Skipped++
		default:
			report.Failed++
			s.logger(ctx, "fulfillment.sweep.order_failed", map[string]any{
				"orderId": task.OrderID,
				"error":   err.Error(),
			})
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.processed", report.Processed),
		attribute.Int("sweep.succeeded", report.Succeeded),
		attribute.Int("sweep.failed", report.Failed),
	)
	if report.Processed > 0 {
		s.logger(ctx, "fulfillment.sweep.completed", map[string]any{
			"processed": report.Processed,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		})
	}
	return report, nil
}

func (s *fulfillmentService) HandleWebhook(ctx context.Context, hook ShipmentWebhook) (Order, error) {
	ref := repositories.ShipmentRef{
		OrderNumber:  strings.TrimSpace(hook.OrderNumber),
		ShipmentID:   strings.TrimSpace(hook.ShipmentID),
		TrackingCode: strings.TrimSpace(hook.TrackingCode),
	}
	if ref.OrderNumber == "" && ref.ShipmentID == "" && ref.TrackingCode == "" {
		return Order{}, fmt.Errorf("%w: shipment reference is required", ErrOrderInvalidInput)
	}
	raw := strings.TrimSpace(hook.Status)
	if raw == "" {
		return Order{}, fmt.Errorf("%w: status is required", ErrOrderInvalidInput)
	}
	mapping := shipping.MapProviderStatus(raw)
	now := s.now()

	var (
		order        Order
		prevShipment ShipmentStatus
		prevOrder    OrderStatus
		applied      bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		applied = false
		current, err := s.orders.FindByShipmentRef(txCtx, ref)
		if err != nil {
			return mapRepositoryError(err)
		}
		order = current
		prevShipment = order.Shipment.Status
		prevOrder = order.Status

		order.Shipment.Events = append(order.Shipment.Events, domain.ShipmentEvent{
			Event:      raw,
			Status:     mapping.Status,
			Payload:    hook.Payload,
			ReceivedAt: now,
		})

		if mapping.Known && domain.CanApplyShipmentPush(order.Shipment.Status, mapping.Status) {
			order.Shipment.Status = mapping.Status
			applied = true
			if mapping.IsReturn {
				order.Shipment.IsReturn = true
				order.Shipment.ReturnReason = firstNonEmpty(hook.Reason, raw)
			}
			if order.Shipment.TrackingCode == "" && ref.TrackingCode != "" {
				order.Shipment.TrackingCode = ref.TrackingCode
				if order.TrackingNumber == "" {
					order.TrackingNumber = ref.TrackingCode
				}
			}
			if courier := strings.TrimSpace(hook.CourierName); courier != "" && order.Shipment.CourierName == "" {
				order.Shipment.CourierName = courier
				if order.Carrier == "" {
					order.Carrier = courier
				}
			}

			switch mapping.Status {
			case domain.ShipmentStatusShipped:
				if domain.CanTransitionOrder(order.Status, domain.OrderStatusShipped) {
					order.Status = domain.OrderStatusShipped
				}
				if order.ShippedAt == nil {
					order.ShippedAt = timePtr(now)
				}
			case domain.ShipmentStatusDelivered:
				if domain.CanTransitionOrder(order.Status, domain.OrderStatusDelivered) {
					order.Status = domain.OrderStatusDelivered
				}
				if order.DeliveredAt == nil {
					order.DeliveredAt = timePtr(now)
				}
			}
		}

		order.UpdatedAt = now
		return mapRepositoryError(s.orders.Update(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}

	fields := map[string]any{
		"orderId":   order.ID,
		"rawStatus": raw,
		"from":      string(prevShipment),
		"to":        string(order.Shipment.Status),
		"applied":   applied,
	}
	if !mapping.Known {
		s.logger(ctx, "fulfillment.webhook.unknown_status", fields)
		return order, nil
	}
	s.logger(ctx, "fulfillment.webhook.applied", fields)

	if prevShipment != order.Shipment.Status {
		s.effects.publishEvent(ctx, OrderEvent{
			Type:           orderEventShipmentUpdated,
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			PreviousStatus: string(prevShipment),
			CurrentStatus:  string(order.Shipment.Status),
			OccurredAt:     now,
			Metadata: map[string]any{
				"rawStatus":   raw,
				"orderStatus": string(order.Status),
				"isReturn":    order.Shipment.IsReturn,
			},
		})
	}
	if prevOrder != order.Status {
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

func (s *fulfillmentService) Track(ctx context.Context, orderID string) (shipping.TrackingResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return shipping.TrackingResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return shipping.TrackingResult{}, mapRepositoryError(err)
	}
	code := firstNonEmpty(order.Shipment.TrackingCode, order.TrackingNumber)
	if code == "" {
		return shipping.TrackingResult{}, ErrFulfillmentNoShipment
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultTrackTimeout)
	defer cancel()
	result, err := s.provider.TrackShipment(callCtx, code)
	if err != nil {
		return shipping.TrackingResult{}, fmt.Errorf("%w: %w", ErrFulfillmentProvider, err)
	}
	return result, nil
}

func (s *fulfillmentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *fulfillmentService) now() time.Time {
	return s.clock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
