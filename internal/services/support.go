package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hanko-field/orders/internal/repositories"
)

// Logger is the structured logging hook every service accepts. cmd/api adapts it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderConflict) || errors.Is(err, ErrOrderUnavailable) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrOrderUnavailable, err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// sideEffects delivers events and notifications after a transaction committed. Failures are
// logged and swallowed.
type sideEffects struct {
	events   OrderEventPublisher
	notifier Notifier
	logger   Logger
}

func (s sideEffects) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s sideEffects) notify(ctx context.Context, notification Notification) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.Notify(ctx, notification); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"kind":  string(notification.Kind),
			"order": notification.OrderID,
			"error": err.Error(),
		})
		return false
	}
	return true
}

func notificationFor(kind NotificationKind, order Order) Notification {
	return Notification{
		Kind:           kind,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		UserID:         order.UserID,
		Email:          order.Customer.Email,
		Name:           order.Customer.Name,
		Amount:         order.Pricing.Total,
		Currency:       order.Pricing.Currency,
		TrackingNumber: order.TrackingNumber,
		Carrier:        order.Carrier,
		OccurredAt:     order.UpdatedAt,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
