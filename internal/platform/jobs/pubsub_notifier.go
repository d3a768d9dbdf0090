package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orders/internal/services"
)

// NotificationMessage is consumed by the mail and SMS workers.
type NotificationMessage struct {
	Kind           string    `json:"kind"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	UserID         string    `json:"userId,omitempty"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	Carrier        string    `json:"carrier,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PubSubNotifier hands customer notifications to the delivery workers over Pub/Sub.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.Notifier = (*PubSubNotifier)(nil)

// NewPubSubNotifier constructs a notifier publishing to topic.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{topic: topic, marshal: json.Marshal}, nil
}

// Notify publishes the notification. The idempotencyKey attribute lets workers drop
// redelivered messages.
func (n *PubSubNotifier) Notify(ctx context.Context, notification services.Notification) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}
	if strings.TrimSpace(notification.Email) == "" && strings.TrimSpace(notification.UserID) == "" {
		return fmt.Errorf("pubsub notifier: no recipient for order %s", notification.OrderID)
	}

	data, err := n.marshal(NotificationMessage{
		Kind:           string(notification.Kind),
		OrderID:        notification.OrderID,
		OrderNumber:    notification.OrderNumber,
		UserID:         notification.UserID,
		Email:          notification.Email,
		Name:           notification.Name,
		Amount:         notification.Amount,
		Currency:       notification.Currency,
		Reason:         notification.Reason,
		TrackingNumber: notification.TrackingNumber,
		Carrier:        notification.Carrier,
		OccurredAt:     notification.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", string(notification.Kind))
	setAttr(attrs, "orderId", notification.OrderID)
	setAttr(attrs, "idempotencyKey", fmt.Sprintf("%s:%s:%d", notification.Kind, notification.OrderID, notification.OccurredAt.UnixMilli()))

	return publish(ctx, n.topic, data, attrs, "notification")
}
