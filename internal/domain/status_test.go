package domain

import "testing"

func TestDeriveOrderStatus(t *testing.T) {
	cases := []struct {
		name    string
		current OrderStatus
		payment PaymentStatus
		want    OrderStatus
	}{
		{"charged while pending", OrderStatusPendingPayment, PaymentStatusCharged, OrderStatusSuccess},
		{"charged while initiated", OrderStatusPaymentInitiated, PaymentStatusCharged, OrderStatusSuccess},
		{"charged after processing keeps status", OrderStatusProcessing, PaymentStatusCharged, OrderStatusProcessing},
		{"initiated from pending", OrderStatusPendingPayment, PaymentStatusInitiated, OrderStatusPaymentInitiated},
		{"failure reverts initiated", OrderStatusPaymentInitiated, PaymentStatusAuthorizationFailed, OrderStatusPendingPayment},
		{"failure keeps pending", OrderStatusPendingPayment, PaymentStatusFailed, OrderStatusPendingPayment},
		{"processing keeps initiated", OrderStatusPaymentInitiated, PaymentStatusProcessing, OrderStatusPaymentInitiated},
		{"full refund", OrderStatusShipped, PaymentStatusRefunded, OrderStatusRefunded},
		{"full refund after delivery", OrderStatusDelivered, PaymentStatusRefunded, OrderStatusRefunded},
		{"partial refund keeps status", OrderStatusSuccess, PaymentStatusPartiallyRefunded, OrderStatusSuccess},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveOrderStatus(tc.current, tc.payment); got != tc.want {
				t.Fatalf("DeriveOrderStatus(%s, %s) = %s, want %s", tc.current, tc.payment, got, tc.want)
			}
		})
	}
}

func TestDeriveOrderStatusNeverLeavesChargedAwaitingPayment(t *testing.T) {
	statuses := []OrderStatus{
		OrderStatusPendingPayment, OrderStatusPaymentInitiated, OrderStatusSuccess,
		OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered,
	}
	for _, status := range statuses {
		got := DeriveOrderStatus(status, PaymentStatusCharged)
		if got == OrderStatusPendingPayment || got == OrderStatusPaymentInitiated {
			t.Fatalf("charged payment left order %s in %s", status, got)
		}
	}
}

func TestCanTransitionPayment(t *testing.T) {
	if !CanTransitionPayment(PaymentStatusPending, PaymentStatusInitiated) {
		t.Fatalf("pending -> initiated should be allowed")
	}
	if !CanTransitionPayment(PaymentStatusFailed, PaymentStatusInitiated) {
		t.Fatalf("failed -> initiated should allow a new attempt")
	}
	if !CanTransitionPayment(PaymentStatusPendingVBV, PaymentStatusCharged) {
		t.Fatalf("pending_vbv -> charged should be allowed")
	}
	if CanTransitionPayment(PaymentStatusCharged, PaymentStatusFailed) {
		t.Fatalf("charged -> failed must be rejected")
	}
	if CanTransitionPayment(PaymentStatusCharged, PaymentStatusCharged) {
		t.Fatalf("same status moves are not transitions")
	}
	if CanTransitionPayment(PaymentStatusRefunded, PaymentStatusCharged) {
		t.Fatalf("refunded is final")
	}
}

func TestCanTransitionOrder(t *testing.T) {
	if CanTransitionOrder(OrderStatusCancelled, OrderStatusSuccess) {
		t.Fatalf("cancelled is terminal")
	}
	if !CanTransitionOrder(OrderStatusSuccess, OrderStatusProcessing) {
		t.Fatalf("order_success -> processing should be allowed")
	}
	if CanTransitionOrder(OrderStatusDelivered, OrderStatusShipped) {
		t.Fatalf("delivered must not move back to shipped")
	}
	if !CanTransitionOrder(OrderStatusDelivered, OrderStatusRefunded) {
		t.Fatalf("delivered orders can still be refunded")
	}
}

func TestCanApplyShipmentPush(t *testing.T) {
	cases := []struct {
		current ShipmentStatus
		next    ShipmentStatus
		want    bool
	}{
		{ShipmentStatusCreated, ShipmentStatusPickup, true},
		{ShipmentStatusShipped, ShipmentStatusShipped, true},
		{ShipmentStatusShipped, ShipmentStatusPickup, false},
		{ShipmentStatusDelivered, ShipmentStatusCancelled, false},
		{ShipmentStatusShipped, ShipmentStatusCancelled, true},
		{ShipmentStatusFailed, ShipmentStatusCreated, true},
	}
	for _, tc := range cases {
		if got := CanApplyShipmentPush(tc.current, tc.next); got != tc.want {
			t.Fatalf("CanApplyShipmentPush(%s, %s) = %v, want %v", tc.current, tc.next, got, tc.want)
		}
	}
}
