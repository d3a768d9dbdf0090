package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
)

type stubEventParser struct {
	event payments.GatewayEvent
	err   error
}

func (p stubEventParser) Parse([]byte, string) (payments.GatewayEvent, error) {
	return p.event, p.err
}

type paymentFixture struct {
	store      *memoryStore
	svc        PaymentService
	gateway    *stubGateway
	dispatcher *recordingDispatcher
	notifier   *recordingNotifier
	events     *recordingEvents
	logs       *[]string
}

func newPaymentFixture(t *testing.T, mutate ...func(*PaymentServiceDeps)) paymentFixture {
	t.Helper()
	store := newMemoryStore()
	store.putProduct(domain.Product{ID: "prod_tee", Name: "Tee", Price: 1500, Stock: 10, IsActive: true})

	var logs []string
	logger := func(_ context.Context, event string, _ map[string]any) {
		logs = append(logs, event)
	}
	ledger, err := NewInventoryLedger(memoryProducts{store}, func() time.Time { return testNow }, logger, nil)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	gateway := &stubGateway{}
	dispatcher := &recordingDispatcher{}
	notifier := &recordingNotifier{}
	events := &recordingEvents{}
	deps := PaymentServiceDeps{
		Orders:           memoryOrders{store},
		FulfillmentTasks: memoryTasks{store},
		Inventory:        ledger,
		UnitOfWork:       store,
		Gateway:          gateway,
		Fulfillment:      dispatcher,
		CallbackURL:      "https://shop.example/payment/callback",
		Clock:            func() time.Time { return testNow },
		Events:           events,
		Notifier:         notifier,
		Logger:           logger,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return paymentFixture{store: store, svc: svc, gateway: gateway, dispatcher: dispatcher, notifier: notifier, events: events, logs: &logs}
}

func initiatedOrder(o *domain.Order) {
	o.Status = domain.OrderStatusPaymentInitiated
	o.Payment.Status = domain.PaymentStatusInitiated
	o.Payment.SessionID = "cs_test_1"
	o.Payment.AttemptCount = 1
}

func chargedOrder(o *domain.Order) {
	o.Status = domain.OrderStatusSuccess
	o.Payment.Status = domain.PaymentStatusCharged
	o.Payment.SessionID = "cs_test_1"
	o.Payment.TransactionID = "pi_1"
	o.InventoryUpdated = true
}

func TestPaymentServiceInitiate(t *testing.T) {
	fx := newPaymentFixture(t)
	order := seedOrder(fx.store, nil)

	session, err := fx.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: order.ID, ActorID: "user_1", ActorRole: ActorRoleUser})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if session.SessionID != "cs_test_1" || session.PaymentURL == "" || session.Amount != 3500 || session.Currency != "INR" {
		t.Fatalf("unexpected session %+v", session)
	}

	if len(fx.gateway.sessions) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(fx.gateway.sessions))
	}
	req := fx.gateway.sessions[0]
	if req.IdempotencyKey != "session_"+order.Number+"_1" {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	if req.ReturnURL != "https://shop.example/payment/callback?order_id=ord_seed" {
		t.Fatalf("unexpected return url %q", req.ReturnURL)
	}
	if req.Metadata["orderNumber"] != order.Number || len(req.Items) != 1 {
		t.Fatalf("unexpected request %+v", req)
	}

	stored := fx.store.order(order.ID)
	if stored.Status != domain.OrderStatusPaymentInitiated || stored.Payment.Status != domain.PaymentStatusInitiated {
		t.Fatalf("unexpected status %s/%s", stored.Status, stored.Payment.Status)
	}
	if stored.Payment.AttemptCount != 1 || stored.Payment.SessionID != "cs_test_1" || stored.Payment.Provider != payments.ProviderStripe {
		t.Fatalf("unexpected payment state %+v", stored.Payment)
	}

	if _, err := fx.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: order.ID, ActorID: "user_1", ActorRole: ActorRoleUser}); err != nil {
		t.Fatalf("second attempt should be allowed: %v", err)
	}
	if key := fx.gateway.sessions[1].IdempotencyKey; key != "session_"+order.Number+"_2" {
		t.Fatalf("expected second attempt key, got %q", key)
	}
}

func TestPaymentServiceRetryAfterFailedAttemptReconcilesNewSession(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, func(o *domain.Order) {
		o.Status = domain.OrderStatusPendingPayment
		o.Payment.Status = domain.PaymentStatusFailed
		o.Payment.SessionID = "cs_attempt_1"
		o.Payment.TransactionID = "pi_attempt_1"
		o.Payment.AttemptCount = 1
	})
	fx.gateway.createFn = func(payments.SessionRequest) (payments.Session, error) {
		return payments.Session{ID: "cs_attempt_2", Provider: payments.ProviderStripe, PaymentURL: "https://pay.example/cs_attempt_2"}, nil
	}
	fx.gateway.statusFn = func(req payments.StatusRequest) (payments.StatusResult, error) {
		if req.TransactionID == "pi_attempt_1" {
			return payments.StatusResult{VendorStatus: "requires_payment_method", TransactionID: "pi_attempt_1"}, nil
		}
		if req.SessionID == "cs_attempt_2" {
			return payments.StatusResult{VendorStatus: "succeeded", TransactionID: "pi_attempt_2", Amount: 3500}, nil
		}
		return payments.StatusResult{}, fmt.Errorf("unexpected status query %+v", req)
	}

	if _, err := fx.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", ActorID: "user_1", ActorRole: ActorRoleUser}); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	stored := fx.store.order("ord_seed")
	if stored.Payment.SessionID != "cs_attempt_2" || stored.Payment.TransactionID != "" {
		t.Fatalf("new session must replace the previous intent, got session=%q txn=%q", stored.Payment.SessionID, stored.Payment.TransactionID)
	}

	result, err := fx.svc.CheckStatus(context.Background(), CheckPaymentStatusCommand{OrderID: "ord_seed", ActorID: "user_1", ActorRole: ActorRoleUser})
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if result.PaymentStatus != domain.PaymentStatusCharged || result.Order.Payment.TransactionID != "pi_attempt_2" {
		t.Fatalf("expected paid second attempt to be charged, got %s txn=%q", result.PaymentStatus, result.Order.Payment.TransactionID)
	}
	if got := fx.gateway.statusQueries[0]; got.SessionID != "cs_attempt_2" || got.TransactionID != "" {
		t.Fatalf("status poll used stale identifiers %+v", got)
	}
}

func TestPaymentServiceInitiateRejections(t *testing.T) {
	t.Run("other customer", func(t *testing.T) {
		fx := newPaymentFixture(t)
		seedOrder(fx.store, nil)
		_, err := fx.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", ActorID: "user_2", ActorRole: ActorRoleUser})
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("already charged", func(t *testing.T) {
		fx := newPaymentFixture(t)
		seedOrder(fx.store, chargedOrder)
		_, err := fx.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", ActorID: "user_1"})
		if !errors.Is(err, ErrPaymentAlreadyCharged) {
			t.Fatalf("expected already charged, got %v", err)
		}
		if len(fx.gateway.sessions) != 0 {
			t.Fatal("gateway must not be called")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		fx := newPaymentFixture(t)
		seedOrder(fx.store, func(o *domain.Order) { o.Status = domain.OrderStatusCancelled })
		_, err := fx.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", ActorID: "user_1"})
		if !errors.Is(err, ErrPaymentNotAllowed) {
			t.Fatalf("expected not allowed, got %v", err)
		}
	})

	t.Run("gateway failure", func(t *testing.T) {
		fx := newPaymentFixture(t)
		fx.gateway.createFn = func(payments.SessionRequest) (payments.Session, error) {
			return payments.Session{}, errBoom
		}
		seedOrder(fx.store, nil)
		_, err := fx.svc.Initiate(context.Background(), InitiatePaymentCommand{OrderID: "ord_seed", ActorID: "user_1"})
		if !errors.Is(err, ErrPaymentGateway) || !errors.Is(err, errBoom) {
			t.Fatalf("expected wrapped gateway error, got %v", err)
		}
		if got := fx.store.order("ord_seed").Payment.Status; got != domain.PaymentStatusPending {
			t.Fatalf("payment must stay pending, got %s", got)
		}
	})
}

func TestPaymentServiceReconcileChargeIsIdempotent(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, initiatedOrder)

	cmd := ReconcileCommand{OrderID: "ord_seed", VendorStatus: "CHARGED", TransactionID: "pi_1", Method: domain.PaymentMethodCard, Amount: 3500}
	first, err := fx.svc.Reconcile(context.Background(), cmd)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !first.Changed || first.PaymentStatus != domain.PaymentStatusCharged || first.Order.Status != domain.OrderStatusSuccess {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := fx.svc.Reconcile(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Changed {
		t.Fatal("replayed charge must be a no-op")
	}

	stored := fx.store.order("ord_seed")
	if !stored.InventoryUpdated || stored.InventoryUpdatedAt == nil || stored.Payment.ChargedAt == nil {
		t.Fatalf("expected inventory and charge timestamps, got %+v", stored)
	}
	if stored.Payment.TransactionID != "pi_1" || stored.Payment.Method != domain.PaymentMethodCard {
		t.Fatalf("unexpected payment %+v", stored.Payment)
	}
	if stored.ConfirmationSentAt == nil {
		t.Fatal("expected confirmation stamp")
	}
	if p := fx.store.product("prod_tee"); p.Stock != 8 || p.SoldCount != 2 {
		t.Fatalf("expected stock committed once, got %+v", p)
	}
	if task, ok := fx.store.task("ord_seed"); !ok || task.Status != domain.FulfillmentTaskScheduled {
		t.Fatalf("expected scheduled fulfillment task, got %+v", task)
	}
	if calls := fx.dispatcher.calls(); len(calls) != 1 || calls[0] != "ord_seed:payment" {
		t.Fatalf("expected single payment dispatch, got %v", calls)
	}
	if kinds := fx.notifier.kinds(); len(kinds) != 1 || kinds[0] != NotificationOrderConfirmed {
		t.Fatalf("expected one confirmation, got %v", kinds)
	}
}

func TestPaymentServiceReconcileFailureAndStaleUpdates(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, initiatedOrder)

	failed, err := fx.svc.Reconcile(context.Background(), ReconcileCommand{
		OrderNumber:  "ORD-20260310-12345ABC",
		VendorStatus: "AUTHORIZATION_FAILED",
		ErrorCode:    "card_declined",
		ErrorMessage: "Your card was declined.",
	})
	if err != nil {
		t.Fatalf("reconcile failure: %v", err)
	}
	if failed.Order.Status != domain.OrderStatusPendingPayment || failed.Order.Payment.ErrorCode != "card_declined" {
		t.Fatalf("unexpected order after failure %+v", failed.Order)
	}

	if _, err := fx.svc.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_seed", VendorStatus: "CHARGED"}); err != nil {
		t.Fatalf("late success: %v", err)
	}

	stale, err := fx.svc.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_seed", VendorStatus: "FAILED"})
	if err != nil {
		t.Fatalf("stale failure should not error: %v", err)
	}
	if !stale.Ignored || stale.Changed || stale.PaymentStatus != domain.PaymentStatusCharged {
		t.Fatalf("expected ignored stale update, got %+v", stale)
	}
	if got := fx.store.order("ord_seed").Payment.ErrorCode; got != "" {
		t.Fatalf("charge should clear error code, got %q", got)
	}
}

func TestPaymentServiceReconcileRejectsInvalidTransition(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, func(o *domain.Order) {
		chargedOrder(o)
		o.Payment.Status = domain.PaymentStatusPartiallyRefunded
		o.Payment.TotalRefunded = 500
	})
	_, err := fx.svc.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_seed", VendorStatus: "CHARGED"})
	if !errors.Is(err, ErrPaymentInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestPaymentServiceChargeWithDeletedProduct(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, initiatedOrder)
	fx.store.deleteProduct("prod_tee")

	result, err := fx.svc.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_seed", VendorStatus: "CHARGED"})
	if err != nil {
		t.Fatalf("charge must succeed despite missing product: %v", err)
	}
	if !result.Order.InventoryUpdated || len(result.Order.InventoryWarnings) != 1 {
		t.Fatalf("expected flagged inventory warning, got %+v", result.Order)
	}
	found := false
	for _, event := range *fx.logs {
		if event == "inventory.integrity_warning" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected integrity warning log, got %v", *fx.logs)
	}
}

func TestPaymentServiceChargeAfterCancel(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, func(o *domain.Order) {
		initiatedOrder(o)
		o.Status = domain.OrderStatusCancelled
	})

	result, err := fx.svc.Reconcile(context.Background(), ReconcileCommand{OrderID: "ord_seed", VendorStatus: "CHARGED"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Order.Status != domain.OrderStatusCancelled || result.PaymentStatus != domain.PaymentStatusCharged {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Order.InventoryUpdated {
		t.Fatal("cancelled order must not commit inventory")
	}
	if len(fx.dispatcher.calls()) != 0 {
		t.Fatal("cancelled order must not be dispatched")
	}
	if _, ok := fx.store.task("ord_seed"); ok {
		t.Fatal("cancelled order must not get a fulfillment task")
	}
}

func TestPaymentServiceCheckStatusPollsGateway(t *testing.T) {
	fx := newPaymentFixture(t)
	fx.gateway.statusFn = func(req payments.StatusRequest) (payments.StatusResult, error) {
		if req.SessionID != "cs_test_1" {
			return payments.StatusResult{}, fmt.Errorf("unexpected session %q", req.SessionID)
		}
		return payments.StatusResult{VendorStatus: "succeeded", TransactionID: "pi_9", Method: domain.PaymentMethodUPI, Amount: 3500}, nil
	}
	seedOrder(fx.store, initiatedOrder)

	result, err := fx.svc.CheckStatus(context.Background(), CheckPaymentStatusCommand{OrderID: "ord_seed", ActorID: "user_1", ActorRole: ActorRoleUser})
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if result.PaymentStatus != domain.PaymentStatusCharged || result.Order.Payment.TransactionID != "pi_9" {
		t.Fatalf("unexpected result %+v", result)
	}

	again, err := fx.svc.CheckStatus(context.Background(), CheckPaymentStatusCommand{OrderID: "ord_seed", ActorRole: ActorRoleStaff})
	if err != nil || again.PaymentStatus != domain.PaymentStatusCharged {
		t.Fatalf("expected stored state, got %+v %v", again, err)
	}
	if len(fx.gateway.statusQueries) != 1 {
		t.Fatalf("charged orders must not poll again, got %d", len(fx.gateway.statusQueries))
	}
}

func TestPaymentServiceCheckStatusWithoutSession(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, nil)
	_, err := fx.svc.CheckStatus(context.Background(), CheckPaymentStatusCommand{OrderID: "ord_seed", ActorID: "user_1"})
	if !errors.Is(err, ErrPaymentNotInitiated) {
		t.Fatalf("expected not initiated, got %v", err)
	}
}

func TestPaymentServiceHandleGatewayEvent(t *testing.T) {
	cases := []struct {
		name    string
		parser  stubEventParser
		wantErr error
		ignored bool
		changed bool
	}{
		{name: "bad signature", parser: stubEventParser{err: payments.ErrInvalidSignature}, wantErr: ErrPaymentSignature},
		{name: "unsupported", parser: stubEventParser{err: fmt.Errorf("%w: customer.created", payments.ErrUnsupportedEvent)}, ignored: true},
		{name: "malformed", parser: stubEventParser{err: errors.New("bad json")}, wantErr: ErrOrderInvalidInput},
		{
			name:    "charged",
			parser:  stubEventParser{event: payments.GatewayEvent{ID: "evt_1", Type: "checkout.session.completed", OrderID: "ord_seed", VendorStatus: "paid", TransactionID: "pi_1"}},
			changed: true,
		},
		{
			name:    "backwards transition acknowledged",
			parser:  stubEventParser{event: payments.GatewayEvent{ID: "evt_2", OrderID: "ord_seed", VendorStatus: "REFUNDED"}},
			ignored: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newPaymentFixture(t, func(deps *PaymentServiceDeps) { deps.Webhooks = tc.parser })
			seedOrder(fx.store, initiatedOrder)

			result, err := fx.svc.HandleGatewayEvent(context.Background(), []byte(`{}`), "sig")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Ignored != tc.ignored || result.Changed != tc.changed {
				t.Fatalf("unexpected result %+v", result)
			}
		})
	}
}

func TestPaymentServiceRefund(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, chargedOrder)
	fx.store.putTask(domain.FulfillmentTask{OrderID: "ord_seed", Status: domain.FulfillmentTaskExhausted})

	partial := int64(1000)
	order, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed", Amount: &partial, Reason: "damaged", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusPartiallyRefunded || order.Payment.TotalRefunded != 1000 || order.Status != domain.OrderStatusSuccess {
		t.Fatalf("unexpected order after partial refund %+v", order.Payment)
	}
	if key := fx.gateway.refunds[0].IdempotencyKey; key != "refund_ORD-20260310-12345ABC_1" {
		t.Fatalf("unexpected refund key %q", key)
	}

	tooMuch := int64(2600)
	if _, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed", Amount: &tooMuch}); !errors.Is(err, ErrRefundExceedsBalance) {
		t.Fatalf("expected balance error, got %v", err)
	}
	zero := int64(0)
	if _, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed", Amount: &zero}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for zero amount, got %v", err)
	}

	order, err = fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusRefunded || order.Status != domain.OrderStatusRefunded || order.Payment.TotalRefunded != 3500 {
		t.Fatalf("unexpected order after full refund %+v", order)
	}
	if len(order.Payment.Refunds) != 2 || order.Payment.Refunds[1].Amount != 2500 {
		t.Fatalf("unexpected refunds %+v", order.Payment.Refunds)
	}
	if task, _ := fx.store.task("ord_seed"); task.Status != domain.FulfillmentTaskCancelled {
		t.Fatalf("expected task cancelled after full refund, got %s", task.Status)
	}
	if kinds := fx.notifier.kinds(); len(kinds) != 2 || kinds[1] != NotificationRefundInitiated {
		t.Fatalf("expected refund notifications, got %v", kinds)
	}

	if _, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed"}); !errors.Is(err, ErrRefundNotAllowed) {
		t.Fatalf("expected not allowed after full refund, got %v", err)
	}
}

func TestPaymentServiceRefundWaitsForWebhookToComplete(t *testing.T) {
	fx := newPaymentFixture(t, func(deps *PaymentServiceDeps) {
		deps.Webhooks = stubEventParser{event: payments.GatewayEvent{ID: "evt_refund", Type: "charge.refunded", OrderID: "ord_seed", VendorStatus: "refunded"}}
	})
	fx.gateway.refundFn = func(payments.RefundRequest) (payments.RefundResult, error) {
		return payments.RefundResult{ProviderRefundID: "re_done", Status: domain.RefundStatusCompleted}, nil
	}
	seedOrder(fx.store, chargedOrder)

	order, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed", ActorID: "staff_1"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := order.Payment.Refunds[0].Status; got != domain.RefundStatusProcessing {
		t.Fatalf("expected refund recorded as processing until confirmed, got %s", got)
	}

	if _, err := fx.svc.HandleGatewayEvent(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("refund webhook: %v", err)
	}
	stored := fx.store.order("ord_seed")
	if got := stored.Payment.Refunds[0].Status; got != domain.RefundStatusCompleted {
		t.Fatalf("expected webhook to complete refund, got %s", got)
	}
	if stored.Payment.Status != domain.PaymentStatusRefunded || stored.Payment.TotalRefunded != 3500 {
		t.Fatalf("unexpected payment after webhook %+v", stored.Payment)
	}
}

func TestPaymentServiceRefundRequiresCharge(t *testing.T) {
	fx := newPaymentFixture(t)
	seedOrder(fx.store, initiatedOrder)
	if _, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed"}); !errors.Is(err, ErrRefundNotAllowed) {
		t.Fatalf("expected not allowed, got %v", err)
	}
	if len(fx.gateway.refunds) != 0 {
		t.Fatal("gateway must not be called")
	}
}

func TestPaymentServiceRefundDeduplicatesProviderRefund(t *testing.T) {
	fx := newPaymentFixture(t)
	fx.gateway.refundFn = func(payments.RefundRequest) (payments.RefundResult, error) {
		return payments.RefundResult{ProviderRefundID: "re_same", Status: domain.RefundStatusCompleted}, nil
	}
	seedOrder(fx.store, chargedOrder)

	amount := int64(500)
	if _, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed", Amount: &amount}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	order, err := fx.svc.Refund(context.Background(), RefundCommand{OrderID: "ord_seed", Amount: &amount})
	if err != nil {
		t.Fatalf("replayed refund: %v", err)
	}
	if len(order.Payment.Refunds) != 1 || order.Payment.TotalRefunded != 500 {
		t.Fatalf("expected single refund record, got %+v", order.Payment)
	}
}
