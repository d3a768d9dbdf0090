package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orders/internal/platform/config"
)

func TestTxContext(t *testing.T) {
	if _, ok := TxFromContext(context.Background()); ok {
		t.Fatal("expected no transaction on a bare context")
	}
	if _, ok := TxFromContext(ContextWithTx(context.Background(), nil)); ok {
		t.Fatal("nil transaction must not be attached")
	}
	tx := &firestore.Transaction{}
	if got, ok := TxFromContext(ContextWithTx(context.Background(), tx)); !ok || got != tx {
		t.Fatal("expected transaction to round trip")
	}
}

func TestRunInTxJoinsExistingTransaction(t *testing.T) {
	ctx := ContextWithTx(context.Background(), &firestore.Transaction{})
	calls := 0
	client := &firestore.Client{}
	if err := RunInTx(ctx, client, func(context.Context) error { calls++; return nil }); err != nil || calls != 1 {
		t.Fatalf("expected body to run once in the outer transaction, got calls=%d err=%v", calls, err)
	}
	if err := RunInTx(context.Background(), nil, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestWrapErrorClassifies(t *testing.T) {
	cases := map[codes.Code]Kind{
		codes.NotFound:           KindNotFound,
		codes.AlreadyExists:      KindConflict,
		codes.Aborted:            KindConflict,
		codes.FailedPrecondition: KindConflict,
		codes.Unavailable:        KindUnavailable,
		codes.ResourceExhausted:  KindUnavailable,
		codes.PermissionDenied:   KindUnknown,
	}
	for code, want := range cases {
		var fsErr *Error
		if err := WrapError("orders.get", status.Error(code, "x")); !errors.As(err, &fsErr) || fsErr.Kind != want {
			t.Errorf("%s: expected %s, got %v", code, want, err)
		}
	}
}

func TestWrapErrorSurfacesCancellation(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestWrapErrorKeepsExistingClassification(t *testing.T) {
	inner := NotFound("", "order number not found")
	err := WrapError("orders.by_number", inner)
	if !IsNotFound(err) || err.Error() != "orders.by_number: order number not found" {
		t.Fatalf("unexpected wrapped error %v", err)
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "orders-test"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestCollectionRejectsBlankID(t *testing.T) {
	c := NewCollection[struct{}](NewProvider(config.FirestoreConfig{ProjectID: "orders-test"}), "orders")
	if _, err := c.Get(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank document id")
	}
}
