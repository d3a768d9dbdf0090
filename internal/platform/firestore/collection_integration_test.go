//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/firestore/firestoretest"
)

type counter struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestCollectionAgainstEmulator(t *testing.T) {
	provider := firestoretest.NewProvider(t, "orders-test")
	counters := pfirestore.NewCollection[counter](provider, "counters")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := counters.Create(ctx, "c1", counter{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := counters.Create(ctx, "c1", counter{Name: "dup"})
	var fsErr *pfirestore.Error
	if !errors.As(err, &fsErr) || !fsErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	if err := counters.Update(ctx, "c1", []firestore.Update{{Path: "count", Value: 2}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := counters.Update(ctx, "missing", []firestore.Update{{Path: "count", Value: 1}}); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found updating a missing document, got %v", err)
	}

	err = provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := counters.Get(ctx, "c1")
		if err != nil {
			return err
		}
		doc.Data.Count++
		return counters.Set(ctx, "c1", doc.Data)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	doc, err := counters.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "c1" || doc.Data.Count != 3 || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %+v", doc)
	}

	if _, err := counters.Get(ctx, "missing"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ok, err := counters.Exists(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing document, got %v %v", ok, err)
	}

	docs, err := counters.Query(ctx, func(q firestore.Query) firestore.Query { return q.Where("count", ">=", 3) })
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one match, got %d %v", len(docs), err)
	}

	sentinel := errors.New("abort")
	err = provider.RunInTx(ctx, func(ctx context.Context) error {
		if err := counters.Set(ctx, "c2", counter{Name: "rolled back"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected body error to surface, got %v", err)
	}
	if ok, _ := counters.Exists(ctx, "c2"); ok {
		t.Fatal("expected aborted transaction to discard its writes")
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := provider.RunInTx(cancelled, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
