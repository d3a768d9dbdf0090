package services

import (
	"context"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func ledgerFixture(t *testing.T) (*memoryStore, *InventoryLedger, *[]string) {
	t.Helper()
	store := newMemoryStore()
	store.putProduct(domain.Product{
		ID:       "prod_tee",
		Name:     "Tee",
		Price:    1500,
		Stock:    10,
		IsActive: true,
		Variations: []domain.Variation{
			{ID: "var_m", Stock: 4},
			{ID: "var_l", Stock: 1},
		},
	})
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}
	ledger, err := NewInventoryLedger(memoryProducts{store}, func() time.Time {
		return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}, logger, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return store, ledger, &events
}

func TestInventoryLedgerCommitAndRestore(t *testing.T) {
	store, ledger, events := ledgerFixture(t)
	order := domain.Order{
		ID: "ord_1",
		Items: []domain.OrderLineItem{
			{ProductID: "prod_tee", Quantity: 2},
			{ProductID: "prod_tee", VariationID: "var_m", Quantity: 3},
		},
	}

	if err := ledger.Commit(context.Background(), &order); err != nil {
		t.Fatalf("commit: %v", err)
	}
	product := store.product("prod_tee")
	if product.Stock != 8 || product.Variations[0].Stock != 1 || product.SoldCount != 5 {
		t.Fatalf("unexpected stock after commit: %+v", product)
	}
	if store.stockWrites != 1 {
		t.Fatalf("expected one stock write per product, got %d", store.stockWrites)
	}
	if len(order.InventoryWarnings) != 0 || len(*events) != 0 {
		t.Fatalf("expected no warnings, got %v %v", order.InventoryWarnings, *events)
	}

	if err := ledger.Restore(context.Background(), &order); err != nil {
		t.Fatalf("restore: %v", err)
	}
	product = store.product("prod_tee")
	if product.Stock != 10 || product.Variations[0].Stock != 4 || product.SoldCount != 0 {
		t.Fatalf("unexpected stock after restore: %+v", product)
	}
}

func TestInventoryLedgerClampsOversold(t *testing.T) {
	store, ledger, events := ledgerFixture(t)
	order := domain.Order{
		ID:    "ord_2",
		Items: []domain.OrderLineItem{{ProductID: "prod_tee", VariationID: "var_l", Quantity: 3}},
	}

	if err := ledger.Commit(context.Background(), &order); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := store.product("prod_tee").Variations[1].Stock; got != 0 {
		t.Fatalf("expected stock clamped at zero, got %d", got)
	}
	if len(order.InventoryWarnings) != 1 || !strings.Contains(order.InventoryWarnings[0], "oversold by 2") {
		t.Fatalf("expected oversold warning, got %v", order.InventoryWarnings)
	}
	if len(*events) != 1 || (*events)[0] != "inventory.integrity_warning" {
		t.Fatalf("expected integrity log, got %v", *events)
	}
}

func TestInventoryLedgerSkipsMissingProducts(t *testing.T) {
	store, ledger, _ := ledgerFixture(t)
	order := domain.Order{
		ID: "ord_3",
		Items: []domain.OrderLineItem{
			{ProductID: "prod_gone", Quantity: 1},
			{ProductID: "prod_tee", VariationID: "var_gone", Quantity: 1},
			{ProductID: "prod_tee", Quantity: 1},
		},
	}

	if err := ledger.Commit(context.Background(), &order); err != nil {
		t.Fatalf("commit should not fail on missing products: %v", err)
	}
	if len(order.InventoryWarnings) != 2 {
		t.Fatalf("expected two warnings, got %v", order.InventoryWarnings)
	}
	if got := store.product("prod_tee"); got.Stock != 9 || got.SoldCount != 1 {
		t.Fatalf("expected remaining line applied, got %+v", got)
	}
}

func TestInventoryLedgerRestoreFloorsSoldCount(t *testing.T) {
	store, ledger, _ := ledgerFixture(t)
	order := domain.Order{
		ID:    "ord_4",
		Items: []domain.OrderLineItem{{ProductID: "prod_tee", Quantity: 4}},
	}
	if err := ledger.Restore(context.Background(), &order); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := store.product("prod_tee"); got.SoldCount != 0 || got.Stock != 14 {
		t.Fatalf("unexpected product after restore: %+v", got)
	}
}
