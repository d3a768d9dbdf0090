package shipping

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestNewShipmentRequestWeightAndItems(t *testing.T) {
	order := domain.Order{
		Number:          "ORD-20240501-1234ABCD",
		Customer:        domain.Customer{Name: "Asha Rao", Email: "asha@example.com"},
		ShippingAddress: domain.Address{Line1: "12 MG Road", PostalCode: "560001", Phone: "9999999999"},
		Items: []domain.OrderLineItem{
			{ProductID: "p1", Name: "Silk saree", SKU: "SAR-1", Quantity: 2, UnitPrice: 900, OriginalUnitPrice: 1000},
			{ProductID: "p2", Name: "Stole", Quantity: 1, UnitPrice: 300, OriginalUnitPrice: 300},
		},
		Pricing:   domain.OrderPricing{Subtotal: 2100, ShippingCost: 100, Discount: 0},
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	req := NewShipmentRequest(order, RequestOptions{PickupLocation: "Primary"})
	if req.Package.WeightKG != 1.5 {
		t.Fatalf("expected 0.5kg per unit, got %v", req.Package.WeightKG)
	}
	if req.Package.LengthCM != 10 || req.Package.BreadthCM != 10 || req.Package.HeightCM != 10 {
		t.Fatalf("unexpected dimensions %#v", req.Package)
	}
	if req.Items[0].Discount != 200 {
		t.Fatalf("expected per-line discount 200, got %d", req.Items[0].Discount)
	}
	if req.Items[1].SKU != "SKU-p2" {
		t.Fatalf("expected fallback sku, got %q", req.Items[1].SKU)
	}
	if req.PickupLocation != "Primary" || req.ShippingCharge != 100 {
		t.Fatalf("unexpected request %#v", req)
	}
}

func TestNewShipmentRequestWeightFloor(t *testing.T) {
	req := NewShipmentRequest(domain.Order{}, RequestOptions{WeightPerUnit: 0.1})
	if req.Package.WeightKG != MinimumWeightKG {
		t.Fatalf("expected floor weight, got %v", req.Package.WeightKG)
	}
}

func TestCreateOrderPayloadTruncatesNamesAndRendersAmounts(t *testing.T) {
	req := sampleShipmentRequest()
	req.Items[0].Name = strings.Repeat("あ", 150)
	req.Items[0].SellingPrice = 12345

	payload, err := buildCreateOrderPayload(req)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if n := len([]rune(payload.OrderItems[0].Name)); n != 100 {
		t.Fatalf("expected 100 runes, got %d", n)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"selling_price":123.45`) {
		t.Fatalf("expected decimal selling price, got %s", data)
	}
	if !strings.Contains(string(data), `"order_date":"2024-05-01 09:30"`) {
		t.Fatalf("expected formatted order date, got %s", data)
	}
}

func TestCreateOrderPayloadRequiresAddress(t *testing.T) {
	req := sampleShipmentRequest()
	req.Address.PostalCode = ""
	if _, err := buildCreateOrderPayload(req); err == nil {
		t.Fatal("expected validation error")
	}
}
