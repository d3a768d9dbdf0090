package shipping

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Provider is the shipping provider port used by the fulfillment dispatcher.
type Provider interface {
	// Authenticate exchanges the configured credentials for an API token.
	Authenticate(ctx context.Context) (Token, error)
	// CreateShipment registers a prepaid shipment for an order.
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error)
	// TrackShipment returns the provider's tracking view for an airway bill code.
	TrackShipment(ctx context.Context, trackingCode string) (TrackingResult, error)
}

// Token is a bearer token issued by the provider.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// Contact identifies the consignee.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ShipmentItem is one line of the shipment manifest. Prices are minor currency units.
type ShipmentItem struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice int64
	Discount     int64
}

// Package describes the parcel dimensions in centimetres and kilograms.
type Package struct {
	LengthCM  float64
	BreadthCM float64
	HeightCM  float64
	WeightKG  float64
}

// ShipmentRequest is the provider independent shipment payload.
type ShipmentRequest struct {
	OrderNumber    string
	OrderDate      time.Time
	PickupLocation string
	Comment        string
	Contact        Contact
	Address        domain.Address
	Items          []ShipmentItem
	ShippingCharge int64
	TotalDiscount  int64
	SubTotal       int64
	Package        Package
}

// ShipmentResult carries the identifiers assigned by the provider.
type ShipmentResult struct {
	ProviderOrderID string
	ShipmentID      string
	TrackingCode    string
	CourierName     string
	CourierID       string
	LabelURL        string
	Status          string
}

// TrackingActivity is one scan event reported by the courier.
type TrackingActivity struct {
	Date     string
	Status   string
	Activity string
	Location string
}

// TrackingResult is the provider's tracking view of a shipment.
type TrackingResult struct {
	TrackingCode string
	RawStatus    string
	Status       domain.ShipmentStatus
	CourierName  string
	TrackURL     string
	ETD          string
	Activities   []TrackingActivity
}
