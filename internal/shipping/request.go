package shipping

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Default parcel used when the catalogue carries no dimensions.
const (
	DefaultDimensionCM   = 10.0
	DefaultWeightPerUnit = 0.5
	MinimumWeightKG      = 0.5
)

// RequestOptions carries warehouse level settings applied to every shipment.
type RequestOptions struct {
	PickupLocation string
	WeightPerUnit  float64
	DimensionCM    float64
	Now            time.Time
}

// NewShipmentRequest builds the shipment payload for a paid order.
func NewShipmentRequest(order domain.Order, opts RequestOptions) ShipmentRequest {
	perUnit := opts.WeightPerUnit
	if perUnit <= 0 {
		perUnit = DefaultWeightPerUnit
	}
	dimension := opts.DimensionCM
	if dimension <= 0 {
		dimension = DefaultDimensionCM
	}
	orderDate := order.CreatedAt
	if orderDate.IsZero() {
		orderDate = opts.Now
	}

	units := 0
	items := make([]ShipmentItem, 0, len(order.Items))
	for _, item := range order.Items {
		units += item.Quantity
		sku := item.SKU
		if sku == "" {
			sku = "SKU-" + item.ProductID
		}
		discount := int64(0)
		if item.OriginalUnitPrice > item.UnitPrice {
			discount = (item.OriginalUnitPrice - item.UnitPrice) * int64(item.Quantity)
		}
		items = append(items, ShipmentItem{
			Name:         item.Name,
			SKU:          sku,
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice,
			Discount:     discount,
		})
	}

	weight := decimal.NewFromFloat(perUnit).Mul(decimal.NewFromInt(int64(units)))
	if floor := decimal.NewFromFloat(MinimumWeightKG); weight.LessThan(floor) {
		weight = floor
	}

	return ShipmentRequest{
		OrderNumber:    order.Number,
		OrderDate:      orderDate,
		PickupLocation: opts.PickupLocation,
		Comment:        order.Notes,
		Contact: Contact{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
		},
		Address:        order.ShippingAddress,
		Items:          items,
		ShippingCharge: order.Pricing.ShippingCost,
		TotalDiscount:  order.Pricing.Discount,
		SubTotal:       order.Pricing.Subtotal,
		Package: Package{
			LengthCM:  dimension,
			BreadthCM: dimension,
			HeightCM:  dimension,
			WeightKG:  weight.InexactFloat64(),
		},
	}
}
