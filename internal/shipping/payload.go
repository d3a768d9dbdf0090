package shipping

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	paymentMethodPrepaid = "Prepaid"
	orderDateLayout      = "2006-01-02 15:04"
	maxItemNameRunes     = 100
	defaultCountry       = "India"
)

// amount renders minor currency units as a major-unit JSON number with two decimals.
type amount int64

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.New(int64(a), -2).StringFixed(2)), nil
}

// measure renders a dimension or weight as a JSON number rounded to two decimals.
type measure float64

func (m measure) MarshalJSON() ([]byte, error) {
	return []byte(decimal.NewFromFloat(float64(m)).Round(2).String()), nil
}

// flexString accepts identifiers the provider sends either as numbers or strings.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

type createOrderPayload struct {
	OrderID             string             `json:"order_id"`
	OrderDate           string             `json:"order_date"`
	PickupLocation      string             `json:"pickup_location"`
	Comment             string             `json:"comment,omitempty"`
	BillingCustomerName string             `json:"billing_customer_name"`
	BillingLastName     string             `json:"billing_last_name"`
	BillingAddress      string             `json:"billing_address"`
	BillingAddress2     string             `json:"billing_address_2"`
	BillingCity         string             `json:"billing_city"`
	BillingPincode      string             `json:"billing_pincode"`
	BillingState        string             `json:"billing_state"`
	BillingCountry      string             `json:"billing_country"`
	BillingEmail        string             `json:"billing_email"`
	BillingPhone        string             `json:"billing_phone"`
	ShippingIsBilling   bool               `json:"shipping_is_billing"`
	OrderItems          []orderItemPayload `json:"order_items"`
	PaymentMethod       string             `json:"payment_method"`
	ShippingCharges     amount             `json:"shipping_charges"`
	TotalDiscount       amount             `json:"total_discount"`
	SubTotal            amount             `json:"sub_total"`
	Length              measure            `json:"length"`
	Breadth             measure            `json:"breadth"`
	Height              measure            `json:"height"`
	Weight              measure            `json:"weight"`
}

type orderItemPayload struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice amount `json:"selling_price"`
	Discount     amount `json:"discount"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	Message   string `json:"message"`
}

type createOrderResponse struct {
	OrderID          flexString `json:"order_id"`
	ShipmentID       flexString `json:"shipment_id"`
	Status           string     `json:"status"`
	AWBCode          flexString `json:"awb_code"`
	CourierCompanyID flexString `json:"courier_company_id"`
	CourierName      string     `json:"courier_name"`
	LabelURL         string     `json:"label_url"`
	Message          string     `json:"message"`
}

type trackResponse struct {
	TrackingData struct {
		TrackStatus    int        `json:"track_status"`
		ShipmentStatus flexString `json:"shipment_status"`
		ShipmentTrack  []struct {
			AWBCode       string `json:"awb_code"`
			CurrentStatus string `json:"current_status"`
			CourierName   string `json:"courier_name"`
		} `json:"shipment_track"`
		Activities []struct {
			Date     string `json:"date"`
			Status   string `json:"status"`
			Activity string `json:"activity"`
			Location string `json:"location"`
		} `json:"shipment_track_activities"`
		TrackURL string `json:"track_url"`
		ETD      string `json:"etd"`
		Error    string `json:"error"`
	} `json:"tracking_data"`
}

func buildCreateOrderPayload(req ShipmentRequest) (createOrderPayload, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return createOrderPayload{}, errors.New("order number is required")
	}
	if len(req.Items) == 0 {
		return createOrderPayload{}, errors.New("at least one item is required")
	}
	addr := req.Address
	if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.PostalCode) == "" {
		return createOrderPayload{}, errors.New("shipping address line and postal code are required")
	}

	items := make([]orderItemPayload, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orderItemPayload{
			Name:         truncateRunes(item.Name, maxItemNameRunes),
			SKU:          item.SKU,
			Units:        item.Units,
			SellingPrice: amount(item.SellingPrice),
			Discount:     amount(item.Discount),
		})
	}

	name := strings.TrimSpace(req.Contact.Name)
	if name == "" {
		name = strings.TrimSpace(addr.Name)
	}
	phone := strings.TrimSpace(req.Contact.Phone)
	if phone == "" {
		phone = strings.TrimSpace(addr.Phone)
	}
	country := strings.TrimSpace(addr.Country)
	if country == "" || strings.EqualFold(country, "IN") {
		country = defaultCountry
	}

	return createOrderPayload{
		OrderID:             req.OrderNumber,
		OrderDate:           req.OrderDate.UTC().Format(orderDateLayout),
		PickupLocation:      req.PickupLocation,
		Comment:             req.Comment,
		BillingCustomerName: name,
		BillingAddress:      addr.Line1,
		BillingAddress2:     addr.Line2,
		BillingCity:         addr.City,
		BillingPincode:      addr.PostalCode,
		BillingState:        addr.State,
		BillingCountry:      country,
		BillingEmail:        req.Contact.Email,
		BillingPhone:        phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       paymentMethodPrepaid,
		ShippingCharges:     amount(req.ShippingCharge),
		TotalDiscount:       amount(req.TotalDiscount),
		SubTotal:            amount(req.SubTotal),
		Length:              measure(req.Package.LengthCM),
		Breadth:             measure(req.Package.BreadthCM),
		Height:              measure(req.Package.HeightCM),
		Weight:              measure(req.Package.WeightKG),
	}, nil
}

func truncateRunes(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
