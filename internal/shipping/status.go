package shipping

import (
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
)

// StatusMapping is the translation of a provider status push.
type StatusMapping struct {
	Status   domain.ShipmentStatus
	IsReturn bool
	Known    bool
}

var providerStatusMap = map[string]domain.ShipmentStatus{
	"PICKUP":           domain.ShipmentStatusPickup,
	"PICKED_UP":        domain.ShipmentStatusPickup,
	"SHIPPED":          domain.ShipmentStatusShipped,
	"IN_TRANSIT":       domain.ShipmentStatusShipped,
	"OUT_FOR_DELIVERY": domain.ShipmentStatusShipped,
	"DELIVERED":        domain.ShipmentStatusDelivered,
	"CANCELLED":        domain.ShipmentStatusCancelled,
	"CANCELED":         domain.ShipmentStatusCancelled,
}

// MapProviderStatus maps a raw provider status. Any RTO (return to origin) variant cancels
// the shipment and marks it as a return.
func MapProviderStatus(raw string) StatusMapping {
	key := normaliseStatus(raw)
	if key == "" {
		return StatusMapping{}
	}
	if strings.HasPrefix(key, "RTO") {
		return StatusMapping{Status: domain.ShipmentStatusCancelled, IsReturn: true, Known: true}
	}
	if status, ok := providerStatusMap[key]; ok {
		return StatusMapping{Status: status, Known: true}
	}
	return StatusMapping{}
}

func normaliseStatus(raw string) string {
	key := strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}
