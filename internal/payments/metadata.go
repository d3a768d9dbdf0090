package payments

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Stripe rejects metadata beyond these limits.
const (
	maxMetadataKeys       = 50
	maxMetadataKeyRunes   = 40
	maxMetadataValueRunes = 500
)

const (
	metadataOrderID     = "orderId"
	metadataOrderNumber = "orderNumber"
)

// gatewayMetadata prepares caller metadata for Stripe. Keys and values are trimmed, blank or
// oversized keys are dropped, values are cut to the value limit and the order correlation keys
// always win over caller entries of the same name. When the caller supplies more keys than Stripe
// accepts the lexically first ones are kept.
func gatewayMetadata(values map[string]string, orderID, orderNumber string) map[string]string {
	reserved := map[string]string{}
	if orderID = strings.TrimSpace(orderID); orderID != "" {
		reserved[metadataOrderID] = orderID
	}
	if orderNumber = strings.TrimSpace(orderNumber); orderNumber != "" {
		reserved[metadataOrderNumber] = orderNumber
	}

	cleaned := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" || utf8.RuneCountInString(key) > maxMetadataKeyRunes {
			continue
		}
		if _, ok := reserved[key]; ok {
			continue
		}
		cleaned[key] = truncateRunes(strings.TrimSpace(value), maxMetadataValueRunes)
	}

	keys := make([]string, 0, len(cleaned))
	for key := range cleaned {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if room := maxMetadataKeys - len(reserved); len(keys) > room {
		keys = keys[:room]
	}

	if len(keys) == 0 && len(reserved) == 0 {
		return nil
	}
	out := make(map[string]string, len(keys)+len(reserved))
	for _, key := range keys {
		out[key] = cleaned[key]
	}
	for key, value := range reserved {
		out[key] = truncateRunes(value, maxMetadataValueRunes)
	}
	return out
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
