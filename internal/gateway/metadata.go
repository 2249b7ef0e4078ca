package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"ticket-service/internal/models"
)

// Metadata keys carried on a checkout session
const (
	MetaKeyType               = "type"
	MetaKeyOrderID            = "orderId"
	MetaKeyEventID            = "eventId"
	MetaKeyParticipantPreview = "participantDataPreview"
)

// DefaultMetadataLimit is the serialized size budget for checkout metadata
const DefaultMetadataLimit = 500

// SaleMetadata builds the metadata for a ticket sale. The participant preview is
// cut to fit limit; type and orderId are always present in full.
func SaleMetadata(orderID int64, preview string, limit int) map[string]string {
	md := map[string]string{
		MetaKeyType:    models.MetadataTypeTicketSale,
		MetaKeyOrderID: strconv.FormatInt(orderID, 10),
	}
	if preview == "" {
		return md
	}

	runes := []rune(preview)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if metadataSize(md, string(runes[:mid])) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	if lo > 0 {
		md[MetaKeyParticipantPreview] = string(runes[:lo])
	}
	return md
}

// HighlightMetadata builds the metadata for an event highlight purchase
func HighlightMetadata(eventID int64) map[string]string {
	return map[string]string{
		MetaKeyType:    models.MetadataTypeEventHighlight,
		MetaKeyEventID: strconv.FormatInt(eventID, 10),
	}
}

// MetadataSize returns the JSON-encoded size of a metadata map
func MetadataSize(md map[string]string) int {
	b, _ := json.Marshal(md)
	return len(b)
}

// MetadataInt64 reads a numeric metadata value
func MetadataInt64(md map[string]string, key string) (int64, error) {
	raw, ok := md[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("metadata %q missing", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metadata %q is not numeric: %w", key, err)
	}
	return v, nil
}

func metadataSize(base map[string]string, preview string) int {
	md := make(map[string]string, len(base)+1)
	for k, v := range base {
		md[k] = v
	}
	md[MetaKeyParticipantPreview] = preview
	return MetadataSize(md)
}
