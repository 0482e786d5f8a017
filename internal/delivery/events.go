package delivery

import (
	"encoding/json"
	"time"
)

const (
	EventDeliveryCreated = "DeliveryCreated"
	EventDeliveryUpdated = "DeliveryUpdated"
	EventDeliveryDeleted = "DeliveryDeleted"
	EventStockRejected   = "StockRejected"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // delivery id
	Payload       json.RawMessage `json:"payload"`
}

// DeliveryChangedPayload describes the post-mutation state of a delivery.
// Items carries the full reservation map so consumers can diff against
// their own snapshot without a read back to the store.
type DeliveryChangedPayload struct {
	DeliveryID  string         `json:"delivery_id"`
	UserID      string         `json:"user_id,omitempty"`
	WarehouseID string         `json:"warehouse_id,omitempty"`
	Status      Status         `json:"status"`
	TotalPrice  string         `json:"total_price"`
	Items       map[string]int `json:"items"`
}

type StockRejectedPayload struct {
	DeliveryID string `json:"delivery_id"`
	ItemID     string `json:"item_id"`
	Required   int    `json:"required"`
	Available  int    `json:"available"`
}
