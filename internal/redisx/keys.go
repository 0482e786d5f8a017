package redisx

import "time"

const (
	// Cached delivery projection: delivery:{delivery_id} -> DTO json
	KeyDeliveryCache = "delivery:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Last seen reservation snapshot per delivery: watch:delivery:{delivery_id}
	// hash of item_id -> qty
	KeyDeliverySnapshot = "watch:delivery:%s"

	// Aggregate reserved units per item: watch:item:{item_id}:reserved
	KeyItemReserved = "watch:item:%s:reserved"
)

var (
	TTLDeliveryCache = 5 * time.Minute
	TTLDedup         = 48 * time.Hour
)
