package delivery

import (
	"time"

	"github.com/shopspring/decimal"
)

// DTO is the transfer projection served over HTTP and cached in Redis.
type DTO struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id,omitempty"`
	WarehouseID  string          `json:"warehouse_id,omitempty"`
	Status       Status          `json:"status"`
	DeliveryDate *time.Time      `json:"delivery_date,omitempty"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	ItemIDs      []string        `json:"item_ids"`
}

func (d *Delivery) DTO() DTO {
	dto := DTO{
		ID:          d.ID,
		UserID:      d.UserID,
		WarehouseID: d.WarehouseID,
		Status:      d.Status,
		TotalPrice:  d.TotalPrice,
		ItemIDs:     sortedKeys(d.Items),
	}
	if !d.DeliveryDate.IsZero() {
		t := d.DeliveryDate
		dto.DeliveryDate = &t
	}
	return dto
}
