package delivery

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID          string
	SKU         string
	Name        string
	Price       decimal.Decimal
	Stock       int
	WarehouseID string // empty when unassigned
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Warehouse struct {
	ID     string
	Name   string
	UserID string
}

type User struct {
	ID   string
	Name string
}

// Delivery reserves item quantities out of warehouse stock for one user.
// Items maps item id -> reserved quantity; an entry is always > 0, a
// quantity of zero means the entry is removed, never stored.
type Delivery struct {
	ID           string
	UserID       string
	WarehouseID  string
	Status       Status
	DeliveryDate time.Time // zero when unset
	Items        map[string]int
	TotalPrice   decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Quantity returns the reserved quantity for an item, 0 when absent.
func (d *Delivery) Quantity(itemID string) int {
	return d.Items[itemID]
}
