package delivery

import "context"

// Store is the key-value view of persistence the engine works against.
// Finders return (nil, nil) when the entity is absent; the caller decides
// whether absence is an error.
type Store interface {
	FindUserByID(ctx context.Context, id string) (*User, error)
	SaveUser(ctx context.Context, u *User) error

	FindWarehouseByID(ctx context.Context, id string) (*Warehouse, error)
	FindWarehouseByUserID(ctx context.Context, userID string) (*Warehouse, error)
	SaveWarehouse(ctx context.Context, w *Warehouse) error
	DeleteWarehouse(ctx context.Context, id string) error

	FindItemByID(ctx context.Context, id string) (*Item, error)
	FindItemsByIDs(ctx context.Context, ids []string) (map[string]*Item, error)
	FindItemsByWarehouseID(ctx context.Context, warehouseID string) ([]Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	SaveItem(ctx context.Context, it *Item) error

	FindDeliveryByID(ctx context.Context, id string) (*Delivery, error)
	SaveDelivery(ctx context.Context, d *Delivery) error
	DeleteDelivery(ctx context.Context, id string) error
}

// TxStore runs a function against a transactional Store view. Everything
// the function writes commits together, or not at all when it returns an
// error. Implementations must serialize writers touching the same rows.
type TxStore interface {
	Store
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
