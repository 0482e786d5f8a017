package warehouse

import (
	"context"
	"errors"
	"log"

	"github.com/mpavlovic/warehouse-deliveries/internal/delivery"
)

var ErrAlreadyExists = errors.New("warehouse already exists")

type CreateRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

// Service manages warehouses and their item assignments. Stock moved into
// a warehouse goes through the same adjuster the delivery engine uses.
type Service struct {
	Store delivery.TxStore
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*delivery.Warehouse, error) {
	if req.ID == "" {
		return nil, delivery.ErrMissingID
	}
	var out *delivery.Warehouse
	err := s.Store.WithinTx(ctx, func(tx delivery.Store) error {
		existing, err := tx.FindWarehouseByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}
		w := &delivery.Warehouse{ID: req.ID, Name: req.Name}
		if req.UserID != "" {
			u, err := tx.FindUserByID(ctx, req.UserID)
			if err != nil {
				return err
			}
			if u == nil {
				return &delivery.NotFoundError{Resource: "user", ID: req.UserID}
			}
			w.UserID = u.ID
		}
		out = w
		return tx.SaveWarehouse(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("warehouse created: id=%s", out.ID)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*delivery.Warehouse, error) {
	w, err := s.Store.FindWarehouseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &delivery.NotFoundError{Resource: "warehouse", ID: id}
	}
	return w, nil
}

func (s *Service) ByUser(ctx context.Context, userID string) (*delivery.Warehouse, error) {
	w, err := s.Store.FindWarehouseByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &delivery.NotFoundError{Resource: "warehouse", ID: userID}
	}
	return w, nil
}

// AddItem assigns the item to the warehouse and consumes qty units of its
// shelf stock into warehouse holding.
func (s *Service) AddItem(ctx context.Context, warehouseID, itemID string, qty int) error {
	if qty <= 0 {
		return delivery.ErrInvalidQuantity
	}
	return s.Store.WithinTx(ctx, func(tx delivery.Store) error {
		w, err := tx.FindWarehouseByID(ctx, warehouseID)
		if err != nil {
			return err
		}
		if w == nil {
			return &delivery.NotFoundError{Resource: "warehouse", ID: warehouseID}
		}
		it, err := tx.FindItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		if it == nil {
			return &delivery.NotFoundError{Resource: "item", ID: itemID}
		}
		it.WarehouseID = w.ID
		return delivery.AdjustStock(ctx, tx, it, -qty)
	})
}

// Clear detaches every item from the warehouse without touching stock.
func (s *Service) Clear(ctx context.Context, warehouseID string) error {
	return s.Store.WithinTx(ctx, func(tx delivery.Store) error {
		w, err := tx.FindWarehouseByID(ctx, warehouseID)
		if err != nil {
			return err
		}
		if w == nil {
			return &delivery.NotFoundError{Resource: "warehouse", ID: warehouseID}
		}
		items, err := tx.FindItemsByWarehouseID(ctx, w.ID)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].WarehouseID = ""
			if err := tx.SaveItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		return tx.SaveWarehouse(ctx, w)
	})
}

func (s *Service) Delete(ctx context.Context, warehouseID string) error {
	return s.Store.WithinTx(ctx, func(tx delivery.Store) error {
		w, err := tx.FindWarehouseByID(ctx, warehouseID)
		if err != nil {
			return err
		}
		if w == nil {
			return &delivery.NotFoundError{Resource: "warehouse", ID: warehouseID}
		}
		return tx.DeleteWarehouse(ctx, w.ID)
	})
}

// UniqueItems lists the distinct items currently assigned to a warehouse.
func (s *Service) UniqueItems(ctx context.Context, warehouseID string) ([]delivery.Item, error) {
	w, err := s.Store.FindWarehouseByID(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &delivery.NotFoundError{Resource: "warehouse", ID: warehouseID}
	}
	return s.Store.FindItemsByWarehouseID(ctx, w.ID)
}
