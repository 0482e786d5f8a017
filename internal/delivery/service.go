package delivery

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UpdateRequest carries a partial or full replacement of a delivery.
// Pointer fields distinguish "absent" from "set to zero value". Items maps
// item id -> quantity; in a diff update a nil map leaves line items alone
// while a present map is reconciled entry by entry; in an overwrite the
// map always replaces the reservation set wholesale.
type UpdateRequest struct {
	UserID       *string        `json:"user_id"`
	WarehouseID  *string        `json:"warehouse_id"`
	DeliveryDate *time.Time     `json:"delivery_date"`
	Status       *Status        `json:"status"`
	Items        map[string]int `json:"items"`
}

// Service is the reconciliation engine: it keeps item stock counts
// consistent with the live set of deliveries as they are created,
// incrementally edited, overwritten and deleted. Every mutating operation
// runs in a single store transaction.
type Service struct {
	Store TxStore
}

// Place creates an empty PENDING delivery for the user, bound to that
// user's warehouse. A delivery cannot exist without a warehouse to source
// items from.
func (s *Service) Place(ctx context.Context, userID string) (*Delivery, error) {
	if userID == "" {
		return nil, ErrMissingID
	}
	var out *Delivery
	err := s.Store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.FindUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return &NotFoundError{Resource: "user", ID: userID}
		}
		wh, err := tx.FindWarehouseByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if wh == nil {
			return &NotFoundError{Resource: "warehouse", ID: userID}
		}
		now := time.Now().UTC()
		d := &Delivery{
			ID:           uuid.NewString(),
			UserID:       u.ID,
			WarehouseID:  wh.ID,
			Status:       StatusPending,
			DeliveryDate: now,
			Items:        map[string]int{},
			TotalPrice:   decimal.Zero,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		out = d
		return tx.SaveDelivery(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddItem sets the delivery's reservation for one item to qty. Only the
// net change against the current reservation touches stock, so repeating
// the call with the same qty is a no-op.
func (s *Service) AddItem(ctx context.Context, deliveryID, itemID string, qty int) (*Delivery, error) {
	if deliveryID == "" || itemID == "" {
		return nil, ErrMissingID
	}
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	var out *Delivery
	err := s.Store.WithinTx(ctx, func(tx Store) error {
		it, err := tx.FindItemByID(ctx, itemID)
		if err != nil {
			return err
		}
		if it == nil {
			return &NotFoundError{Resource: "item", ID: itemID}
		}
		d, err := tx.FindDeliveryByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d == nil {
			return &NotFoundError{Resource: "delivery", ID: deliveryID}
		}
		delta := qty - d.Quantity(itemID)
		if err := AdjustStock(ctx, tx, it, -delta); err != nil {
			return err
		}
		d.Items[itemID] = qty
		if err := recomputeTotal(ctx, tx, d); err != nil {
			return err
		}
		d.UpdatedAt = time.Now().UTC()
		out = d
		return tx.SaveDelivery(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update reconciles a delivery against the request by diff: items missing
// from req.Items are fully released back to stock, items present move by
// the difference between old and new quantity. Header fields change only
// when present in the request.
func (s *Service) Update(ctx context.Context, deliveryID string, req UpdateRequest) (*Delivery, error) {
	if deliveryID == "" {
		return nil, ErrMissingID
	}
	var out *Delivery
	err := s.Store.WithinTx(ctx, func(tx Store) error {
		d, err := tx.FindDeliveryByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d == nil {
			return &NotFoundError{Resource: "delivery", ID: deliveryID}
		}
		if err := s.applyHeaderDiff(ctx, tx, d, req); err != nil {
			return err
		}
		if req.Items != nil {
			if err := mergeItems(ctx, tx, d, req.Items); err != nil {
				return err
			}
		}
		if err := recomputeTotal(ctx, tx, d); err != nil {
			return err
		}
		d.UpdatedAt = time.Now().UTC()
		out = d
		return tx.SaveDelivery(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Overwrite replaces the delivery wholesale: every reserved item is first
// released, then the reservation set is rebuilt from the request. Header
// fields present in the request are set, absent ones are cleared (status
// falls back to PENDING).
func (s *Service) Overwrite(ctx context.Context, deliveryID string, req UpdateRequest) (*Delivery, error) {
	if deliveryID == "" {
		return nil, ErrMissingID
	}
	var out *Delivery
	err := s.Store.WithinTx(ctx, func(tx Store) error {
		d, err := tx.FindDeliveryByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d == nil {
			return &NotFoundError{Resource: "delivery", ID: deliveryID}
		}
		if err := releaseAll(ctx, tx, d); err != nil {
			return err
		}
		if err := s.applyHeaderOverwrite(ctx, tx, d, req); err != nil {
			return err
		}
		items, err := resolveItems(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		for _, id := range sortedKeys(req.Items) {
			qty := req.Items[id]
			if qty < 0 {
				return ErrInvalidQuantity
			}
			if qty == 0 {
				continue
			}
			if err := AdjustStock(ctx, tx, items[id], -qty); err != nil {
				return err
			}
			d.Items[id] = qty
		}
		if err := recomputeTotal(ctx, tx, d); err != nil {
			return err
		}
		d.UpdatedAt = time.Now().UTC()
		out = d
		return tx.SaveDelivery(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete releases every reserved quantity back to stock and removes the
// delivery.
func (s *Service) Delete(ctx context.Context, deliveryID string) error {
	if deliveryID == "" {
		return ErrMissingID
	}
	return s.Store.WithinTx(ctx, func(tx Store) error {
		d, err := tx.FindDeliveryByID(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d == nil {
			return &NotFoundError{Resource: "delivery", ID: deliveryID}
		}
		if err := releaseAll(ctx, tx, d); err != nil {
			return err
		}
		return tx.DeleteDelivery(ctx, d.ID)
	})
}

// Get reads a delivery without locking; readers never mutate stock.
func (s *Service) Get(ctx context.Context, deliveryID string) (*Delivery, error) {
	if deliveryID == "" {
		return nil, ErrMissingID
	}
	d, err := s.Store.FindDeliveryByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &NotFoundError{Resource: "delivery", ID: deliveryID}
	}
	return d, nil
}

func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	return s.Store.ListItems(ctx)
}

// mergeItems applies the diff protocol to the delivery's line items.
// Quantities in want must be >= 0; zero removes the entry. Rows for the
// whole union of current and requested ids are locked in one sorted
// batch so concurrent updates on overlapping deliveries cannot acquire
// them in conflicting orders.
func mergeItems(ctx context.Context, tx Store, d *Delivery, want map[string]int) error {
	for _, qty := range want {
		if qty < 0 {
			return ErrInvalidQuantity
		}
	}
	union := make(map[string]int, len(d.Items)+len(want))
	for id := range d.Items {
		union[id] = 0
	}
	for id := range want {
		union[id] = 0
	}
	items, err := resolveItems(ctx, tx, union)
	if err != nil {
		return err
	}

	// absent from want means qty 0: the full old quantity is released
	for _, id := range sortedKeys(union) {
		qty := want[id]
		if err := AdjustStock(ctx, tx, items[id], d.Items[id]-qty); err != nil {
			return err
		}
		if qty == 0 {
			delete(d.Items, id)
		} else {
			d.Items[id] = qty
		}
	}
	return nil
}

// releaseAll returns every reserved quantity to stock and empties the map.
func releaseAll(ctx context.Context, tx Store, d *Delivery) error {
	for _, id := range sortedKeys(d.Items) {
		it, err := tx.FindItemByID(ctx, id)
		if err != nil {
			return err
		}
		if it == nil {
			return &NotFoundError{Resource: "item", ID: id}
		}
		if err := AdjustStock(ctx, tx, it, d.Items[id]); err != nil {
			return err
		}
	}
	d.Items = map[string]int{}
	return nil
}

func (s *Service) applyHeaderDiff(ctx context.Context, tx Store, d *Delivery, req UpdateRequest) error {
	if req.UserID != nil {
		u, err := tx.FindUserByID(ctx, *req.UserID)
		if err != nil {
			return err
		}
		if u == nil {
			return &NotFoundError{Resource: "user", ID: *req.UserID}
		}
		d.UserID = u.ID
	}
	if req.WarehouseID != nil {
		wh, err := tx.FindWarehouseByID(ctx, *req.WarehouseID)
		if err != nil {
			return err
		}
		if wh == nil {
			return &NotFoundError{Resource: "warehouse", ID: *req.WarehouseID}
		}
		d.WarehouseID = wh.ID
	}
	if req.DeliveryDate != nil {
		d.DeliveryDate = *req.DeliveryDate
	}
	if req.Status != nil {
		if !ValidStatus(*req.Status) || !CanTransition(d.Status, *req.Status) {
			return ErrInvalidStatus
		}
		d.Status = *req.Status
	}
	return nil
}

// applyHeaderOverwrite sets header fields present in the request and
// clears the ones that are not. This is the defining difference from the
// diff update, which leaves absent fields untouched.
func (s *Service) applyHeaderOverwrite(ctx context.Context, tx Store, d *Delivery, req UpdateRequest) error {
	if req.UserID != nil {
		u, err := tx.FindUserByID(ctx, *req.UserID)
		if err != nil {
			return err
		}
		if u == nil {
			return &NotFoundError{Resource: "user", ID: *req.UserID}
		}
		d.UserID = u.ID
	} else {
		d.UserID = ""
	}
	if req.WarehouseID != nil {
		wh, err := tx.FindWarehouseByID(ctx, *req.WarehouseID)
		if err != nil {
			return err
		}
		if wh == nil {
			return &NotFoundError{Resource: "warehouse", ID: *req.WarehouseID}
		}
		d.WarehouseID = wh.ID
	} else {
		d.WarehouseID = ""
	}
	if req.DeliveryDate != nil {
		d.DeliveryDate = *req.DeliveryDate
	} else {
		d.DeliveryDate = time.Time{}
	}
	if req.Status != nil {
		if !ValidStatus(*req.Status) {
			return ErrInvalidStatus
		}
		d.Status = *req.Status
	} else {
		d.Status = StatusPending
	}
	return nil
}

// resolveItems loads every item id in want, failing on the first missing
// one (ids checked in sorted order so the failure is deterministic).
func resolveItems(ctx context.Context, tx Store, want map[string]int) (map[string]*Item, error) {
	ids := sortedKeys(want)
	items, err := tx.FindItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if items[id] == nil {
			return nil, &NotFoundError{Resource: "item", ID: id}
		}
	}
	return items, nil
}

// recomputeTotal derives the delivery's total from its final line items:
// sum of unit price x quantity, zero for an empty map. Called after every
// mutation, never cached across one.
func recomputeTotal(ctx context.Context, tx Store, d *Delivery) error {
	items, err := resolveItems(ctx, tx, d.Items)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for id, qty := range d.Items {
		total = total.Add(items[id].Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	d.TotalPrice = total
	return nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
