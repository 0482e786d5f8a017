package delivery

import "context"

// AdjustStock applies a signed delta to an item's stock count and persists
// the item. Positive delta returns stock to the shelf, negative consumes
// it for a reservation. The only permitted path for stock mutation.
func AdjustStock(ctx context.Context, st Store, it *Item, delta int) error {
	if delta == 0 {
		return nil
	}
	next := it.Stock + delta
	if next < 0 {
		return &InsufficientStockError{ItemID: it.ID, Available: it.Stock, Requested: -delta}
	}
	it.Stock = next
	return st.SaveItem(ctx, it)
}
