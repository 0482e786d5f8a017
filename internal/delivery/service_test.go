package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fixture: user u1 owns warehouse w1; items a (2.50 x10) and b (4.00 x5).
func newFixture(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	ctx := context.Background()
	st := NewMemStore()
	require.NoError(t, st.SaveUser(ctx, &User{ID: "u1", Name: "Mira"}))
	require.NoError(t, st.SaveWarehouse(ctx, &Warehouse{ID: "w1", Name: "central", UserID: "u1"}))
	seedItem(t, st, "a", "2.50", 10)
	seedItem(t, st, "b", "4.00", 5)
	return &Service{Store: st}, st
}

func stockOf(t *testing.T, st *MemStore, id string) int {
	t.Helper()
	it, err := st.FindItemByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, it)
	return it.Stock
}

func placeWith(t *testing.T, svc *Service, items map[string]int) *Delivery {
	t.Helper()
	ctx := context.Background()
	d, err := svc.Place(ctx, "u1")
	require.NoError(t, err)
	for id, qty := range items {
		d, err = svc.AddItem(ctx, d.ID, id, qty)
		require.NoError(t, err)
	}
	return d
}

func TestPlace(t *testing.T) {
	svc, _ := newFixture(t)

	d, err := svc.Place(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", d.UserID)
	require.Equal(t, "w1", d.WarehouseID)
	require.Equal(t, StatusPending, d.Status)
	require.Empty(t, d.Items)
	require.True(t, d.TotalPrice.IsZero())
}

func TestPlaceUnknownUser(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.Place(context.Background(), "nobody")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "user", nf.Resource)
}

func TestPlaceUserWithoutWarehouse(t *testing.T) {
	svc, st := newFixture(t)
	require.NoError(t, st.SaveUser(context.Background(), &User{ID: "u2"}))

	_, err := svc.Place(context.Background(), "u2")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "warehouse", nf.Resource)
}

func TestAddItemReservesStock(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 4})

	require.Equal(t, 6, stockOf(t, st, "a"))
	require.Equal(t, map[string]int{"a": 4}, d.Items)
	require.True(t, d.TotalPrice.Equal(decimal.RequireFromString("10.00")), d.TotalPrice.String())
}

func TestAddItemIdempotent(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 4})

	again, err := svc.AddItem(context.Background(), d.ID, "a", 4)
	require.NoError(t, err)
	require.Equal(t, 6, stockOf(t, st, "a"))
	require.Equal(t, map[string]int{"a": 4}, again.Items)
	require.True(t, again.TotalPrice.Equal(d.TotalPrice))
}

func TestAddItemOverwritesQuantity(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 5})
	require.Equal(t, 5, stockOf(t, st, "a"))

	// lowering the reservation returns the difference to stock
	d, err := svc.AddItem(context.Background(), d.ID, "a", 2)
	require.NoError(t, err)
	require.Equal(t, 8, stockOf(t, st, "a"))
	require.Equal(t, map[string]int{"a": 2}, d.Items)
	require.True(t, d.TotalPrice.Equal(decimal.RequireFromString("5.00")))
}

func TestAddItemInsufficientStock(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, nil)

	_, err := svc.AddItem(context.Background(), d.ID, "b", 6)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	require.Equal(t, "b", ise.ItemID)
	require.Equal(t, 5, ise.Available)
	require.Equal(t, 6, ise.Requested)

	// stock and delivery unchanged
	require.Equal(t, 5, stockOf(t, st, "b"))
	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)
}

func TestAddItemInvalidQuantity(t *testing.T) {
	svc, _ := newFixture(t)
	d := placeWith(t, svc, nil)

	_, err := svc.AddItem(context.Background(), d.ID, "a", 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.AddItem(context.Background(), d.ID, "a", -1)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAddItemUnknownItem(t *testing.T) {
	svc, _ := newFixture(t)
	d := placeWith(t, svc, nil)

	_, err := svc.AddItem(context.Background(), d.ID, "zzz", 1)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "item", nf.Resource)
}

func TestAddItemUnknownDelivery(t *testing.T) {
	svc, _ := newFixture(t)

	_, err := svc.AddItem(context.Background(), "missing", "a", 1)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "delivery", nf.Resource)
}

func TestUpdateDiffReleasesDroppedItems(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2, "b": 3})
	require.Equal(t, 8, stockOf(t, st, "a"))
	require.Equal(t, 2, stockOf(t, st, "b"))

	// b absent from the request -> fully released; a moves 2 -> 4
	d, err := svc.Update(context.Background(), d.ID, UpdateRequest{Items: map[string]int{"a": 4}})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 4}, d.Items)
	require.Equal(t, 6, stockOf(t, st, "a"))
	require.Equal(t, 5, stockOf(t, st, "b"))
	require.True(t, d.TotalPrice.Equal(decimal.RequireFromString("10.00")))
}

func TestUpdateZeroQuantityRemovesLine(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2, "b": 3})

	d, err := svc.Update(context.Background(), d.ID, UpdateRequest{Items: map[string]int{"a": 0, "b": 3}})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"b": 3}, d.Items)
	require.Equal(t, 10, stockOf(t, st, "a"))
	require.True(t, d.TotalPrice.Equal(decimal.RequireFromString("12.00")))
}

func TestUpdateNilItemsLeavesLinesAlone(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2})

	status := StatusCompleted
	d, err := svc.Update(context.Background(), d.ID, UpdateRequest{Status: &status})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, d.Status)
	require.Equal(t, map[string]int{"a": 2}, d.Items)
	require.Equal(t, 8, stockOf(t, st, "a"))
	// header fields not in the request stay put
	require.Equal(t, "u1", d.UserID)
	require.Equal(t, "w1", d.WarehouseID)
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	svc, _ := newFixture(t)
	d := placeWith(t, svc, nil)

	done := StatusCompleted
	_, err := svc.Update(context.Background(), d.ID, UpdateRequest{Status: &done})
	require.NoError(t, err)

	back := StatusPending
	_, err = svc.Update(context.Background(), d.ID, UpdateRequest{Status: &back})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateUnknownItemRollsBack(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2})

	_, err := svc.Update(context.Background(), d.ID, UpdateRequest{Items: map[string]int{"a": 5, "zzz": 1}})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "item", nf.Resource)
	require.Equal(t, "zzz", nf.ID)

	// nothing moved
	require.Equal(t, 8, stockOf(t, st, "a"))
	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 2}, got.Items)
}

// itemBatchSpy records the id sets handed to FindItemsByIDs so tests
// can check how row locks would be acquired.
type itemBatchSpy struct {
	Store
	batches [][]string
}

func (s *itemBatchSpy) FindItemsByIDs(ctx context.Context, ids []string) (map[string]*Item, error) {
	s.batches = append(s.batches, append([]string(nil), ids...))
	return s.Store.FindItemsByIDs(ctx, ids)
}

// A diff update touches dropped, kept, and new items; their rows must be
// locked in one globally sorted batch, not phase by phase, or two
// concurrent updates on overlapping deliveries can deadlock.
func TestUpdateLocksItemUnionInOneSortedBatch(t *testing.T) {
	svc, st := newFixture(t)
	seedItem(t, st, "c", "1.00", 4)
	d := placeWith(t, svc, map[string]int{"b": 1, "c": 2})

	spy := &itemBatchSpy{Store: st}
	require.NoError(t, mergeItems(context.Background(), spy, d, map[string]int{"a": 3, "c": 1}))

	require.Len(t, spy.batches, 1)
	require.Equal(t, []string{"a", "b", "c"}, spy.batches[0])

	require.Equal(t, map[string]int{"a": 3, "c": 1}, d.Items)
	require.Equal(t, 7, stockOf(t, st, "a"))
	require.Equal(t, 5, stockOf(t, st, "b"))
	require.Equal(t, 3, stockOf(t, st, "c"))
}

func TestUpdateInsufficientStockRollsBack(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 1})

	// ids are processed in sorted order: a succeeds, then b fails; the
	// whole transaction must be discarded.
	_, err := svc.Update(context.Background(), d.ID, UpdateRequest{Items: map[string]int{"a": 2, "b": 100}})
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	require.Equal(t, "b", ise.ItemID)

	require.Equal(t, 9, stockOf(t, st, "a"))
	require.Equal(t, 5, stockOf(t, st, "b"))
	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 1}, got.Items)
	require.True(t, got.TotalPrice.Equal(decimal.RequireFromString("2.50")))
}

func TestOverwriteRebuildsReservations(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2, "b": 3})

	user := "u1"
	wh := "w1"
	d, err := svc.Overwrite(context.Background(), d.ID, UpdateRequest{
		UserID:      &user,
		WarehouseID: &wh,
		Items:       map[string]int{"a": 5},
	})
	require.NoError(t, err)

	// b's 3 units come back, a moves net -3 (2 released, 5 consumed)
	require.Equal(t, map[string]int{"a": 5}, d.Items)
	require.Equal(t, 5, stockOf(t, st, "a"))
	require.Equal(t, 5, stockOf(t, st, "b"))
	require.True(t, d.TotalPrice.Equal(decimal.RequireFromString("12.50")))
}

func TestOverwriteEmptyClearsEverything(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2, "b": 3})

	d, err := svc.Overwrite(context.Background(), d.ID, UpdateRequest{})
	require.NoError(t, err)
	require.Empty(t, d.Items)
	require.True(t, d.TotalPrice.IsZero())
	require.Equal(t, 10, stockOf(t, st, "a"))
	require.Equal(t, 5, stockOf(t, st, "b"))
}

func TestOverwriteClearsOmittedHeaderFields(t *testing.T) {
	svc, _ := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2})

	d, err := svc.Overwrite(context.Background(), d.ID, UpdateRequest{Items: map[string]int{"a": 1}})
	require.NoError(t, err)
	require.Equal(t, "", d.UserID)
	require.Equal(t, "", d.WarehouseID)
	require.True(t, d.DeliveryDate.IsZero())
	require.Equal(t, StatusPending, d.Status)
}

func TestOverwriteKeepsProvidedHeaderFields(t *testing.T) {
	svc, _ := newFixture(t)
	d := placeWith(t, svc, nil)

	user := "u1"
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	status := StatusCancelled
	d, err := svc.Overwrite(context.Background(), d.ID, UpdateRequest{
		UserID:       &user,
		DeliveryDate: &date,
		Status:       &status,
	})
	require.NoError(t, err)
	require.Equal(t, "u1", d.UserID)
	require.Equal(t, date, d.DeliveryDate)
	require.Equal(t, StatusCancelled, d.Status)
}

func TestOverwriteInsufficientStockRollsBack(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2})

	_, err := svc.Overwrite(context.Background(), d.ID, UpdateRequest{Items: map[string]int{"b": 100}})
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)

	// the release of a must be rolled back together with the failure
	require.Equal(t, 8, stockOf(t, st, "a"))
	require.Equal(t, 5, stockOf(t, st, "b"))
	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 2}, got.Items)
}

func TestDeleteReleasesAll(t *testing.T) {
	svc, st := newFixture(t)
	d := placeWith(t, svc, map[string]int{"a": 2, "b": 1})
	require.Equal(t, 8, stockOf(t, st, "a"))
	require.Equal(t, 4, stockOf(t, st, "b"))

	require.NoError(t, svc.Delete(context.Background(), d.ID))
	require.Equal(t, 10, stockOf(t, st, "a"))
	require.Equal(t, 5, stockOf(t, st, "b"))

	_, err := svc.Get(context.Background(), d.ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestDeleteUnknownDelivery(t *testing.T) {
	svc, _ := newFixture(t)

	err := svc.Delete(context.Background(), "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

// Conservation: at every observation point, reserved + remaining stock
// equals the stock that existed before any reservation.
func TestConservationAcrossProtocols(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	const initial = 10

	check := func(d *Delivery) {
		got, err := svc.Get(ctx, d.ID)
		require.NoError(t, err)
		require.Equal(t, initial, stockOf(t, st, "a")+got.Quantity("a"))
	}

	d := placeWith(t, svc, nil)
	check(d)

	d, err := svc.AddItem(ctx, d.ID, "a", 7)
	require.NoError(t, err)
	check(d)

	d, err = svc.AddItem(ctx, d.ID, "a", 3)
	require.NoError(t, err)
	check(d)

	d, err = svc.Update(ctx, d.ID, UpdateRequest{Items: map[string]int{"a": 6}})
	require.NoError(t, err)
	check(d)

	d, err = svc.Overwrite(ctx, d.ID, UpdateRequest{Items: map[string]int{"a": 9}})
	require.NoError(t, err)
	check(d)

	require.NoError(t, svc.Delete(ctx, d.ID))
	require.Equal(t, initial, stockOf(t, st, "a"))
}

// Price consistency: the stored total always equals the sum over the
// final mapping, recomputed from unit prices.
func TestTotalPriceTracksMapping(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()

	expect := func(d *Delivery) {
		want := decimal.Zero
		for id, qty := range d.Items {
			it, err := st.FindItemByID(ctx, id)
			require.NoError(t, err)
			want = want.Add(it.Price.Mul(decimal.NewFromInt(int64(qty))))
		}
		require.True(t, d.TotalPrice.Equal(want), "total %s want %s", d.TotalPrice, want)
	}

	d := placeWith(t, svc, map[string]int{"a": 3, "b": 2})
	expect(d)

	d, err := svc.Update(ctx, d.ID, UpdateRequest{Items: map[string]int{"a": 1, "b": 5}})
	require.NoError(t, err)
	expect(d)

	d, err = svc.Overwrite(ctx, d.ID, UpdateRequest{Items: map[string]int{"b": 4}})
	require.NoError(t, err)
	expect(d)
}

func TestDTOProjection(t *testing.T) {
	svc, _ := newFixture(t)
	d := placeWith(t, svc, map[string]int{"b": 2, "a": 1})

	dto := d.DTO()
	require.Equal(t, d.ID, dto.ID)
	require.Equal(t, "u1", dto.UserID)
	require.Equal(t, "w1", dto.WarehouseID)
	require.Equal(t, []string{"a", "b"}, dto.ItemIDs)
	require.True(t, dto.TotalPrice.Equal(d.TotalPrice))
	require.NotNil(t, dto.DeliveryDate)
}
