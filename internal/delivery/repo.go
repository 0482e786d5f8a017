package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore is the Postgres-backed Store. Inside a transaction item reads
// take row locks (FOR UPDATE) so concurrent writers against the same item
// serialize; plain reads outside a transaction take no lock.
type PgStore struct {
	q    querier
	inTx bool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{q: db}
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	db, ok := s.q.(*pgxpool.Pool)
	if !ok {
		return errors.New("nested transactions are not supported")
	}
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgStore{q: tx, inTx: true}); err != nil {
		return err // rollback via defer
	}
	return tx.Commit(ctx)
}

func (s *PgStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.q.QueryRow(ctx, `SELECT id, name FROM users WHERE id=$1`, id).Scan(&u.ID, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PgStore) SaveUser(ctx context.Context, u *User) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO users(id, name) VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name`, u.ID, u.Name)
	return err
}

func (s *PgStore) FindWarehouseByID(ctx context.Context, id string) (*Warehouse, error) {
	return s.scanWarehouse(s.q.QueryRow(ctx,
		`SELECT id, name, COALESCE(user_id,'') FROM warehouses WHERE id=$1`, id))
}

func (s *PgStore) FindWarehouseByUserID(ctx context.Context, userID string) (*Warehouse, error) {
	return s.scanWarehouse(s.q.QueryRow(ctx,
		`SELECT id, name, COALESCE(user_id,'') FROM warehouses WHERE user_id=$1 LIMIT 1`, userID))
}

func (s *PgStore) scanWarehouse(row pgx.Row) (*Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Name, &w.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PgStore) SaveWarehouse(ctx context.Context, w *Warehouse) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO warehouses(id, name, user_id) VALUES ($1,$2,NULLIF($3,''))
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, user_id=EXCLUDED.user_id`,
		w.ID, w.Name, w.UserID)
	return err
}

func (s *PgStore) DeleteWarehouse(ctx context.Context, id string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM warehouses WHERE id=$1`, id)
	return err
}

const itemCols = `id, sku, name, price::text, stock, COALESCE(warehouse_id,''), created_at, updated_at`

func (s *PgStore) FindItemByID(ctx context.Context, id string) (*Item, error) {
	q := `SELECT ` + itemCols + ` FROM items WHERE id=$1`
	if s.inTx {
		q += ` FOR UPDATE`
	}
	it, err := scanItem(s.q.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (s *PgStore) FindItemsByIDs(ctx context.Context, ids []string) (map[string]*Item, error) {
	out := make(map[string]*Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids))
	params := ""
	for i, id := range ids {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	q := `SELECT ` + itemCols + ` FROM items WHERE id IN (` + params + `) ORDER BY id`
	if s.inTx {
		q += ` FOR UPDATE`
	}
	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

func (s *PgStore) FindItemsByWarehouseID(ctx context.Context, warehouseID string) ([]Item, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+itemCols+` FROM items WHERE warehouse_id=$1 ORDER BY sku`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PgStore) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := s.q.Query(ctx, `SELECT `+itemCols+` FROM items ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *PgStore) SaveItem(ctx context.Context, it *Item) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO items(id, sku, name, price, stock, warehouse_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4::numeric,$5,NULLIF($6,''),$7,now())
		ON CONFLICT (id) DO UPDATE SET
			sku=EXCLUDED.sku, name=EXCLUDED.name, price=EXCLUDED.price,
			stock=EXCLUDED.stock, warehouse_id=EXCLUDED.warehouse_id, updated_at=now()`,
		it.ID, it.SKU, it.Name, it.Price.String(), it.Stock, it.WarehouseID, orNow(it.CreatedAt))
	return err
}

func (s *PgStore) FindDeliveryByID(ctx context.Context, id string) (*Delivery, error) {
	var (
		d       Delivery
		date    *time.Time
		totalTx string
	)
	q := `SELECT id, COALESCE(user_id,''), COALESCE(warehouse_id,''), status,
	             delivery_date, total_price::text, created_at, updated_at
	      FROM deliveries WHERE id=$1`
	if s.inTx {
		q += ` FOR UPDATE`
	}
	err := s.q.QueryRow(ctx, q, id).Scan(
		&d.ID, &d.UserID, &d.WarehouseID, &d.Status, &date, &totalTx, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if date != nil {
		d.DeliveryDate = *date
	}
	if d.TotalPrice, err = decimal.NewFromString(totalTx); err != nil {
		return nil, fmt.Errorf("delivery %s: bad total: %w", id, err)
	}

	d.Items = map[string]int{}
	rows, err := s.q.Query(ctx, `SELECT item_id, qty FROM delivery_items WHERE delivery_id=$1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		d.Items[itemID] = qty
	}
	return &d, rows.Err()
}

// SaveDelivery upserts the header row and rewrites the line items. Caller
// is expected to be inside WithinTx for anything beyond a header touch.
func (s *PgStore) SaveDelivery(ctx context.Context, d *Delivery) error {
	var date any
	if !d.DeliveryDate.IsZero() {
		date = d.DeliveryDate
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO deliveries(id, user_id, warehouse_id, status, delivery_date, total_price, created_at, updated_at)
		VALUES ($1,NULLIF($2,''),NULLIF($3,''),$4,$5,$6::numeric,$7,now())
		ON CONFLICT (id) DO UPDATE SET
			user_id=EXCLUDED.user_id, warehouse_id=EXCLUDED.warehouse_id,
			status=EXCLUDED.status, delivery_date=EXCLUDED.delivery_date,
			total_price=EXCLUDED.total_price, updated_at=now()`,
		d.ID, d.UserID, d.WarehouseID, d.Status, date, d.TotalPrice.String(), orNow(d.CreatedAt))
	if err != nil {
		return err
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM delivery_items WHERE delivery_id=$1`, d.ID); err != nil {
		return err
	}
	for itemID, qty := range d.Items {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO delivery_items(delivery_id, item_id, qty) VALUES ($1,$2,$3)`,
			d.ID, itemID, qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *PgStore) DeleteDelivery(ctx context.Context, id string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM delivery_items WHERE delivery_id=$1`, id); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx, `DELETE FROM deliveries WHERE id=$1`, id)
	return err
}

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	var price string
	if err := row.Scan(&it.ID, &it.SKU, &it.Name, &price, &it.Stock,
		&it.WarehouseID, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if it.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("item %s: bad price: %w", it.ID, err)
	}
	return &it, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
