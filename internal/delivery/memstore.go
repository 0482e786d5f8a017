package delivery

import (
	"context"
	"sort"
	"sync"
)

// MemStore keeps the whole dataset in maps guarded by one mutex. WithinTx
// runs against a deep copy and swaps it in on success, so a failed
// transaction leaves no partial mutation behind. Mirrors the rollback
// guarantees of PgStore closely enough for engine tests.
type MemStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	users      map[string]User
	warehouses map[string]Warehouse
	items      map[string]Item
	deliveries map[string]Delivery
}

func NewMemStore() *MemStore {
	return &MemStore{state: &memState{
		users:      map[string]User{},
		warehouses: map[string]Warehouse{},
		items:      map[string]Item{},
		deliveries: map[string]Delivery{},
	}}
}

func (s *MemStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *MemStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findUser(id), nil
}

func (s *MemStore) SaveUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = *u
	return nil
}

func (s *MemStore) FindWarehouseByID(ctx context.Context, id string) (*Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findWarehouse(id), nil
}

func (s *MemStore) FindWarehouseByUserID(ctx context.Context, userID string) (*Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findWarehouseByUser(userID), nil
}

func (s *MemStore) SaveWarehouse(ctx context.Context, w *Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.warehouses[w.ID] = *w
	return nil
}

func (s *MemStore) DeleteWarehouse(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.warehouses, id)
	return nil
}

func (s *MemStore) FindItemByID(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findItem(id), nil
}

func (s *MemStore) FindItemsByIDs(ctx context.Context, ids []string) (map[string]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findItems(ids), nil
}

func (s *MemStore) FindItemsByWarehouseID(ctx context.Context, warehouseID string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.itemsByWarehouse(warehouseID), nil
}

func (s *MemStore) ListItems(ctx context.Context) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listItems(), nil
}

func (s *MemStore) SaveItem(ctx context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.items[it.ID] = *it
	return nil
}

func (s *MemStore) FindDeliveryByID(ctx context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.findDelivery(id), nil
}

func (s *MemStore) SaveDelivery(ctx context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.saveDelivery(d)
	return nil
}

func (s *MemStore) DeleteDelivery(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.deliveries, id)
	return nil
}

// memTx is the transactional view handed to WithinTx callbacks. It writes
// straight into the cloned state; the clone is discarded on error.
type memTx struct{ state *memState }

func (t *memTx) FindUserByID(ctx context.Context, id string) (*User, error) {
	return t.state.findUser(id), nil
}
func (t *memTx) SaveUser(ctx context.Context, u *User) error {
	t.state.users[u.ID] = *u
	return nil
}
func (t *memTx) FindWarehouseByID(ctx context.Context, id string) (*Warehouse, error) {
	return t.state.findWarehouse(id), nil
}
func (t *memTx) FindWarehouseByUserID(ctx context.Context, userID string) (*Warehouse, error) {
	return t.state.findWarehouseByUser(userID), nil
}
func (t *memTx) SaveWarehouse(ctx context.Context, w *Warehouse) error {
	t.state.warehouses[w.ID] = *w
	return nil
}
func (t *memTx) DeleteWarehouse(ctx context.Context, id string) error {
	delete(t.state.warehouses, id)
	return nil
}
func (t *memTx) FindItemByID(ctx context.Context, id string) (*Item, error) {
	return t.state.findItem(id), nil
}
func (t *memTx) FindItemsByIDs(ctx context.Context, ids []string) (map[string]*Item, error) {
	return t.state.findItems(ids), nil
}
func (t *memTx) FindItemsByWarehouseID(ctx context.Context, warehouseID string) ([]Item, error) {
	return t.state.itemsByWarehouse(warehouseID), nil
}
func (t *memTx) ListItems(ctx context.Context) ([]Item, error) {
	return t.state.listItems(), nil
}
func (t *memTx) SaveItem(ctx context.Context, it *Item) error {
	t.state.items[it.ID] = *it
	return nil
}
func (t *memTx) FindDeliveryByID(ctx context.Context, id string) (*Delivery, error) {
	return t.state.findDelivery(id), nil
}
func (t *memTx) SaveDelivery(ctx context.Context, d *Delivery) error {
	t.state.saveDelivery(d)
	return nil
}
func (t *memTx) DeleteDelivery(ctx context.Context, id string) error {
	delete(t.state.deliveries, id)
	return nil
}

func (m *memState) clone() *memState {
	next := &memState{
		users:      make(map[string]User, len(m.users)),
		warehouses: make(map[string]Warehouse, len(m.warehouses)),
		items:      make(map[string]Item, len(m.items)),
		deliveries: make(map[string]Delivery, len(m.deliveries)),
	}
	for k, v := range m.users {
		next.users[k] = v
	}
	for k, v := range m.warehouses {
		next.warehouses[k] = v
	}
	for k, v := range m.items {
		next.items[k] = v
	}
	for k, v := range m.deliveries {
		v.Items = cloneQuantities(v.Items)
		next.deliveries[k] = v
	}
	return next
}

func (m *memState) findUser(id string) *User {
	if u, ok := m.users[id]; ok {
		return &u
	}
	return nil
}

func (m *memState) findWarehouse(id string) *Warehouse {
	if w, ok := m.warehouses[id]; ok {
		return &w
	}
	return nil
}

func (m *memState) findWarehouseByUser(userID string) *Warehouse {
	for _, w := range m.warehouses {
		if w.UserID == userID {
			wh := w
			return &wh
		}
	}
	return nil
}

func (m *memState) findItem(id string) *Item {
	if it, ok := m.items[id]; ok {
		return &it
	}
	return nil
}

func (m *memState) findItems(ids []string) map[string]*Item {
	out := make(map[string]*Item, len(ids))
	for _, id := range ids {
		if it := m.findItem(id); it != nil {
			out[id] = it
		}
	}
	return out
}

func (m *memState) itemsByWarehouse(warehouseID string) []Item {
	var out []Item
	for _, it := range m.items {
		if it.WarehouseID == warehouseID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

func (m *memState) listItems() []Item {
	out := make([]Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

func (m *memState) findDelivery(id string) *Delivery {
	d, ok := m.deliveries[id]
	if !ok {
		return nil
	}
	d.Items = cloneQuantities(d.Items)
	return &d
}

func (m *memState) saveDelivery(d *Delivery) {
	cp := *d
	cp.Items = cloneQuantities(d.Items)
	m.deliveries[d.ID] = cp
}

func cloneQuantities(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
