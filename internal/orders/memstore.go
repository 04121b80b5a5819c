package orders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store. Units of work read committed state
// and stage their writes; commit re-validates every optimistic check
// under one lock, so concurrent callers see the same conflicts they
// would see against Postgres.
type MemStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]Product
	txs      map[uuid.UUID]Transaction
	orders   map[uuid.UUID]Order
	buyers   map[uuid.UUID]Buyer
	carts    map[uuid.UUID]map[uuid.UUID]int

	hookMu       sync.Mutex
	beforeCommit func()
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: map[uuid.UUID]Product{},
		txs:      map[uuid.UUID]Transaction{},
		orders:   map[uuid.UUID]Order{},
		buyers:   map[uuid.UUID]Buyer{},
		carts:    map[uuid.UUID]map[uuid.UUID]int{},
	}
}

func (s *MemStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemStore) PutBuyer(b Buyer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyers[b.ID] = b
}

func (s *MemStore) AddToCart(buyerID, productID uuid.UUID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carts[buyerID] == nil {
		s.carts[buyerID] = map[uuid.UUID]int{}
	}
	s.carts[buyerID][productID] += count
}

func (s *MemStore) Product(id uuid.UUID) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *MemStore) CommittedTransaction(id uuid.UUID) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	return t, ok
}

func (s *MemStore) CartSize(buyerID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts[buyerID])
}

func (s *MemStore) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

// InjectBeforeCommit runs fn once, right before the next unit of work
// validates. fn may itself use the store.
func (s *MemStore) InjectBeforeCommit(fn func()) {
	s.hookMu.Lock()
	s.beforeCommit = fn
	s.hookMu.Unlock()
}

func (s *MemStore) takeHook() func() {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	h := s.beforeCommit
	s.beforeCommit = nil
	return h
}

func (s *MemStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:           s,
		products:    map[uuid.UUID]Product{},
		productBase: map[uuid.UUID]int64{},
		newTxs:      map[uuid.UUID]Transaction{},
		claims:      map[uuid.UUID]memClaim{},
		sessions:    map[uuid.UUID]string{},
		orderSets:   map[uuid.UUID]memOrderSet{},
		clearCarts:  map[uuid.UUID]bool{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if h := s.takeHook(); h != nil {
		h()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := tx.validate(); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type memClaim struct{ from, to TxStatus }

type memOrderSet struct{ from, to OrderStatus }

type memTx struct {
	s *MemStore

	products    map[uuid.UUID]Product
	productBase map[uuid.UUID]int64
	newTxs      map[uuid.UUID]Transaction
	newOrders   []Order
	claims      map[uuid.UUID]memClaim
	sessions    map[uuid.UUID]string
	orderSets   map[uuid.UUID]memOrderSet
	clearCarts  map[uuid.UUID]bool
}

func (t *memTx) Products(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	t.s.mu.Lock()
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			out[id] = p
		}
	}
	t.s.mu.Unlock()
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) SaveProductCounters(ctx context.Context, p Product) error {
	cur, err := t.Products(ctx, []uuid.UUID{p.ID})
	if err != nil {
		return err
	}
	c, ok := cur[p.ID]
	if !ok {
		return &ProductNotFoundError{ProductID: p.ID}
	}
	if c.Version != p.Version {
		return ErrVersionConflict
	}
	if _, staged := t.productBase[p.ID]; !staged {
		t.productBase[p.ID] = c.Version
	}
	c.CountInStock = p.CountInStock
	c.ReservedCount = p.ReservedCount
	c.Version++
	t.products[p.ID] = c
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, tr Transaction, lines []Order) error {
	if _, err := t.Transaction(context.Background(), tr.ID); err == nil {
		return fmt.Errorf("transaction %s already exists", tr.ID)
	}
	t.newTxs[tr.ID] = tr
	t.newOrders = append(t.newOrders, lines...)
	return nil
}

func (t *memTx) Transaction(_ context.Context, id uuid.UUID) (Transaction, error) {
	tr, ok := t.newTxs[id]
	if !ok {
		t.s.mu.Lock()
		tr, ok = t.s.txs[id]
		t.s.mu.Unlock()
	}
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if c, ok := t.claims[id]; ok {
		tr.Status = c.to
	}
	if sid, ok := t.sessions[id]; ok {
		tr.ExternalSessionID = sid
	}
	return tr, nil
}

func (t *memTx) TransactionBySession(ctx context.Context, sessionID string) (Transaction, error) {
	for id, sid := range t.sessions {
		if sid == sessionID {
			return t.Transaction(ctx, id)
		}
	}
	var found uuid.UUID
	t.s.mu.Lock()
	for id, tr := range t.s.txs {
		if tr.ExternalSessionID == sessionID && sessionID != "" {
			found = id
			break
		}
	}
	t.s.mu.Unlock()
	if found == uuid.Nil {
		return Transaction{}, ErrNotFound
	}
	return t.Transaction(ctx, found)
}

func (t *memTx) ClaimTransaction(ctx context.Context, id uuid.UUID, from, to TxStatus) (bool, error) {
	tr, err := t.Transaction(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if tr.Status != from {
		return false, nil
	}
	c, ok := t.claims[id]
	if !ok {
		c.from = from
	}
	c.to = to
	t.claims[id] = c
	return true, nil
}

func (t *memTx) SetExternalSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	if _, err := t.Transaction(ctx, id); err != nil {
		return err
	}
	t.sessions[id] = sessionID
	return nil
}

func (t *memTx) StaleTransactions(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	floor := IDFloor(cutoff)
	var out []uuid.UUID
	t.s.mu.Lock()
	for id, tr := range t.s.txs {
		if tr.Status == TxProcessing && bytes.Compare(id[:], floor[:]) < 0 {
			out = append(out, id)
		}
	}
	t.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out, nil
}

func (t *memTx) Order(_ context.Context, id uuid.UUID) (Order, error) {
	var (
		o  Order
		ok bool
	)
	for _, n := range t.newOrders {
		if n.ID == id {
			o, ok = n, true
		}
	}
	if !ok {
		t.s.mu.Lock()
		o, ok = t.s.orders[id]
		t.s.mu.Unlock()
	}
	if !ok {
		return Order{}, ErrNotFound
	}
	if set, staged := t.orderSets[id]; staged {
		o.Status = set.to
	}
	return o, nil
}

func (t *memTx) OrdersByTransaction(ctx context.Context, txID uuid.UUID) ([]Order, error) {
	var ids []uuid.UUID
	t.s.mu.Lock()
	for id, o := range t.s.orders {
		if o.TransactionID == txID {
			ids = append(ids, id)
		}
	}
	t.s.mu.Unlock()
	for _, n := range t.newOrders {
		if n.TransactionID == txID {
			ids = append(ids, n.ID)
		}
	}
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := t.Order(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out, nil
}

func (t *memTx) SetOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) error {
	o, err := t.Order(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != from {
		return ErrVersionConflict
	}
	set, ok := t.orderSets[id]
	if !ok {
		set.from = from
	}
	set.to = to
	t.orderSets[id] = set
	return nil
}

func (t *memTx) Buyer(_ context.Context, id uuid.UUID) (Buyer, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	b, ok := t.s.buyers[id]
	if !ok {
		return Buyer{}, ErrNotFound
	}
	return b, nil
}

func (t *memTx) CartLines(ctx context.Context, buyerID uuid.UUID) ([]CartLine, error) {
	if t.clearCarts[buyerID] {
		return nil, nil
	}
	t.s.mu.Lock()
	counts := make(map[uuid.UUID]int, len(t.s.carts[buyerID]))
	ids := make([]uuid.UUID, 0, len(t.s.carts[buyerID]))
	for pid, n := range t.s.carts[buyerID] {
		counts[pid] = n
		ids = append(ids, pid)
	}
	t.s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	products, err := t.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]CartLine, 0, len(ids))
	for _, pid := range ids {
		p, ok := products[pid]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: pid}
		}
		out = append(out, CartLine{BuyerID: buyerID, Product: p, Count: counts[pid]})
	}
	return out, nil
}

func (t *memTx) ClearCart(_ context.Context, buyerID uuid.UUID) error {
	t.clearCarts[buyerID] = true
	return nil
}

// validate runs with s.mu held.
func (t *memTx) validate() error {
	for id, base := range t.productBase {
		cur, ok := t.s.products[id]
		if !ok || cur.Version != base {
			return ErrVersionConflict
		}
		p := t.products[id]
		if p.ReservedCount < 0 || p.ReservedCount > p.CountInStock {
			return fmt.Errorf("product %s: %w", id, ErrCheckViolation)
		}
	}
	for id := range t.newTxs {
		if _, exists := t.s.txs[id]; exists {
			return fmt.Errorf("transaction %s already exists", id)
		}
	}
	for id, c := range t.claims {
		if _, isNew := t.newTxs[id]; isNew {
			continue
		}
		cur, ok := t.s.txs[id]
		if !ok || cur.Status != c.from {
			return ErrVersionConflict
		}
	}
	for id, set := range t.orderSets {
		cur, ok := t.s.orders[id]
		if !ok {
			continue // created in this unit of work
		}
		if cur.Status != set.from {
			return ErrVersionConflict
		}
	}
	for id, sid := range t.sessions {
		for other, tr := range t.s.txs {
			if other != id && tr.ExternalSessionID == sid {
				return fmt.Errorf("session %s already linked to %s", sid, other)
			}
		}
	}
	return nil
}

func (t *memTx) apply() {
	for id, p := range t.products {
		t.s.products[id] = p
	}
	for id, tr := range t.newTxs {
		t.s.txs[id] = tr
	}
	for _, o := range t.newOrders {
		t.s.orders[o.ID] = o
	}
	for id, c := range t.claims {
		tr := t.s.txs[id]
		tr.Status = c.to
		t.s.txs[id] = tr
	}
	for id, sid := range t.sessions {
		tr := t.s.txs[id]
		tr.ExternalSessionID = sid
		t.s.txs[id] = tr
	}
	for id, set := range t.orderSets {
		o := t.s.orders[id]
		o.Status = set.to
		t.s.orders[id] = o
	}
	for buyerID := range t.clearCarts {
		delete(t.s.carts, buyerID)
	}
}
