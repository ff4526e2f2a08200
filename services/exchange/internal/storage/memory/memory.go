// Package memory is an in-process storage.Store for local runs and tests.
// All access is serialized by one mutex. A transaction writes to the live
// state under that mutex and journals the previous value of every row it
// touches; rollback replays the journal, so cost follows the rows written.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type balanceKey struct {
	user   uuid.UUID
	ticker string
}

type state struct {
	users       map[uuid.UUID]storage.User
	instruments map[string]storage.Instrument
	balances    map[balanceKey]int64
	orders      map[uuid.UUID]storage.Order
	trades      []storage.Transaction
}

func newState() *state {
	return &state{
		users:       make(map[uuid.UUID]storage.User),
		instruments: make(map[string]storage.Instrument),
		balances:    make(map[balanceKey]int64),
		orders:      make(map[uuid.UUID]storage.Order),
	}
}

type Store struct {
	mu    sync.Mutex
	st    *state
	now   func() time.Time
	last  time.Time
	hooks Hooks
}

// Hooks let tests inject failures at commit time.
type Hooks struct {
	BeforeCommit func(ctx context.Context) error
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithHooks(h Hooks) Option {
	return func(s *Store) { s.hooks = h }
}

func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHooks replaces the commit hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// stamp returns a strictly increasing UTC timestamp. Caller holds mu.
func (s *Store) stamp() time.Time {
	ts := s.now().UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts
	return ts
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, st: s.st, trades: len(s.st.trades)}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.hooks.BeforeCommit != nil {
		if err := s.hooks.BeforeCommit(ctx); err != nil {
			return err
		}
	}
	committed = true
	return nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (*storage.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.st.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &order, nil
}

func (s *Store) ListOrders(_ context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, string, error) {
	limit := storage.ClampLimit(filter.Limit)

	var after time.Time
	var afterID uuid.UUID
	if filter.Cursor != "" {
		ts, id, err := storage.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", err
		}
		after, afterID = ts, id
	}

	s.mu.Lock()
	var orders []storage.Order
	for _, o := range s.st.orders {
		if o.UserID != userID {
			continue
		}
		if filter.ActiveOnly && o.Status != storage.StatusNew {
			continue
		}
		if filter.Cursor != "" && !afterKey(o, after, afterID) {
			continue
		}
		orders = append(orders, o)
	}
	s.mu.Unlock()

	sortByCreated(orders)

	var next string
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[limit-1]
		next = storage.EncodeCursor(last.CreatedAt, last.ID)
	}
	return orders, next, nil
}

func (s *Store) RestingOrders(_ context.Context, ticker string) ([]storage.Order, error) {
	s.mu.Lock()
	var orders []storage.Order
	for _, o := range s.st.orders {
		if o.Ticker == ticker && o.Resting() {
			orders = append(orders, o)
		}
	}
	s.mu.Unlock()

	sortByCreated(orders)
	return orders, nil
}

func (s *Store) TransactionHistory(_ context.Context, ticker string, limit int) ([]storage.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var trades []storage.Transaction
	for i := len(s.st.trades) - 1; i >= 0 && len(trades) < limit; i-- {
		if s.st.trades[i].Ticker == ticker {
			trades = append(trades, s.st.trades[i])
		}
	}
	return trades, nil
}

func (s *Store) Balances(_ context.Context, userID uuid.UUID) ([]storage.Balance, error) {
	s.mu.Lock()
	var balances []storage.Balance
	for k, amount := range s.st.balances {
		if k.user == userID {
			balances = append(balances, storage.Balance{UserID: k.user, Ticker: k.ticker, Amount: amount})
		}
	}
	s.mu.Unlock()

	sort.Slice(balances, func(i, j int) bool { return balances[i].Ticker < balances[j].Ticker })
	return balances, nil
}

func (s *Store) ListInstruments(_ context.Context) ([]storage.Instrument, error) {
	s.mu.Lock()
	var instruments []storage.Instrument
	for _, inst := range s.st.instruments {
		if inst.Active {
			instruments = append(instruments, inst)
		}
	}
	s.mu.Unlock()

	sort.Slice(instruments, func(i, j int) bool { return instruments[i].Ticker < instruments[j].Ticker })
	return instruments, nil
}

func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.users[user.ID]; ok {
		return storage.ErrConflict
	}
	for _, u := range s.st.users {
		if u.APIKeyPrefix == user.APIKeyPrefix {
			return storage.ErrConflict
		}
	}
	user.CreatedAt = s.stamp()
	s.st.users[user.ID] = *user
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.st.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByKeyPrefix(_ context.Context, prefix string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.st.users {
		if u.APIKeyPrefix == prefix {
			user := u
			return &user, nil
		}
	}
	return nil, storage.ErrNotFound
}

// DeleteUser removes the user with its balances and orders, like the
// cascading foreign keys of the SQL schema. Trades are kept.
func (s *Store) DeleteUser(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.st.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.st.users, id)
	for k := range s.st.balances {
		if k.user == id {
			delete(s.st.balances, k)
		}
	}
	for oid, o := range s.st.orders {
		if o.UserID == id {
			delete(s.st.orders, oid)
		}
	}
	return &user, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

type memTx struct {
	store  *Store
	st     *state
	undo   []func()
	trades int
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.st.trades = t.st.trades[:t.trades]
}

func (t *memTx) putInstrument(inst storage.Instrument) {
	prev, had := t.st.instruments[inst.Ticker]
	t.undo = append(t.undo, func() {
		if had {
			t.st.instruments[inst.Ticker] = prev
		} else {
			delete(t.st.instruments, inst.Ticker)
		}
	})
	t.st.instruments[inst.Ticker] = inst
}

func (t *memTx) putOrder(order storage.Order) {
	prev, had := t.st.orders[order.ID]
	t.undo = append(t.undo, func() {
		if had {
			t.st.orders[order.ID] = prev
		} else {
			delete(t.st.orders, order.ID)
		}
	})
	t.st.orders[order.ID] = order
}

func (t *memTx) putBalance(key balanceKey, amount int64) {
	prev, had := t.st.balances[key]
	t.undo = append(t.undo, func() {
		if had {
			t.st.balances[key] = prev
		} else {
			delete(t.st.balances, key)
		}
	})
	t.st.balances[key] = amount
}

// LockBook is a no-op: the store mutex already serializes transactions.
func (t *memTx) LockBook(context.Context, string) error { return nil }

func (t *memTx) InstrumentActive(_ context.Context, ticker string) (bool, error) {
	inst, ok := t.st.instruments[ticker]
	return ok && inst.Active, nil
}

func (t *memTx) InstrumentExists(_ context.Context, ticker string) (bool, error) {
	_, ok := t.st.instruments[ticker]
	return ok, nil
}

func (t *memTx) GetInstrumentForUpdate(_ context.Context, ticker string) (*storage.Instrument, error) {
	inst, ok := t.st.instruments[ticker]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &inst, nil
}

func (t *memTx) InsertInstrument(_ context.Context, inst storage.Instrument) error {
	if _, ok := t.st.instruments[inst.Ticker]; ok {
		return storage.ErrConflict
	}
	inst.CreatedAt = t.store.stamp()
	t.putInstrument(inst)
	return nil
}

func (t *memTx) UpdateInstrument(_ context.Context, inst storage.Instrument) error {
	existing, ok := t.st.instruments[inst.Ticker]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Name = inst.Name
	existing.Active = inst.Active
	t.putInstrument(existing)
	return nil
}

func (t *memTx) UserExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := t.st.users[id]
	return ok, nil
}

func (t *memTx) InsertOrder(_ context.Context, order *storage.Order) error {
	if _, ok := t.st.orders[order.ID]; ok {
		return storage.ErrConflict
	}
	ts := t.store.stamp()
	order.CreatedAt = ts
	order.UpdatedAt = ts
	t.putOrder(*order)
	return nil
}

func (t *memTx) GetOrderForUpdate(_ context.Context, id uuid.UUID) (*storage.Order, error) {
	order, ok := t.st.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &order, nil
}

func (t *memTx) UpdateOrder(_ context.Context, order *storage.Order) error {
	existing, ok := t.st.orders[order.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Filled = order.Filled
	existing.Status = order.Status
	existing.UpdatedAt = t.store.stamp()
	order.UpdatedAt = existing.UpdatedAt
	t.putOrder(existing)
	return nil
}

func (t *memTx) RestingCounterOrders(_ context.Context, q storage.CounterQuery) ([]storage.Order, error) {
	var counters []storage.Order
	for _, o := range t.st.orders {
		if q.Eligible(o) {
			counters = append(counters, o)
		}
	}
	storage.SortCounters(counters, q.Incoming)
	if q.Limit > 0 && len(counters) > q.Limit {
		counters = counters[:q.Limit]
	}
	return counters, nil
}

func (t *memTx) GetBalanceForUpdate(ctx context.Context, userID uuid.UUID, ticker string) (int64, bool, error) {
	return t.GetBalance(ctx, userID, ticker)
}

func (t *memTx) GetBalance(_ context.Context, userID uuid.UUID, ticker string) (int64, bool, error) {
	amount, ok := t.st.balances[balanceKey{user: userID, ticker: ticker}]
	return amount, ok, nil
}

func (t *memTx) AddBalance(_ context.Context, userID uuid.UUID, ticker string, delta int64) error {
	if _, ok := t.st.users[userID]; !ok {
		return storage.ErrNotFound
	}
	key := balanceKey{user: userID, ticker: ticker}
	next := t.st.balances[key] + delta
	if next < 0 {
		return storage.ErrInsufficientFunds
	}
	t.putBalance(key, next)
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, trade *storage.Transaction) error {
	if trade.BuyerID == trade.SellerID {
		return storage.ErrInvalidState
	}
	trade.CreatedAt = t.store.stamp()
	t.st.trades = append(t.st.trades, *trade)
	return nil
}

func sortByCreated(orders []storage.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID.String() < orders[j].ID.String()
	})
}

func afterKey(o storage.Order, ts time.Time, id uuid.UUID) bool {
	if o.CreatedAt.After(ts) {
		return true
	}
	return o.CreatedAt.Equal(ts) && o.ID.String() > id.String()
}

var _ storage.Store = (*Store)(nil)
