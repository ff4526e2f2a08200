package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/auth"
	"github.com/vvoyage/exchange-API-tochka/libs/logging"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/ledger"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/matching"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/orderbook"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage/memory"
)

type env struct {
	t           *testing.T
	ctx         context.Context
	store       *memory.Store
	orders      *OrderService
	balances    *BalanceService
	instruments *InstrumentService
	users       *UserService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	logger := logging.Discard()
	metrics := NewMetrics(nil)
	l := ledger.New(metrics)
	engine := matching.NewEngine(store, l, matching.NewLogSink(logger), logger, matching.NewMetrics(nil), 0)

	e := &env{
		t:           t,
		ctx:         context.Background(),
		store:       store,
		orders:      NewOrderService(store, engine, l, logger, metrics),
		balances:    NewBalanceService(store, l, logger, metrics),
		instruments: NewInstrumentService(store, logger, metrics),
		users:       NewUserService(store, "test", logger, metrics),
	}
	for _, ticker := range []string{ledger.QuoteTicker, "FOO"} {
		if _, err := e.instruments.Add(e.ctx, ticker, ticker); err != nil {
			t.Fatalf("add %s: %v", ticker, err)
		}
	}
	return e
}

func (e *env) user(name string, funds map[string]int64) uuid.UUID {
	e.t.Helper()
	u, _, err := e.users.Register(e.ctx, name)
	if err != nil {
		e.t.Fatalf("register: %v", err)
	}
	for ticker, amount := range funds {
		if err := e.balances.Deposit(e.ctx, u.ID, ticker, amount); err != nil {
			e.t.Fatalf("deposit: %v", err)
		}
	}
	return u.ID
}

func (e *env) limit(user uuid.UUID, dir storage.Direction, qty, price int64) (*storage.Order, error) {
	return e.orders.Place(e.ctx, PlaceOrderInput{UserID: user, Ticker: "FOO", Direction: dir, Qty: qty, Price: &price})
}

func TestPlaceFullFill(t *testing.T) {
	e := newEnv(t)
	a := e.user("alice", map[string]int64{"FOO": 10})
	b := e.user("bob", map[string]int64{ledger.QuoteTicker: 500})

	sell, err := e.limit(a, storage.Sell, 10, 50)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	buy, err := e.limit(b, storage.Buy, 10, 50)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if buy.Status != storage.StatusExecuted {
		t.Fatalf("expected executed buy, got %s", buy.Status)
	}
	got, err := e.orders.Get(e.ctx, a, sell.ID)
	if err != nil || got.Status != storage.StatusExecuted {
		t.Fatalf("expected executed sell, got %+v %v", got, err)
	}

	ab, _ := e.balances.Get(e.ctx, a)
	bb, _ := e.balances.Get(e.ctx, b)
	if ab["FOO"] != 0 || ab[ledger.QuoteTicker] != 500 || bb["FOO"] != 10 || bb[ledger.QuoteTicker] != 0 {
		t.Fatalf("unexpected balances alice=%v bob=%v", ab, bb)
	}
}

func TestPlaceAdmissionChecks(t *testing.T) {
	e := newEnv(t)
	poor := e.user("poor", map[string]int64{ledger.QuoteTicker: 10})

	if _, err := e.limit(poor, storage.Buy, 1, 11); !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := e.limit(poor, storage.Sell, 1, 11); !errors.Is(err, storage.ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	if active, _ := e.orders.ListActive(e.ctx, poor); len(active) != 0 {
		t.Fatalf("rejected orders must not be persisted, got %d", len(active))
	}

	// Market buys are not pre-checked.
	market, err := e.orders.Place(e.ctx, PlaceOrderInput{UserID: poor, Ticker: "FOO", Direction: storage.Buy, Qty: 1000})
	if err != nil {
		t.Fatalf("market buy: %v", err)
	}
	if market.Status != storage.StatusNew {
		t.Fatalf("expected resting market order, got %s", market.Status)
	}

	price := int64(1)
	cases := []struct {
		name string
		in   PlaceOrderInput
		want error
	}{
		{"unknown ticker", PlaceOrderInput{UserID: poor, Ticker: "BAR", Direction: storage.Buy, Qty: 1, Price: &price}, storage.ErrNotFound},
		{"quote ticker", PlaceOrderInput{UserID: poor, Ticker: ledger.QuoteTicker, Direction: storage.Buy, Qty: 1, Price: &price}, ErrQuoteInstrument},
		{"unknown user", PlaceOrderInput{UserID: uuid.New(), Ticker: "FOO", Direction: storage.Buy, Qty: 1, Price: &price}, ErrUserNotFound},
		{"bad direction", PlaceOrderInput{UserID: poor, Ticker: "FOO", Direction: "HOLD", Qty: 1}, ErrInvalidOrder},
		{"zero qty", PlaceOrderInput{UserID: poor, Ticker: "FOO", Direction: storage.Buy, Qty: 0}, ErrInvalidOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.orders.Place(e.ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPlaceOnDelistedTicker(t *testing.T) {
	e := newEnv(t)
	u := e.user("alice", map[string]int64{ledger.QuoteTicker: 100})
	if err := e.instruments.Delete(e.ctx, "FOO"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.limit(u, storage.Buy, 1, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	e := newEnv(t)
	a := e.user("alice", map[string]int64{ledger.QuoteTicker: 1000})
	b := e.user("bob", map[string]int64{"FOO": 5})

	order, err := e.limit(a, storage.Buy, 2, 10)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if _, err := e.orders.Cancel(e.ctx, b, order.ID); !errors.Is(err, storage.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	cancelled, err := e.orders.Cancel(e.ctx, a, order.ID)
	if err != nil || cancelled.Status != storage.StatusCancelled {
		t.Fatalf("expected cancelled, got %+v %v", cancelled, err)
	}
	if _, err := e.orders.Cancel(e.ctx, a, order.ID); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected a second cancel to be rejected, got %v", err)
	}
	if _, err := e.orders.Cancel(e.ctx, a, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}

	// A cancelled bid is not matched.
	sell, err := e.limit(b, storage.Sell, 2, 10)
	if err != nil || sell.Filled != 0 {
		t.Fatalf("expected no fill, got %+v %v", sell, err)
	}

	// Partially executed orders cannot be cancelled.
	partial, err := e.limit(a, storage.Buy, 5, 10)
	if err != nil || partial.Status != storage.StatusPartiallyExecuted {
		t.Fatalf("expected partial fill, got %+v %v", partial, err)
	}
	if _, err := e.orders.Cancel(e.ctx, a, partial.ID); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	// Neither can executed ones, and the failed cancel leaves them untouched.
	if fill, err := e.limit(b, storage.Sell, 3, 10); err != nil || fill.Status != storage.StatusExecuted {
		t.Fatalf("expected the rest of the bid to fill, got %+v %v", fill, err)
	}
	if _, err := e.orders.Cancel(e.ctx, a, partial.ID); !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected invalid state for an executed order, got %v", err)
	}
	executed, err := e.orders.Get(e.ctx, a, partial.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if executed.Status != storage.StatusExecuted || executed.Filled != 5 {
		t.Fatalf("executed order changed after cancel: %s filled %d", executed.Status, executed.Filled)
	}
}

func TestGetAndListActive(t *testing.T) {
	e := newEnv(t)
	a := e.user("alice", map[string]int64{ledger.QuoteTicker: 1000})
	b := e.user("bob", nil)

	first, _ := e.limit(a, storage.Buy, 1, 10)
	second, _ := e.limit(a, storage.Buy, 1, 11)
	if _, err := e.orders.Cancel(e.ctx, a, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := e.orders.Get(e.ctx, b, second.ID); !errors.Is(err, storage.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := e.orders.Get(e.ctx, a, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	active, err := e.orders.ListActive(e.ctx, a)
	if err != nil || len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("expected only the NEW order, got %v %v", active, err)
	}
	history, next, err := e.orders.History(e.ctx, a, "", 10)
	if err != nil || len(history) != 2 || next != "" {
		t.Fatalf("expected full history, got %d %q %v", len(history), next, err)
	}
}

func TestOrderBookDepth(t *testing.T) {
	e := newEnv(t)
	a := e.user("alice", map[string]int64{ledger.QuoteTicker: 1000})
	b := e.user("bob", map[string]int64{"FOO": 10})

	if _, err := e.limit(a, storage.Buy, 5, 40); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := e.limit(a, storage.Buy, 3, 42); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := e.limit(b, storage.Sell, 4, 45); err != nil {
		t.Fatalf("ask: %v", err)
	}

	book, err := e.orders.OrderBook(e.ctx, "FOO", 10)
	if err != nil {
		t.Fatalf("orderbook: %v", err)
	}
	want := []orderbook.Level{{Price: 42, Qty: 3}, {Price: 40, Qty: 5}}
	if len(book.Bids) != 2 || book.Bids[0] != want[0] || book.Bids[1] != want[1] {
		t.Fatalf("unexpected bids %v", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0] != (orderbook.Level{Price: 45, Qty: 4}) {
		t.Fatalf("unexpected asks %v", book.Asks)
	}

	if _, err := e.orders.OrderBook(e.ctx, "BAR", 10); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransactionHistory(t *testing.T) {
	e := newEnv(t)
	a := e.user("alice", map[string]int64{ledger.QuoteTicker: 1000})
	b := e.user("bob", map[string]int64{"FOO": 10})

	for _, price := range []int64{10, 11, 12} {
		if _, err := e.limit(b, storage.Sell, 1, price); err != nil {
			t.Fatalf("sell: %v", err)
		}
		if _, err := e.limit(a, storage.Buy, 1, price); err != nil {
			t.Fatalf("buy: %v", err)
		}
	}

	trades, err := e.orders.TransactionHistory(e.ctx, "FOO", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trades) != 2 || trades[0].Price != 12 || trades[1].Price != 11 {
		t.Fatalf("expected newest first, got %+v", trades)
	}
}

func TestInstrumentLifecycle(t *testing.T) {
	e := newEnv(t)

	if _, err := e.instruments.Add(e.ctx, "Foo again", "FOO"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	before, _ := e.instruments.List(e.ctx)

	if err := e.instruments.Delete(e.ctx, "FOO"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := e.instruments.Delete(e.ctx, "FOO"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found for a delisted ticker, got %v", err)
	}
	list, _ := e.instruments.List(e.ctx)
	if len(list) != len(before)-1 {
		t.Fatalf("expected FOO to disappear from the list")
	}

	inst, err := e.instruments.Add(e.ctx, "Foo Inc", "FOO")
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	var original storage.Instrument
	for _, i := range before {
		if i.Ticker == "FOO" {
			original = i
		}
	}
	if !inst.Active || inst.Name != "Foo Inc" || !inst.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("expected the same row reactivated, got %+v", inst)
	}

	if err := e.instruments.Delete(e.ctx, ledger.QuoteTicker); !errors.Is(err, storage.ErrForbidden) {
		t.Fatalf("expected the quote currency to be protected, got %v", err)
	}
	if err := e.instruments.Delete(e.ctx, "NOPE"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDepositWithdraw(t *testing.T) {
	e := newEnv(t)
	u := e.user("alice", nil)

	if err := e.balances.Deposit(e.ctx, u, "FOO", 7); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.balances.Withdraw(e.ctx, u, "FOO", 8); !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := e.balances.Withdraw(e.ctx, u, "FOO", 7); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	bal, _ := e.balances.Get(e.ctx, u)
	if v, ok := bal["FOO"]; !ok || v != 0 {
		t.Fatalf("expected a zero FOO row to remain, got %v", bal)
	}

	if err := e.balances.Deposit(e.ctx, uuid.New(), "FOO", 1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if err := e.balances.Deposit(e.ctx, u, "BAR", 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected instrument not found, got %v", err)
	}
	if err := e.balances.Deposit(e.ctx, u, "FOO", 0); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestUserKeysResolve(t *testing.T) {
	e := newEnv(t)
	user, key, err := e.users.Register(e.ctx, "  carol ")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Name != "carol" || user.Role != storage.RoleUser || user.APIKeyHash == "" {
		t.Fatalf("unexpected user %+v", user)
	}

	id, err := e.users.ResolveAPIKey(e.ctx, key)
	if err != nil || id != user.ID.String() {
		t.Fatalf("expected %s, got %s %v", user.ID, id, err)
	}
	if _, err := e.users.ResolveAPIKey(e.ctx, key+"x"); !errors.Is(err, auth.ErrUnknownCredential) {
		t.Fatalf("expected unknown credential for a wrong secret, got %v", err)
	}
	if _, err := e.users.ResolveAPIKey(e.ctx, "garbage"); !errors.Is(err, auth.ErrUnknownCredential) {
		t.Fatalf("expected unknown credential, got %v", err)
	}

	if _, err := e.users.Delete(e.ctx, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.users.ResolveAPIKey(e.ctx, key); !errors.Is(err, auth.ErrUnknownCredential) {
		t.Fatalf("expected deleted user's key to stop working, got %v", err)
	}
	if _, err := e.users.Delete(e.ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
