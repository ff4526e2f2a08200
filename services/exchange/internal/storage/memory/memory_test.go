package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

func seedUser(t *testing.T, s *Store, prefix string) uuid.UUID {
	t.Helper()
	u := &storage.User{ID: uuid.New(), Name: prefix, Role: storage.RoleUser, APIKeyPrefix: prefix}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seedUser(t, s, "alice")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.AddBalance(ctx, user, "RUB", 100); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	balances, _ := s.Balances(ctx, user)
	if len(balances) != 0 {
		t.Fatalf("expected no balances after rollback, got %v", balances)
	}
}

func TestRollbackRestoresTouchedRows(t *testing.T) {
	s := New()
	ctx := context.Background()
	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	order := &storage.Order{ID: uuid.New(), UserID: alice, Ticker: "FOO", Direction: storage.Buy, Kind: storage.Limit{Price: 10}, Qty: 5, Status: storage.StatusNew}
	if err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertInstrument(ctx, storage.Instrument{Ticker: "FOO", Name: "Foo", Active: true}); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, alice, "RUB", 100); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.UpdateInstrument(ctx, storage.Instrument{Ticker: "FOO", Name: "Foo", Active: false}); err != nil {
			return err
		}
		// Two writes to the same row unwind to the first value.
		if err := tx.AddBalance(ctx, alice, "RUB", -30); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, alice, "RUB", -30); err != nil {
			return err
		}
		if err := tx.AddBalance(ctx, bob, "FOO", 5); err != nil {
			return err
		}
		updated := *order
		updated.Filled, updated.Status = 5, storage.StatusExecuted
		if err := tx.UpdateOrder(ctx, &updated); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, &storage.Order{ID: uuid.New(), UserID: bob, Ticker: "FOO", Direction: storage.Sell, Kind: storage.Market{}, Qty: 1, Status: storage.StatusNew}); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &storage.Transaction{ID: uuid.New(), Ticker: "FOO", BuyerID: alice, SellerID: bob, Amount: 5, Price: 10}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	instruments, _ := s.ListInstruments(ctx)
	if len(instruments) != 1 || !instruments[0].Active {
		t.Fatalf("instrument update not rolled back: %+v", instruments)
	}
	if balances, _ := s.Balances(ctx, alice); len(balances) != 1 || balances[0].Amount != 100 {
		t.Fatalf("alice balance not restored: %+v", balances)
	}
	if balances, _ := s.Balances(ctx, bob); len(balances) != 0 {
		t.Fatalf("bob balance not removed: %+v", balances)
	}
	if got, _ := s.GetOrder(ctx, order.ID); got.Status != storage.StatusNew || got.Filled != 0 {
		t.Fatalf("order update not rolled back: %+v", got)
	}
	if orders, _, _ := s.ListOrders(ctx, bob, storage.OrderFilter{}); len(orders) != 0 {
		t.Fatalf("inserted order survived rollback: %+v", orders)
	}
	if trades, _ := s.TransactionHistory(ctx, "FOO", 10); len(trades) != 0 {
		t.Fatalf("trade survived rollback: %+v", trades)
	}
}

func TestPanicInTransactionRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seedUser(t, s, "alice")

	func() {
		defer func() { _ = recover() }()
		_ = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.AddBalance(ctx, user, "RUB", 10); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	balances, err := s.Balances(ctx, user)
	if err != nil {
		t.Fatalf("store unusable after panic: %v", err)
	}
	if len(balances) != 0 {
		t.Fatalf("expected no balances after panic, got %v", balances)
	}
}

func TestBeforeCommitHookAborts(t *testing.T) {
	s := New(WithHooks(Hooks{BeforeCommit: func(context.Context) error { return errors.New("fail") }}))
	ctx := context.Background()
	user := seedUser(t, s, "alice")

	if err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.AddBalance(ctx, user, "RUB", 5)
	}); err == nil {
		t.Fatalf("expected hook error")
	}
	balances, _ := s.Balances(ctx, user)
	if len(balances) != 0 {
		t.Fatalf("expected nothing committed, got %v", balances)
	}
}

func TestAddBalanceRejectsNegativeAndUnknownUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seedUser(t, s, "alice")

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.AddBalance(ctx, user, "RUB", -1)
	})
	if !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.AddBalance(ctx, uuid.New(), "RUB", 1)
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	user := seedUser(t, s, "alice")

	var orders []*storage.Order
	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < 3; i++ {
			o := &storage.Order{ID: uuid.New(), UserID: user, Ticker: "FOO", Direction: storage.Buy, Kind: storage.Market{}, Qty: 1, Status: storage.StatusNew}
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i := 1; i < len(orders); i++ {
		if !orders[i].CreatedAt.After(orders[i-1].CreatedAt) {
			t.Fatalf("timestamps not increasing: %v then %v", orders[i-1].CreatedAt, orders[i].CreatedAt)
		}
	}
}

func TestListOrdersPaginates(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seedUser(t, s, "alice")
	other := seedUser(t, s, "bob")

	var ids []uuid.UUID
	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i := 0; i < 5; i++ {
			o := &storage.Order{ID: uuid.New(), UserID: user, Ticker: "FOO", Direction: storage.Sell, Kind: storage.Limit{Price: 10}, Qty: 1, Status: storage.StatusNew}
			if i == 4 {
				o.Status = storage.StatusCancelled
			}
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			ids = append(ids, o.ID)
		}
		return tx.InsertOrder(ctx, &storage.Order{ID: uuid.New(), UserID: other, Ticker: "FOO", Direction: storage.Buy, Kind: storage.Market{}, Qty: 1, Status: storage.StatusNew})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, next, err := s.ListOrders(ctx, user, storage.OrderFilter{Limit: 2})
	if err != nil || len(page) != 2 || next == "" {
		t.Fatalf("unexpected first page %d %q %v", len(page), next, err)
	}
	if page[0].ID != ids[0] || page[1].ID != ids[1] {
		t.Fatalf("expected oldest first")
	}

	var seen []uuid.UUID
	for _, o := range page {
		seen = append(seen, o.ID)
	}
	for next != "" {
		page, next, err = s.ListOrders(ctx, user, storage.OrderFilter{Limit: 2, Cursor: next})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for _, o := range page {
			seen = append(seen, o.ID)
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected every order exactly once, got %d", len(seen))
	}

	active, _, err := s.ListOrders(ctx, user, storage.OrderFilter{ActiveOnly: true})
	if err != nil || len(active) != 4 {
		t.Fatalf("expected 4 NEW orders, got %d %v", len(active), err)
	}

	if _, _, err := s.ListOrders(ctx, user, storage.OrderFilter{Cursor: "!!"}); !errors.Is(err, storage.ErrInvalidCursor) {
		t.Fatalf("expected invalid cursor, got %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seedUser(t, s, "alice")
	orderID := uuid.New()

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.AddBalance(ctx, user, "RUB", 10); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, &storage.Order{ID: orderID, UserID: user, Ticker: "FOO", Direction: storage.Buy, Kind: storage.Limit{Price: 1}, Qty: 1, Status: storage.StatusNew})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	deleted, err := s.DeleteUser(ctx, user)
	if err != nil || deleted.ID != user {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetOrder(ctx, orderID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected order removed, got %v", err)
	}
	if balances, _ := s.Balances(ctx, user); len(balances) != 0 {
		t.Fatalf("expected balances removed")
	}
	if _, err := s.DeleteUser(ctx, user); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCreateUserRejectsDuplicatePrefix(t *testing.T) {
	s := New()
	seedUser(t, s, "alice")
	err := s.CreateUser(context.Background(), &storage.User{ID: uuid.New(), Name: "x", APIKeyPrefix: "alice"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestInsertTransactionRejectsSelfTrade(t *testing.T) {
	s := New()
	user := seedUser(t, s, "alice")
	err := s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertTransaction(ctx, &storage.Transaction{ID: uuid.New(), Ticker: "FOO", BuyerID: user, SellerID: user, Amount: 1, Price: 1})
	})
	if !errors.Is(err, storage.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestPartiallyExecutedRestsButIsNotActive(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seedUser(t, s, "alice")

	fresh := &storage.Order{ID: uuid.New(), UserID: user, Ticker: "FOO", Direction: storage.Buy, Kind: storage.Limit{Price: 10}, Qty: 5, Status: storage.StatusNew}
	partial := &storage.Order{ID: uuid.New(), UserID: user, Ticker: "FOO", Direction: storage.Buy, Kind: storage.Limit{Price: 10}, Qty: 5, Filled: 2, Status: storage.StatusPartiallyExecuted}
	if err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertOrder(ctx, fresh); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, partial)
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	resting, _ := s.RestingOrders(ctx, "FOO")
	if len(resting) != 2 {
		t.Fatalf("expected both orders resting, got %d", len(resting))
	}
	active, _, err := s.ListOrders(ctx, user, storage.OrderFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Fatalf("expected only the NEW order to be active, got %+v", active)
	}
}
