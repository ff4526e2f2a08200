// Package ledger owns every balance mutation. All methods run inside the
// caller's storage transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

// QuoteTicker is the settlement currency of every trade.
const QuoteTicker = "RUB"

var maxAmount = decimal.NewFromInt(math.MaxInt64)

type Metrics interface {
	IncBalanceOp(op, result string)
}

type Ledger struct {
	metrics Metrics
}

func New(metrics Metrics) *Ledger {
	return &Ledger{metrics: metrics}
}

// Notional returns qty × price, failing instead of overflowing int64.
func Notional(qty, price int64) (int64, error) {
	if qty <= 0 || price <= 0 {
		return 0, fmt.Errorf("notional: qty and price must be positive")
	}
	n := decimal.NewFromInt(qty).Mul(decimal.NewFromInt(price))
	if n.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("notional %s overflows int64", n.String())
	}
	return n.IntPart(), nil
}

func (l *Ledger) Credit(ctx context.Context, tx storage.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	current, _, err := tx.GetBalanceForUpdate(ctx, userID, ticker)
	if err != nil {
		l.observe("credit", "error")
		return err
	}
	next := decimal.NewFromInt(current).Add(decimal.NewFromInt(amount))
	if next.GreaterThan(maxAmount) {
		l.observe("credit", "overflow")
		return fmt.Errorf("credit %s %d: balance overflow", ticker, amount)
	}
	if err := tx.AddBalance(ctx, userID, ticker, amount); err != nil {
		l.observe("credit", "error")
		return err
	}
	l.observe("credit", "ok")
	return nil
}

// Debit fails with storage.ErrInsufficientFunds when the row is missing or
// holds less than amount.
func (l *Ledger) Debit(ctx context.Context, tx storage.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	current, ok, err := tx.GetBalanceForUpdate(ctx, userID, ticker)
	if err != nil {
		l.observe("debit", "error")
		return err
	}
	if !ok || current < amount {
		l.observe("debit", "insufficient")
		return fmt.Errorf("debit %s %d: %w", ticker, amount, storage.ErrInsufficientFunds)
	}
	if err := tx.AddBalance(ctx, userID, ticker, -amount); err != nil {
		l.observe("debit", "error")
		return err
	}
	l.observe("debit", "ok")
	return nil
}

func (l *Ledger) HasAtLeast(ctx context.Context, tx storage.Tx, userID uuid.UUID, ticker string, amount int64) (bool, error) {
	current, ok, err := tx.GetBalance(ctx, userID, ticker)
	if err != nil {
		return false, err
	}
	return ok && current >= amount, nil
}

// BalancesOf returns ticker → amount for every row of the user.
func BalancesOf(ctx context.Context, store storage.Store, userID uuid.UUID) (map[string]int64, error) {
	rows, err := store.Balances(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, b := range rows {
		out[b.Ticker] = b.Amount
	}
	return out, nil
}

type Settlement struct {
	Buyer  uuid.UUID
	Seller uuid.UUID
	Ticker string
	Qty    int64
	Price  int64
}

// Settle moves qty of Ticker from seller to buyer and qty × price of the
// quote currency from buyer to seller.
func (l *Ledger) Settle(ctx context.Context, tx storage.Tx, s Settlement) error {
	if s.Buyer == s.Seller {
		return fmt.Errorf("settle: buyer and seller are the same user")
	}
	notional, err := Notional(s.Qty, s.Price)
	if err != nil {
		return err
	}

	if err := l.LockParties(ctx, tx, s.Buyer, s.Seller, s.Ticker); err != nil {
		return err
	}

	if err := l.Debit(ctx, tx, s.Buyer, QuoteTicker, notional); err != nil {
		return err
	}
	if err := l.Credit(ctx, tx, s.Buyer, s.Ticker, s.Qty); err != nil {
		return err
	}
	if err := l.Debit(ctx, tx, s.Seller, s.Ticker, s.Qty); err != nil {
		if errors.Is(err, storage.ErrInsufficientFunds) {
			return fmt.Errorf("%w: %w", storage.ErrInsufficientInventory, err)
		}
		return err
	}
	return l.Credit(ctx, tx, s.Seller, QuoteTicker, notional)
}

// LockParties locks the four balance rows a trade touches in a fixed order,
// so two settlements sharing users cannot deadlock. Missing rows lock
// nothing and are created by Credit.
func (l *Ledger) LockParties(ctx context.Context, tx storage.Tx, buyer, seller uuid.UUID, ticker string) error {
	type leg struct {
		user   uuid.UUID
		ticker string
	}
	legs := []leg{
		{buyer, QuoteTicker}, {buyer, ticker},
		{seller, QuoteTicker}, {seller, ticker},
	}
	sort.Slice(legs, func(i, j int) bool {
		if legs[i].user != legs[j].user {
			return legs[i].user.String() < legs[j].user.String()
		}
		return legs[i].ticker < legs[j].ticker
	})
	for _, lg := range legs {
		if _, _, err := tx.GetBalanceForUpdate(ctx, lg.user, lg.ticker); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) observe(op, result string) {
	if l == nil || l.metrics == nil {
		return
	}
	l.metrics.IncBalanceOp(op, result)
}
