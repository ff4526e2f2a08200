package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/instrument"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/ledger"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/matching"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/orderbook"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

const (
	DefaultBookDepth    = 10
	DefaultHistoryLimit = 10
	maxListLimit        = 100
)

type Matcher interface {
	Match(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
}

type OrderService struct {
	store   storage.Store
	matcher Matcher
	ledger  *ledger.Ledger
	logger  *slog.Logger
	metrics *Metrics
}

type PlaceOrderInput struct {
	UserID    uuid.UUID
	Ticker    string
	Direction storage.Direction
	Qty       int64
	// Price is nil for market orders.
	Price *int64
}

func NewOrderService(store storage.Store, matcher Matcher, l *ledger.Ledger, logger *slog.Logger, metrics *Metrics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if l == nil {
		l = ledger.New(metrics)
	}
	return &OrderService{
		store:   store,
		matcher: matcher,
		ledger:  l,
		logger:  logger,
		metrics: metrics,
	}
}

// Place admits an order, persists it as NEW and runs one matching pass.
// The returned order carries the state after matching.
func (s *OrderService) Place(ctx context.Context, in PlaceOrderInput) (*storage.Order, error) {
	start := time.Now()
	order, err := s.admit(ctx, in)
	if err != nil {
		s.metrics.observePlace(resultLabel(err), start)
		return nil, err
	}

	final, err := s.matcher.Match(ctx, order.ID)
	if err != nil {
		s.metrics.observePlace("error", start)
		s.logger.Error("matching failed", "order_id", order.ID, "ticker", order.Ticker, "error", err)
		return nil, err
	}

	s.metrics.observePlace(string(final.Status), start)
	s.logger.Info("order placed",
		"order_id", final.ID,
		"user_id", final.UserID,
		"ticker", final.Ticker,
		"direction", final.Direction,
		"qty", final.Qty,
		"filled", final.Filled,
		"status", final.Status,
	)
	return final, nil
}

func (s *OrderService) admit(ctx context.Context, in PlaceOrderInput) (*storage.Order, error) {
	if !in.Direction.Valid() {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidOrder, in.Direction)
	}
	if in.Qty <= 0 || (in.Price != nil && *in.Price <= 0) {
		return nil, fmt.Errorf("%w: qty and price must be positive", ErrInvalidOrder)
	}
	if in.Ticker == ledger.QuoteTicker {
		return nil, ErrQuoteInstrument
	}

	order := &storage.Order{
		ID:        uuid.New(),
		UserID:    in.UserID,
		Ticker:    in.Ticker,
		Direction: in.Direction,
		Kind:      storage.Market{},
		Qty:       in.Qty,
		Status:    storage.StatusNew,
	}
	if in.Price != nil {
		order.Kind = storage.Limit{Price: *in.Price}
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		exists, err := tx.UserExists(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		if err := instrument.RequireActive(ctx, tx, in.Ticker); err != nil {
			return err
		}
		if err := s.precheck(ctx, tx, order); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// precheck refuses orders the user cannot cover right now. Market buys have
// no price to check against; each fill is re-checked during settlement.
func (s *OrderService) precheck(ctx context.Context, tx storage.Tx, order *storage.Order) error {
	if order.Direction == storage.Sell {
		ok, err := s.ledger.HasAtLeast(ctx, tx, order.UserID, order.Ticker, order.Qty)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("sell %d %s: %w", order.Qty, order.Ticker, storage.ErrInsufficientInventory)
		}
		return nil
	}

	price, ok := order.Price()
	if !ok {
		return nil
	}
	notional, err := ledger.Notional(order.Qty, price)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInsufficientFunds, err)
	}
	ok, err = s.ledger.HasAtLeast(ctx, tx, order.UserID, ledger.QuoteTicker, notional)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("buy needs %d %s: %w", notional, ledger.QuoteTicker, storage.ErrInsufficientFunds)
	}
	return nil
}

// Cancel moves a NEW order of the caller to CANCELLED.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID uuid.UUID) (*storage.Order, error) {
	current, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.metrics.observeCancel(resultLabel(err))
		return nil, orderLookupErr(err)
	}

	var cancelled *storage.Order
	err = s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockBook(ctx, current.Ticker); err != nil {
			return err
		}
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return orderLookupErr(err)
		}
		if order.UserID != userID {
			return storage.ErrForbidden
		}
		if order.Status != storage.StatusNew {
			return fmt.Errorf("order is %s: %w", order.Status, storage.ErrInvalidState)
		}
		order.Status = storage.StatusCancelled
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		cancelled = order
		return nil
	})
	s.metrics.observeCancel(resultLabel(err))
	if err != nil {
		return nil, err
	}
	s.logger.Info("order cancelled", "order_id", orderID, "user_id", userID)
	return cancelled, nil
}

func (s *OrderService) Get(ctx context.Context, userID, orderID uuid.UUID) (*storage.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, orderLookupErr(err)
	}
	if order.UserID != userID {
		return nil, storage.ErrForbidden
	}
	return order, nil
}

// ListActive returns every NEW order of the user, oldest first.
func (s *OrderService) ListActive(ctx context.Context, userID uuid.UUID) ([]storage.Order, error) {
	var (
		out    []storage.Order
		cursor string
	)
	for {
		page, next, err := s.store.ListOrders(ctx, userID, storage.OrderFilter{
			ActiveOnly: true,
			Cursor:     cursor,
			Limit:      maxListLimit,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// History pages through all orders of the user regardless of status.
func (s *OrderService) History(ctx context.Context, userID uuid.UUID, cursor string, limit int) ([]storage.Order, string, error) {
	return s.store.ListOrders(ctx, userID, storage.OrderFilter{Cursor: cursor, Limit: limit})
}

func (s *OrderService) OrderBook(ctx context.Context, ticker string, depth int) (orderbook.Book, error) {
	if depth <= 0 {
		depth = DefaultBookDepth
	}
	depth = min(depth, maxListLimit)

	if err := s.requireListed(ctx, ticker); err != nil {
		return orderbook.Book{}, err
	}
	orders, err := s.store.RestingOrders(ctx, ticker)
	if err != nil {
		return orderbook.Book{}, err
	}
	return orderbook.Aggregate(orders, depth), nil
}

// TransactionHistory returns the latest trades on ticker, newest first.
func (s *OrderService) TransactionHistory(ctx context.Context, ticker string, limit int) ([]storage.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, maxListLimit)

	if err := s.requireListed(ctx, ticker); err != nil {
		return nil, err
	}
	return s.store.TransactionHistory(ctx, ticker, limit)
}

func (s *OrderService) requireListed(ctx context.Context, ticker string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return instrument.RequireActive(ctx, tx, ticker)
	})
}

func orderLookupErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}

var _ Matcher = (*matching.Engine)(nil)
