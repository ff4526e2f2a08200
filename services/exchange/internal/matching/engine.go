package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/trace"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/instrument"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/ledger"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// ErrSettlement marks a storage failure while committing matching state.
// Per-candidate failures are absorbed; a failure persisting the incoming
// order's final state is returned to the caller wrapped in it.
var ErrSettlement = errors.New("settlement failure")

const defaultMaxCandidates = 500

type Engine struct {
	store         storage.Store
	ledger        *ledger.Ledger
	sink          Sink
	metrics       *Metrics
	logger        *slog.Logger
	maxCandidates int

	mu    sync.Mutex
	books map[string]*sync.Mutex
}

func NewEngine(store storage.Store, l *ledger.Ledger, sink Sink, logger *slog.Logger, metrics *Metrics, maxCandidates int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	if l == nil {
		l = ledger.New(nil)
	}
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	return &Engine{
		store:         store,
		ledger:        l,
		sink:          sink,
		metrics:       metrics,
		logger:        logger,
		maxCandidates: maxCandidates,
		books:         make(map[string]*sync.Mutex),
	}
}

// bookLock serializes passes on one ticker within this process. Across
// processes LockBook and the row locks do the same job.
func (e *Engine) bookLock(ticker string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.books[ticker]
	if !ok {
		lock = &sync.Mutex{}
		e.books[ticker] = lock
	}
	return lock
}

type step struct {
	stop     bool
	skip     string
	incoming *storage.Order
	trade    *storage.Transaction
}

// Match runs one matching pass for a persisted order and returns its final
// state. Each counter-order is settled in its own transaction.
func (e *Engine) Match(ctx context.Context, orderID uuid.UUID) (*storage.Order, error) {
	start := time.Now()
	ctx, span := trace.StartSpan(ctx, "exchange/matching", "matching.pass", attribute.String("order_id", orderID.String()))
	defer span.End()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lock := e.bookLock(order.Ticker)
	lock.Lock()
	defer lock.Unlock()

	seq := 0
	emit := func(ev Event) {
		seq++
		ev.Seq = seq
		ev.OrderID = order.ID
		ev.Ticker = order.Ticker
		ev.Direction = order.Direction
		ev.At = time.Now().UTC()
		e.sink.Emit(ctx, ev)
	}

	candidates, err := e.candidates(ctx, order)
	if err != nil {
		return nil, err
	}
	emit(Event{Type: EventOrderConsidered, Candidates: len(candidates), Filled: order.Filled, Status: order.Status})

	filled := order.Filled
	for i := range candidates {
		if filled >= order.Qty || ctx.Err() != nil {
			break
		}
		counterID := candidates[i].ID

		res, err := e.settle(ctx, order.Ticker, order.ID, counterID)
		if err != nil {
			e.logger.Warn("candidate settlement rolled back",
				"order_id", order.ID, "counter_id", counterID, "error", err)
			e.metrics.observeSkip(SkipSettlementFailed)
			emit(Event{Type: EventCandidateSkipped, CounterID: &counterID, Reason: SkipSettlementFailed, Filled: filled})
			continue
		}
		if res.stop {
			break
		}
		if res.skip != "" {
			e.metrics.observeSkip(res.skip)
			emit(Event{Type: EventCandidateSkipped, CounterID: &counterID, Reason: res.skip, Filled: filled})
			continue
		}

		filled = res.incoming.Filled
		tradeID := res.trade.ID
		e.metrics.observeTrade(order.Ticker, res.trade.Amount)
		emit(Event{
			Type:      EventCandidateSettled,
			CounterID: &counterID,
			TradeID:   &tradeID,
			Qty:       res.trade.Amount,
			Price:     res.trade.Price,
			Filled:    filled,
			Status:    res.incoming.Status,
		})
	}

	final, err := e.finalize(ctx, order.Ticker, order.ID)
	if err != nil {
		e.metrics.observePass("error", time.Since(start))
		return nil, fmt.Errorf("%w: persist order %s: %w", ErrSettlement, order.ID, err)
	}

	e.metrics.observePass(string(final.Status), time.Since(start))
	span.SetAttributes(attribute.Int64("filled", final.Filled), attribute.String("status", string(final.Status)))
	emit(Event{Type: EventOrderCompleted, Filled: final.Filled, Status: final.Status})
	return final, nil
}

func (e *Engine) candidates(ctx context.Context, order *storage.Order) ([]storage.Order, error) {
	if !order.Resting() {
		return nil, nil
	}
	q := storage.CounterQuery{
		Ticker:      order.Ticker,
		Incoming:    order.Direction,
		ExcludeUser: order.UserID,
		Limit:       e.maxCandidates,
	}
	if price, ok := order.Price(); ok {
		q.LimitPrice = price
		q.HasLimit = true
	}

	var out []storage.Order
	err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockBook(ctx, order.Ticker); err != nil {
			return err
		}
		found, err := tx.RestingCounterOrders(ctx, q)
		out = found
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scan counter orders: %w", err)
	}
	return out, nil
}

// settle executes one candidate. Both orders are re-read under lock, so a
// cancel or a fill committed since the scan is honoured.
func (e *Engine) settle(ctx context.Context, ticker string, incomingID, counterID uuid.UUID) (step, error) {
	var res step
	err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		res = step{}

		// Book lock first, then order rows, then balance rows.
		if err := tx.LockBook(ctx, ticker); err != nil {
			return err
		}
		in, err := tx.GetOrderForUpdate(ctx, incomingID)
		if err != nil {
			return err
		}
		if !in.Resting() {
			res.stop = true
			return nil
		}

		counter, err := tx.GetOrderForUpdate(ctx, counterID)
		if err != nil {
			return err
		}
		if !counter.Resting() || counter.UserID == in.UserID {
			res.skip = SkipNotResting
			return nil
		}

		qty := min(in.Remaining(), counter.Remaining())
		price, ok := counter.Price()
		if !ok {
			price, ok = in.Price()
		}
		if !ok {
			res.skip = SkipNoPrice
			return nil
		}

		exists, err := instrument.ExistsAny(ctx, tx, in.Ticker)
		if err != nil {
			return err
		}
		if !exists {
			res.skip = SkipUnknownTicker
			return nil
		}

		buy, sell := in, counter
		if in.Direction == storage.Sell {
			buy, sell = counter, in
		}

		notional, err := ledger.Notional(qty, price)
		if err != nil {
			return err
		}
		if err := e.ledger.LockParties(ctx, tx, buy.UserID, sell.UserID, in.Ticker); err != nil {
			return err
		}
		if ok, err := e.ledger.HasAtLeast(ctx, tx, buy.UserID, ledger.QuoteTicker, notional); err != nil {
			return err
		} else if !ok {
			res.skip = SkipInsufficientFund
			return nil
		}
		if ok, err := e.ledger.HasAtLeast(ctx, tx, sell.UserID, in.Ticker, qty); err != nil {
			return err
		} else if !ok {
			res.skip = SkipInsufficientInv
			return nil
		}

		if err := e.ledger.Settle(ctx, tx, ledger.Settlement{
			Buyer:  buy.UserID,
			Seller: sell.UserID,
			Ticker: in.Ticker,
			Qty:    qty,
			Price:  price,
		}); err != nil {
			return err
		}

		trade := &storage.Transaction{
			ID:          uuid.New(),
			Ticker:      in.Ticker,
			BuyerID:     buy.UserID,
			SellerID:    sell.UserID,
			BuyOrderID:  buy.ID,
			SellOrderID: sell.ID,
			Amount:      qty,
			Price:       price,
		}
		if err := tx.InsertTransaction(ctx, trade); err != nil {
			return err
		}

		counter.Filled += qty
		counter.Status = counter.FillStatus()
		if err := tx.UpdateOrder(ctx, counter); err != nil {
			return err
		}
		in.Filled += qty
		in.Status = in.FillStatus()
		if err := tx.UpdateOrder(ctx, in); err != nil {
			return err
		}

		res.incoming = in
		res.trade = trade
		return nil
	})
	if err != nil {
		return step{}, fmt.Errorf("%w: %w", ErrSettlement, err)
	}
	return res, nil
}

func (e *Engine) finalize(ctx context.Context, ticker string, orderID uuid.UUID) (*storage.Order, error) {
	var final *storage.Order
	err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockBook(ctx, ticker); err != nil {
			return err
		}
		in, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if in.Status != storage.StatusCancelled {
			in.Status = in.FillStatus()
		}
		if err := tx.UpdateOrder(ctx, in); err != nil {
			return err
		}
		final = in
		return nil
	})
	return final, err
}
