package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

//go:embed schema.sql
var schema string

const orderColumns = `id, user_id, ticker, direction, price, qty, filled, status, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*storage.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, string, error) {
	limit := storage.ClampLimit(filter.Limit)

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1`
	args := []any{userID}
	idx := 2

	if filter.ActiveOnly {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(storage.StatusNew))
		idx++
	}
	if filter.Cursor != "" {
		ts, id, err := storage.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", storage.ErrInvalidCursor
		}
		query += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", idx, idx+1)
		args = append(args, ts, id)
		idx += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", idx)
	args = append(args, limit+1)

	orders, err := s.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[limit-1]
		nextCursor = storage.EncodeCursor(last.CreatedAt, last.ID)
	}
	return orders, nextCursor, nil
}

func (s *Store) RestingOrders(ctx context.Context, ticker string) ([]storage.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ticker = $1 AND status IN ('NEW', 'PARTIALLY_EXECUTED') AND filled < qty
		ORDER BY created_at, id
	`, ticker)
}

func (s *Store) TransactionHistory(ctx context.Context, ticker string, limit int) ([]storage.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticker, buyer_id, seller_id, buy_order_id, sell_order_id, amount, price, created_at
		FROM transactions
		WHERE ticker = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]storage.Transaction, 0, limit)
	for rows.Next() {
		var t storage.Transaction
		if err := rows.Scan(&t.ID, &t.Ticker, &t.BuyerID, &t.SellerID, &t.BuyOrderID, &t.SellOrderID, &t.Amount, &t.Price, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) Balances(ctx context.Context, userID uuid.UUID) ([]storage.Balance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, ticker, amount
		FROM balances
		WHERE user_id = $1
		ORDER BY ticker
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []storage.Balance
	for rows.Next() {
		var b storage.Balance
		if err := rows.Scan(&b.UserID, &b.Ticker, &b.Amount); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *Store) ListInstruments(ctx context.Context) ([]storage.Instrument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, name, active, created_at
		FROM instruments
		WHERE active
		ORDER BY ticker
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []storage.Instrument
	for rows.Next() {
		var inst storage.Instrument
		if err := rows.Scan(&inst.Ticker, &inst.Name, &inst.Active, &inst.CreatedAt); err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, role, api_key_prefix, api_key_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, user.ID, user.Name, string(user.Role), user.APIKeyPrefix, user.APIKeyHash)
	if err := row.Scan(&user.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetUserByKeyPrefix(ctx context.Context, prefix string) (*storage.User, error) {
	return s.getUser(ctx, `WHERE api_key_prefix = $1`, prefix)
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM users
		WHERE id = $1
		RETURNING id, name, role, api_key_prefix, api_key_hash, created_at
	`, id)
	user, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*storage.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, role, api_key_prefix, api_key_hash, created_at
		FROM users
		`+where, arg)
	user, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]storage.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockBook(ctx context.Context, ticker string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "book:"+ticker)
	return err
}

func (t *pgTx) InstrumentActive(ctx context.Context, ticker string) (bool, error) {
	var active bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM instruments WHERE ticker = $1 AND active)`, ticker).Scan(&active)
	return active, err
}

func (t *pgTx) InstrumentExists(ctx context.Context, ticker string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM instruments WHERE ticker = $1)`, ticker).Scan(&exists)
	return exists, err
}

func (t *pgTx) GetInstrumentForUpdate(ctx context.Context, ticker string) (*storage.Instrument, error) {
	var inst storage.Instrument
	err := t.tx.QueryRow(ctx, `
		SELECT ticker, name, active, created_at
		FROM instruments
		WHERE ticker = $1
		FOR UPDATE
	`, ticker).Scan(&inst.Ticker, &inst.Name, &inst.Active, &inst.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func (t *pgTx) InsertInstrument(ctx context.Context, inst storage.Instrument) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO instruments (ticker, name, active)
		VALUES ($1, $2, $3)
	`, inst.Ticker, inst.Name, inst.Active)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

func (t *pgTx) UpdateInstrument(ctx context.Context, inst storage.Instrument) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE instruments
		SET name = $2, active = $3
		WHERE ticker = $1
	`, inst.Ticker, inst.Name, inst.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *pgTx) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertOrder(ctx context.Context, order *storage.Order) error {
	price, hasPrice := order.Price()
	row := t.tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, ticker, direction, price, qty, filled, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, order.ID, order.UserID, order.Ticker, string(order.Direction), nullablePrice(price, hasPrice), order.Qty, order.Filled, string(order.Status))
	if err := row.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		return err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*storage.Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	order, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, order *storage.Order) error {
	row := t.tx.QueryRow(ctx, `
		UPDATE orders
		SET filled = $2, status = $3, updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING updated_at
	`, order.ID, order.Filled, string(order.Status))
	if err := row.Scan(&order.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}
	order.UpdatedAt = order.UpdatedAt.UTC()
	return nil
}

func (t *pgTx) RestingCounterOrders(ctx context.Context, q storage.CounterQuery) ([]storage.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ticker = $1
		  AND direction = $2
		  AND user_id <> $3
		  AND status IN ('NEW', 'PARTIALLY_EXECUTED')
		  AND filled < qty`
	args := []any{q.Ticker, string(q.Incoming.Opposite()), q.ExcludeUser}

	if q.HasLimit {
		if q.Incoming == storage.Buy {
			query += ` AND price <= $4`
		} else {
			query += ` AND price >= $4`
		}
		args = append(args, q.LimitPrice)
	}

	if q.Incoming == storage.Buy {
		query += ` ORDER BY price ASC NULLS LAST, created_at, id`
	} else {
		query += ` ORDER BY price DESC NULLS LAST, created_at, id`
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, q.Limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (t *pgTx) GetBalanceForUpdate(ctx context.Context, userID uuid.UUID, ticker string) (int64, bool, error) {
	return t.getBalance(ctx, `SELECT amount FROM balances WHERE user_id = $1 AND ticker = $2 FOR UPDATE`, userID, ticker)
}

func (t *pgTx) GetBalance(ctx context.Context, userID uuid.UUID, ticker string) (int64, bool, error) {
	return t.getBalance(ctx, `SELECT amount FROM balances WHERE user_id = $1 AND ticker = $2`, userID, ticker)
}

func (t *pgTx) getBalance(ctx context.Context, query string, userID uuid.UUID, ticker string) (int64, bool, error) {
	var amount int64
	if err := t.tx.QueryRow(ctx, query, userID, ticker).Scan(&amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return amount, true, nil
}

func (t *pgTx) AddBalance(ctx context.Context, userID uuid.UUID, ticker string, delta int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO balances (user_id, ticker, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, ticker) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at
	`, userID, ticker, delta, time.Now().UTC())
	if isCheckViolation(err) {
		return storage.ErrInsufficientFunds
	}
	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, trade *storage.Transaction) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (id, ticker, buyer_id, seller_id, buy_order_id, sell_order_id, amount, price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, trade.ID, trade.Ticker, trade.BuyerID, trade.SellerID, trade.BuyOrderID, trade.SellOrderID, trade.Amount, trade.Price)
	if err := row.Scan(&trade.CreatedAt); err != nil {
		return err
	}
	trade.CreatedAt = trade.CreatedAt.UTC()
	return nil
}

func collectOrders(rows pgx.Rows) ([]storage.Order, error) {
	defer rows.Close()

	var orders []storage.Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrderRow(row pgx.Row) (*storage.Order, error) {
	var order storage.Order
	var direction, status string
	var price *int64
	if err := row.Scan(&order.ID, &order.UserID, &order.Ticker, &direction, &price, &order.Qty, &order.Filled, &status, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return nil, err
	}

	order.Direction = storage.Direction(strings.ToUpper(direction))
	order.Status = storage.OrderStatus(strings.ToUpper(status))
	if price != nil {
		order.Kind = storage.Limit{Price: *price}
	} else {
		order.Kind = storage.Market{}
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

func scanUserRow(row pgx.Row) (*storage.User, error) {
	var user storage.User
	var role string
	if err := row.Scan(&user.ID, &user.Name, &role, &user.APIKeyPrefix, &user.APIKeyHash, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = storage.Role(role)
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func nullablePrice(price int64, ok bool) any {
	if !ok {
		return nil
	}
	return price
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isCheckViolation(err error) bool {
	return pgErrorCode(err) == "23514"
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var _ storage.Store = (*Store)(nil)
