package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// seedTestData rests a small non-crossing MEMCOIN book: demo sells above
// trader's bids. Orders are inserted directly, so no matching runs.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	demo, trader := users[0], users[1]

	orders := []struct {
		id        uuid.UUID
		userID    uuid.UUID
		direction string
		price     int64
		qty       int64
	}{
		{uuid.MustParse("00000000-0000-0000-0000-000000000401"), demo.id, "SELL", 110, 5},
		{uuid.MustParse("00000000-0000-0000-0000-000000000402"), demo.id, "SELL", 120, 10},
		{uuid.MustParse("00000000-0000-0000-0000-000000000403"), trader.id, "BUY", 100, 3},
		{uuid.MustParse("00000000-0000-0000-0000-000000000404"), trader.id, "BUY", 95, 8},
	}

	for _, o := range orders {
		_, err := pool.Exec(ctx, `
			INSERT INTO orders (id, user_id, ticker, direction, price, qty, filled, status)
			VALUES ($1, $2, 'MEMCOIN', $3, $4, $5, 0, 'NEW')
			ON CONFLICT (id) DO NOTHING
		`, o.id, o.userID, o.direction, o.price, o.qty)
		if err != nil {
			return fmt.Errorf("order %s: %w", o.id, err)
		}
	}
	return nil
}
