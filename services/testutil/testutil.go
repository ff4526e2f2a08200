package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SetupTestDB connects to the integration database described by the EXCH_DB_*
// variables.
func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("EXCH_DB_USER", "exchange"),
		getEnv("EXCH_DB_PASSWORD", "exchange"),
		getEnv("EXCH_DB_HOST", "localhost"),
		getEnv("EXCH_DB_PORT", "5432"),
		getEnv("EXCH_DB_NAME", "exchange"),
		getEnv("EXCH_DB_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// CleanupTestData empties every exchange table except the quote instrument.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		"DELETE FROM transactions",
		"DELETE FROM orders",
		"DELETE FROM balances",
		"DELETE FROM users",
		"DELETE FROM instruments WHERE ticker <> 'RUB'",
	}

	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
