package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vvoyage/exchange-API-tochka/libs/apikey"
)

const quoteTicker = "RUB"

type seedUser struct {
	id        uuid.UUID
	name      string
	role      string
	keyPrefix string
	keySecret string
	balances  map[string]int64
}

var users = []seedUser{
	{
		id:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		name:      "demo",
		role:      "USER",
		keyPrefix: "demo0001",
		keySecret: "demosecret0001",
		balances:  map[string]int64{quoteTicker: 100000, "MEMCOIN": 1000, "DODGE": 500},
	},
	{
		id:        uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		name:      "trader",
		role:      "USER",
		keyPrefix: "trader0001",
		keySecret: "tradersecret0001",
		balances:  map[string]int64{quoteTicker: 50000, "MEMCOIN": 200},
	},
}

var instruments = []struct {
	ticker string
	name   string
}{
	{quoteTicker, "Russian Rouble"},
	{"MEMCOIN", "Memcoin"},
	{"DODGE", "Dodge"},
}

func main() {
	env := getEnv("EXCH_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: EXCH_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("EXCH_DB_USER", "exchange"),
		getEnv("EXCH_DB_PASSWORD", "exchange"),
		getEnv("EXCH_DB_HOST", "localhost"),
		getEnv("EXCH_DB_PORT", "5432"),
		getEnv("EXCH_DB_NAME", "exchange"),
		getEnv("EXCH_DB_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedInstruments(ctx, pool); err != nil {
		log.Fatalf("seed instruments: %v", err)
	}
	fmt.Println("✓ Instruments seeded")

	keys, err := seedUsers(ctx, pool, env)
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if err := seedBalances(ctx, pool); err != nil {
		log.Fatalf("seed balances: %v", err)
	}
	fmt.Println("✓ Balances seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	if env == "dev" {
		fmt.Println("\nAPI Keys (DEV ONLY, send as 'Authorization: TOKEN <key>'):")
		for _, u := range users {
			fmt.Printf("  %s: %s\n", u.name, keys[u.name])
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func seedInstruments(ctx context.Context, pool *pgxpool.Pool) error {
	for _, inst := range instruments {
		_, err := pool.Exec(ctx, `
			INSERT INTO instruments (ticker, name, active)
			VALUES ($1, $2, true)
			ON CONFLICT (ticker) DO UPDATE
			SET name = EXCLUDED.name,
			    active = true
		`, inst.ticker, inst.name)
		if err != nil {
			return err
		}
	}
	return nil
}

// seedUsers upserts the demo users with stable keys and returns the full key
// per user name.
func seedUsers(ctx context.Context, pool *pgxpool.Pool, env string) (map[string]string, error) {
	keys := make(map[string]string, len(users))
	for _, u := range users {
		key, err := apikey.Compose(env, u.keyPrefix, u.keySecret)
		if err != nil {
			return nil, fmt.Errorf("compose key for %s: %w", u.name, err)
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO users (id, name, role, api_key_prefix, api_key_hash)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name,
			    role = EXCLUDED.role,
			    api_key_prefix = EXCLUDED.api_key_prefix,
			    api_key_hash = EXCLUDED.api_key_hash
		`, u.id, u.name, u.role, key.Prefix, key.Hash)
		if err != nil {
			return nil, err
		}
		keys[u.name] = key.Full
	}
	return keys, nil
}

func seedBalances(ctx context.Context, pool *pgxpool.Pool) error {
	for _, u := range users {
		for ticker, amount := range u.balances {
			_, err := pool.Exec(ctx, `
				INSERT INTO balances (user_id, ticker, amount, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (user_id, ticker) DO UPDATE
				SET amount = EXCLUDED.amount,
				    updated_at = EXCLUDED.updated_at
			`, u.id, ticker, amount)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
