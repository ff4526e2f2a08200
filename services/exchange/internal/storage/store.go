package storage

import (
	"context"

	"github.com/google/uuid"
)

// Tx is the set of operations available inside a transactional scope.
// Everything done through a Tx commits or rolls back together.
type Tx interface {
	// LockBook serializes matching on ticker for the rest of the transaction.
	LockBook(ctx context.Context, ticker string) error

	InstrumentActive(ctx context.Context, ticker string) (bool, error)
	InstrumentExists(ctx context.Context, ticker string) (bool, error)
	GetInstrumentForUpdate(ctx context.Context, ticker string) (*Instrument, error)
	InsertInstrument(ctx context.Context, inst Instrument) error
	UpdateInstrument(ctx context.Context, inst Instrument) error

	UserExists(ctx context.Context, id uuid.UUID) (bool, error)

	InsertOrder(ctx context.Context, order *Order) error
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error
	RestingCounterOrders(ctx context.Context, q CounterQuery) ([]Order, error)

	// GetBalanceForUpdate returns the balance row, locked. ok is false when
	// the row does not exist.
	GetBalanceForUpdate(ctx context.Context, userID uuid.UUID, ticker string) (amount int64, ok bool, err error)
	GetBalance(ctx context.Context, userID uuid.UUID, ticker string) (amount int64, ok bool, err error)
	// AddBalance adds delta to the row, creating it when absent. A result
	// below zero fails with ErrInsufficientFunds.
	AddBalance(ctx context.Context, userID uuid.UUID, ticker string, delta int64) error

	InsertTransaction(ctx context.Context, trade *Transaction) error
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]Order, string, error)
	RestingOrders(ctx context.Context, ticker string) ([]Order, error)
	TransactionHistory(ctx context.Context, ticker string, limit int) ([]Transaction, error)
	Balances(ctx context.Context, userID uuid.UUID) ([]Balance, error)

	ListInstruments(ctx context.Context) ([]Instrument, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByKeyPrefix(ctx context.Context, prefix string) (*User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) (*User, error)

	Ping(ctx context.Context) error
	Close()
}
