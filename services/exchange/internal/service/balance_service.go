package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/instrument"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/ledger"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type BalanceService struct {
	store   storage.Store
	ledger  *ledger.Ledger
	logger  *slog.Logger
	metrics *Metrics
}

func NewBalanceService(store storage.Store, l *ledger.Ledger, logger *slog.Logger, metrics *Metrics) *BalanceService {
	if logger == nil {
		logger = slog.Default()
	}
	if l == nil {
		l = ledger.New(metrics)
	}
	return &BalanceService{store: store, ledger: l, logger: logger, metrics: metrics}
}

// Get returns ticker → amount for every balance row of the user.
func (s *BalanceService) Get(ctx context.Context, userID uuid.UUID) (map[string]int64, error) {
	return ledger.BalancesOf(ctx, s.store, userID)
}

func (s *BalanceService) Deposit(ctx context.Context, userID uuid.UUID, ticker string, amount int64) error {
	err := s.adjust(ctx, userID, ticker, amount, s.ledger.Credit)
	s.metrics.observeAdmin("deposit", err)
	if err != nil {
		return err
	}
	s.logger.Info("balance deposited", "user_id", userID, "ticker", ticker, "amount", amount)
	return nil
}

// Withdraw fails with storage.ErrInsufficientFunds when the balance is short.
func (s *BalanceService) Withdraw(ctx context.Context, userID uuid.UUID, ticker string, amount int64) error {
	err := s.adjust(ctx, userID, ticker, amount, s.ledger.Debit)
	s.metrics.observeAdmin("withdraw", err)
	if err != nil {
		return err
	}
	s.logger.Info("balance withdrawn", "user_id", userID, "ticker", ticker, "amount", amount)
	return nil
}

type balanceOp func(ctx context.Context, tx storage.Tx, userID uuid.UUID, ticker string, amount int64) error

func (s *BalanceService) adjust(ctx context.Context, userID uuid.UUID, ticker string, amount int64, op balanceOp) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		exists, err := tx.UserExists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		if err := instrument.RequireActive(ctx, tx, ticker); err != nil {
			return err
		}
		return op(ctx, tx, userID, ticker, amount)
	})
}
