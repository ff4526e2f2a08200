package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/ledger"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type InstrumentService struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *Metrics
}

func NewInstrumentService(store storage.Store, logger *slog.Logger, metrics *Metrics) *InstrumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentService{store: store, logger: logger, metrics: metrics}
}

// Add lists a ticker. A soft-deleted ticker is reactivated in place under
// the new name; an active one is a conflict.
func (s *InstrumentService) Add(ctx context.Context, name, ticker string) (*storage.Instrument, error) {
	var out storage.Instrument
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		existing, err := tx.GetInstrumentForUpdate(ctx, ticker)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			out = storage.Instrument{Ticker: ticker, Name: name, Active: true}
			return tx.InsertInstrument(ctx, out)
		case err != nil:
			return err
		case existing.Active:
			return fmt.Errorf("instrument %s: %w", ticker, storage.ErrConflict)
		}
		existing.Name = name
		existing.Active = true
		out = *existing
		return tx.UpdateInstrument(ctx, out)
	})
	s.metrics.observeAdmin("instrument_add", err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("instrument listed", "ticker", ticker, "name", name)
	return &out, nil
}

// Delete soft-deletes ticker. Open orders stay and may still trade.
func (s *InstrumentService) Delete(ctx context.Context, ticker string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if ticker == ledger.QuoteTicker {
			return fmt.Errorf("instrument %s is the quote currency: %w", ticker, storage.ErrForbidden)
		}
		existing, err := tx.GetInstrumentForUpdate(ctx, ticker)
		if err != nil {
			return err
		}
		if !existing.Active {
			return fmt.Errorf("instrument %s: %w", ticker, storage.ErrNotFound)
		}
		existing.Active = false
		return tx.UpdateInstrument(ctx, *existing)
	})
	s.metrics.observeAdmin("instrument_delete", err)
	if err != nil {
		return err
	}
	s.logger.Info("instrument delisted", "ticker", ticker)
	return nil
}

// List returns active instruments.
func (s *InstrumentService) List(ctx context.Context) ([]storage.Instrument, error) {
	return s.store.ListInstruments(ctx)
}
