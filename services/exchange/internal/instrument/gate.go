package instrument

import (
	"context"
	"fmt"

	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type Checker interface {
	InstrumentActive(ctx context.Context, ticker string) (bool, error)
	InstrumentExists(ctx context.Context, ticker string) (bool, error)
}

// RequireActive guards admission of orders and balance operations.
func RequireActive(ctx context.Context, c Checker, ticker string) error {
	ok, err := c.InstrumentActive(ctx, ticker)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("instrument %s: %w", ticker, storage.ErrNotFound)
	}
	return nil
}

// ExistsAny ignores the active flag. Settlement uses it so orders opened
// before a ticker was delisted can still trade.
func ExistsAny(ctx context.Context, c Checker, ticker string) (bool, error) {
	return c.InstrumentExists(ctx, ticker)
}
