package service

import (
	"errors"
	"fmt"

	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

var (
	ErrUserNotFound  = fmt.Errorf("user %w", storage.ErrNotFound)
	ErrOrderNotFound = fmt.Errorf("order %w", storage.ErrNotFound)
	ErrInvalidOrder  = errors.New("invalid order")
	// ErrQuoteInstrument rejects orders on the settlement currency itself.
	ErrQuoteInstrument = errors.New("the quote currency cannot be traded")
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrForbidden):
		return "forbidden"
	case errors.Is(err, storage.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, storage.ErrInsufficientFunds), errors.Is(err, storage.ErrInsufficientInventory):
		return "insufficient"
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrQuoteInstrument):
		return "invalid"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
