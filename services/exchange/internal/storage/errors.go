package storage

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidState          = errors.New("invalid state")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrConflict              = errors.New("conflict")
	ErrInvalidCursor         = errors.New("invalid cursor")
)
