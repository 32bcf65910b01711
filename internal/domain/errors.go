package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNoData             = errors.New("market data unavailable")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOrder       = errors.New("invalid order parameters")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrBelowMinimum       = errors.New("below exchange minimum")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrSigningFailed      = errors.New("signing failed")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
)
