package bybit

import (
	"errors"
	"fmt"
)

// Exchange return codes the rest of the system reasons about.
const (
	CodeOK                  = 0
	CodeParamError          = 10001
	CodeTooManyVisits       = 10006
	CodeInsufficientBalance = 110007
	CodeQtyTooLarge         = 110012
	CodeLeverageNotModified = 110043
	CodeInsufficientMargin  = 110044
	CodeBelowMinNotional    = 110094
	CodeQtyInvalid          = 170136
	CodeQtyPrecision        = 170137
	CodeOrderValueTooLow    = 170140
	CodeBalanceNotEnough    = 170131
	CodeNotModified         = 34040
)

// APIError is returned when the exchange answers with a non-zero retCode.
type APIError struct {
	Path    string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit: %s: retCode %d: %s", e.Path, e.Code, e.Message)
}

// TransportError wraps network failures, timeouts and non-2xx HTTP statuses.
// These are always retryable and never mean the request succeeded.
type TransportError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bybit: %s: HTTP %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bybit: %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Code extracts the exchange retCode from err, if err carries one.
func Code(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}

// IsNotModified reports whether err is the exchange's way of saying the
// requested state is already in place.
func IsNotModified(err error) bool {
	code, ok := Code(err)
	return ok && (code == CodeNotModified || code == CodeLeverageNotModified)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
