// Package errors defines the typed failures of the transaction service.
// Every service-layer error is an *AppError so the transport layer can map it
// to a status code without leaking internal details to clients.
package errors

import "net/http"

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is reports whether target is an *AppError with the same code, so that
// wrapped copies of a sentinel still match it.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// General errors.
var (
	ErrValidation     = &AppError{Code: "VALIDATION_ERROR", Message: "Invalid request", StatusCode: http.StatusBadRequest}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
	ErrShuttingDown   = &AppError{Code: "SHUTTING_DOWN", Message: "Service is shutting down", StatusCode: http.StatusServiceUnavailable}
)

// Transaction lifecycle errors.
var (
	ErrTransactionNotFound = &AppError{Code: "TRANSACTION_NOT_FOUND", Message: "Transaction not found", StatusCode: http.StatusNotFound}
	ErrInvalidState        = &AppError{Code: "INVALID_STATE", Message: "Operation not permitted in the current transaction status", StatusCode: http.StatusConflict}
	ErrPersistence         = &AppError{Code: "PERSISTENCE_ERROR", Message: "Failed to persist transaction", StatusCode: http.StatusInternalServerError}
	ErrCompensation        = &AppError{Code: "COMPENSATION_FAILURE", Message: "Reversal recorded but ledger compensation failed", StatusCode: http.StatusBadGateway}
	ErrEventPublish        = &AppError{Code: "EVENT_PUBLISH_FAILED", Message: "Failed to publish transaction event", StatusCode: http.StatusBadGateway}
)

// Ledger errors.
var (
	ErrAccountNotFound    = &AppError{Code: "ACCOUNT_NOT_FOUND", Message: "Account not found", StatusCode: http.StatusNotFound}
	ErrInsufficientFunds  = &AppError{Code: "INSUFFICIENT_FUNDS", Message: "Insufficient funds", StatusCode: http.StatusUnprocessableEntity}
	ErrLedgerUnavailable  = &AppError{Code: "LEDGER_UNAVAILABLE", Message: "Account ledger is unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrLedgerUpdateFailed = &AppError{Code: "UPDATE_REJECTED", Message: "Ledger rejected the balance update", StatusCode: http.StatusUnprocessableEntity}
)
