// Package ledger talks to the external account ledger that owns balances.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Balance is an account's booked and available balance.
type Balance struct {
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
}

// Client is the ledger surface the transfer orchestrator depends on.
//
// Errors are *apperrors.AppError values: ErrAccountNotFound,
// ErrLedgerUnavailable, ErrInsufficientFunds or ErrLedgerUpdateFailed.
type Client interface {
	GetBalance(ctx context.Context, accountID string) (*Balance, error)
	// HasSufficientBalance is fail-closed: any lookup error reports false.
	HasSufficientBalance(ctx context.Context, accountID string, amount decimal.Decimal) bool
	// UpdateBalance applies a signed delta and returns the new balance.
	UpdateBalance(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (decimal.Decimal, error)
	DebitAccount(ctx context.Context, accountID string, amount decimal.Decimal, ref string) error
	CreditAccount(ctx context.Context, accountID string, amount decimal.Decimal, ref string) error
	CreateHold(ctx context.Context, accountID string, amount decimal.Decimal, reason, ref string) (string, error)
	ReleaseHold(ctx context.Context, holdID string) error
}
