package service

import (
	"github.com/shopspring/decimal"

	apperrors "github.com/richardliu001/transaction-service/internal/errors"
	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/pagination"
	"github.com/richardliu001/transaction-service/internal/repo"
	"github.com/richardliu001/transaction-service/internal/validator"
)

// CreateTransferRequest is the input of CreateTransfer.
type CreateTransferRequest struct {
	FromAccountID string                 `json:"from_account_id" binding:"required,max=64"`
	ToAccountID   string                 `json:"to_account_id" binding:"required,max=64"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency" binding:"required,iso4217"`
	Description   string                 `json:"description" binding:"max=500"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// Validate checks the request before anything is persisted.
func (r CreateTransferRequest) Validate() error {
	switch {
	case r.FromAccountID == "" || r.ToAccountID == "":
		return apperrors.WithMessage(apperrors.ErrValidation, "from_account_id and to_account_id are required")
	case r.FromAccountID == r.ToAccountID:
		return apperrors.WithMessage(apperrors.ErrValidation, "cannot transfer to the same account")
	case !r.Amount.IsPositive():
		return apperrors.WithMessage(apperrors.ErrValidation, "amount must be greater than zero")
	case r.Currency == "":
		return apperrors.WithMessage(apperrors.ErrValidation, "currency is required")
	case !validator.IsCurrency(r.Currency):
		return apperrors.WithMessage(apperrors.ErrValidation, "currency must be an ISO 4217 code")
	}
	return nil
}

// CreatePaymentRequest is a transfer tagged with the payment method used.
type CreatePaymentRequest struct {
	CreateTransferRequest
	PaymentMethod string `json:"payment_method" binding:"max=32"`
}

// SearchQuery selects the transactions touching one account.
type SearchQuery struct {
	AccountID string
	Filter    repo.SearchFilter
	Page      pagination.PageRequest
}

// Validate requires an account and known enum filters.
func (q SearchQuery) Validate() error {
	if q.AccountID == "" {
		return apperrors.WithMessage(apperrors.ErrValidation, "account id is required")
	}
	if q.Filter.Status != nil && !q.Filter.Status.Valid() {
		return apperrors.WithMessage(apperrors.ErrValidation, "unknown status "+string(*q.Filter.Status))
	}
	if q.Filter.Type != nil && !q.Filter.Type.Valid() {
		return apperrors.WithMessage(apperrors.ErrValidation, "unknown type "+string(*q.Filter.Type))
	}
	if q.Filter.FromDate != nil && q.Filter.ToDate != nil && q.Filter.FromDate.After(*q.Filter.ToDate) {
		return apperrors.WithMessage(apperrors.ErrValidation, "fromDate is after toDate")
	}
	return nil
}

// SearchResult is one page of a search. Total counts the rows on this page.
type SearchResult struct {
	Transactions []model.Transaction `json:"transactions"`
	Page         int                 `json:"page"`
	Limit        int                 `json:"limit"`
	Total        int                 `json:"total"`
}
