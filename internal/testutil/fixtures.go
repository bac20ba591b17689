package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/richardliu001/transaction-service/internal/model"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// TransactionOption customizes a fixture before insert.
type TransactionOption func(*model.Transaction)

// WithStatus sets the fixture status.
func WithStatus(s model.TransactionStatus) TransactionOption {
	return func(t *model.Transaction) { t.Status = s }
}

// WithType sets the fixture transaction type.
func WithType(tt model.TransactionType) TransactionOption {
	return func(t *model.Transaction) { t.TransactionType = tt }
}

// WithCreatedAt pins created_at so ordering is deterministic.
func WithCreatedAt(at time.Time) TransactionOption {
	return func(t *model.Transaction) { t.CreatedAt = at }
}

// CreateTestTransaction inserts a TRANSFER from -> to of amount, PENDING unless overridden.
func CreateTestTransaction(t *testing.T, db *gorm.DB, from, to string, amount int64, opts ...TransactionOption) *model.Transaction {
	t.Helper()

	n := nextID()
	txn := &model.Transaction{
		ID:              uuid.NewString(),
		TransactionRef:  fmt.Sprintf("TXN-TEST%d-FIXTUR", n),
		FromAccountID:   &from,
		ToAccountID:     &to,
		Amount:          decimal.NewFromInt(amount),
		Currency:        "USD",
		TransactionType: model.TypeTransfer,
		Status:          model.StatusPending,
	}
	for _, opt := range opts {
		opt(txn)
	}
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("failed to create test transaction: %v", err)
	}
	return txn
}
