package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionType classifies the money movement a record describes.
type TransactionType string

const (
	TypeTransfer   TransactionType = "TRANSFER"
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypePayment    TransactionType = "PAYMENT"
	TypeRefund     TransactionType = "REFUND"
	TypeFee        TransactionType = "FEE"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeTransfer, TypeDeposit, TypeWithdrawal, TypePayment, TypeRefund, TypeFee:
		return true
	}
	return false
}

// TransactionStatus is a state of the transfer lifecycle.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusReversed   TransactionStatus = "REVERSED"
	StatusCancelled  TransactionStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusReversed, StatusCancelled:
		return true
	}
	return false
}

// transitions lists, per target status, the statuses it may be entered from.
// CANCELLED has no inbound edge.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusProcessing: {StatusPending},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
	StatusReversed:   {StatusCompleted},
}

// Predecessors returns the statuses from which to may be entered.
func Predecessors(to TransactionStatus) []TransactionStatus {
	return transitions[to]
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves s.
func (s TransactionStatus) Terminal() bool {
	for _, preds := range transitions {
		for _, p := range preds {
			if p == s {
				return false
			}
		}
	}
	return true
}

type Transaction struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	TransactionRef  string            `gorm:"size:32;not null;uniqueIndex" json:"transaction_ref"`
	FromAccountID   *string           `gorm:"size:64;index" json:"from_account_id,omitempty"`
	ToAccountID     *string           `gorm:"size:64;index" json:"to_account_id,omitempty"`
	Amount          decimal.Decimal   `gorm:"type:numeric(20,8);not null" json:"amount"`
	Currency        string            `gorm:"size:3;not null" json:"currency"`
	TransactionType TransactionType   `gorm:"size:16;not null" json:"transaction_type"`
	Status          TransactionStatus `gorm:"size:16;not null;index" json:"status"`
	Description     string            `gorm:"type:text" json:"description,omitempty"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	ReversedAt      *time.Time        `json:"reversed_at,omitempty"`
	CreatedAt       time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string { return "transactions" }

// From returns the source account id or "" when unset.
func (t *Transaction) From() string {
	if t.FromAccountID == nil {
		return ""
	}
	return *t.FromAccountID
}

// To returns the destination account id or "" when unset.
func (t *Transaction) To() string {
	if t.ToAccountID == nil {
		return ""
	}
	return *t.ToAccountID
}
