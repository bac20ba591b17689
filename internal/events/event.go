// Package events announces transaction lifecycle transitions on Kafka and
// redelivers the ones parked in the outbox.
package events

import (
	"encoding/json"
	"time"

	"github.com/richardliu001/transaction-service/internal/model"
)

// Lifecycle event types.
const (
	TypeInitiated  = "transaction.initiated"
	TypeProcessing = "transaction.processing"
	TypeCompleted  = "transaction.completed"
	TypeFailed     = "transaction.failed"
	TypeReversed   = "transaction.reversed"
)

// Event is the JSON payload written to the bus.
type Event struct {
	EventType             string      `json:"event_type"`
	TransactionID         string      `json:"transaction_id"`
	TransactionRef        string      `json:"transaction_ref"`
	FromAccountID         string      `json:"from_account_id,omitempty"`
	ToAccountID           string      `json:"to_account_id,omitempty"`
	Amount                json.Number `json:"amount,omitempty"`
	Currency              string      `json:"currency,omitempty"`
	Error                 string      `json:"error,omitempty"`
	ReversalTransactionID string      `json:"reversal_transaction_id,omitempty"`
	Timestamp             int64       `json:"timestamp"`
}

func base(eventType string, t *model.Transaction) Event {
	return Event{
		EventType:      eventType,
		TransactionID:  t.ID,
		TransactionRef: t.TransactionRef,
		Timestamp:      time.Now().UnixMilli(),
	}
}

func withTransfer(e Event, t *model.Transaction) Event {
	e.FromAccountID = t.From()
	e.ToAccountID = t.To()
	e.Amount = json.Number(t.Amount.String())
	e.Currency = t.Currency
	return e
}

// Initiated announces a newly recorded transfer.
func Initiated(t *model.Transaction) Event {
	return withTransfer(base(TypeInitiated, t), t)
}

// Processing announces that ledger work has started.
func Processing(t *model.Transaction) Event {
	return base(TypeProcessing, t)
}

// Completed announces a transfer whose debit and credit both succeeded.
func Completed(t *model.Transaction) Event {
	return withTransfer(base(TypeCompleted, t), t)
}

// Failed announces a transfer that ended in FAILED, with the cause.
func Failed(t *model.Transaction, cause error) Event {
	e := base(TypeFailed, t)
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// Reversed announces that original was reversed by the reversal record.
func Reversed(original *model.Transaction, reversalID string) Event {
	e := base(TypeReversed, original)
	e.ReversalTransactionID = reversalID
	return e
}

// ToOutbox converts e into a row for later redelivery on topic.
func ToOutbox(topic string, e Event) (*model.OutboxEvent, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &model.OutboxEvent{
		Topic:       topic,
		AggregateID: e.TransactionID,
		EventType:   e.EventType,
		Payload:     string(payload),
	}, nil
}
