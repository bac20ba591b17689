package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/richardliu001/transaction-service/internal/errors"
	"github.com/richardliu001/transaction-service/internal/events"
	"github.com/richardliu001/transaction-service/internal/ledger"
	"github.com/richardliu001/transaction-service/internal/metrics"
	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/repo"
	"github.com/richardliu001/transaction-service/internal/worker"
)

// maxRefAttempts bounds how often a colliding transaction ref is regenerated.
const maxRefAttempts = 3

// TransactionServicer is the surface the HTTP layer calls.
type TransactionServicer interface {
	CreateTransfer(ctx context.Context, req CreateTransferRequest) (*model.Transaction, error)
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*model.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	SearchTransactions(ctx context.Context, q SearchQuery) (*SearchResult, error)
	ReverseTransaction(ctx context.Context, id string) (*model.Transaction, error)
}

// Options tunes a TransferService.
type Options struct {
	Topic string
}

// TransferService records transfers, drives them through the ledger in the
// background and reverses completed ones.
type TransferService struct {
	repo   repo.RepositoryInterface
	ledger ledger.Client
	pub    events.Publisher
	sup    *worker.Supervisor
	log    *zap.SugaredLogger
	topic  string

	newRef func() string
}

var _ TransactionServicer = (*TransferService)(nil)

// NewTransferService wires the orchestrator to its collaborators.
func NewTransferService(r repo.RepositoryInterface, l ledger.Client, p events.Publisher, s *worker.Supervisor, logger *zap.SugaredLogger, opts Options) *TransferService {
	topic := opts.Topic
	if topic == "" {
		topic = "transaction-events"
	}
	return &TransferService{
		repo:   r,
		ledger: l,
		pub:    p,
		sup:    s,
		log:    logger,
		topic:  topic,
		newRef: newTransactionRef,
	}
}

// CreateTransfer persists a PENDING transfer and hands it to the background
// processor. The returned record is the PENDING one; the outcome arrives later.
func (s *TransferService) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*model.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	from, to := req.FromAccountID, req.ToAccountID
	txn := &model.Transaction{
		ID:              newTransactionID(),
		FromAccountID:   &from,
		ToAccountID:     &to,
		Amount:          req.Amount,
		Currency:        req.Currency,
		TransactionType: model.TypeTransfer,
		Status:          model.StatusPending,
		Description:     req.Description,
	}
	if len(req.Metadata) > 0 {
		txn.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.insert(ctx, txn); err != nil {
		return nil, err
	}
	log := s.log.With("transaction_id", txn.ID, "transaction_ref", txn.TransactionRef)
	log.Infow("transfer created", "from_account_id", from, "to_account_id", to, "amount", txn.Amount.String(), "currency", txn.Currency)

	s.announce(ctx, events.Initiated(txn))

	// the background phase owns its own copy
	work := *txn
	if err := s.sup.Go("process-transfer", func(bg context.Context) error {
		return s.processTransfer(bg, &work)
	}); err != nil {
		log.Errorw("transfer not scheduled, left PENDING", "error", err)
	}
	return txn, nil
}

// CreatePayment is CreateTransfer with the payment method recorded in metadata.
func (s *TransferService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*model.Transaction, error) {
	meta := make(map[string]interface{}, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.PaymentMethod != "" {
		meta["paymentMethod"] = req.PaymentMethod
	}
	transfer := req.CreateTransferRequest
	transfer.Metadata = meta
	return s.CreateTransfer(ctx, transfer)
}

// insert writes txn in its own database transaction, regenerating the ref on
// a unique-key collision.
func (s *TransferService) insert(ctx context.Context, txn *model.Transaction) error {
	var err error
	for attempt := 1; attempt <= maxRefAttempts; attempt++ {
		txn.TransactionRef = s.newRef()
		err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
			return s.repo.CreateTransaction(ctx, tx, txn)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
		s.log.Warnw("transaction ref collision", "transaction_ref", txn.TransactionRef, "attempt", attempt)
	}
	s.log.Errorw("insert transaction", "transaction_id", txn.ID, "error", err)
	return apperrors.Wrap(apperrors.ErrPersistence, err)
}

// processTransfer runs validate, debit, credit and finalize for one transfer.
// Debit and credit are not compensated: a credit failure leaves the source debited.
func (s *TransferService) processTransfer(ctx context.Context, txn *model.Transaction) error {
	log := s.log.With("transaction_id", txn.ID, "transaction_ref", txn.TransactionRef)

	if err := s.repo.UpdateStatus(ctx, s.repo.DB(ctx), txn.ID, model.StatusProcessing); err != nil {
		log.Errorw("persist PROCESSING", "error", err)
	}
	s.repo.EvictTransaction(ctx, txn.ID)
	txn.Status = model.StatusProcessing
	s.announce(ctx, events.Processing(txn))

	if err := s.moveFunds(ctx, txn); err != nil {
		return s.fail(ctx, txn, err)
	}

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdateStatus(ctx, tx, txn.ID, model.StatusCompleted); err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, tx, txn.ID)
	})
	if err != nil {
		log.Errorw("persist COMPLETED", "error", err)
	}
	s.repo.EvictTransaction(ctx, txn.ID)

	now := time.Now()
	txn.Status = model.StatusCompleted
	txn.ProcessedAt = &now
	metrics.TransfersTotal.WithLabelValues(string(model.StatusCompleted)).Inc()
	log.Infow("transfer completed")
	s.announce(ctx, events.Completed(txn))
	return nil
}

func (s *TransferService) moveFunds(ctx context.Context, txn *model.Transaction) error {
	from, to := txn.From(), txn.To()
	if !s.ledger.HasSufficientBalance(ctx, from, txn.Amount) {
		return apperrors.Wrap(apperrors.ErrInsufficientFunds, fmt.Errorf("account %s cannot cover %s", from, txn.Amount))
	}
	if err := s.ledger.DebitAccount(ctx, from, txn.Amount, txn.TransactionRef); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if err := s.ledger.CreditAccount(ctx, to, txn.Amount, txn.TransactionRef); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

// fail records FAILED, announces it and returns cause for the supervisor.
func (s *TransferService) fail(ctx context.Context, txn *model.Transaction, cause error) error {
	log := s.log.With("transaction_id", txn.ID, "transaction_ref", txn.TransactionRef)
	if err := s.repo.UpdateStatus(ctx, s.repo.DB(ctx), txn.ID, model.StatusFailed); err != nil {
		log.Errorw("persist FAILED", "error", err)
	}
	s.repo.EvictTransaction(ctx, txn.ID)

	txn.Status = model.StatusFailed
	metrics.TransfersTotal.WithLabelValues(string(model.StatusFailed)).Inc()
	log.Warnw("transfer failed", "error", cause)
	s.announce(ctx, events.Failed(txn, cause))
	return fmt.Errorf("transfer %s: %w", txn.TransactionRef, cause)
}

// GetTransactionByID returns the record or TRANSACTION_NOT_FOUND.
func (s *TransferService) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if id == "" {
		return nil, apperrors.WithMessage(apperrors.ErrValidation, "transaction id is required")
	}
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrTransactionNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return txn, nil
}

// SearchTransactions lists one page of an account's transactions, newest first.
func (s *TransferService) SearchTransactions(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.Page.Defaults()
	txs, err := s.repo.SearchTransactions(ctx, q.AccountID, q.Filter, q.Page)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return &SearchResult{
		Transactions: txs,
		Page:         q.Page.Page,
		Limit:        q.Page.Limit,
		Total:        len(txs),
	}, nil
}

// ReverseTransaction books a COMPLETED REFUND with the accounts swapped and
// flips the original to REVERSED in one database transaction, then moves the
// funds back on the ledger. A ledger failure after commit is returned as
// COMPENSATION_FAILURE together with the committed reversal record.
func (s *TransferService) ReverseTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if id == "" {
		return nil, apperrors.WithMessage(apperrors.ErrValidation, "transaction id is required")
	}

	var original, reversal *model.Transaction
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		orig, err := s.repo.GetTransactionForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrTransactionNotFound
			}
			return err
		}
		if orig.Status != model.StatusCompleted {
			return apperrors.WithMessage(apperrors.ErrInvalidState,
				fmt.Sprintf("only COMPLETED transactions can be reversed, got %s", orig.Status))
		}

		now := time.Now()
		rev := &model.Transaction{
			ID:              newTransactionID(),
			TransactionRef:  s.newRef(),
			FromAccountID:   orig.ToAccountID,
			ToAccountID:     orig.FromAccountID,
			Amount:          orig.Amount,
			Currency:        orig.Currency,
			TransactionType: model.TypeRefund,
			Status:          model.StatusCompleted,
			Description:     "Reversal of " + orig.TransactionRef,
			Metadata:        datatypes.JSONMap{"originalTransactionId": orig.ID},
			ProcessedAt:     &now,
		}
		if err := s.repo.CreateTransaction(ctx, tx, rev); err != nil {
			return err
		}
		if err := s.repo.MarkReversed(ctx, tx, orig.ID); err != nil {
			if errors.Is(err, repo.ErrInvalidTransition) {
				return apperrors.Wrap(apperrors.ErrInvalidState, err)
			}
			return err
		}
		orig.Status = model.StatusReversed
		orig.ReversedAt = &now
		original, reversal = orig, rev
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		s.log.Errorw("persist reversal", "transaction_id", id, "error", err)
		return nil, apperrors.Wrap(apperrors.ErrPersistence, err)
	}
	s.repo.EvictTransaction(ctx, original.ID)
	metrics.TransfersTotal.WithLabelValues(string(model.StatusReversed)).Inc()

	log := s.log.With("transaction_id", original.ID, "transaction_ref", original.TransactionRef, "reversal_transaction_id", reversal.ID)
	log.Infow("transaction reversed")

	if err := s.compensate(ctx, original); err != nil {
		log.Errorw("reversal compensation failed, manual reconciliation required", "error", err)
		return reversal, apperrors.Wrap(apperrors.ErrCompensation, err)
	}

	e := events.Reversed(original, reversal.ID)
	if err := s.pub.Publish(ctx, s.topic, e); err != nil {
		log.Warnw("announce reversal", "error", err)
		s.park(ctx, e)
		return reversal, apperrors.Wrap(apperrors.ErrEventPublish, err)
	}
	return reversal, nil
}

// compensate moves the original amount back, tagged with the original ref.
func (s *TransferService) compensate(ctx context.Context, original *model.Transaction) error {
	if err := s.ledger.DebitAccount(ctx, original.To(), original.Amount, original.TransactionRef); err != nil {
		return fmt.Errorf("debit %s: %w", original.To(), err)
	}
	if err := s.ledger.CreditAccount(ctx, original.From(), original.Amount, original.TransactionRef); err != nil {
		return fmt.Errorf("credit %s: %w", original.From(), err)
	}
	return nil
}

// announce publishes e; on failure it logs and parks e in the outbox.
func (s *TransferService) announce(ctx context.Context, e events.Event) {
	if err := s.pub.Publish(ctx, s.topic, e); err != nil {
		s.log.Warnw("announce event", "event_type", e.EventType, "transaction_id", e.TransactionID, "error", err)
		s.park(ctx, e)
	}
}

func (s *TransferService) park(ctx context.Context, e events.Event) {
	row, err := events.ToOutbox(s.topic, e)
	if err == nil {
		err = s.repo.CreateOutboxEvent(ctx, s.repo.DB(ctx), row)
	}
	if err != nil {
		s.log.Errorw("park event in outbox", "event_type", e.EventType, "transaction_id", e.TransactionID, "error", err)
		return
	}
	metrics.OutboxEventsTotal.WithLabelValues("parked").Inc()
}
