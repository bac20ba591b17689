package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/richardliu001/transaction-service/internal/errors"
	"github.com/richardliu001/transaction-service/internal/events"
	"github.com/richardliu001/transaction-service/internal/ledger"
	"github.com/richardliu001/transaction-service/internal/repo"
	"github.com/richardliu001/transaction-service/internal/testutil"
	"github.com/richardliu001/transaction-service/internal/worker"
)

type ledgerCall struct {
	Op        string
	AccountID string
	Amount    decimal.Decimal
	Ref       string
}

// fakeLedger keeps balances in memory and records every mutation.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	calls    []ledgerCall
	// failures keyed by "debit:<account>" or "credit:<account>"
	failures map[string]error
}

var _ ledger.Client = (*fakeLedger)(nil)

func newFakeLedger(balances map[string]int64) *fakeLedger {
	l := &fakeLedger{balances: map[string]decimal.Decimal{}, failures: map[string]error{}}
	for k, v := range balances {
		l.balances[k] = decimal.NewFromInt(v)
	}
	return l
}

func (l *fakeLedger) GetBalance(_ context.Context, accountID string) (*ledger.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[accountID]
	if !ok {
		return nil, apperrors.ErrAccountNotFound
	}
	return &ledger.Balance{Balance: b, AvailableBalance: b}, nil
}

func (l *fakeLedger) HasSufficientBalance(ctx context.Context, accountID string, amount decimal.Decimal) bool {
	b, err := l.GetBalance(ctx, accountID)
	if err != nil {
		return false
	}
	return b.AvailableBalance.GreaterThanOrEqual(amount)
}

func (l *fakeLedger) UpdateBalance(_ context.Context, accountID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op := "credit"
	if amount.IsNegative() {
		op = "debit"
	}
	if err := l.failures[op+":"+accountID]; err != nil {
		return decimal.Zero, err
	}
	l.calls = append(l.calls, ledgerCall{Op: op, AccountID: accountID, Amount: amount.Abs(), Ref: ref})
	l.balances[accountID] = l.balances[accountID].Add(amount)
	return l.balances[accountID], nil
}

func (l *fakeLedger) DebitAccount(ctx context.Context, accountID string, amount decimal.Decimal, ref string) error {
	_, err := l.UpdateBalance(ctx, accountID, amount.Neg(), ref)
	return err
}

func (l *fakeLedger) CreditAccount(ctx context.Context, accountID string, amount decimal.Decimal, ref string) error {
	_, err := l.UpdateBalance(ctx, accountID, amount, ref)
	return err
}

func (l *fakeLedger) CreateHold(context.Context, string, decimal.Decimal, string, string) (string, error) {
	return "hold-1", nil
}

func (l *fakeLedger) ReleaseHold(context.Context, string) error { return nil }

func (l *fakeLedger) failOn(op, accountID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[op+":"+accountID] = err
}

func (l *fakeLedger) mutations() []ledgerCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledgerCall(nil), l.calls...)
}

func (l *fakeLedger) balance(accountID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID]
}

// recordingPublisher keeps published events; event types in fail are rejected.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	fail   map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[e.EventType] {
		return errors.New("kafka: broker not available")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types(transactionID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.TransactionID == transactionID {
			out = append(out, e.EventType)
		}
	}
	return out
}

func (p *recordingPublisher) find(eventType, transactionID string) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.EventType == eventType && e.TransactionID == transactionID {
			return e, true
		}
	}
	return events.Event{}, false
}

type fixture struct {
	svc    *TransferService
	db     *gorm.DB
	repo   *repo.Repository
	ledger *fakeLedger
	pub    *recordingPublisher
	sup    *worker.Supervisor
}

func newFixture(t *testing.T, balances map[string]int64) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zap.NewNop().Sugar()
	r := repo.NewRepository(db, nil, 0, log)
	l := newFakeLedger(balances)
	p := &recordingPublisher{fail: map[string]bool{}}
	sup := worker.NewSupervisor(log, nil)
	f := &fixture{
		svc:    NewTransferService(r, l, p, sup, log, Options{}),
		db:     db,
		repo:   r,
		ledger: l,
		pub:    p,
		sup:    sup,
	}
	t.Cleanup(func() { f.drain(t) })
	return f
}

// drain waits for every background transfer to finish.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.sup.Drain(ctx))
}

func (f *fixture) countTransactions(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Table("transactions").Count(&n).Error)
	return n
}

func (f *fixture) countOutbox(t *testing.T, eventType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Table("event_outbox").Where("event_type = ?", eventType).Count(&n).Error)
	return n
}
