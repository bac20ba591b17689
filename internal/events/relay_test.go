package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/repo"
	"github.com/richardliu001/transaction-service/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	failOn map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn[e.TransactionID] {
		return errors.New("broker down")
	}
	p.events = append(p.events, e)
	return nil
}

func TestRelay_RunOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := repo.NewRepository(db, nil, 0, zap.NewNop().Sugar())
	ctx := context.Background()

	for _, txn := range []*model.Transaction{
		{ID: "ok-1", TransactionRef: "TXN-A-000001"},
		{ID: "bad-1", TransactionRef: "TXN-A-000002"},
	} {
		row, err := ToOutbox("transaction-events", Completed(txn))
		require.NoError(t, err)
		require.NoError(t, r.CreateOutboxEvent(ctx, db, row))
	}
	require.NoError(t, r.CreateOutboxEvent(ctx, db, &model.OutboxEvent{
		Topic: "transaction-events", AggregateID: "junk", EventType: TypeFailed, Payload: "not json",
	}))

	pub := &recordingPublisher{failOn: map[string]bool{"bad-1": true}}
	relay := NewRelay(r, pub, 10, zap.NewNop().Sugar())

	sent, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "ok-1", pub.events[0].TransactionID)
	assert.Equal(t, TypeCompleted, pub.events[0].EventType)

	pending, err := r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, row := range pending {
		assert.Equal(t, 1, row.Attempts)
	}

	// broker recovers
	pub.failOn = nil
	sent, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	pending, err = r.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "junk", pending[0].AggregateID)
	assert.Equal(t, 2, pending[0].Attempts)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	db := testutil.SetupTestDB(t)
	r := repo.NewRepository(db, nil, 0, zap.NewNop().Sugar())
	relay := NewRelay(r, &recordingPublisher{}, 10, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, relay.Run(ctx, 1<<30), context.Canceled)
}
