package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/testutil"
)

func TestGetTransaction_CacheHit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rdb, mock := redismock.NewClientMock()
	repo := NewRepository(db, rdb, 30*time.Second, zap.NewNop().Sugar())

	from, to := "ACC-1", "ACC-2"
	cached := model.Transaction{
		ID:              "cached-only",
		TransactionRef:  "TXN-CACHED-ABCDEF",
		FromAccountID:   &from,
		ToAccountID:     &to,
		Amount:          decimal.NewFromInt(42),
		Currency:        "USD",
		TransactionType: model.TypeTransfer,
		Status:          model.StatusCompleted,
	}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	mock.ExpectGet("transaction:cached-only").SetVal(string(raw))

	// the row does not exist in the database, so a hit must come from Redis
	got, err := repo.GetTransaction(context.Background(), "cached-only")
	require.NoError(t, err)
	assert.Equal(t, "TXN-CACHED-ABCDEF", got.TransactionRef)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(42)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction_CacheErrorFallsBackToDB(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rdb, mock := redismock.NewClientMock()
	repo := NewRepository(db, rdb, 30*time.Second, zap.NewNop().Sugar())

	txn := testutil.CreateTestTransaction(t, db, "ACC-1", "ACC-2", 7)
	mock.ExpectGet("transaction:" + txn.ID).SetErr(errors.New("connection refused"))

	got, err := repo.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.TransactionRef, got.TransactionRef)
}

func TestGetTransaction_CachesTerminalRows(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rdb, mock := redismock.NewClientMock()
	repo := NewRepository(db, rdb, 30*time.Second, zap.NewNop().Sugar())

	txn := testutil.CreateTestTransaction(t, db, "ACC-1", "ACC-2", 7, testutil.WithStatus(model.StatusFailed))
	var stored model.Transaction
	require.NoError(t, db.Where("id = ?", txn.ID).First(&stored).Error)
	raw, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectGet("transaction:" + txn.ID).RedisNil()
	mock.ExpectSet("transaction:"+txn.ID, raw, 30*time.Second).SetVal("OK")

	_, err = repo.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction_SkipsCacheForMovingRows(t *testing.T) {
	for _, status := range []model.TransactionStatus{model.StatusPending, model.StatusProcessing, model.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			rdb, mock := redismock.NewClientMock()
			core, logs := observer.New(zap.WarnLevel)
			repo := NewRepository(db, rdb, 30*time.Second, zap.New(core).Sugar())

			txn := testutil.CreateTestTransaction(t, db, "ACC-1", "ACC-2", 7, testutil.WithStatus(status))
			mock.ExpectGet("transaction:" + txn.ID).RedisNil()

			got, err := repo.GetTransaction(context.Background(), txn.ID)
			require.NoError(t, err)
			assert.Equal(t, status, got.Status)
			assert.NoError(t, mock.ExpectationsWereMet())
			// any SET would hit the exhausted mock and log a warning
			assert.Zero(t, logs.FilterMessage("cache transaction").Len())
		})
	}
}

func TestEvictTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rdb, mock := redismock.NewClientMock()
	repo := NewRepository(db, rdb, 30*time.Second, zap.NewNop().Sugar())

	mock.ExpectDel("transaction:abc").SetVal(1)
	repo.EvictTransaction(context.Background(), "abc")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_Lifecycle(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, repo.CreateOutboxEvent(ctx, db, &model.OutboxEvent{
			Topic:       "transaction-events",
			AggregateID: id,
			EventType:   "transaction.completed",
			Payload:     `{"transaction_id":"` + id + `"}`,
		}))
	}

	evts, err := repo.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "t1", evts[0].AggregateID)

	require.NoError(t, repo.IncrementOutboxAttempts(ctx, evts[1].ID))
	require.NoError(t, repo.MarkOutboxProcessed(ctx, evts[0].ID))

	evts, err = repo.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "t2", evts[0].AggregateID)
	assert.Equal(t, 1, evts[0].Attempts)
}
