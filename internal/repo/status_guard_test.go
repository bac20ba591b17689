package repo

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/testutil"
)

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	return NewRepository(db, nil, 0, zap.NewNop().Sugar()), db
}

func TestUpdateStatus_ConcurrentTransition(t *testing.T) {
	repo, db := newTestRepo(t)
	txn := testutil.CreateTestTransaction(t, db, "A1", "A2", 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				return repo.UpdateStatus(context.Background(), tx, txn.ID, model.StatusProcessing)
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success, "only one goroutine should apply the transition")
	got, err := repo.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestUpdateStatus_RejectsSkippedEdge(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	txn := testutil.CreateTestTransaction(t, db, "A1", "A2", 100)

	err := repo.UpdateStatus(ctx, db, txn.ID, model.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = repo.UpdateStatus(ctx, db, txn.ID, model.StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestUpdateStatus_FullLifecycle(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	txn := testutil.CreateTestTransaction(t, db, "A1", "A2", 100)

	require.NoError(t, repo.UpdateStatus(ctx, db, txn.ID, model.StatusProcessing))
	require.NoError(t, repo.UpdateStatus(ctx, db, txn.ID, model.StatusCompleted))
	require.NoError(t, repo.MarkProcessed(ctx, db, txn.ID))
	require.NoError(t, repo.MarkReversed(ctx, db, txn.ID))

	got, err := repo.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReversed, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.NotNil(t, got.ReversedAt)

	// applying the same edge twice is rejected
	assert.ErrorIs(t, repo.MarkReversed(ctx, db, txn.ID), ErrInvalidTransition)
}

func TestMarkReversed_RequiresCompleted(t *testing.T) {
	repo, db := newTestRepo(t)
	txn := testutil.CreateTestTransaction(t, db, "A1", "A2", 100, testutil.WithStatus(model.StatusFailed))

	err := repo.MarkReversed(context.Background(), db, txn.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkProcessed_Missing(t *testing.T) {
	repo, db := newTestRepo(t)
	err := repo.MarkProcessed(context.Background(), db, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGetTransaction_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
