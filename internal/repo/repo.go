package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/richardliu001/transaction-service/internal/model"
	"github.com/richardliu001/transaction-service/internal/pagination"
)

// ErrInvalidTransition is returned when a guarded status update finds the row
// outside the allowed predecessor statuses.
var ErrInvalidTransition = errors.New("invalid status transition")

// SearchFilter holds the optional filters of an account search. Bounds are inclusive.
type SearchFilter struct {
	Status    *model.TransactionStatus
	Type      *model.TransactionType
	FromDate  *time.Time
	ToDate    *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
}

// RepositoryInterface restricts Repo methods so the orchestrator can be tested against it.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status model.TransactionStatus) error
	MarkProcessed(ctx context.Context, tx *gorm.DB, id string) error
	MarkReversed(ctx context.Context, tx *gorm.DB, id string) error
	SearchTransactions(ctx context.Context, accountID string, f SearchFilter, page pagination.PageRequest) ([]model.Transaction, error)
	EvictTransaction(ctx context.Context, id string)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	IncrementOutboxAttempts(ctx context.Context, id uint64) error
}

// Repository implements RepositoryInterface on GORM with an optional Redis read cache.
type Repository struct {
	db       *gorm.DB
	rdb      *redis.Client
	cacheTTL time.Duration
	log      *zap.SugaredLogger
}

// NewRepository constructs repo. A nil rdb disables the read cache.
func NewRepository(db *gorm.DB, rdb *redis.Client, cacheTTL time.Duration, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, cacheTTL: cacheTTL, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// GetTransaction reads through the cache; gorm.ErrRecordNotFound when absent.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if t, ok := r.cachedTransaction(ctx, id); ok {
		return t, nil
	}
	var t model.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	r.cacheTransaction(ctx, &t)
	return &t, nil
}

// GetTransactionForUpdate locks the transaction row.
func (r *Repository) GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus moves the row to status, only from one of its predecessors.
func (r *Repository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status model.TransactionStatus) error {
	from := model.Predecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing may enter %s", ErrInvalidTransition, status)
	}
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, id, status)
	}
	return nil
}

// MarkProcessed stamps processed_at.
func (r *Repository) MarkProcessed(ctx context.Context, tx *gorm.DB, id string) error {
	now := time.Now()
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"processed_at": &now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkReversed flips a COMPLETED row to REVERSED and stamps reversed_at.
func (r *Repository) MarkReversed(ctx context.Context, tx *gorm.DB, id string) error {
	now := time.Now()
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status IN ?", id, model.Predecessors(model.StatusReversed)).
		Updates(map[string]interface{}{
			"status":      model.StatusReversed,
			"reversed_at": &now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, id, model.StatusReversed)
	}
	return nil
}

// SearchTransactions lists rows where accountID is source or destination, newest first.
func (r *Repository) SearchTransactions(ctx context.Context, accountID string, f SearchFilter, page pagination.PageRequest) ([]model.Transaction, error) {
	page.Defaults()
	q := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("(from_account_id = ? OR to_account_id = ?)", accountID, accountID)
	q = applyFilters(q, f)

	var txs []model.Transaction
	err := q.Order("created_at DESC").
		Order("id DESC").
		Scopes(pagination.Paginate(page)).
		Find(&txs).Error
	return txs, err
}

func applyFilters(q *gorm.DB, f SearchFilter) *gorm.DB {
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Type != nil {
		q = q.Where("transaction_type = ?", *f.Type)
	}
	if f.FromDate != nil {
		q = q.Where("created_at >= ?", *f.FromDate)
	}
	if f.ToDate != nil {
		q = q.Where("created_at <= ?", *f.ToDate)
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	return q
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events, oldest first.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at").Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// IncrementOutboxAttempts records a failed delivery.
func (r *Repository) IncrementOutboxAttempts(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1)).Error
}

func cacheKey(id string) string { return "transaction:" + id }

// EvictTransaction drops the cached copy after a committed write.
func (r *Repository) EvictTransaction(ctx context.Context, id string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, cacheKey(id)).Err(); err != nil {
		r.log.Warnw("evict cached transaction", "transaction_id", id, "error", err)
	}
}

func (r *Repository) cachedTransaction(ctx context.Context, id string) (*model.Transaction, bool) {
	if r.rdb == nil {
		return nil, false
	}
	raw, err := r.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warnw("read cached transaction", "transaction_id", id, "error", err)
		}
		return nil, false
	}
	var t model.Transaction
	if err := json.Unmarshal(raw, &t); err != nil {
		r.log.Warnw("decode cached transaction", "transaction_id", id, "error", err)
		return nil, false
	}
	return &t, true
}

// cacheTransaction stores only rows in a terminal status. A row that can
// still move may be overwritten here after a writer has already evicted it.
func (r *Repository) cacheTransaction(ctx context.Context, t *model.Transaction) {
	if r.rdb == nil || !t.Status.Terminal() {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, cacheKey(t.ID), raw, r.cacheTTL).Err(); err != nil {
		r.log.Warnw("cache transaction", "transaction_id", t.ID, "error", err)
	}
}
