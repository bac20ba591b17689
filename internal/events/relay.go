package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/richardliu001/transaction-service/internal/metrics"
	"github.com/richardliu001/transaction-service/internal/repo"
)

// Relay redelivers outbox rows whose direct publication failed.
type Relay struct {
	repo      repo.RepositoryInterface
	pub       Publisher
	batchSize int
	log       *zap.SugaredLogger
}

func NewRelay(r repo.RepositoryInterface, pub Publisher, batchSize int, log *zap.SugaredLogger) *Relay {
	return &Relay{repo: r, pub: pub, batchSize: batchSize, log: log}
}

// RunOnce delivers one batch and returns how many rows were marked processed.
// A failed row has its attempts bumped and is retried on the next pass.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	evts, err := r.repo.PollOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, row := range evts {
		var e Event
		if err := json.Unmarshal([]byte(row.Payload), &e); err != nil {
			r.log.Errorw("decode outbox payload", "outbox_id", row.ID, "error", err)
			r.bump(ctx, row.ID)
			continue
		}
		if err := r.pub.Publish(ctx, row.Topic, e); err != nil {
			r.log.Errorw("relay publish", "outbox_id", row.ID, "event_type", row.EventType, "attempts", row.Attempts+1, "error", err)
			r.bump(ctx, row.ID)
			continue
		}
		if err := r.repo.MarkOutboxProcessed(ctx, row.ID); err != nil {
			r.log.Errorw("mark outbox processed", "outbox_id", row.ID, "error", err)
			continue
		}
		metrics.OutboxEventsTotal.WithLabelValues("delivered").Inc()
		sent++
	}
	return sent, nil
}

func (r *Relay) bump(ctx context.Context, id uint64) {
	metrics.OutboxEventsTotal.WithLabelValues("failed").Inc()
	if err := r.repo.IncrementOutboxAttempts(ctx, id); err != nil {
		r.log.Errorw("bump outbox attempts", "outbox_id", id, "error", err)
	}
}

// Run polls every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Infow("outbox relay started", "interval", interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.log.Infow("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Errorw("poll outbox", "error", err)
				continue
			}
			if n > 0 {
				r.log.Infow("outbox events delivered", "count", n)
			}
		}
	}
}
