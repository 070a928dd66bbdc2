package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ReceiptNotifier is told about every committed sale. Failures never undo
// the sale; callers log them.
type ReceiptNotifier interface {
	SaleCommitted(ctx context.Context, saleID string) error
}

type NoopNotifier struct{}

func (NoopNotifier) SaleCommitted(_ context.Context, _ string) error {
	return nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type ReceiptQueue struct {
	client enqueuer
	queue  string
}

func NewReceiptQueue(client *asynq.Client, queue string) *ReceiptQueue {
	return newReceiptQueue(client, queue)
}

func newReceiptQueue(client enqueuer, queue string) *ReceiptQueue {
	if queue == "" {
		queue = QueueReceipts
	}
	return &ReceiptQueue{client: client, queue: queue}
}

// SaleCommitted enqueues one receipt task per sale. The task ID is derived
// from the sale so a replayed request does not print twice.
func (q *ReceiptQueue) SaleCommitted(ctx context.Context, saleID string) error {
	task, err := NewSaleReceiptTask(saleID)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.TaskID("receipt:"+saleID),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue receipt for %s: %w", saleID, err)
	}
	return nil
}
