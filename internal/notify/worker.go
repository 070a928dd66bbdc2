package notify

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// Worker runs the asynq server for receipt tasks until its context ends.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(redisOpts asynq.RedisClientOpt, queue string, concurrency int, handler *ReceiptHandler) *Worker {
	if queue == "" {
		queue = QueueReceipts
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSaleReceipt, handler.HandleSaleReceipt)
	return &Worker{server: srv, mux: mux}
}

func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
