// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/queue"
	"github.com/AI-static/Aether/internal/worker"
)

// Dispatcher owns the worker pool. It starts every worker against the shared
// queue, blocks until shutdown, and doubles as the submission path the API
// and the interaction handler use to hand task ids to the pool.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has drained its in-flight task.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("worker pool starting", zap.Int("workers", len(d.workers)))

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()

	d.logger.Info("worker pool stopped")
}

// Enqueue submits a task id for execution.
func (d *Dispatcher) Enqueue(ctx context.Context, taskID string) error {
	if err := d.queue.Enqueue(ctx, taskID); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
