// Package worker implements the task execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/queue"
	"github.com/AI-static/Aether/internal/task"
)

// DefaultTimeout bounds a unit of work when neither the catalog entry nor
// the configuration names one.
const DefaultTimeout = 10 * time.Minute

// Config controls Worker behavior.
type Config struct {
	// DefaultTimeout applies to units whose catalog entry has no timeout.
	DefaultTimeout time.Duration
}

// Worker consumes task ids and drives their units of work.
type Worker struct {
	queue   queue.Queue
	store   task.Store
	catalog *task.Catalog
	exec    *task.Executor
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue queue.Queue,
	store task.Store,
	catalog *task.Catalog,
	exec *task.Executor,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Worker{
		queue:   queue,
		store:   store,
		catalog: catalog,
		exec:    exec,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming task ids until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		taskID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", taskID))
		w.processTask(ctx, taskID)
	}
}

func (w *Worker) processTask(ctx context.Context, taskID string) {
	t, err := w.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			w.logger.Warn("dequeued unknown task", zap.String("task_id", taskID))
			return
		}
		w.logger.Error("load task failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if t.Status.Terminal() {
		w.logger.Warn("dequeued finished task",
			zap.String("task_id", taskID),
			zap.String("status", string(t.Status)))
		return
	}
	if _, waiting := t.PendingInteraction(); waiting || t.Status == task.StatusWaitingHumanInput {
		// The record belongs to the interaction handler until the user
		// confirms; a stale queue entry must not restart it.
		w.logger.Warn("dequeued task awaiting user input", zap.String("task_id", taskID))
		return
	}

	reg, err := w.catalog.Resolve(t.TaskType)
	if err != nil {
		w.logger.Error("resolve unit of work failed",
			zap.String("task_id", taskID),
			zap.String("task_type", t.TaskType),
			zap.Error(err))
		if failErr := w.exec.Fail(ctx, t, err.Error(), t.Progress); failErr != nil {
			w.logger.Error("fail task status update",
				zap.String("task_id", taskID),
				zap.Error(failErr))
		}
		return
	}

	timeout := w.cfg.DefaultTimeout
	if reg.Info.TimeoutSeconds > 0 {
		timeout = time.Duration(reg.Info.TimeoutSeconds) * time.Second
	}

	if err := w.exec.Start(ctx, t); err != nil {
		w.logger.Error("start task failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if err := w.exec.Run(ctx, t, reg.Unit, timeout); err != nil {
		w.logger.Error("run task failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
