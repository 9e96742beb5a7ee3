package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/bus"
)

// DefaultTopic is the logical bus topic task ids travel on.
const DefaultTopic = "task_queue"

// BusQueue runs the task queue over the message bus, for deployments where
// the API replicas that accept tasks and the worker process that runs them
// are separate. Enqueue publishes the id; the subscription is created
// lazily on the first Dequeue, so enqueue-only processes never consume
// messages. Bus subscriptions fan out, which makes this a single-consumer
// queue: exactly one process may dequeue a given topic.
type BusQueue struct {
	b      bus.Bus
	topic  string
	logger *zap.Logger

	mu        sync.Mutex
	msgs      <-chan bus.Message
	cancelSub func()
	closed    bool
}

// NewBusQueue wraps b as a task queue on topic; an empty topic uses
// DefaultTopic.
func NewBusQueue(b bus.Bus, topic string, logger *zap.Logger) *BusQueue {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusQueue{b: b, topic: topic, logger: logger}
}

// Enqueue publishes the task id to the queue topic.
func (q *BusQueue) Enqueue(ctx context.Context, taskID string) error {
	if _, err := q.b.Publish(ctx, q.topic, taskID); err != nil {
		return fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return nil
}

// Dequeue blocks for the next task id, starting the subscription on first
// use.
func (q *BusQueue) Dequeue(ctx context.Context) (string, error) {
	msgs, err := q.subscription(ctx)
	if err != nil {
		return "", err
	}
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg, ok := <-msgs:
		if !ok {
			return "", errors.New("queue closed")
		}
		return taskIDFromMessage(msg), nil
	}
}

func (q *BusQueue) subscription(ctx context.Context) (<-chan bus.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.New("queue closed")
	}
	if q.msgs != nil {
		return q.msgs, nil
	}
	msgs, cancel, err := q.b.Subscribe(ctx, q.topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe task queue: %w", err)
	}
	q.msgs = msgs
	q.cancelSub = cancel
	q.logger.Info("task queue subscription started", zap.String("topic", q.topic))
	return q.msgs, nil
}

// Close releases the subscription, if one was started.
func (q *BusQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.cancelSub != nil {
		q.cancelSub()
	}
	return nil
}

// taskIDFromMessage decodes an id published through the bus (JSON string)
// while tolerating external producers that push bare ids.
func taskIDFromMessage(msg bus.Message) string {
	var id string
	if err := json.Unmarshal(msg.Data, &id); err != nil {
		return string(msg.Data)
	}
	return id
}
