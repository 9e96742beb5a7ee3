// Package queue defines the task-id handoff between the surfaces that
// accept work (API, confirmation endpoint) and the workers that execute it.
// The abstraction keeps the application independent of a specific transport:
// an in-memory channel for a single process, or the message bus when the
// accepting and executing sides run apart.
package queue

import (
	"context"
)

// Queue hands task ids to the execution backend. Records are persisted
// before their id is enqueued, so a dropped id loses a run, never a task.
type Queue interface {
	// Enqueue submits a task id, blocking while the queue is full until
	// there is room or ctx ends.
	Enqueue(ctx context.Context, taskID string) error

	// Dequeue blocks until the next task id is available or ctx ends.
	Dequeue(ctx context.Context) (string, error)

	// Close stops the queue; blocked calls return an error.
	Close() error
}
