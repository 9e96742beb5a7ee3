package task

import (
	"context"
	"errors"
)

// ErrNotFound reports a task id with no record behind it.
var ErrNotFound = errors.New("task not found")

// Filter narrows a task listing. Zero-valued fields match everything. Limit
// of zero applies the store default; results come back newest first.
type Filter struct {
	Source   string
	SourceID string
	Status   Status
	TaskType string
	Limit    int
	Offset   int
}

// Store persists task records. Every mutating step of an execution writes
// through immediately — one read-modify-write per log entry — so a crashed
// process leaves behind the last logged step rather than nothing.
type Store interface {
	Create(ctx context.Context, t *Task) error
	// Get returns ErrNotFound when no record exists for id.
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, t *Task) error
	List(ctx context.Context, f Filter) ([]*Task, error)
}
