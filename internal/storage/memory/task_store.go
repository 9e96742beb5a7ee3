package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/AI-static/Aether/internal/task"
)

// defaultListLimit applies when a filter does not set one.
const defaultListLimit = 20

// TaskStore keeps task records in-memory for development and testing. Records
// are held as JSON snapshots so callers and the store never share mutable
// state; a caller that keeps editing its *Task after Update cannot corrupt
// what a later Get returns. The snapshots also exercise the same codec the
// Postgres store relies on.
type TaskStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	order   []string
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		records: make(map[string][]byte),
	}
}

// Create stores a new task record.
func (s *TaskStore) Create(_ context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.records[t.ID] = data
	s.order = append(s.order, t.ID)
	return nil
}

// Get fetches a task by id.
func (s *TaskStore) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, task.ErrNotFound
	}
	return decodeTask(id, data)
}

// Update replaces the stored record for the task's id.
func (s *TaskStore) Update(_ context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[t.ID]; !exists {
		return task.ErrNotFound
	}
	s.records[t.ID] = data
	return nil
}

// List returns matching tasks newest first.
func (s *TaskStore) List(_ context.Context, f task.Filter) ([]*task.Task, error) {
	s.mu.RLock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	snapshots := make(map[string][]byte, len(ids))
	for _, id := range ids {
		snapshots[id] = s.records[id]
	}
	s.mu.RUnlock()

	var matched []*task.Task
	// Walk insertion order backwards so equal timestamps keep latest-created
	// first after the stable sort below.
	for i := len(ids) - 1; i >= 0; i-- {
		t, err := decodeTask(ids[i], snapshots[ids[i]])
		if err != nil {
			return nil, err
		}
		if matchesFilter(t, f) {
			matched = append(matched, t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func matchesFilter(t *task.Task, f task.Filter) bool {
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.SourceID != "" && t.SourceID != f.SourceID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.TaskType != "" && t.TaskType != f.TaskType {
		return false
	}
	return true
}

func decodeTask(id string, data []byte) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}
