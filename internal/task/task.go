package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is one position in the task lifecycle.
type Status string

// Task lifecycle states. Pending tasks have not started; Running tasks are
// owned by the executor; WaitingHumanInput tasks are owned by the
// interaction handler until confirmed. The last three are terminal for the
// executor, though a failed task may still be retried.
const (
	StatusPending           Status = "pending"
	StatusRunning           Status = "running"
	StatusWaitingHumanInput Status = "waiting_human_input"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether no further executor transition applies.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus validates a caller-supplied status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusRunning, StatusWaitingHumanInput,
		StatusCompleted, StatusFailed, StatusCancelled:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown task status %q", raw)
}

// Log entry statuses. Almost every step logs completed; a step that was
// attempted and abandoned logs failed.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// LogEntry records one executed step of a unit of work. Callers read the log
// sequence to discover the work performed so far; it is the primary
// observability channel, not a debugging extra.
type LogEntry struct {
	Step      int            `json:"step"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Status    string         `json:"status"`
}

// TaskError captures why a task failed, together with the shared context as
// it stood at the moment of failure.
type TaskError struct {
	Message          string         `json:"message"`
	ContextAtFailure map[string]any `json:"context_at_failure,omitempty"`
}

// Task is the durable record of one long-running operation. The executor
// owns it while Running; the interaction handler owns it while
// WaitingHumanInput. Params is the caller's immutable input; everything else
// accumulates as execution proceeds.
type Task struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
	TaskType string `json:"task_type"`

	Params map[string]any `json:"params,omitempty"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	SharedContext *Context   `json:"shared_context,omitempty"`
	Logs          []LogEntry `json:"logs,omitempty"`

	// Result holds the final output once completed. While the task waits for
	// human input it instead carries the interaction descriptor under the
	// "interaction" key, and after a confirmation it may carry the user's
	// answer under "user_response".
	Result map[string]any `json:"result,omitempty"`
	Error  *TaskError     `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// New builds a pending task record. The id comes from the caller so that
// storage and queue entries share it from the start.
func New(id, source, sourceID, taskType string, params map[string]any, now time.Time) *Task {
	return &Task{
		ID:            id,
		Source:        source,
		SourceID:      sourceID,
		TaskType:      taskType,
		Params:        params,
		Status:        StatusPending,
		SharedContext: NewContext(),
		CreatedAt:     now,
	}
}

// PendingInteraction returns the interaction descriptor parked in the
// result, if any. Records that round-tripped through storage carry it as a
// plain map; in-process records carry the typed value. Both decode.
func (t *Task) PendingInteraction() (*Interaction, bool) {
	if t.Result == nil {
		return nil, false
	}
	raw, ok := t.Result["interaction"]
	if !ok || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case *Interaction:
		return v, true
	case Interaction:
		return &v, true
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var in Interaction
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, false
	}
	if in.Type == "" {
		return nil, false
	}
	return &in, true
}

// Readable projects the record into the shape callers poll: every field plus
// a next_step_hint telling them what to do about the current status.
func (t *Task) Readable() map[string]any {
	logs := t.Logs
	if logs == nil {
		logs = []LogEntry{}
	}
	var sharedContext any = map[string]any{}
	if t.SharedContext != nil {
		sharedContext = t.SharedContext
	}
	out := map[string]any{
		"task_id":        t.ID,
		"source":         t.Source,
		"source_id":      t.SourceID,
		"task_type":      t.TaskType,
		"status":         t.Status,
		"progress":       t.Progress,
		"params":         t.Params,
		"shared_context": sharedContext,
		"logs":           logs,
		"result":         t.Result,
		"error":          t.Error,
		"created_at":     t.CreatedAt,
		"started_at":     t.StartedAt,
		"completed_at":   t.CompletedAt,
		"next_step_hint": t.nextStepHint(),
	}
	if len(t.Metadata) > 0 {
		out["metadata"] = t.Metadata
	}
	return out
}

func (t *Task) nextStepHint() string {
	switch t.Status {
	case StatusPending:
		return "task is queued and waiting to start"
	case StatusRunning:
		return fmt.Sprintf("task is running: progress %d%%, %d steps logged", t.Progress, len(t.Logs))
	case StatusWaitingHumanInput:
		in, ok := t.PendingInteraction()
		if !ok {
			return "task is waiting for user input: confirm the interaction to continue"
		}
		switch in.Type {
		case InteractionLoginConfirm:
			return "task is waiting for login: finish logging in, then confirm the interaction"
		case InteractionContentReview:
			return "task is waiting for content review: confirm to continue or reject with a comment"
		case InteractionImageSelect:
			return "task is waiting for image selection: confirm with selected_images in response_data"
		default:
			return "task is waiting for user input: confirm the interaction to continue"
		}
	case StatusCompleted:
		return "task completed; read the result field"
	case StatusFailed:
		msg := "unknown error"
		if t.Error != nil && t.Error.Message != "" {
			msg = t.Error.Message
		}
		return "task failed: " + msg + "; retry is available"
	case StatusCancelled:
		return "task was cancelled"
	}
	return "unknown status"
}
