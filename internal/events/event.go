package events

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindTaskStart     Kind = "TASK_START"
	KindTaskWaiting   Kind = "TASK_WAITING"
	KindTaskDone      Kind = "TASK_DONE"
	KindTaskError     Kind = "TASK_ERROR"
	KindTaskCancelled Kind = "TASK_CANCELLED"
	KindExtractDone   Kind = "EXTRACT_DONE"
	KindSessionOpen   Kind = "SESSION_OPEN"
	KindSessionClose  Kind = "SESSION_CLOSE"
)

// Outcome is the coarse result grouping for extraction events.
type Outcome string

// Supported extraction outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event captures a single milestone in task execution or content
// acquisition.
type Event struct {
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which lifecycle milestone occurred.
	Kind Kind
	// TaskID scopes task lifecycle events; empty for connector-only events.
	TaskID string
	// TaskType carries the workflow name for task events.
	TaskType string
	// Platform scopes extraction and session events to a connector.
	Platform string
	// Outcome groups extraction completions.
	Outcome Outcome
	// Progress is the task's percentage at emission time.
	Progress int
	// Dur captures execution latency for completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindTaskStart, KindTaskWaiting, KindTaskDone, KindTaskError, KindTaskCancelled:
		if e.TaskID == "" {
			return errors.New("task events require a task id")
		}
	case KindExtractDone:
		if e.Platform == "" {
			return errors.New("extraction events require a platform")
		}
		if e.Outcome == "" {
			return errors.New("extraction events require an outcome")
		}
	case KindSessionOpen, KindSessionClose:
		if e.Platform == "" {
			return errors.New("session events require a platform")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Progress < 0 || e.Progress > 100 {
		return errors.New("progress must be within [0, 100]")
	}
	return nil
}

// IsTaskKind reports whether the event belongs to the task lifecycle.
func (e Event) IsTaskKind() bool {
	switch e.Kind {
	case KindTaskStart, KindTaskWaiting, KindTaskDone, KindTaskError, KindTaskCancelled:
		return true
	default:
		return false
	}
}
