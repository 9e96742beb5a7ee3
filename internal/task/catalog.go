package task

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownTaskType reports a task_type no workflow is registered for.
var ErrUnknownTaskType = errors.New("unknown task type")

// WorkflowInfo describes one registered task type for the catalog listing:
// what it does, which platform it works, the parameter schema a caller
// fills in, and how long a manual run of the same work takes.
type WorkflowInfo struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Platform    string   `json:"platform"`
	Icon        string   `json:"icon,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Params documents each accepted parameter: type, required, description,
	// defaults. It is schema metadata for callers, not validated input.
	Params map[string]any `json:"params,omitempty"`

	// TimeoutSeconds bounds one run; zero applies the service default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// SavingsMinutes is the configured estimate of manual minutes one
	// completed run replaces.
	SavingsMinutes int `json:"time_savings"`
}

// Registration pairs a workflow's metadata with its executable body.
type Registration struct {
	Info WorkflowInfo
	Unit UnitOfWork
}

// Catalog maps task types to registered workflows. Registration happens at
// startup; lookups happen on every execute, retry, and confirm.
type Catalog struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Registration
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Registration)}
}

// Register adds one task type. Duplicate ids are a wiring error.
func (c *Catalog) Register(info WorkflowInfo, unit UnitOfWork) error {
	if info.ID == "" {
		return errors.New("workflow id is required")
	}
	if unit == nil {
		return fmt.Errorf("workflow %q: unit of work is required", info.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.entries[info.ID]; dup {
		return fmt.Errorf("workflow %q already registered", info.ID)
	}
	c.entries[info.ID] = Registration{Info: info, Unit: unit}
	c.order = append(c.order, info.ID)
	return nil
}

// Resolve finds the registration behind taskType.
func (c *Catalog) Resolve(taskType string) (Registration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.entries[taskType]
	if !ok {
		return Registration{}, fmt.Errorf("%q: %w", taskType, ErrUnknownTaskType)
	}
	return reg, nil
}

// List returns every registered workflow in registration order.
func (c *Catalog) List() []WorkflowInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]WorkflowInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].Info)
	}
	return out
}

// SavingsMinutes reports the configured minutes saved by one run of
// taskType, zero when unknown.
func (c *Catalog) SavingsMinutes(taskType string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[taskType].Info.SavingsMinutes
}

// SavingsBreakdown tallies one task type's completed runs.
type SavingsBreakdown struct {
	Count   int `json:"count"`
	Savings int `json:"savings"`
}

// SavingsReport aggregates the manual time replaced by completed tasks.
type SavingsReport struct {
	TotalMinutes   int                         `json:"total_savings_minutes"`
	TotalFormatted string                      `json:"total_savings_formatted"`
	TaskCount      int                         `json:"task_count"`
	Breakdown      map[string]SavingsBreakdown `json:"breakdown"`
}

// Savings tallies time saved across tasks, counting only completed ones.
// Task types without a registration count as zero minutes but still appear
// in the totals.
func (c *Catalog) Savings(tasks []*Task) SavingsReport {
	report := SavingsReport{Breakdown: make(map[string]SavingsBreakdown)}
	for _, t := range tasks {
		if t.Status != StatusCompleted {
			continue
		}
		minutes := c.SavingsMinutes(t.TaskType)
		report.TaskCount++
		report.TotalMinutes += minutes
		entry := report.Breakdown[t.TaskType]
		entry.Count++
		entry.Savings += minutes
		report.Breakdown[t.TaskType] = entry
	}
	report.TotalFormatted = FormatSavings(report.TotalMinutes)
	return report
}

// FormatSavings renders minutes saved the way dashboards show it: "2h 30m",
// "2h", or "45m".
func FormatSavings(minutes int) string {
	if minutes >= 60 {
		hours, mins := minutes/60, minutes%60
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}
