// Package interaction lets an external actor answer the question a
// suspended task is waiting on, then resumes or terminates the task.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/bus"
	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/task"
)

// ErrBadState rejects a confirmation against a task that is not waiting for
// one.
var ErrBadState = errors.New("task is not waiting for user input")

// ConfirmRequest is the user's answer to a pending interaction.
type ConfirmRequest struct {
	InteractionID string         `json:"interaction_id,omitempty"`
	Confirmed     bool           `json:"confirmed"`
	ResponseData  map[string]any `json:"response_data,omitempty"`
	Comment       string         `json:"comment,omitempty"`
}

// Outcome reports what a confirmation did. RetryTaskID carries the restarted
// task's id (always the same id; retry reuses the record) and is empty when
// the task was failed instead of restarted.
type Outcome struct {
	TaskID      string         `json:"task_id"`
	RetryTaskID string         `json:"retry_task_id,omitempty"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
}

// Enqueuer hands a task id back to the execution backend after a retry
// reset.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

// Deps bundles the handler's collaborators. Logger defaults to a nop; the
// rest are required.
type Deps struct {
	Store  task.Store
	Exec   *task.Executor
	Bus    bus.Publisher
	Queue  Enqueuer
	Logger *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// Handler dispatches user confirmations against suspended tasks. Concurrent
// confirmations of the same task id serialize on a striped lock, so the
// load → dispatch → retry sequence runs at most once at a time per id
// within this process.
type Handler struct {
	deps  Deps
	locks [64]sync.Mutex
}

// NewHandler builds a Handler around deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps.withDefaults()}
}

func (h *Handler) lockFor(taskID string) *sync.Mutex {
	hash := fnv.New32a()
	hash.Write([]byte(taskID))
	return &h.locks[hash.Sum32()%uint32(len(h.locks))]
}

// Confirm applies the user's answer to the task's pending interaction.
// Unknown ids return task.ErrNotFound; tasks not in WaitingHumanInput (or
// with no parked descriptor) return ErrBadState; answers missing required
// data return content.ErrInvalidInput. The record is only mutated after
// each step succeeds, so a handler-internal failure surfaces to the caller
// without corrupting it.
func (h *Handler) Confirm(ctx context.Context, taskID string, req ConfirmRequest) (Outcome, error) {
	mu := h.lockFor(taskID)
	mu.Lock()
	defer mu.Unlock()

	tk, err := h.deps.Store.Get(ctx, taskID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load task %s: %w", taskID, err)
	}
	if tk.Status != task.StatusWaitingHumanInput {
		return Outcome{}, fmt.Errorf("task %s is %s: %w", taskID, tk.Status, ErrBadState)
	}
	in, ok := tk.PendingInteraction()
	if !ok {
		return Outcome{}, fmt.Errorf("task %s has no pending interaction: %w", taskID, ErrBadState)
	}

	h.deps.Logger.Info("processing user confirmation",
		zap.String("task_id", taskID),
		zap.String("interaction_type", string(in.Type)),
		zap.Bool("confirmed", req.Confirmed))

	switch in.Type {
	case task.InteractionLoginConfirm:
		return h.confirmLogin(ctx, tk, in, req)
	case task.InteractionContentReview:
		return h.confirmReview(ctx, tk, req)
	case task.InteractionImageSelect:
		return h.confirmImageSelect(ctx, tk, req)
	default:
		return h.confirmCustom(ctx, tk, req)
	}
}

// confirmLogin tells the waiting login routine to proceed, then restarts the
// task. The topic is keyed by the browser context id the interaction carries;
// the subscriber side is WaitLoginConfirm.
func (h *Handler) confirmLogin(ctx context.Context, tk *task.Task, in *task.Interaction, _ ConfirmRequest) (Outcome, error) {
	contextID, _ := in.Data["context_id"].(string)
	if contextID == "" {
		return Outcome{}, fmt.Errorf("login confirmation missing context_id: %w", content.ErrInvalidInput)
	}
	pf := "unknown"
	if p, ok := in.Data["platform"].(string); ok && p != "" {
		pf = p
	}

	topic := bus.LoginConfirmTopic(contextID)
	if _, err := h.deps.Bus.Publish(ctx, topic, "confirm"); err != nil {
		return Outcome{}, fmt.Errorf("publish login confirmation: %w", err)
	}
	h.deps.Logger.Info("login confirmation published",
		zap.String("task_id", tk.ID),
		zap.String("topic", topic))

	// The login routine already got its signal; a restart failure is logged
	// but does not undo the confirmation.
	outcome := Outcome{
		TaskID:  tk.ID,
		Message: "login confirmed, task restarted",
		Data:    map[string]any{"context_id": contextID, "platform": pf},
	}
	retryID, err := h.restart(ctx, tk)
	if err != nil {
		h.deps.Logger.Error("task restart after login confirmation failed",
			zap.String("task_id", tk.ID), zap.Error(err))
		outcome.Message = "login confirmed, but the task could not be restarted"
		return outcome, nil
	}
	outcome.RetryTaskID = retryID
	return outcome, nil
}

func (h *Handler) confirmReview(ctx context.Context, tk *task.Task, req ConfirmRequest) (Outcome, error) {
	if !req.Confirmed {
		comment := req.Comment
		if comment == "" {
			comment = "no comment"
		}
		if err := h.deps.Exec.Fail(ctx, tk, "rejected: "+comment, tk.Progress); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			TaskID:  tk.ID,
			Message: "review rejected, task failed",
			Data:    map[string]any{"status": string(task.StatusFailed)},
		}, nil
	}

	retryID, err := h.restart(ctx, tk)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{TaskID: tk.ID, RetryTaskID: retryID, Message: "review approved, task restarted"}, nil
}

func (h *Handler) confirmImageSelect(ctx context.Context, tk *task.Task, req ConfirmRequest) (Outcome, error) {
	selected := selectedImages(req.ResponseData)
	if len(selected) == 0 {
		return Outcome{}, fmt.Errorf("selected_images is required: %w", content.ErrInvalidInput)
	}

	response := map[string]any{"selected_images": selected}
	if err := h.deps.Exec.UpdateContext(ctx, tk, "user_response", response); err != nil {
		return Outcome{}, err
	}

	retryID, err := h.restart(ctx, tk)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		TaskID:      tk.ID,
		RetryTaskID: retryID,
		Message:     fmt.Sprintf("%d images selected, task restarted", len(selected)),
		Data:        map[string]any{"selected_count": len(selected)},
	}, nil
}

func (h *Handler) confirmCustom(ctx context.Context, tk *task.Task, req ConfirmRequest) (Outcome, error) {
	response := map[string]any{
		"confirmed": req.Confirmed,
		"data":      req.ResponseData,
		"comment":   req.Comment,
	}
	if err := h.deps.Exec.UpdateContext(ctx, tk, "user_response", response); err != nil {
		return Outcome{}, err
	}

	if !req.Confirmed {
		if err := h.deps.Exec.Fail(ctx, tk, "rejected by user", tk.Progress); err != nil {
			return Outcome{}, err
		}
		return Outcome{
			TaskID:  tk.ID,
			Message: "interaction rejected, task failed",
			Data:    map[string]any{"status": string(task.StatusFailed)},
		}, nil
	}

	retryID, err := h.restart(ctx, tk)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{TaskID: tk.ID, RetryTaskID: retryID, Message: "interaction confirmed, task restarted"}, nil
}

// restart resets the record for replay and hands its id back to the
// execution backend.
func (h *Handler) restart(ctx context.Context, tk *task.Task) (string, error) {
	if err := h.deps.Exec.Retry(ctx, tk); err != nil {
		return "", err
	}
	if err := h.deps.Queue.Enqueue(ctx, tk.ID); err != nil {
		return "", fmt.Errorf("requeue task %s: %w", tk.ID, err)
	}
	return tk.ID, nil
}

func selectedImages(data map[string]any) []any {
	if data == nil {
		return nil
	}
	switch v := data["selected_images"].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return nil
}
