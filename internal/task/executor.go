package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	sysclock "github.com/AI-static/Aether/internal/clock/system"
	"github.com/AI-static/Aether/internal/content"
	uuidgen "github.com/AI-static/Aether/internal/id/uuid"
)

// UnitOfWork is one executable task body. Run drives the whole flow for one
// task: it reads the caller's params from the record, threads intermediate
// artifacts through the shared context, and returns the final result
// payload. A unit that needs human input parks an interaction via
// exec.RequestInteraction and returns (nil, nil); the executor then leaves
// the record in WaitingHumanInput instead of completing it.
//
// Retried units replay from the top with logs and shared context intact, so
// steps should consult the context and skip work whose output key already
// exists.
type UnitOfWork interface {
	Run(ctx context.Context, exec *Executor, t *Task) (map[string]any, error)
}

// UnitFunc adapts a bare function to UnitOfWork.
type UnitFunc func(ctx context.Context, exec *Executor, t *Task) (map[string]any, error)

// Run implements UnitOfWork.
func (f UnitFunc) Run(ctx context.Context, exec *Executor, t *Task) (map[string]any, error) {
	return f(ctx, exec, t)
}

// ErrSuperseded is returned by a unit that suspended inline (Suspend) and
// then observed that a confirmation already reset and re-enqueued the record.
// The replay owns the task from that point; the executor discards this run
// without touching the record.
var ErrSuperseded = errors.New("task superseded by a restarted run")

// Deps bundles the executor's collaborators. Store is required; the rest
// fall back to working defaults so tests supply only what they assert on.
type Deps struct {
	Store  Store
	Logger *zap.Logger
	Clock  content.Clock
	IDs    content.IDGenerator
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = sysclock.New()
	}
	if d.IDs == nil {
		d.IDs = uuidgen.New()
	}
	return d
}

// Executor runs units of work against task records with bounded wall-clock
// time and structured failure capture. Every mutation writes through to the
// store before the method returns.
type Executor struct {
	deps Deps
}

// NewExecutor builds an executor around deps.
func NewExecutor(deps Deps) *Executor {
	return &Executor{deps: deps.withDefaults()}
}

func (e *Executor) persist(ctx context.Context, t *Task) error {
	if err := e.deps.Store.Update(ctx, t); err != nil {
		return fmt.Errorf("persist task %s: %w", t.ID, err)
	}
	return nil
}

// Start marks t running and stamps started_at.
func (e *Executor) Start(ctx context.Context, t *Task) error {
	now := e.deps.Clock.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
	e.deps.Logger.Info("task started",
		zap.String("task_id", t.ID),
		zap.String("task_type", t.TaskType))
	return e.persist(ctx, t)
}

type unitOutcome struct {
	result map[string]any
	err    error
}

// Run drives unit against t under a wall-clock deadline (no deadline when
// timeout is zero). On expiry the unit's context is cancelled and t fails
// with a timeout message at its current progress; in-flight remote work may
// finish on the provider side but its outcome is discarded. A panic or error
// from the unit fails t at progress zero. A clean return either completes t
// or, when the unit parked an interaction, leaves it waiting for input.
func (e *Executor) Run(ctx context.Context, t *Task, unit UnitOfWork, timeout time.Duration) error {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	outcome := make(chan unitOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- unitOutcome{err: fmt.Errorf("%v", r)}
			}
		}()
		result, err := unit.Run(runCtx, e, t)
		outcome <- unitOutcome{result: result, err: err}
	}()

	var out unitOutcome
	select {
	case out = <-outcome:
	case <-runCtx.Done():
		out = unitOutcome{err: runCtx.Err()}
	}

	// Terminal writes must not be blocked by the expired run deadline.
	finishCtx := context.WithoutCancel(ctx)

	if out.err != nil {
		if errors.Is(out.err, ErrSuperseded) {
			e.deps.Logger.Info("run superseded by a restarted instance",
				zap.String("task_id", t.ID))
			return nil
		}
		if timeout > 0 && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.deps.Logger.Error("unit of work timed out",
				zap.String("task_id", t.ID),
				zap.Duration("timeout", timeout))
			msg := fmt.Sprintf("timed out after %ds", int(timeout.Seconds()))
			return e.Fail(finishCtx, t, msg, t.Progress)
		}
		if ctx.Err() != nil {
			// Shutdown, not a task failure: leave the record as the last
			// persisted step wrote it.
			return fmt.Errorf("run task %s: %w", t.ID, ctx.Err())
		}
		e.deps.Logger.Error("unit of work failed",
			zap.String("task_id", t.ID),
			zap.Error(out.err))
		return e.Fail(finishCtx, t, out.err.Error(), 0)
	}

	if _, waiting := t.PendingInteraction(); waiting {
		t.Status = StatusWaitingHumanInput
		e.deps.Logger.Info("task suspended for user input",
			zap.String("task_id", t.ID))
		return e.persist(finishCtx, t)
	}
	return e.Complete(finishCtx, t, out.result)
}

// LogStep appends one completed step to the task log and persists.
func (e *Executor) LogStep(ctx context.Context, t *Task, step int, name string, input, output map[string]any) error {
	return e.LogStepStatus(ctx, t, step, name, input, output, StepCompleted)
}

// LogStepStatus appends one step with an explicit status.
func (e *Executor) LogStepStatus(ctx context.Context, t *Task, step int, name string, input, output map[string]any, status string) error {
	t.Logs = append(t.Logs, LogEntry{
		Step:      step,
		Name:      name,
		Timestamp: e.deps.Clock.Now(),
		Input:     input,
		Output:    output,
		Status:    status,
	})
	return e.persist(ctx, t)
}

// UpdateContext merges one key into the shared context and persists.
// Multi-step units use it to hand artifacts to later steps and to their own
// replays.
func (e *Executor) UpdateContext(ctx context.Context, t *Task, key string, value any) error {
	if t.SharedContext == nil {
		t.SharedContext = NewContext()
	}
	t.SharedContext.Set(key, value)
	return e.persist(ctx, t)
}

// SetProgress records advisory progress, clamped to 0-100, and persists.
func (e *Executor) SetProgress(ctx context.Context, t *Task, progress int) error {
	t.Progress = clampProgress(progress)
	return e.persist(ctx, t)
}

// RequestInteraction parks a pending human interaction on t and persists.
// Missing identity and timing fields are filled in; the unit of work should
// return right after, letting Run move the record to WaitingHumanInput.
func (e *Executor) RequestInteraction(ctx context.Context, t *Task, in *Interaction) error {
	if err := e.parkInteraction(t, in); err != nil {
		return err
	}
	return e.persist(ctx, t)
}

// Suspend parks the interaction and moves t to WaitingHumanInput in one
// write, for units that keep running while they wait on the answer inline
// (the login-confirmation flow). Units that return instead use
// RequestInteraction and let Run flip the status.
func (e *Executor) Suspend(ctx context.Context, t *Task, in *Interaction) error {
	if err := e.parkInteraction(t, in); err != nil {
		return err
	}
	t.Status = StatusWaitingHumanInput
	return e.persist(ctx, t)
}

// Resume clears the parked interaction and puts t back to Running after an
// inline wait ends without a confirmation taking over the record.
func (e *Executor) Resume(ctx context.Context, t *Task) error {
	if t.Result != nil {
		delete(t.Result, "interaction")
		if len(t.Result) == 0 {
			t.Result = nil
		}
	}
	t.Status = StatusRunning
	e.deps.Logger.Info("task resumed after inline wait",
		zap.String("task_id", t.ID))
	return e.persist(ctx, t)
}

func (e *Executor) parkInteraction(t *Task, in *Interaction) error {
	if in.InteractionID == "" {
		id, err := e.deps.IDs.NewID()
		if err != nil {
			return fmt.Errorf("mint interaction id: %w", err)
		}
		in.InteractionID = id
	}
	in.TaskID = t.ID
	if in.Status == "" {
		in.Status = InteractionPending
	}
	if in.TimeoutSeconds <= 0 {
		in.TimeoutSeconds = DefaultInteractionTimeoutSeconds
	}
	now := e.deps.Clock.Now()
	in.CreatedAt = now
	expires := now.Add(time.Duration(in.TimeoutSeconds) * time.Second)
	in.ExpiresAt = &expires

	if t.Result == nil {
		t.Result = map[string]any{}
	}
	t.Result["interaction"] = in
	e.deps.Logger.Info("interaction requested",
		zap.String("task_id", t.ID),
		zap.String("interaction_type", string(in.Type)),
		zap.String("interaction_id", in.InteractionID))
	return nil
}

// Complete marks t completed. A nil result keeps whatever the record
// already carries.
func (e *Executor) Complete(ctx context.Context, t *Task, result map[string]any) error {
	now := e.deps.Clock.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	if result != nil {
		t.Result = result
	}
	e.deps.Logger.Info("task completed",
		zap.String("task_id", t.ID),
		zap.Int("steps_logged", len(t.Logs)))
	return e.persist(ctx, t)
}

// Fail marks t failed, snapshotting the shared context into the error.
func (e *Executor) Fail(ctx context.Context, t *Task, message string, progress int) error {
	return e.FailWithContext(ctx, t, message, progress, nil)
}

// FailWithContext marks t failed with an explicit context snapshot; nil
// captures the shared context as it stands.
func (e *Executor) FailWithContext(ctx context.Context, t *Task, message string, progress int, snapshot map[string]any) error {
	if snapshot == nil {
		snapshot = t.SharedContext.Snapshot()
	}
	now := e.deps.Clock.Now()
	t.Status = StatusFailed
	t.Progress = clampProgress(progress)
	t.CompletedAt = &now
	t.Error = &TaskError{Message: message, ContextAtFailure: snapshot}
	e.deps.Logger.Error("task failed",
		zap.String("task_id", t.ID),
		zap.String("reason", message))
	return e.persist(ctx, t)
}

// Cancel marks t cancelled.
func (e *Executor) Cancel(ctx context.Context, t *Task) error {
	now := e.deps.Clock.Now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	e.deps.Logger.Info("task cancelled", zap.String("task_id", t.ID))
	return e.persist(ctx, t)
}

// Retry resets t for a fresh run of its unit of work. This is replay, not
// resumption: logs stay as history and the shared context keeps every step
// artifact, so an idempotent unit can skip steps whose output keys already
// exist. A user_response left in the result by a confirmation survives the
// reset; the interaction descriptor does not. The caller re-enqueues the
// task id afterwards.
func (e *Executor) Retry(ctx context.Context, t *Task) error {
	t.Status = StatusRunning
	t.Progress = 0
	t.Error = nil
	if resp, ok := t.Result["user_response"]; ok {
		t.Result = map[string]any{"user_response": resp}
	} else {
		t.Result = nil
	}
	t.StartedAt = nil
	t.CompletedAt = nil
	e.deps.Logger.Info("task reset for retry",
		zap.String("task_id", t.ID),
		zap.String("task_type", t.TaskType))
	return e.persist(ctx, t)
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
