package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AI-static/Aether/internal/task"
)

func TestServer_CreateTask_PersistsAndQueues(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.register(t, task.WorkflowInfo{ID: "trend_scan", DisplayName: "Trend scan"}, noopUnit())

	body := `{"task_type":"trend_scan","params":{"keyword":"coffee"},"source_id":"room-1"}`
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody(t, rec)
	require.Equal(t, "task-1", resp["task_id"])
	require.Equal(t, "trend_scan", resp["task_type"])
	require.Equal(t, string(task.StatusPending), resp["status"])

	stored, err := rig.store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, "api", stored.Source, "source defaults when the caller sends none")
	require.Equal(t, "room-1", stored.SourceID)
	require.Equal(t, "coffee", stored.Params["keyword"])

	require.Equal(t, "task-1", dequeued(t, rig))
}

func TestServer_CreateTask_UnknownType(t *testing.T) {
	t.Parallel()

	rig := newRig()
	body := `{"task_type":"nope"}`
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "unknown task type")
}

func TestServer_CreateTask_MissingType(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"params":{}}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "task_type is required")
}

func TestServer_CreateTask_InvalidJSON(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("{")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "invalid JSON")
}

func TestServer_ListTasks_FiltersAndPaginates(t *testing.T) {
	t.Parallel()

	rig := newRig()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rig.seed(t, seededTask("t-1", "trend_scan", task.StatusPending, base))
	rig.seed(t, seededTask("t-2", "trend_scan", task.StatusCompleted, base.Add(time.Minute)))
	rig.seed(t, seededTask("t-3", "creator_harvest", task.StatusFailed, base.Add(2*time.Minute)))

	rec := rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.EqualValues(t, 3, resp["total"])
	tasks, ok := resp["tasks"].([]any)
	require.True(t, ok)
	newest, ok := tasks[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "t-3", newest["task_id"], "newest first")

	rec = rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=completed", nil))
	resp = decodeBody(t, rec)
	require.EqualValues(t, 1, resp["total"])

	rec = rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "unknown task status")

	rec = rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks?limit=0", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "invalid limit")
}

func TestServer_GetTask_ReturnsReadable(t *testing.T) {
	t.Parallel()

	rig := newRig()
	tk := seededTask("t-1", "trend_scan", task.StatusCompleted, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tk.Result = map[string]any{"report": "three trends"}
	rig.seed(t, tk)

	rec := rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.Equal(t, "t-1", resp["task_id"])
	require.Equal(t, string(task.StatusCompleted), resp["status"])
	require.Contains(t, resp["next_step_hint"], "read the result")

	rec = rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "task not found")
}

func TestServer_RetryTask_ResetsAndRequeues(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.register(t, task.WorkflowInfo{ID: "trend_scan"}, noopUnit())
	tk := seededTask("t-9", "trend_scan", task.StatusFailed, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tk.Error = &task.TaskError{Message: "boom"}
	tk.Progress = 60
	rig.seed(t, tk)

	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t-9/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody(t, rec)
	require.Equal(t, "t-9", resp["task_id"])
	require.Equal(t, string(task.StatusRunning), resp["status"])

	stored, err := rig.store.Get(context.Background(), "t-9")
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, stored.Status)
	require.Zero(t, stored.Progress)
	require.Nil(t, stored.Error)

	require.Equal(t, "t-9", dequeued(t, rig))
}

func TestServer_RetryTask_UnknownTask(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks/ghost/retry", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RetryTask_UnregisteredType(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.seed(t, seededTask("t-9", "legacy_thing", task.StatusFailed, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t-9/retry", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "unknown task type")
}

func TestServer_ConfirmTask_CustomApproval(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.seed(t, waitingTask("t-c", task.InteractionCustomApproval))

	body := `{"confirmed":true,"response_data":{"note":"ship it"}}`
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t-c/confirm", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.Equal(t, "t-c", resp["task_id"])
	require.Equal(t, "t-c", resp["retry_task_id"])
	require.Equal(t, "interaction confirmed, task restarted", resp["message"])

	stored, err := rig.store.Get(context.Background(), "t-c")
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, stored.Status)
	raw, ok := stored.SharedContext.Get("user_response")
	require.True(t, ok)
	response, ok := raw.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, response["confirmed"])

	require.Equal(t, "t-c", dequeued(t, rig))
}

func TestServer_ConfirmTask_RejectionFailsRecord(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.seed(t, waitingTask("t-r", task.InteractionContentReview))

	body := `{"confirmed":false,"comment":"tone is off"}`
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t-r/confirm", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.Equal(t, "review rejected, task failed", resp["message"])
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, string(task.StatusFailed), data["status"])

	stored, err := rig.store.Get(context.Background(), "t-r")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	require.Equal(t, "rejected: tone is off", stored.Error.Message)
}

func TestServer_ConfirmTask_WrongState(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.seed(t, seededTask("t-done", "trend_scan", task.StatusCompleted, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks/t-done/confirm", strings.NewReader(`{"confirmed":true}`)))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "not waiting for user input")
}

func TestServer_ConfirmTask_UnknownTask(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rec := rig.do(httptest.NewRequest(http.MethodPost, "/api/v1/tasks/ghost/confirm", strings.NewReader(`{"confirmed":true}`)))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TaskLogs_SlicesFromOffset(t *testing.T) {
	t.Parallel()

	rig := newRig()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tk := seededTask("t-l", "trend_scan", task.StatusRunning, base)
	tk.Logs = []task.LogEntry{
		{Step: 1, Name: "search", Timestamp: base, Status: task.StepCompleted},
		{Step: 2, Name: "extract", Timestamp: base.Add(time.Second), Status: task.StepCompleted},
		{Step: 3, Name: "summarize", Timestamp: base.Add(2 * time.Second), Status: task.StepCompleted},
	}
	rig.seed(t, tk)

	rec := rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t-l/logs?offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.EqualValues(t, 3, resp["total"])
	require.EqualValues(t, 1, resp["offset"])
	logs, ok := resp["logs"].([]any)
	require.True(t, ok)
	require.Len(t, logs, 2)

	rec = rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t-l/logs?offset=9", nil))
	resp = decodeBody(t, rec)
	require.EqualValues(t, 3, resp["offset"], "offset clamps to the log length")
	logs, ok = resp["logs"].([]any)
	require.True(t, ok)
	require.Empty(t, logs)

	rec = rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t-l/logs?offset=-1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "invalid offset")
}

func TestServer_ListWorkflows(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.register(t, task.WorkflowInfo{ID: "trend_scan", DisplayName: "Trend scan", SavingsMinutes: 85}, noopUnit())
	rig.register(t, task.WorkflowInfo{ID: "creator_harvest", DisplayName: "Creator harvest", SavingsMinutes: 25}, noopUnit())

	rec := rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.EqualValues(t, 2, resp["total"])
	workflows, ok := resp["workflows"].([]any)
	require.True(t, ok)
	first, ok := workflows[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "trend_scan", first["id"], "registration order")
	require.EqualValues(t, 85, first["time_savings"])
}

func TestServer_WorkflowSavings(t *testing.T) {
	t.Parallel()

	rig := newRig()
	rig.register(t, task.WorkflowInfo{ID: "trend_scan", SavingsMinutes: 85}, noopUnit())
	rig.register(t, task.WorkflowInfo{ID: "creator_harvest", SavingsMinutes: 25}, noopUnit())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rig.seed(t, seededTask("t-1", "trend_scan", task.StatusCompleted, base))
	rig.seed(t, seededTask("t-2", "trend_scan", task.StatusCompleted, base.Add(time.Minute)))
	rig.seed(t, seededTask("t-3", "creator_harvest", task.StatusCompleted, base.Add(2*time.Minute)))
	rig.seed(t, seededTask("t-4", "trend_scan", task.StatusFailed, base.Add(3*time.Minute)))

	rec := rig.do(httptest.NewRequest(http.MethodGet, "/api/v1/workflows/savings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	require.EqualValues(t, 195, resp["total_savings_minutes"])
	require.Equal(t, "3h 15m", resp["total_savings_formatted"])
	require.EqualValues(t, 3, resp["task_count"])

	breakdown, ok := resp["breakdown"].(map[string]any)
	require.True(t, ok)
	scans, ok := breakdown["trend_scan"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 2, scans["count"])
	require.EqualValues(t, 170, scans["savings"])
}

// --- helpers ---

func seededTask(id, taskType string, status task.Status, created time.Time) *task.Task {
	tk := task.New(id, "api", "room-1", taskType, nil, created)
	tk.Status = status
	return tk
}

func waitingTask(id string, kind task.InteractionType) *task.Task {
	tk := seededTask(id, "content_generation", task.StatusWaitingHumanInput, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tk.Result = map[string]any{"interaction": &task.Interaction{
		InteractionID: "int-" + id,
		Type:          kind,
		Status:        task.InteractionPending,
		TaskID:        id,
	}}
	return tk
}

func noopUnit() task.UnitOfWork {
	return task.UnitFunc(func(context.Context, *task.Executor, *task.Task) (map[string]any, error) {
		return nil, nil
	})
}

func dequeued(t *testing.T, rig *serverRig) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := rig.queue.Dequeue(ctx)
	require.NoError(t, err)
	return id
}
