package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/interaction"
	"github.com/AI-static/Aether/internal/task"
)

const (
	defaultTaskLimit = 20
	maxTaskLimit     = 500
	// savingsWindow bounds how many completed records one savings report
	// aggregates.
	savingsWindow = 1000
	// defaultTaskSource labels submissions that carry no caller identity.
	defaultTaskSource = "api"
)

type createTaskRequest struct {
	TaskType string         `json:"task_type"`
	Params   map[string]any `json:"params,omitempty"`
	Source   string         `json:"source,omitempty"`
	SourceID string         `json:"source_id,omitempty"`
}

// createTask persists a pending record and hands its id to the execution
// backend. The record exists before the id is enqueued, so a dropped queue
// entry loses a run, never a task.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TaskType == "" {
		writeError(w, http.StatusBadRequest, "task_type is required")
		return
	}
	if _, err := s.deps.Catalog.Resolve(req.TaskType); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	source := req.Source
	if source == "" {
		source = defaultTaskSource
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.deps.Logger.Error("generate task id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "generate task id failed")
		return
	}
	t := task.New(id, source, req.SourceID, req.TaskType, req.Params, s.deps.Clock.Now())
	if err := s.deps.Store.Create(r.Context(), t); err != nil {
		s.deps.Logger.Error("create task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create task failed")
		return
	}
	if err := s.enqueueTask(r.Context(), id); err != nil {
		s.deps.Logger.Error("enqueue task failed", zap.String("task_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue task failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":   id,
		"task_type": req.TaskType,
		"status":    task.StatusPending,
	})
}

func (s *Server) enqueueTask(ctx context.Context, taskID string) error {
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	return s.deps.Queue.Enqueue(queueCtx, taskID)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultTaskLimit, maxTaskLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	filter := task.Filter{
		Source:   strings.TrimSpace(q.Get("source")),
		SourceID: strings.TrimSpace(q.Get("source_id")),
		TaskType: strings.TrimSpace(q.Get("task_type")),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, parseErr := task.ParseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		filter.Status = status
	}

	tasks, err := s.deps.Store.List(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list tasks failed")
		return
	}
	readables := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		readables = append(readables, t.Readable())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": readables,
		"total": len(readables),
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.Readable())
}

// loadTask fetches the record named by the route, writing the error response
// itself when the load fails.
func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	taskID := chi.URLParam(r, "task_id")
	t, err := s.deps.Store.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return nil, false
		}
		s.deps.Logger.Error("load task failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load task failed")
		return nil, false
	}
	return t, true
}

// retryTask resets the record for replay and re-enqueues the same id. Logs
// survive as history and memoized step artifacts stay in the shared context.
func (s *Server) retryTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Catalog.Resolve(t.TaskType); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if err := s.deps.Exec.Retry(r.Context(), t); err != nil {
		s.deps.Logger.Error("reset task failed", zap.String("task_id", t.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reset task failed")
		return
	}
	if err := s.enqueueTask(r.Context(), t.ID); err != nil {
		s.deps.Logger.Error("enqueue task failed", zap.String("task_id", t.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue task failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":   t.ID,
		"task_type": t.TaskType,
		"status":    t.Status,
	})
}

func (s *Server) confirmTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	var req interaction.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	outcome, err := s.deps.Confirmer.Confirm(r.Context(), taskID, req)
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			s.deps.Logger.Error("confirm failed", zap.String("task_id", taskID), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// taskLogs serves the step log from offset on, so pollers only fetch entries
// they have not seen.
func (s *Server) taskLogs(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = val
	}
	logs := t.Logs
	if logs == nil {
		logs = []task.LogEntry{}
	}
	if offset > len(logs) {
		offset = len(logs)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": t.ID,
		"status":  t.Status,
		"logs":    logs[offset:],
		"total":   len(logs),
		"offset":  offset,
	})
}

func (s *Server) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	infos := s.deps.Catalog.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": infos,
		"total":     len(infos),
	})
}

// workflowSavings tallies manual time replaced by completed runs, optionally
// scoped to one caller identity.
func (s *Server) workflowSavings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	completed, err := s.deps.Store.List(r.Context(), task.Filter{
		Source:   strings.TrimSpace(q.Get("source")),
		SourceID: strings.TrimSpace(q.Get("source_id")),
		Status:   task.StatusCompleted,
		Limit:    savingsWindow,
	})
	if err != nil {
		s.deps.Logger.Error("list completed tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list completed tasks failed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Catalog.Savings(completed))
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
