// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AI-static/Aether/internal/task"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// uniqueViolation is the Postgres error code for a duplicate primary key.
const uniqueViolation = "23505"

const defaultListLimit = 20

// TaskStoreConfig controls the Postgres connection pool used for task rows.
type TaskStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// TaskStore persists task records in Postgres. Caller-shaped fields land in
// jsonb; shared_context and logs use plain json so the stored text keeps the
// step order the executor wrote.
type TaskStore struct {
	pool  pgxPool
	table string
}

var _ task.Store = (*TaskStore)(nil)

// NewTaskStore creates a Postgres-backed TaskStore using the provided config.
func NewTaskStore(ctx context.Context, cfg TaskStoreConfig) (*TaskStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TaskStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewTaskStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTaskStoreWithPool(pool pgxPool, table string) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TaskStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the task table and its indexes when missing.
func (s *TaskStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store is not configured")
	}
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	source_id      TEXT NOT NULL,
	task_type      TEXT NOT NULL,
	params         JSONB,
	status         TEXT NOT NULL,
	progress       INT NOT NULL DEFAULT 0,
	shared_context JSON,
	logs           JSON,
	result         JSONB,
	error          JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	metadata       JSONB
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source_status ON %s (source, status)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_task_type ON %s (task_type)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at DESC)`, s.table, s.table),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, source, source_id, task_type, params, status, progress, shared_context, logs, result, error, created_at, started_at, completed_at, metadata`

// Create inserts a task row into Postgres.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store is not configured")
	}
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	row, err := encodeTask(t)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, s.table, taskColumns)

	if _, err := s.pool.Exec(ctx, query, row.args(t)...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("task %s already exists", t.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get loads one task row; absence maps to task.ErrNotFound.
func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("task store is not configured")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, taskColumns, s.table)
	t, err := scanTask(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, task.ErrNotFound
		}
		return nil, fmt.Errorf("select task %s: %w", id, err)
	}
	return t, nil
}

// Update rewrites a task row; a missing row maps to task.ErrNotFound.
func (s *TaskStore) Update(ctx context.Context, t *task.Task) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store is not configured")
	}
	row, err := encodeTask(t)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	source = $2,
	source_id = $3,
	task_type = $4,
	params = $5,
	status = $6,
	progress = $7,
	shared_context = $8,
	logs = $9,
	result = $10,
	error = $11,
	created_at = $12,
	started_at = $13,
	completed_at = $14,
	metadata = $15
WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, query, row.args(t)...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return task.ErrNotFound
	}
	return nil
}

// List returns matching tasks newest first.
func (s *TaskStore) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("task store is not configured")
	}

	var conds []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.Source != "" {
		add("source", f.Source)
	}
	if f.SourceID != "" {
		add("source_id", f.SourceID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.TaskType != "" {
		add("task_type", f.TaskType)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, taskColumns, s.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// taskRow carries the marshalled JSON columns of one record. Nil slices
// become SQL NULLs.
type taskRow struct {
	params        []byte
	sharedContext []byte
	logs          []byte
	result        []byte
	taskError     []byte
	metadata      []byte
}

func (r taskRow) args(t *task.Task) []any {
	return []any{
		t.ID,
		t.Source,
		t.SourceID,
		t.TaskType,
		r.params,
		string(t.Status),
		t.Progress,
		r.sharedContext,
		r.logs,
		r.result,
		r.taskError,
		t.CreatedAt,
		t.StartedAt,
		t.CompletedAt,
		r.metadata,
	}
}

func encodeTask(t *task.Task) (taskRow, error) {
	var row taskRow
	marshal := func(name string, v any, dst *[]byte) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s for task %s: %w", name, t.ID, err)
		}
		*dst = data
		return nil
	}
	if t.Params != nil {
		if err := marshal("params", t.Params, &row.params); err != nil {
			return taskRow{}, err
		}
	}
	if t.SharedContext != nil {
		if err := marshal("shared_context", t.SharedContext, &row.sharedContext); err != nil {
			return taskRow{}, err
		}
	}
	if len(t.Logs) > 0 {
		if err := marshal("logs", t.Logs, &row.logs); err != nil {
			return taskRow{}, err
		}
	}
	if t.Result != nil {
		if err := marshal("result", t.Result, &row.result); err != nil {
			return taskRow{}, err
		}
	}
	if t.Error != nil {
		if err := marshal("error", t.Error, &row.taskError); err != nil {
			return taskRow{}, err
		}
	}
	if t.Metadata != nil {
		if err := marshal("metadata", t.Metadata, &row.metadata); err != nil {
			return taskRow{}, err
		}
	}
	return row, nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	var status string
	var params, sharedContext, logs, result, taskError, metadata []byte
	if err := row.Scan(
		&t.ID,
		&t.Source,
		&t.SourceID,
		&t.TaskType,
		&params,
		&status,
		&t.Progress,
		&sharedContext,
		&logs,
		&result,
		&taskError,
		&t.CreatedAt,
		&t.StartedAt,
		&t.CompletedAt,
		&metadata,
	); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)

	unmarshal := func(name string, data []byte, dst any) error {
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("decode %s for task %s: %w", name, t.ID, err)
		}
		return nil
	}
	if err := unmarshal("params", params, &t.Params); err != nil {
		return nil, err
	}
	if err := unmarshal("shared_context", sharedContext, &t.SharedContext); err != nil {
		return nil, err
	}
	if err := unmarshal("logs", logs, &t.Logs); err != nil {
		return nil, err
	}
	if err := unmarshal("result", result, &t.Result); err != nil {
		return nil, err
	}
	if len(taskError) > 0 {
		t.Error = &task.TaskError{}
		if err := unmarshal("error", taskError, t.Error); err != nil {
			return nil, err
		}
	}
	if err := unmarshal("metadata", metadata, &t.Metadata); err != nil {
		return nil, err
	}
	if t.SharedContext == nil {
		t.SharedContext = task.NewContext()
	}
	return &t, nil
}
