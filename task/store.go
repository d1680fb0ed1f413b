package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/agency/store"
)

const taskColumns = `id, description, status, priority, deadline, task_type, metadata, status_history, created_at, last_updated, completed_at, actual_duration`

func insertTask(ctx context.Context, q store.Querier, t *Task) error {
	metadata, err := store.JSON(t.Metadata)
	if err != nil {
		return err
	}
	history, err := store.JSON(t.StatusHistory)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Description, string(t.Status), int(t.Priority), store.NullTime(t.Deadline),
		t.Metadata.Type, metadata, history,
		store.FormatTime(t.CreatedAt), store.FormatTime(t.LastUpdated),
		store.NullTime(t.CompletedAt), nullFloat(t.Metadata.ActualDuration),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func updateTask(ctx context.Context, q store.Querier, t *Task) error {
	metadata, err := store.JSON(t.Metadata)
	if err != nil {
		return err
	}
	history, err := store.JSON(t.StatusHistory)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE tasks SET
			description=?, status=?, priority=?, deadline=?, task_type=?, metadata=?,
			status_history=?, last_updated=?, completed_at=?, actual_duration=?
		WHERE id=?`,
		t.Description, string(t.Status), int(t.Priority), store.NullTime(t.Deadline),
		t.Metadata.Type, metadata, history,
		store.FormatTime(t.LastUpdated), store.NullTime(t.CompletedAt), nullFloat(t.Metadata.ActualDuration),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func getTask(ctx context.Context, q store.Querier, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

func listTasks(ctx context.Context, q store.Querier, filter Filter) ([]*Task, error) {
	var b strings.Builder
	args := []any{}
	if filter.AgentID != "" {
		b.WriteString(`SELECT t.` + strings.ReplaceAll(taskColumns, ", ", ", t.") + `
			FROM tasks t JOIN task_assignments a ON a.task_id = t.id
			WHERE a.agent_id = ?`)
		args = append(args, filter.AgentID)
	} else {
		b.WriteString(`SELECT ` + taskColumns + ` FROM tasks t WHERE 1=1`)
	}
	if filter.Status != nil {
		b.WriteString(" AND t.status = ?")
		args = append(args, string(*filter.Status))
	}
	b.WriteString(" ORDER BY t.created_at ASC, t.id ASC")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", filter.Offset)
		}
	}

	rows, err := q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var (
		t                         Task
		status, taskType          string
		metadataJSON, historyJSON string
		createdAt, lastUpdated    string
		priority                  int
		deadline, completedAt     sql.NullString
		actualDuration            sql.NullFloat64
	)
	err := s.Scan(
		&t.ID, &t.Description, &status, &priority, &deadline, &taskType,
		&metadataJSON, &historyJSON, &createdAt, &lastUpdated, &completedAt, &actualDuration,
	)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)

	if err := store.FromJSON(metadataJSON, &t.Metadata); err != nil {
		return nil, fmt.Errorf("task %s metadata: %w", t.ID, err)
	}
	if err := store.FromJSON(historyJSON, &t.StatusHistory); err != nil {
		return nil, fmt.Errorf("task %s status history: %w", t.ID, err)
	}
	if t.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.LastUpdated, err = store.ParseTime(lastUpdated); err != nil {
		return nil, err
	}
	if t.Deadline, err = store.ScanNullTime(deadline); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = store.ScanNullTime(completedAt); err != nil {
		return nil, err
	}
	normalizeMetadata(&t.Metadata)
	return &t, nil
}

// normalizeMetadata replaces nil collections so JSON output carries [] and {}.
func normalizeMetadata(m *Metadata) {
	if m.Dependencies == nil {
		m.Dependencies = []string{}
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.CustomData == nil {
		m.CustomData = map[string]any{}
	}
}

func insertFieldChanges(ctx context.Context, q store.Querier, taskID string, changes []FieldChange) error {
	for _, c := range changes {
		_, err := q.ExecContext(ctx, `
			INSERT INTO task_field_changes (task_id, field, old_value, new_value, changed_at, changed_by)
			VALUES (?,?,?,?,?,?)`,
			taskID, c.Field, c.OldValue, c.NewValue, store.FormatTime(c.ChangedAt), c.ChangedBy,
		)
		if err != nil {
			return fmt.Errorf("record change of %s: %w", c.Field, err)
		}
	}
	return nil
}

func listFieldChanges(ctx context.Context, q store.Querier, taskID string) ([]FieldChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT field, old_value, new_value, changed_at, changed_by
		FROM task_field_changes WHERE task_id = ? ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task history: %w", err)
	}
	defer rows.Close()

	changes := []FieldChange{}
	for rows.Next() {
		var c FieldChange
		var at string
		if err := rows.Scan(&c.Field, &c.OldValue, &c.NewValue, &at, &c.ChangedBy); err != nil {
			return nil, err
		}
		if c.ChangedAt, err = store.ParseTime(at); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// insertAssignment reports whether a new (task, agent) row was written.
func insertAssignment(ctx context.Context, q store.Querier, taskID, agentID string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO task_assignments (task_id, agent_id, assigned_at) VALUES (?,?,?)`,
		taskID, agentID, store.FormatTime(at))
	if err != nil {
		return false, fmt.Errorf("assign task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func listAssignees(ctx context.Context, q store.Querier, taskID string) ([]string, error) {
	return queryStrings(ctx, q, `
		SELECT agent_id FROM task_assignments WHERE task_id = ? ORDER BY assigned_at, agent_id`, taskID)
}

// insertDependencies unions dependsOn into the task's dependency set, preserving
// first-insertion order.
func insertDependencies(ctx context.Context, q store.Querier, taskID string, dependsOn []string) error {
	var next int
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), -1) + 1 FROM task_dependencies WHERE task_id = ?`, taskID).Scan(&next)
	if err != nil {
		return fmt.Errorf("read dependency position: %w", err)
	}
	for _, dep := range dependsOn {
		res, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_dependencies (task_id, depends_on, position) VALUES (?,?,?)`,
			taskID, dep, next)
		if err != nil {
			return fmt.Errorf("add dependency %s: %w", dep, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}
	return nil
}

// replaceDependencies makes dependsOn the task's whole dependency set, in order.
func replaceDependencies(ctx context.Context, q store.Querier, taskID string, dependsOn []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear dependencies: %w", err)
	}
	return insertDependencies(ctx, q, taskID, dependsOn)
}

func listDependencies(ctx context.Context, q store.Querier, taskID string) ([]string, error) {
	return queryStrings(ctx, q, `
		SELECT depends_on FROM task_dependencies WHERE task_id = ? ORDER BY position`, taskID)
}

func queryStrings(ctx context.Context, q store.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
