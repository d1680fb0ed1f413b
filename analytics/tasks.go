package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/agency/store"
)

// ErrInvalid is returned when a required query argument is missing.
var ErrInvalid = errors.New("invalid analytics query")

// TimeRange bounds a query. Nil ends are open.
type TimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// StatusMetrics summarizes the tasks in one status.
type StatusMetrics struct {
	Status                   string   `json:"status"`
	TaskCount                int      `json:"task_count"`
	AvgCompletionTimeMinutes *float64 `json:"avg_completion_time_minutes"`
	AvgPriority              float64  `json:"avg_priority"`
}

// AgentPerformance summarizes the tasks assigned to one agent.
type AgentPerformance struct {
	Agent                   string   `json:"agent"`
	TotalTasks              int      `json:"total_tasks"`
	CompletedTasks          int      `json:"completed_tasks"`
	FailedTasks             int      `json:"failed_tasks"`
	CompletionRate          float64  `json:"completion_rate"`
	AvgExecutionTimeMinutes *float64 `json:"avg_execution_time_minutes"`
	TaskTypeDiversity       int      `json:"task_type_diversity"`
}

// AgentWorkload is the open work held by one agent.
type AgentWorkload struct {
	Agent         string  `json:"agent"`
	ActiveTasks   int     `json:"active_tasks"`
	AvgPriority   float64 `json:"avg_priority"`
	TaskTypeCount int     `json:"task_type_count"`
}

// CompletionTrend is the completed work of one calendar day (UTC).
type CompletionTrend struct {
	Date                    string   `json:"date"`
	CompletedTasks          int      `json:"completed_tasks"`
	AvgExecutionTimeMinutes *float64 `json:"avg_execution_time_minutes"`
}

// ErrorPattern groups failed tasks by the error_type recorded in their custom data.
type ErrorPattern struct {
	ErrorType      string  `json:"error_type"`
	ErrorCount     int     `json:"error_count"`
	AffectedAgents int     `json:"affected_agents"`
	AvgPriority    float64 `json:"avg_priority"`
}

// Tasks runs aggregate queries over the task tables. Durations are reported in
// minutes; priorities use the 1 (most urgent) to 5 scale.
type Tasks struct {
	db *store.DB
}

// NewTasks returns task analytics over db.
func NewTasks(db *store.DB) *Tasks {
	return &Tasks{db: db}
}

// rangeClause appends "AND column BETWEEN"-style bounds for tr.
func rangeClause(b *strings.Builder, args []any, column string, tr TimeRange) []any {
	if tr.Start != nil {
		b.WriteString(" AND " + column + " >= ?")
		args = append(args, store.FormatTime(*tr.Start))
	}
	if tr.End != nil {
		b.WriteString(" AND " + column + " <= ?")
		args = append(args, store.FormatTime(*tr.End))
	}
	return args
}

// TaskMetrics returns per-status counts, mean completion time and mean priority for
// tasks created within tr.
func (t *Tasks) TaskMetrics(ctx context.Context, tr TimeRange) ([]StatusMetrics, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT status, COUNT(*),
			AVG((julianday(completed_at) - julianday(created_at)) * 24 * 60),
			AVG(priority)
		FROM tasks WHERE 1=1`)
	args := rangeClause(&b, nil, "created_at", tr)
	b.WriteString(" GROUP BY status ORDER BY status")

	rows, err := t.db.SQL().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("task metrics: %w", err)
	}
	defer rows.Close()

	out := []StatusMetrics{}
	for rows.Next() {
		var m StatusMetrics
		var avg sql.NullFloat64
		if err := rows.Scan(&m.Status, &m.TaskCount, &avg, &m.AvgPriority); err != nil {
			return nil, err
		}
		m.AvgCompletionTimeMinutes = floatPtr(avg)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AgentPerformance summarizes every task assigned to agent.
func (t *Tasks) AgentPerformance(ctx context.Context, agent string) (*AgentPerformance, error) {
	if strings.TrimSpace(agent) == "" {
		return nil, fmt.Errorf("%w: agent name required", ErrInvalid)
	}
	p := AgentPerformance{Agent: agent}
	var avg sql.NullFloat64
	err := t.db.SQL().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(CASE WHEN t.status = 'completed' THEN 1 END),
			COUNT(CASE WHEN t.status = 'failed' THEN 1 END),
			AVG(CASE WHEN t.status = 'completed' THEN t.actual_duration / 60.0 END),
			COUNT(DISTINCT t.task_type)
		FROM tasks t JOIN task_assignments a ON a.task_id = t.id
		WHERE a.agent_id = ?`, agent).Scan(&p.TotalTasks, &p.CompletedTasks, &p.FailedTasks, &avg, &p.TaskTypeDiversity)
	if err != nil {
		return nil, fmt.Errorf("agent performance: %w", err)
	}
	if p.TotalTasks > 0 {
		p.CompletionRate = float64(p.CompletedTasks) / float64(p.TotalTasks) * 100
	}
	p.AvgExecutionTimeMinutes = floatPtr(avg)
	return &p, nil
}

// Workload returns the pending and in-progress tasks held by each agent, for tasks
// created within tr.
func (t *Tasks) Workload(ctx context.Context, tr TimeRange) ([]AgentWorkload, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT a.agent_id, COUNT(*), AVG(t.priority), COUNT(DISTINCT t.task_type)
		FROM tasks t JOIN task_assignments a ON a.task_id = t.id
		WHERE t.status IN ('pending', 'in_progress')`)
	args := rangeClause(&b, nil, "t.created_at", tr)
	b.WriteString(" GROUP BY a.agent_id ORDER BY a.agent_id")

	rows, err := t.db.SQL().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	defer rows.Close()

	out := []AgentWorkload{}
	for rows.Next() {
		var w AgentWorkload
		if err := rows.Scan(&w.Agent, &w.ActiveTasks, &w.AvgPriority, &w.TaskTypeCount); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CompletionTrends returns completed task counts per day for tasks completed within
// tr, oldest day first.
func (t *Tasks) CompletionTrends(ctx context.Context, tr TimeRange) ([]CompletionTrend, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT date(completed_at), COUNT(*), AVG(actual_duration / 60.0)
		FROM tasks WHERE status = 'completed' AND completed_at IS NOT NULL`)
	args := rangeClause(&b, nil, "completed_at", tr)
	b.WriteString(" GROUP BY date(completed_at) ORDER BY date(completed_at)")

	rows, err := t.db.SQL().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("completion trends: %w", err)
	}
	defer rows.Close()

	out := []CompletionTrend{}
	for rows.Next() {
		var c CompletionTrend
		var avg sql.NullFloat64
		if err := rows.Scan(&c.Date, &c.CompletedTasks, &avg); err != nil {
			return nil, err
		}
		c.AvgExecutionTimeMinutes = floatPtr(avg)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ErrorAnalysis groups failed tasks created within tr by custom_data.error_type,
// most frequent first. Failed tasks without an error type are not counted.
func (t *Tasks) ErrorAnalysis(ctx context.Context, tr TimeRange) ([]ErrorPattern, error) {
	var b strings.Builder
	// Tasks are collected before joining assignments so multi-agent tasks count once.
	b.WriteString(`
		WITH failed AS (
			SELECT t.id, t.priority, json_extract(t.metadata, '$.custom_data.error_type') AS error_type
			FROM tasks t
			WHERE t.status = 'failed' AND json_extract(t.metadata, '$.custom_data.error_type') IS NOT NULL`)
	args := rangeClause(&b, nil, "t.created_at", tr)
	b.WriteString(`)
		SELECT f.error_type, COUNT(*),
			(SELECT COUNT(DISTINCT a.agent_id) FROM task_assignments a
				JOIN failed g ON g.id = a.task_id WHERE g.error_type = f.error_type),
			AVG(f.priority)
		FROM failed f
		GROUP BY f.error_type ORDER BY COUNT(*) DESC, f.error_type`)

	rows, err := t.db.SQL().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error analysis: %w", err)
	}
	defer rows.Close()

	out := []ErrorPattern{}
	for rows.Next() {
		var e ErrorPattern
		if err := rows.Scan(&e.ErrorType, &e.ErrorCount, &e.AffectedAgents, &e.AvgPriority); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}
