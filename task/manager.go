package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/agency/store"
)

// Manager is the task context manager. All mutations run in a single store
// transaction, so a failed operation leaves no partial state behind.
//
// The dependency graph is permissive: dependencies may reference unknown tasks and may
// form cycles. Dependencies returns only the direct set, so cycles never cause
// unbounded traversal.
type Manager struct {
	db     *store.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager backed by db.
func NewManager(db *store.DB, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates and persists a new task. The initial status history entry mirrors
// the stored status with the message "Task created".
func (m *Manager) Create(ctx context.Context, in NewTask) (*Task, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalid)
	}
	status := in.Status
	if status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	priority := in.Priority
	if priority == 0 {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority %d out of range 1-5", ErrInvalid, priority)
	}

	now := m.now()
	t := &Task{
		ID:          store.NewID("task", now),
		Description: in.Description,
		Status:      status,
		Priority:    priority,
		Deadline:    in.Deadline,
		Metadata: Metadata{
			Type:              valueOr(in.Type, "general"),
			Source:            valueOr(in.Source, "user"),
			ParentTask:        in.ParentTask,
			Dependencies:      dedupe(in.Dependencies),
			Tags:              in.Tags,
			EstimatedDuration: in.EstimatedDuration,
			CustomData:        in.CustomData,
		},
		CreatedAt:   now,
		LastUpdated: now,
		StatusHistory: []StatusEntry{
			{Status: status, Timestamp: now, Message: "Task created"},
		},
	}
	if in.Metadata != nil {
		applyMetadata(&t.Metadata, in.Metadata, now, "", nil)
	}
	normalizeMetadata(&t.Metadata)

	err := m.db.Tx(ctx, func(tx *sql.Tx) error {
		if err := insertTask(ctx, tx, t); err != nil {
			return err
		}
		if len(t.Metadata.Dependencies) > 0 {
			return insertDependencies(ctx, tx, t.ID, t.Metadata.Dependencies)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("task created",
		slog.String("task_id", t.ID),
		slog.Int("priority", int(t.Priority)),
	)
	return t, nil
}

// Get retrieves a task by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	return getTask(ctx, m.db.SQL(), id)
}

// List returns tasks matching the filter, oldest first.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Task, error) {
	return listTasks(ctx, m.db.SQL(), filter)
}

// Update applies a patch to an existing task. When the status changes a history
// entry is appended; a change to completed also records the elapsed wall-clock time
// since creation as the actual duration.
func (m *Manager) Update(ctx context.Context, id string, p Patch) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrInvalid)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %d out of range 1-5", ErrInvalid, *p.Priority)
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, *p.Status)
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return nil, fmt.Errorf("%w: description cannot be empty", ErrInvalid)
	}
	changedBy := valueOr(p.ChangedBy, "system")

	var updated *Task
	err := m.db.Tx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		now := m.now()
		var changes []FieldChange
		record := func(field, old, new string) {
			if old != new {
				changes = append(changes, FieldChange{Field: field, OldValue: old, NewValue: new, ChangedAt: now, ChangedBy: changedBy})
			}
		}

		if p.Description != nil {
			record("description", t.Description, *p.Description)
			t.Description = *p.Description
		}
		if p.Priority != nil {
			record("priority", strconv.Itoa(int(t.Priority)), strconv.Itoa(int(*p.Priority)))
			t.Priority = *p.Priority
		}
		if p.Deadline != nil {
			record("deadline", formatOptional(t.Deadline), formatOptional(p.Deadline))
			t.Deadline = p.Deadline
		}
		if p.Metadata != nil {
			applyMetadata(&t.Metadata, p.Metadata, now, changedBy, &changes)
		}
		if p.Status != nil && *p.Status != t.Status {
			record("status", string(t.Status), string(*p.Status))
			t.Status = *p.Status
			msg := p.StatusMessage
			if msg == "" {
				msg = fmt.Sprintf("Status changed to %s", t.Status)
			}
			t.StatusHistory = append(t.StatusHistory, StatusEntry{Status: t.Status, Timestamp: now, Message: msg})
			if t.Status == StatusCompleted {
				elapsed := now.Sub(t.CreatedAt).Seconds()
				t.Metadata.ActualDuration = &elapsed
				t.CompletedAt = &now
			}
		}
		t.LastUpdated = now

		if err := updateTask(ctx, tx, t); err != nil {
			return err
		}
		if p.Metadata != nil && p.Metadata.Dependencies != nil {
			if err := replaceDependencies(ctx, tx, t.ID, t.Metadata.Dependencies); err != nil {
				return err
			}
		}
		if err := insertFieldChanges(ctx, tx, t.ID, changes); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("task updated",
		slog.String("task_id", id),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// Assign records that agentID holds the task. Assigning the same pair twice is a
// successful no-op; the returned bool reports whether a new assignment was made.
func (m *Manager) Assign(ctx context.Context, taskID, agentID string) (bool, error) {
	if taskID == "" || agentID == "" {
		return false, fmt.Errorf("%w: task_id and agent_id are required", ErrInvalid)
	}
	var created bool
	err := m.db.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = insertAssignment(ctx, tx, taskID, agentID, m.now())
		return err
	})
	if err != nil {
		return false, err
	}
	if created {
		m.logger.Info("task assigned", slog.String("task_id", taskID), slog.String("agent_id", agentID))
	}
	return created, nil
}

// Assignees returns the agents holding a task.
func (m *Manager) Assignees(ctx context.Context, taskID string) ([]string, error) {
	return listAssignees(ctx, m.db.SQL(), taskID)
}

// AgentTasks returns every existing task assigned to agentID.
func (m *Manager) AgentTasks(ctx context.Context, agentID string) ([]*Task, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalid)
	}
	return listTasks(ctx, m.db.SQL(), Filter{AgentID: agentID})
}

// AddDependency unions dependsOn into the task's dependency set. The task need not
// exist; when it does, its metadata dependency list is kept equal to the set.
func (m *Manager) AddDependency(ctx context.Context, taskID string, dependsOn []string) error {
	deps := dedupe(dependsOn)
	if taskID == "" || len(deps) == 0 {
		return fmt.Errorf("%w: task_id and depends_on list are required", ErrInvalid)
	}
	err := m.db.Tx(ctx, func(tx *sql.Tx) error {
		if err := insertDependencies(ctx, tx, taskID, deps); err != nil {
			return err
		}
		t, err := getTask(ctx, tx, taskID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.Metadata.Dependencies, err = listDependencies(ctx, tx, taskID); err != nil {
			return err
		}
		t.LastUpdated = m.now()
		return updateTask(ctx, tx, t)
	})
	if err != nil {
		return err
	}
	m.logger.Debug("task dependencies added", slog.String("task_id", taskID), slog.Any("depends_on", deps))
	return nil
}

// Dependencies returns the direct dependencies of a task in insertion order.
func (m *Manager) Dependencies(ctx context.Context, taskID string) ([]string, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task_id is required", ErrInvalid)
	}
	return listDependencies(ctx, m.db.SQL(), taskID)
}

// History returns the field-change audit trail of a task, newest first.
func (m *Manager) History(ctx context.Context, taskID string) ([]FieldChange, error) {
	if _, err := m.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return listFieldChanges(ctx, m.db.SQL(), taskID)
}

func applyMetadata(md *Metadata, p *MetadataPatch, now time.Time, changedBy string, changes *[]FieldChange) {
	record := func(field, old, new string) {
		if changes != nil && old != new {
			*changes = append(*changes, FieldChange{Field: "metadata." + field, OldValue: old, NewValue: new, ChangedAt: now, ChangedBy: changedBy})
		}
	}
	if p.Type != nil {
		record("type", md.Type, *p.Type)
		md.Type = *p.Type
	}
	if p.Source != nil {
		record("source", md.Source, *p.Source)
		md.Source = *p.Source
	}
	if p.ParentTask != nil {
		record("parent_task", md.ParentTask, *p.ParentTask)
		md.ParentTask = *p.ParentTask
	}
	if p.Dependencies != nil {
		record("dependencies", strings.Join(md.Dependencies, ","), strings.Join(p.Dependencies, ","))
		md.Dependencies = dedupe(p.Dependencies)
	}
	if p.Tags != nil {
		record("tags", strings.Join(md.Tags, ","), strings.Join(p.Tags, ","))
		md.Tags = p.Tags
	}
	if p.EstimatedDuration != nil {
		record("estimated_duration", formatFloat(md.EstimatedDuration), formatFloat(p.EstimatedDuration))
		md.EstimatedDuration = p.EstimatedDuration
	}
	if len(p.CustomData) > 0 {
		if md.CustomData == nil {
			md.CustomData = map[string]any{}
		}
		for k, v := range p.CustomData {
			md.CustomData[k] = v
		}
		record("custom_data", "", strings.Join(sortedKeys(p.CustomData), ","))
	}
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
