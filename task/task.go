// Package task defines the task model and the task context manager: creation,
// patching with status history, agent assignments and the dependency graph.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/agency/store"
)

var (
	// ErrNotFound is returned when a referenced task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalid is returned when required input is missing or out of range.
	ErrInvalid = errors.New("invalid task input")
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every valid task status.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Priority orders work by urgency. 1 is the most urgent and 5 the least; every
// component (tasks, messages, update batching) uses this same ordering.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
	PriorityMinimal  Priority = 5
)

// Valid reports whether p is within 1..5.
func (p Priority) Valid() bool { return p >= PriorityCritical && p <= PriorityMinimal }

// MoreUrgentThan reports whether p should be handled before o.
func (p Priority) MoreUrgentThan(o Priority) bool { return p < o }

// StatusEntry is one append-only record of a status transition.
type StatusEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Metadata carries descriptive task data. Durations are in seconds.
type Metadata struct {
	Type              string         `json:"type"`
	Source            string         `json:"source"`
	ParentTask        string         `json:"parent_task,omitempty"`
	Dependencies      []string       `json:"dependencies"`
	Tags              []string       `json:"tags"`
	EstimatedDuration *float64       `json:"estimated_duration"`
	ActualDuration    *float64       `json:"actual_duration"`
	CustomData        map[string]any `json:"custom_data"`
}

// Task is a unit of work tracked across the agency.
type Task struct {
	ID            string        `json:"id"`
	Description   string        `json:"description"`
	Status        Status        `json:"status"`
	Priority      Priority      `json:"priority"`
	Deadline      *time.Time    `json:"deadline"`
	Metadata      Metadata      `json:"metadata"`
	CreatedAt     time.Time     `json:"created_at"`
	LastUpdated   time.Time     `json:"last_updated"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	StatusHistory []StatusEntry `json:"status_history"`
}

// FieldChange is an audit record of one field modified by an update.
type FieldChange struct {
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by"`
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status  *Status `json:"status,omitempty"`
	AgentID string  `json:"agent_id,omitempty"`
	Limit   int     `json:"limit,omitempty"`
	Offset  int     `json:"offset,omitempty"`
}

// NewTask is the input for Create. Zero values take defaults.
type NewTask struct {
	Description       string         `json:"description"`
	Status            Status         `json:"status,omitempty"`
	Priority          Priority       `json:"priority,omitempty"`
	Deadline          *time.Time     `json:"deadline,omitempty"`
	Type              string         `json:"type,omitempty"`
	Source            string         `json:"source,omitempty"`
	ParentTask        string         `json:"parent_task,omitempty"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	EstimatedDuration *float64       `json:"estimated_duration,omitempty"`
	CustomData        map[string]any `json:"custom_data,omitempty"`
	Metadata          *MetadataPatch `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts deadlines in RFC 3339, naive ISO 8601 or date-only form.
func (n *NewTask) UnmarshalJSON(data []byte) error {
	type alias NewTask
	aux := struct {
		*alias
		Deadline string `json:"deadline"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := parseDeadline(aux.Deadline)
	if err != nil {
		return err
	}
	n.Deadline = d
	return nil
}

// MetadataPatch updates individual metadata fields; nil fields are left unchanged and
// CustomData is merged key by key.
type MetadataPatch struct {
	Type              *string        `json:"type,omitempty"`
	Source            *string        `json:"source,omitempty"`
	ParentTask        *string        `json:"parent_task,omitempty"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	EstimatedDuration *float64       `json:"estimated_duration,omitempty"`
	CustomData        map[string]any `json:"custom_data,omitempty"`
}

// Patch is the input for Update. Only these fields can change; unknown JSON keys are
// ignored when decoding.
type Patch struct {
	Description   *string        `json:"description,omitempty"`
	Priority      *Priority      `json:"priority,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	Status        *Status        `json:"status,omitempty"`
	StatusMessage string         `json:"status_message,omitempty"`
	Metadata      *MetadataPatch `json:"metadata,omitempty"`
	ChangedBy     string         `json:"changed_by,omitempty"`
}

// UnmarshalJSON accepts the same deadline forms as NewTask.
func (p *Patch) UnmarshalJSON(data []byte) error {
	type alias Patch
	aux := struct {
		*alias
		Deadline string `json:"deadline"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := parseDeadline(aux.Deadline)
	if err != nil {
		return err
	}
	p.Deadline = d
	return nil
}

func parseDeadline(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := store.ParseInputTime(s)
	if err != nil {
		return nil, fmt.Errorf("%w: deadline: %v", ErrInvalid, err)
	}
	return &t, nil
}
