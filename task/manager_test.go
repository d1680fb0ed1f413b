package task

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/GoCodeAlone/agency/store"
)

// fakeClock returns a controllable time source starting at a fixed instant.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)}
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "agency.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clock := newClock()
	return NewManager(db, nil, WithClock(clock.Now)), clock
}

func TestManager_CreateDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, NewTask{Description: "Write report"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := m.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.Priority != PriorityNormal {
		t.Errorf("Priority = %d, want %d", got.Priority, PriorityNormal)
	}
	if got.Metadata.Type != "general" || got.Metadata.Source != "user" {
		t.Errorf("Metadata type/source = %q/%q, want general/user", got.Metadata.Type, got.Metadata.Source)
	}
	if len(got.StatusHistory) != 1 || got.StatusHistory[0].Message != "Task created" {
		t.Fatalf("StatusHistory = %+v, want one 'Task created' entry", got.StatusHistory)
	}
	if got.Metadata.Dependencies == nil || got.Metadata.Tags == nil {
		t.Error("Metadata collections should be empty, not nil")
	}
}

func TestManager_CreateValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   NewTask
	}{
		{"missing description", NewTask{}},
		{"blank description", NewTask{Description: "   "}},
		{"priority out of range", NewTask{Description: "x", Priority: 9}},
		{"unknown status", NewTask{Description: "x", Status: "paused"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Create(ctx, tc.in); !errors.Is(err, ErrInvalid) {
				t.Errorf("Create error = %v, want ErrInvalid", err)
			}
		})
	}
	tasks, err := m.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("List after failed creates = %d tasks, want 0", len(tasks))
	}
}

func TestManager_UpdateNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	desc := "new"
	_, err := m.Update(context.Background(), "task_missing", Patch{Description: &desc})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func TestManager_StatusHistoryTracksStatus(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, NewTask{Description: "Deploy"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	inProgress, completed := StatusInProgress, StatusCompleted
	desc := "Deploy v2"
	patches := []Patch{
		{Status: &inProgress},
		{Description: &desc},
		{Status: &inProgress},
		{Status: &completed, StatusMessage: "shipped"},
	}
	for i, p := range patches {
		clock.Advance(time.Minute)
		got, err := m.Update(ctx, created.ID, p)
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		last := got.StatusHistory[len(got.StatusHistory)-1]
		if last.Status != got.Status {
			t.Errorf("after update %d last history status = %q, status = %q", i, last.Status, got.Status)
		}
	}

	got, err := m.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.StatusHistory) != 3 {
		t.Fatalf("StatusHistory len = %d, want 3: %+v", len(got.StatusHistory), got.StatusHistory)
	}
	if got.StatusHistory[1].Message != "Status changed to in_progress" {
		t.Errorf("default message = %q", got.StatusHistory[1].Message)
	}
	if got.StatusHistory[2].Message != "shipped" {
		t.Errorf("custom message = %q, want shipped", got.StatusHistory[2].Message)
	}
}

func TestManager_CompletionDuration(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, NewTask{Description: "Index docs"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	failed := StatusFailed
	clock.Advance(30 * time.Second)
	got, err := m.Update(ctx, created.ID, Patch{Status: &failed})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Metadata.ActualDuration != nil {
		t.Errorf("ActualDuration set on failed: %v", *got.Metadata.ActualDuration)
	}

	completed := StatusCompleted
	clock.Advance(90 * time.Second)
	if _, err := m.Update(ctx, created.ID, Patch{Status: &completed}); err != nil {
		t.Fatalf("Update completed: %v", err)
	}
	got, err = m.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Metadata.ActualDuration == nil || *got.Metadata.ActualDuration != 120 {
		t.Errorf("ActualDuration = %v, want 120", got.Metadata.ActualDuration)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(clock.Now()) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, clock.Now())
	}
}

func TestManager_AssignIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, NewTask{Description: "X", Priority: PriorityCritical})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first, err := m.Assign(ctx, created.ID, "A")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	second, err := m.Assign(ctx, created.ID, "A")
	if err != nil {
		t.Fatalf("Assign again: %v", err)
	}
	if !first || second {
		t.Errorf("Assign created = %v then %v, want true then false", first, second)
	}

	assignees, err := m.Assignees(ctx, created.ID)
	if err != nil {
		t.Fatalf("Assignees: %v", err)
	}
	if !slices.Equal(assignees, []string{"A"}) {
		t.Errorf("Assignees = %v, want [A]", assignees)
	}

	tasks, err := m.AgentTasks(ctx, "A")
	if err != nil {
		t.Fatalf("AgentTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Description != "X" {
		t.Fatalf("AgentTasks = %+v, want one task X", tasks)
	}
	if tasks[0].Priority != PriorityCritical {
		t.Errorf("Priority = %d, want 1", tasks[0].Priority)
	}
}

func TestManager_DependencyUnion(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.AddDependency(ctx, "t1", []string{"t2", "t3"}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := m.AddDependency(ctx, "t1", []string{"t3", "t4"}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	deps, err := m.Dependencies(ctx, "t1")
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if want := []string{"t2", "t3", "t4"}; !slices.Equal(deps, want) {
		t.Errorf("Dependencies = %v, want %v", deps, want)
	}

	if err := m.AddDependency(ctx, "t1", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("AddDependency(nil) error = %v, want ErrInvalid", err)
	}
}

func TestManager_DependencyCycleAccepted(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.AddDependency(ctx, "a", []string{"b"}); err != nil {
		t.Fatalf("AddDependency a->b: %v", err)
	}
	if err := m.AddDependency(ctx, "b", []string{"a"}); err != nil {
		t.Fatalf("AddDependency b->a: %v", err)
	}
	deps, err := m.Dependencies(ctx, "b")
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if !slices.Equal(deps, []string{"a"}) {
		t.Errorf("Dependencies(b) = %v, want [a]", deps)
	}
}

func TestManager_CreateSeedsDependencies(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, NewTask{Description: "child", Dependencies: []string{"p1", "p1", "p2"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	deps, err := m.Dependencies(ctx, created.ID)
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if !slices.Equal(deps, []string{"p1", "p2"}) {
		t.Errorf("Dependencies = %v, want [p1 p2]", deps)
	}
}

func TestManager_DependencyListsAgree(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, NewTask{Description: "child", Dependencies: []string{"a"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	check := func(step string, want []string) {
		t.Helper()
		deps, err := m.Dependencies(ctx, created.ID)
		if err != nil {
			t.Fatalf("%s: Dependencies: %v", step, err)
		}
		got, err := m.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("%s: Get: %v", step, err)
		}
		if !slices.Equal(deps, want) || !slices.Equal(got.Metadata.Dependencies, want) {
			t.Errorf("%s: table = %v, metadata = %v, want %v", step, deps, got.Metadata.Dependencies, want)
		}
	}

	if err := m.AddDependency(ctx, created.ID, []string{"b", "a"}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	check("after AddDependency", []string{"a", "b"})

	if _, err := m.Update(ctx, created.ID, Patch{Metadata: &MetadataPatch{Dependencies: []string{"z", "z"}}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	check("after metadata patch", []string{"z"})

	if err := m.AddDependency(ctx, created.ID, []string{"y"}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	check("after second AddDependency", []string{"z", "y"})
}

func TestManager_HistoryRecordsFieldChanges(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, NewTask{Description: "old"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	desc := "new"
	prio := PriorityHigh
	src := "agent"
	_, err = m.Update(ctx, created.ID, Patch{
		Description: &desc,
		Priority:    &prio,
		Metadata:    &MetadataPatch{Source: &src, CustomData: map[string]any{"k": "v"}},
		ChangedBy:   "Research",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	changes, err := m.History(ctx, created.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	fields := map[string]FieldChange{}
	for _, c := range changes {
		fields[c.Field] = c
	}
	if c := fields["description"]; c.OldValue != "old" || c.NewValue != "new" || c.ChangedBy != "Research" {
		t.Errorf("description change = %+v", c)
	}
	if c := fields["priority"]; c.OldValue != "3" || c.NewValue != "2" {
		t.Errorf("priority change = %+v", c)
	}
	if _, ok := fields["metadata.source"]; !ok {
		t.Errorf("missing metadata.source change in %+v", changes)
	}

	got, err := m.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Metadata.CustomData["k"] != "v" {
		t.Errorf("CustomData = %v, want k=v", got.Metadata.CustomData)
	}

	if _, err := m.History(ctx, "task_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("History(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManager_ListFilter(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for _, d := range []string{"one", "two", "three"} {
		clock.Advance(time.Second)
		created, err := m.Create(ctx, NewTask{Description: d})
		if err != nil {
			t.Fatalf("Create %s: %v", d, err)
		}
		ids = append(ids, created.ID)
	}
	done := StatusCompleted
	if _, err := m.Update(ctx, ids[1], Patch{Status: &done}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pending := StatusPending
	got, err := m.List(ctx, Filter{Status: &pending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Description != "one" || got[1].Description != "three" {
		t.Errorf("List(pending) = %v", descriptions(got))
	}

	got, err = m.List(ctx, Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(got) != 1 || got[0].Description != "two" {
		t.Errorf("List(limit 1 offset 1) = %v, want [two]", descriptions(got))
	}
}

func descriptions(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Description
	}
	return out
}
