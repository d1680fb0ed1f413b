package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func seed(t *testing.T) (*Tasks, *clock) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "agency.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clk := &clock{t: time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)}
	m := task.NewManager(db, nil, task.WithClock(clk.Now))
	ctx := context.Background()

	create := func(desc string, p task.Priority, typ, agent string) string {
		t.Helper()
		tk, err := m.Create(ctx, task.NewTask{Description: desc, Priority: p, Type: typ})
		if err != nil {
			t.Fatalf("Create %s: %v", desc, err)
		}
		if _, err := m.Assign(ctx, tk.ID, agent); err != nil {
			t.Fatalf("Assign %s: %v", desc, err)
		}
		return tk.ID
	}
	setStatus := func(id string, s task.Status, custom map[string]any) {
		t.Helper()
		p := task.Patch{Status: &s}
		if custom != nil {
			p.Metadata = &task.MetadataPatch{CustomData: custom}
		}
		if _, err := m.Update(ctx, id, p); err != nil {
			t.Fatalf("Update %s: %v", id, err)
		}
	}

	a := create("crawl", 1, "web", "WebAutomation")
	b := create("summarize", 3, "research", "Research")
	c := create("search", 5, "research", "Research")
	create("screenshot", 2, "vision", "VisionAnalysis")

	clk.t = clk.t.Add(30 * time.Minute)
	setStatus(a, task.StatusCompleted, nil)
	setStatus(b, task.StatusFailed, map[string]any{"error_type": "timeout"})

	clk.t = clk.t.Add(24 * time.Hour)
	setStatus(c, task.StatusCompleted, nil)
	return NewTasks(db), clk
}

func TestTasks_TaskMetrics(t *testing.T) {
	ta, _ := seed(t)
	metrics, err := ta.TaskMetrics(context.Background(), TimeRange{})
	if err != nil {
		t.Fatalf("TaskMetrics: %v", err)
	}
	byStatus := map[string]StatusMetrics{}
	for _, m := range metrics {
		byStatus[m.Status] = m
	}
	done := byStatus["completed"]
	if done.TaskCount != 2 {
		t.Fatalf("completed count = %d, want 2", done.TaskCount)
	}
	if done.AvgCompletionTimeMinutes == nil || !near(*done.AvgCompletionTimeMinutes, (30+30+24*60)/2.0) {
		t.Errorf("avg completion = %v, want %v", done.AvgCompletionTimeMinutes, (30+30+24*60)/2.0)
	}
	if done.AvgPriority != 3 {
		t.Errorf("completed avg priority = %v, want 3", done.AvgPriority)
	}
	if p := byStatus["pending"]; p.TaskCount != 1 || p.AvgCompletionTimeMinutes != nil {
		t.Errorf("pending metrics = %+v", p)
	}

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	none, err := ta.TaskMetrics(context.Background(), TimeRange{Start: &future})
	if err != nil {
		t.Fatalf("TaskMetrics range: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("future range metrics = %+v, want none", none)
	}
}

func TestTasks_AgentPerformance(t *testing.T) {
	ta, _ := seed(t)
	p, err := ta.AgentPerformance(context.Background(), "Research")
	if err != nil {
		t.Fatalf("AgentPerformance: %v", err)
	}
	if p.TotalTasks != 2 || p.CompletedTasks != 1 || p.FailedTasks != 1 {
		t.Errorf("counts = %+v", p)
	}
	if p.CompletionRate != 50 {
		t.Errorf("CompletionRate = %v, want 50", p.CompletionRate)
	}
	if p.TaskTypeDiversity != 1 {
		t.Errorf("TaskTypeDiversity = %d, want 1", p.TaskTypeDiversity)
	}
	if p.AvgExecutionTimeMinutes == nil || !near(*p.AvgExecutionTimeMinutes, 30+24*60) {
		t.Errorf("AvgExecutionTimeMinutes = %v", p.AvgExecutionTimeMinutes)
	}

	empty, err := ta.AgentPerformance(context.Background(), "Nobody")
	if err != nil {
		t.Fatalf("AgentPerformance empty: %v", err)
	}
	if empty.TotalTasks != 0 || empty.CompletionRate != 0 {
		t.Errorf("empty agent = %+v", empty)
	}
	if _, err := ta.AgentPerformance(context.Background(), ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("missing agent error = %v, want ErrInvalid", err)
	}
}

func TestTasks_WorkloadAndTrends(t *testing.T) {
	ta, _ := seed(t)
	ctx := context.Background()

	work, err := ta.Workload(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("Workload: %v", err)
	}
	if len(work) != 1 || work[0].Agent != "VisionAnalysis" || work[0].ActiveTasks != 1 || work[0].AvgPriority != 2 {
		t.Errorf("Workload = %+v", work)
	}

	trends, err := ta.CompletionTrends(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("CompletionTrends: %v", err)
	}
	if len(trends) != 2 || trends[0].Date != "2026-10-12" || trends[1].Date != "2026-10-13" {
		t.Fatalf("CompletionTrends = %+v", trends)
	}
	if trends[0].CompletedTasks != 1 {
		t.Errorf("first day completed = %d, want 1", trends[0].CompletedTasks)
	}

	errs, err := ta.ErrorAnalysis(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("ErrorAnalysis: %v", err)
	}
	if len(errs) != 1 || errs[0].ErrorType != "timeout" || errs[0].ErrorCount != 1 || errs[0].AffectedAgents != 1 {
		t.Errorf("ErrorAnalysis = %+v", errs)
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 0.01 && d > -0.01
}

func TestTasks_ErrorAnalysisCountsTasksOnce(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "agency.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	m := task.NewManager(db, nil)
	ctx := context.Background()

	failed := task.StatusFailed
	fail := func(p task.Priority, errType string, agents ...string) {
		t.Helper()
		tk, err := m.Create(ctx, task.NewTask{Description: "job", Priority: p})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		for _, a := range agents {
			if _, err := m.Assign(ctx, tk.ID, a); err != nil {
				t.Fatalf("Assign: %v", err)
			}
		}
		patch := task.Patch{Status: &failed, Metadata: &task.MetadataPatch{CustomData: map[string]any{"error_type": errType}}}
		if _, err := m.Update(ctx, tk.ID, patch); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	fail(1, "timeout", "Research", "Travel", "WebAutomation")
	fail(5, "timeout", "Research")
	fail(2, "provider_error")

	got, err := NewTasks(db).ErrorAnalysis(ctx, TimeRange{})
	if err != nil {
		t.Fatalf("ErrorAnalysis: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ErrorAnalysis = %+v, want 2 patterns", got)
	}
	timeout := got[0]
	if timeout.ErrorType != "timeout" || timeout.ErrorCount != 2 || timeout.AffectedAgents != 3 || !near(timeout.AvgPriority, 3) {
		t.Errorf("timeout pattern = %+v, want count 2, agents 3, avg priority 3", timeout)
	}
	if p := got[1]; p.ErrorType != "provider_error" || p.ErrorCount != 1 || p.AffectedAgents != 0 || !near(p.AvgPriority, 2) {
		t.Errorf("provider_error pattern = %+v", p)
	}
}
