package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/plugin"
	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/provider/mock"
	"github.com/GoCodeAlone/agency/store"
	"github.com/GoCodeAlone/agency/task"
)

type env struct {
	tasks   *task.Manager
	comms   *comms.Service
	bus     *comms.InMemoryBus
	batcher *batch.Batcher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "agency.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	bus := comms.NewInMemoryBus()
	return &env{
		tasks:   task.NewManager(db, nil),
		comms:   comms.NewService(db, nil, comms.WithBus(bus)),
		bus:     bus,
		batcher: batch.New(db, nil),
	}
}

func (e *env) config(id string, p provider.Provider) Config {
	return Config{
		ID:           id,
		Provider:     p,
		Tasks:        e.tasks,
		Comms:        e.comms,
		Bus:          e.bus,
		Batcher:      e.batcher,
		PollInterval: 10 * time.Millisecond,
	}
}

// waitForStatus polls the store until the task reaches want.
func waitForStatus(t *testing.T, tasks *task.Manager, id string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := tasks.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get task: %v", err)
		}
		if got.Status == want {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach %s within deadline", id, want)
	return nil
}

type countingTool struct{ calls atomic.Int32 }

func (c *countingTool) Name() string        { return "lookup" }
func (c *countingTool) Description() string { return "looks things up" }
func (c *countingTool) Definition() provider.ToolDef {
	return provider.ToolDef{Name: c.Name(), Description: c.Description()}
}
func (c *countingTool) Execute(_ context.Context, args map[string]any) (any, error) {
	c.calls.Add(1)
	return map[string]any{"found": args["query"]}, nil
}

func TestRuntime_Info(t *testing.T) {
	r := NewRuntime(Config{
		ID:          "agent-1",
		Personality: &Personality{Name: "TestBot", Role: "worker"},
		Provider:    mock.New(),
	})
	info := r.Info()
	if info.ID != "agent-1" {
		t.Errorf("ID = %q, want agent-1", info.ID)
	}
	if info.Name != "TestBot" {
		t.Errorf("Name = %q, want TestBot", info.Name)
	}
	if info.Status != StatusIdle || !info.Healthy() {
		t.Errorf("Status = %q, want healthy idle", info.Status)
	}
}

func TestRuntime_StartStop(t *testing.T) {
	e := newEnv(t)
	r := NewRuntime(e.config("agent-1", mock.New()))

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}
	time.Sleep(30 * time.Millisecond)

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	info := r.Info()
	if info.Status != StatusStopped || info.Healthy() {
		t.Errorf("Status after Stop = %q, want stopped", info.Status)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = r.Stop(ctx)
}

func TestRuntime_ProcessesAssignedTaskWithTools(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tool := &countingTool{}
	reg, err := plugin.NewRegistry(tool)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	p := mock.NewScript(
		provider.Response{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "lookup", Arguments: map[string]any{"query": "flights"}}}},
		provider.Response{Content: "Found three flights."},
	)
	cfg := e.config("Research", p)
	cfg.Tools = reg
	r := NewRuntime(cfg)

	created, err := e.tasks.Create(ctx, task.NewTask{Description: "find flights", Priority: task.PriorityLow})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.tasks.Assign(ctx, created.ID, "Research"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	done := waitForStatus(t, e.tasks, created.ID, task.StatusCompleted)
	if got := done.Metadata.CustomData["result"]; got != "Found three flights." {
		t.Errorf("result = %v", got)
	}
	statuses := make([]string, 0, len(done.StatusHistory))
	for _, h := range done.StatusHistory {
		statuses = append(statuses, string(h.Status))
	}
	if strings.Join(statuses, ",") != "pending,in_progress,completed" {
		t.Errorf("status history = %v", statuses)
	}
	if tool.calls.Load() != 1 {
		t.Errorf("tool calls = %d, want 1", tool.calls.Load())
	}

	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	if len(calls[0].Tools) != 1 || calls[0].Tools[0].Name != "lookup" {
		t.Errorf("tools offered = %+v", calls[0].Tools)
	}
	second := calls[1].Messages
	last := second[len(second)-1]
	if last.Role != provider.RoleTool || last.ToolCallID != "call_1" || !strings.Contains(last.Content, `"found":"flights"`) {
		t.Errorf("tool result message = %+v", last)
	}
	if prev := second[len(second)-2]; len(prev.ToolCalls) != 1 {
		t.Errorf("assistant turn should carry its tool calls, got %+v", prev)
	}

	reports, err := e.comms.Unread(ctx, "TaskOrchestrator")
	if err != nil {
		t.Fatalf("Unread: %v", err)
	}
	if len(reports) != 1 || reports[0].Context.TaskID != created.ID {
		t.Fatalf("reports = %+v", reports)
	}
	if want := "Task " + created.ID + " completed: Found three flights."; reports[0].Content != want {
		t.Errorf("report = %q, want %q", reports[0].Content, want)
	}

	pending, err := e.batcher.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if len(pending.Updates) != 1 || pending.Updates[0].Category != "Agent Reports" {
		t.Errorf("batch = %+v", pending.Updates)
	}
	if info := r.Info(); info.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", info.TasksCompleted)
	}
}

func TestRuntime_ProviderFailureFailsTask(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := mock.New().FailWith(errors.New("quota exceeded"))
	r := NewRuntime(e.config("Research", p))

	created, err := e.tasks.Create(ctx, task.NewTask{Description: "summarize"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.tasks.Assign(ctx, created.ID, "Research"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	failed := waitForStatus(t, e.tasks, created.ID, task.StatusFailed)
	if got := failed.Metadata.CustomData["error_type"]; got != "provider_error" {
		t.Errorf("error_type = %v, want provider_error", got)
	}
	if got := failed.StatusHistory[len(failed.StatusHistory)-1].Message; got != "provider error: quota exceeded" {
		t.Errorf("last history message = %q", got)
	}
}

func TestRuntime_MaxIterations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	loop := provider.Response{ToolCalls: []provider.ToolCall{{ID: "c", Name: "missing"}}}
	p := mock.NewScript(loop)
	cfg := e.config("Research", p)
	cfg.MaxIterations = 3
	r := NewRuntime(cfg)

	created, _ := e.tasks.Create(ctx, task.NewTask{Description: "spin"})
	_, _ = e.tasks.Assign(ctx, created.ID, "Research")
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)

	failed := waitForStatus(t, e.tasks, created.ID, task.StatusFailed)
	if got := failed.Metadata.CustomData["error_type"]; got != "max_iterations" {
		t.Errorf("error_type = %v, want max_iterations", got)
	}
	if n := len(p.Calls()); n != 3 {
		t.Errorf("provider calls = %d, want 3", n)
	}
}

func TestRuntime_AssignmentNotification(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config("Research", mock.New("ok"))
	cfg.PollInterval = time.Hour
	r := NewRuntime(cfg)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop(ctx)
	time.Sleep(20 * time.Millisecond) // let the first poll find nothing

	created, _ := e.tasks.Create(ctx, task.NewTask{Description: "notified work"})
	_, _ = e.tasks.Assign(ctx, created.ID, "Research")
	msg, err := e.comms.Send(ctx, comms.SendRequest{
		FromAgent: "TaskOrchestrator",
		ToAgent:   "Research",
		Content:   "New task assigned",
		Context:   comms.Context{TaskID: created.ID},
		Metadata:  comms.Metadata{Type: "task_assignment"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitForStatus(t, e.tasks, created.ID, task.StatusCompleted)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		unread, _ := e.comms.Unread(ctx, "Research")
		if len(unread) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("message %s was not marked read", msg.ID)
}

func TestRuntime_AssignTask_QueueFull(t *testing.T) {
	r := NewRuntime(Config{ID: "agent-1", Provider: mock.New()})
	// Fill the queue without starting the runtime
	for i := 0; i < 64; i++ {
		r.taskQueue <- "filler"
	}
	if err := r.AssignTask("overflow"); err == nil {
		t.Fatal("expected error when queue is full")
	}
}
