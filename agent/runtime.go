package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/task"
)

// Runtime is a running agent.
type Runtime struct {
	mu        sync.RWMutex
	cfg       Config
	status    Status
	startedAt time.Time
	curTask   string
	completed int
	failed    int

	taskQueue chan string
	inbox     chan *comms.Message

	cancel context.CancelFunc
	done   chan struct{}
	unsub  func()
}

// NewRuntime creates a new agent runtime from the given config.
func NewRuntime(cfg Config) *Runtime {
	cfg.setDefaults()
	return &Runtime{
		cfg:       cfg,
		status:    StatusIdle,
		taskQueue: make(chan string, 64),
		inbox:     make(chan *comms.Message, 256),
	}
}

// ID returns the agent id.
func (r *Runtime) ID() string { return r.cfg.ID }

// Running reports whether the loop has been started and not stopped.
func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cancel != nil
}

// Info returns the agent's current metadata.
func (r *Runtime) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := Info{
		ID:             r.cfg.ID,
		Name:           r.cfg.ID,
		Status:         r.status,
		StartedAt:      r.startedAt,
		TeamID:         r.cfg.TeamID,
		IsLead:         r.cfg.IsLead,
		CurrentTask:    r.curTask,
		TasksCompleted: r.completed,
		TasksFailed:    r.failed,
	}
	if r.cfg.Personality != nil {
		info.Name = r.cfg.Personality.Name
		info.Personality = r.cfg.Personality
	}
	return info
}

// Start begins the agent's autonomous loop.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("agent %s already running (status=%s)", r.cfg.ID, r.status)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.status = StatusIdle
	r.startedAt = time.Now()
	if r.cfg.Bus != nil {
		r.unsub = r.cfg.Bus.Subscribe(r.cfg.ID, func(_ context.Context, msg *comms.Message) error {
			select {
			case r.inbox <- msg:
			default:
				r.cfg.Logger.Warn("inbox full, dropping notification", slog.String("message_id", msg.ID))
			}
			return nil
		})
	}
	done := r.done
	r.mu.Unlock()

	r.cfg.Logger.Info("agent started")
	go func() {
		defer close(done)
		r.loop(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (r *Runtime) Stop(_ context.Context) error {
	r.mu.Lock()
	cancel, done, unsub := r.cancel, r.done, r.unsub
	r.cancel, r.unsub = nil, nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	r.mu.Lock()
	r.status = StatusStopped
	r.mu.Unlock()
	r.cfg.Logger.Info("agent stopped")
	return nil
}

// AssignTask enqueues a task for the agent to process.
func (r *Runtime) AssignTask(taskID string) error {
	select {
	case r.taskQueue <- taskID:
		return nil
	default:
		return fmt.Errorf("agent %s task queue full", r.cfg.ID)
	}
}

// loop is the core autonomous agent loop.
func (r *Runtime) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.inbox:
			r.handleMessage(ctx, msg)
		case id := <-r.taskQueue:
			r.processTask(ctx, id)
		default:
			if t := r.fetchNextTask(ctx); t != nil {
				r.processTask(ctx, t.ID)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case msg := <-r.inbox:
				r.handleMessage(ctx, msg)
			case id := <-r.taskQueue:
				r.processTask(ctx, id)
			case <-time.After(r.cfg.PollInterval):
			}
		}
	}
}

// fetchNextTask returns the oldest pending task assigned to this agent.
func (r *Runtime) fetchNextTask(ctx context.Context) *task.Task {
	status := task.StatusPending
	tasks, err := r.cfg.Tasks.List(ctx, task.Filter{AgentID: r.cfg.ID, Status: &status, Limit: 1})
	if err != nil {
		if ctx.Err() == nil {
			r.cfg.Logger.Error("poll tasks", slog.Any("err", err))
		}
		return nil
	}
	if len(tasks) == 0 {
		return nil
	}
	return tasks[0]
}

// handleMessage queues the task referenced by an assignment notification and marks
// the message read.
func (r *Runtime) handleMessage(ctx context.Context, msg *comms.Message) {
	r.cfg.Logger.Debug("received message", slog.String("from", msg.FromAgent), slog.String("message_id", msg.ID))
	if msg.Metadata.Type == "task_assignment" && msg.Context.TaskID != "" {
		select {
		case r.taskQueue <- msg.Context.TaskID:
		default:
		}
	}
	if r.cfg.Comms != nil {
		if _, err := r.cfg.Comms.MarkRead(ctx, msg.ID); err != nil {
			r.cfg.Logger.Warn("mark message read", slog.String("message_id", msg.ID), slog.Any("err", err))
		}
	}
}

// processTask runs the chat/tool loop for a single task. Tasks that are no longer
// pending are skipped, so a task delivered both by notification and by polling runs
// once.
func (r *Runtime) processTask(ctx context.Context, id string) {
	t, err := r.cfg.Tasks.Get(ctx, id)
	if err != nil {
		r.cfg.Logger.Warn("load task", slog.String("task_id", id), slog.Any("err", err))
		return
	}
	if t.Status != task.StatusPending {
		return
	}

	r.mu.Lock()
	r.status = StatusWorking
	r.curTask = t.ID
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.status = StatusIdle
		r.curTask = ""
		r.mu.Unlock()
	}()

	r.cfg.Logger.Info("starting task", slog.String("task_id", t.ID))
	if err := r.setStatus(ctx, t.ID, task.StatusInProgress, "Started by "+r.cfg.ID, nil); err != nil {
		r.cfg.Logger.Error("mark task in progress", slog.String("task_id", t.ID), slog.Any("err", err))
		return
	}

	var defs []provider.ToolDef
	if r.cfg.Tools != nil {
		defs = r.cfg.Tools.AllDefs()
	}
	messages := r.buildMessages(t)

	for i := 0; i < r.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			r.requeue(t)
			return
		}

		resp, err := r.cfg.Provider.Chat(ctx, messages, defs)
		if err != nil {
			if ctx.Err() != nil {
				r.requeue(t)
				return
			}
			r.cfg.Logger.Error("provider error", slog.String("task_id", t.ID), slog.Any("err", err))
			r.completeTask(ctx, t, fmt.Sprintf("provider error: %v", err), "provider_error", task.StatusFailed)
			return
		}

		if len(resp.ToolCalls) == 0 {
			r.completeTask(ctx, t, resp.Content, "", task.StatusCompleted)
			return
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    r.executeTool(ctx, tc),
				ToolCallID: tc.ID,
			})
		}
	}

	r.completeTask(ctx, t, "Max iterations reached", "max_iterations", task.StatusFailed)
}

// buildMessages constructs the conversation context for a task.
func (r *Runtime) buildMessages(t *task.Task) []provider.Message {
	sysPrompt := fmt.Sprintf("You are %s, an autonomous agent. Use the available tools to complete the task, then reply with a short summary of the result.", r.cfg.ID)
	if r.cfg.Personality != nil && r.cfg.Personality.SystemPrompt != "" {
		sysPrompt = r.cfg.Personality.SystemPrompt
	}

	var b strings.Builder
	b.WriteString("Task ")
	b.WriteString(t.ID)
	b.WriteString(": ")
	b.WriteString(t.Description)
	fmt.Fprintf(&b, "\n\nPriority: %d (1 is most urgent)", t.Priority)
	if t.Deadline != nil {
		b.WriteString("\nDeadline: ")
		b.WriteString(t.Deadline.Format(time.RFC3339))
	}
	if len(t.Metadata.Tags) > 0 {
		b.WriteString("\nTags: ")
		b.WriteString(strings.Join(t.Metadata.Tags, ", "))
	}

	return []provider.Message{
		{Role: provider.RoleSystem, Content: sysPrompt},
		{Role: provider.RoleUser, Content: b.String()},
	}
}

// executeTool runs a tool call through the registry and returns its JSON result.
func (r *Runtime) executeTool(ctx context.Context, tc provider.ToolCall) string {
	r.cfg.Logger.Debug("executing tool", slog.String("tool", tc.Name), slog.Any("args", tc.Arguments))
	if r.cfg.Tools == nil {
		return "Error: no tools available"
	}
	out, err := r.cfg.Tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		return "Error: " + err.Error()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "Error: encode tool result: " + err.Error()
	}
	return string(b)
}

// completeTask records the final state, reports to the orchestrator and queues an
// update. Writes outlive cancellation of the agent's context.
func (r *Runtime) completeTask(ctx context.Context, t *task.Task, result, errorType string, status task.Status) {
	ctx = context.WithoutCancel(ctx)
	r.cfg.Logger.Info("task complete", slog.String("task_id", t.ID), slog.String("status", string(status)))

	custom := map[string]any{"result": result, "agent": r.cfg.ID}
	if errorType != "" {
		custom["error_type"] = errorType
	}
	if err := r.setStatus(ctx, t.ID, status, result, custom); err != nil {
		r.cfg.Logger.Error("update task", slog.String("task_id", t.ID), slog.Any("err", err))
	}

	r.mu.Lock()
	if status == task.StatusCompleted {
		r.completed++
	} else {
		r.failed++
	}
	r.mu.Unlock()

	if r.cfg.Comms != nil {
		_, err := r.cfg.Comms.Send(ctx, comms.SendRequest{
			FromAgent: r.cfg.ID,
			ToAgent:   r.cfg.Orchestrator,
			Content:   fmt.Sprintf("Task %s %s: %s", t.ID, status, result),
			Priority:  t.Priority,
			Context:   comms.Context{TaskID: t.ID},
			Metadata:  comms.Metadata{Type: "task_update", Category: "report"},
		})
		if err != nil {
			r.cfg.Logger.Error("report task", slog.String("task_id", t.ID), slog.Any("err", err))
		}
	}
	if r.cfg.Batcher != nil {
		_, err := r.cfg.Batcher.Add(ctx, batch.NewUpdate{
			Content:  fmt.Sprintf("%s %s task: %s", r.cfg.ID, status, t.Description),
			Priority: t.Priority,
			Category: "Agent Reports",
			Metadata: map[string]any{"task_id": t.ID, "agent": r.cfg.ID},
		}, nil)
		if err != nil {
			r.cfg.Logger.Error("queue task update", slog.String("task_id", t.ID), slog.Any("err", err))
		}
	}
}

// requeue returns an interrupted task to pending so it is picked up again.
func (r *Runtime) requeue(t *task.Task) {
	err := r.setStatus(context.Background(), t.ID, task.StatusPending, "Agent stopped before completion", nil)
	if err != nil {
		r.cfg.Logger.Error("requeue task", slog.String("task_id", t.ID), slog.Any("err", err))
	}
}

func (r *Runtime) setStatus(ctx context.Context, id string, status task.Status, msg string, custom map[string]any) error {
	p := task.Patch{Status: &status, StatusMessage: msg, ChangedBy: r.cfg.ID}
	if custom != nil {
		p.Metadata = &task.MetadataPatch{CustomData: custom}
	}
	_, err := r.cfg.Tasks.Update(ctx, id, p)
	return err
}
