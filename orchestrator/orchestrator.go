// Package orchestrator implements the task-orchestrator agent. Incoming text is
// classified by the analytics rules and dispatched to a task or messaging operation;
// anything else goes to the chat provider.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/GoCodeAlone/agency/analytics"
	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/task"
)

const (
	// DefaultName is the agent id the orchestrator sends messages as.
	DefaultName = "TaskOrchestrator"

	defaultInstructions = "You are the TaskOrchestrator. You coordinate a team of agents, keep track of tasks " +
		"and their status, and answer questions about ongoing work concisely."

	historyWindow = 10
	historyLimit  = 100
)

var errNoProvider = errors.New("no chat provider configured")

// Action names the operation a request was dispatched to.
type Action string

const (
	ActionTaskUpdate   Action = "task_update"
	ActionTaskStatus   Action = "task_status"
	ActionTaskCreation Action = "task_creation"
	ActionChat         Action = "chat"
)

// Request is one message addressed to the orchestrator.
type Request struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// Reply is the orchestrator's answer together with what it found and did.
type Reply struct {
	Text      string              `json:"text"`
	Action    Action              `json:"action"`
	Intents   []analytics.Intent  `json:"intents"`
	Entities  analytics.Entities  `json:"entities"`
	Sentiment analytics.Sentiment `json:"sentiment"`
	Tasks     []*task.Task        `json:"tasks,omitempty"`
	Digest    string              `json:"digest,omitempty"`
}

// Deps are the components the orchestrator dispatches to.
type Deps struct {
	Tasks      *task.Manager
	Comms      *comms.Service
	Batcher    *batch.Batcher
	Classifier *analytics.Classifier
	Provider   provider.Provider
}

// Orchestrator routes requests. It is safe for concurrent use; chat history is shared
// across callers.
type Orchestrator struct {
	deps         Deps
	logger       *slog.Logger
	name         string
	instructions string
	onError      func(error)

	mu      sync.Mutex
	history []provider.Message
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithName sets the agent id used as sender and excluded from assignment.
func WithName(name string) Option {
	return func(o *Orchestrator) { o.name = name }
}

// WithInstructions sets the system prompt for chat requests.
func WithInstructions(s string) Option {
	return func(o *Orchestrator) { o.instructions = s }
}

// WithErrorHook is called for every failed provider call.
func WithErrorHook(fn func(error)) Option {
	return func(o *Orchestrator) { o.onError = fn }
}

// New returns an Orchestrator over deps.
func New(deps Deps, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Classifier == nil {
		deps.Classifier = analytics.NewClassifier()
	}
	o := &Orchestrator{deps: deps, logger: logger, name: DefaultName, instructions: defaultInstructions}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns the orchestrator's agent id.
func (o *Orchestrator) Name() string { return o.name }

// Handle classifies req and dispatches it. Checks run in order: a status update for
// named tasks, a status query for named tasks, task creation, then chat. Operation
// failures are reported in the reply text; the returned error is reserved for store
// failures.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Reply, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", task.ErrInvalid)
	}
	if req.From == "" {
		req.From = "user"
	}
	c := o.deps.Classifier
	reply := &Reply{
		Intents:   c.AnalyzeIntent(req.Text),
		Entities:  c.ExtractEntities(req.Text),
		Sentiment: c.AnalyzeSentiment(req.Text),
	}
	ids := reply.Entities.TaskIDs

	var err error
	switch status, hasStatus := statusPhrase(req.Text); {
	case has(reply.Intents, analytics.IntentTaskUpdate) && len(ids) > 0 && hasStatus:
		reply.Action = ActionTaskUpdate
		err = o.updateTasks(ctx, req, ids, status, reply)
	case has(reply.Intents, analytics.IntentTaskStatus) && len(ids) > 0:
		reply.Action = ActionTaskStatus
		err = o.reportTasks(ctx, ids, reply)
	case has(reply.Intents, analytics.IntentTaskCreation):
		reply.Action = ActionTaskCreation
		err = o.createTask(ctx, req, reply)
	default:
		reply.Action = ActionChat
		reply.Text = o.chat(ctx, req.Text)
		return reply, nil
	}
	if err != nil {
		return nil, err
	}
	o.remember(req.Text, reply.Text)
	o.logger.Info("orchestrator handled request",
		slog.String("from", req.From),
		slog.String("action", string(reply.Action)),
		slog.Int("tasks", len(reply.Tasks)),
	)
	return reply, nil
}

func (o *Orchestrator) updateTasks(ctx context.Context, req Request, ids []string, status task.Status, reply *Reply) error {
	var lines []string
	for _, id := range ids {
		t, err := o.deps.Tasks.Update(ctx, id, task.Patch{Status: &status, ChangedBy: req.From})
		if errors.Is(err, task.ErrNotFound) {
			lines = append(lines, fmt.Sprintf("Error: Task %s not found", id))
			continue
		}
		if err != nil {
			return err
		}
		reply.Tasks = append(reply.Tasks, t)
		lines = append(lines, fmt.Sprintf("Task %s updated successfully", id))
		if err := o.record(ctx, reply, batch.NewUpdate{
			Content:  fmt.Sprintf("Task %s is now %s: %s", id, status, t.Description),
			Priority: t.Priority,
			Category: "Task Updates",
			Metadata: map[string]any{"task_id": id, "status": string(status)},
		}); err != nil {
			return err
		}
	}
	reply.Text = strings.Join(lines, "\n")
	return nil
}

func (o *Orchestrator) reportTasks(ctx context.Context, ids []string, reply *Reply) error {
	var lines []string
	for _, id := range ids {
		t, err := o.deps.Tasks.Get(ctx, id)
		if errors.Is(err, task.ErrNotFound) {
			lines = append(lines, fmt.Sprintf("Error: Task %s not found", id))
			continue
		}
		if err != nil {
			return err
		}
		reply.Tasks = append(reply.Tasks, t)
		lines = append(lines, fmt.Sprintf("Task %s: %s (priority %d) - %s", t.ID, t.Status, t.Priority, t.Description))
	}
	reply.Text = strings.Join(lines, "\n")
	return o.record(ctx, reply, batch.NewUpdate{
		Content:  fmt.Sprintf("Status checked for %d tasks", len(reply.Tasks)),
		Priority: task.PriorityMinimal,
		Category: "Status Checks",
		Metadata: map[string]any{"task_ids": ids},
	})
}

func (o *Orchestrator) createTask(ctx context.Context, req Request, reply *Reply) error {
	priority := derivePriority(reply.Entities.Priorities, reply.Sentiment)
	t, err := o.deps.Tasks.Create(ctx, task.NewTask{
		Description: req.Text,
		Priority:    priority,
		Source:      req.From,
		CustomData:  map[string]any{"intents": reply.Intents},
	})
	if err != nil {
		return err
	}
	reply.Tasks = append(reply.Tasks, t)
	lines := []string{"Task created successfully with ID: " + t.ID}

	for _, agent := range reply.Entities.AgentNames {
		if agent == o.name {
			continue
		}
		if _, err := o.deps.Tasks.Assign(ctx, t.ID, agent); err != nil {
			return err
		}
		_, err := o.deps.Comms.Send(ctx, comms.SendRequest{
			FromAgent:        o.name,
			ToAgent:          agent,
			Content:          "New task assigned: " + t.Description,
			Priority:         t.Priority,
			Context:          comms.Context{TaskID: t.ID},
			Metadata:         comms.Metadata{Type: "task_assignment", Category: "assignment"},
			ActionRequired:   true,
			ExpectedResponse: "task_completion",
			Deadline:         t.Deadline,
		})
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("Task %s assigned to agent %s", t.ID, agent))
	}
	reply.Text = strings.Join(lines, "\n")
	return o.record(ctx, reply, batch.NewUpdate{
		Content:  "New task created: " + t.Description,
		Priority: t.Priority,
		Category: "Tasks",
		Metadata: map[string]any{"task_id": t.ID},
	})
}

// record queues an update and attaches any flushed digest to the reply.
func (o *Orchestrator) record(ctx context.Context, reply *Reply, u batch.NewUpdate) error {
	res, err := o.deps.Batcher.Add(ctx, u, nil)
	if err != nil {
		return err
	}
	if res.Flushed {
		reply.Digest = res.Digest
	}
	return nil
}

func (o *Orchestrator) chat(ctx context.Context, text string) string {
	o.mu.Lock()
	o.appendHistory(provider.Message{Role: provider.RoleUser, Content: text})
	window := o.history[max(0, len(o.history)-historyWindow):]
	messages := make([]provider.Message, 0, len(window)+1)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: o.instructions})
	messages = append(messages, window...)
	o.mu.Unlock()

	var answer string
	resp, err := o.complete(ctx, messages)
	if err != nil {
		answer = fmt.Sprintf("Error processing message: %v", err)
		o.logger.Error("chat provider failed", slog.Any("err", err))
		if o.onError != nil {
			o.onError(err)
		}
	} else {
		answer = resp.Content
	}

	o.mu.Lock()
	o.appendHistory(provider.Message{Role: provider.RoleAssistant, Content: answer})
	o.mu.Unlock()
	return answer
}

func (o *Orchestrator) complete(ctx context.Context, messages []provider.Message) (*provider.Response, error) {
	if o.deps.Provider == nil {
		return nil, errNoProvider
	}
	return o.deps.Provider.Chat(ctx, messages, nil)
}

func (o *Orchestrator) remember(text, answer string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appendHistory(
		provider.Message{Role: provider.RoleUser, Content: text},
		provider.Message{Role: provider.RoleAssistant, Content: answer},
	)
}

// appendHistory must be called with mu held.
func (o *Orchestrator) appendHistory(msgs ...provider.Message) {
	o.history = append(o.history, msgs...)
	if n := len(o.history) - historyLimit; n > 0 {
		o.history = slices.Delete(o.history, 0, n)
	}
}

var statusPhrases = []struct {
	status task.Status
	re     *regexp.Regexp
}{
	{task.StatusInProgress, regexp.MustCompile(`\bin[ _-]progress\b`)},
	{task.StatusCompleted, regexp.MustCompile(`\b(completed?|done|finished)\b`)},
	{task.StatusFailed, regexp.MustCompile(`\bfail(ed|ure)?\b`)},
	{task.StatusPending, regexp.MustCompile(`\bpending\b`)},
}

// statusPhrase finds the first task status named in text.
func statusPhrase(text string) (task.Status, bool) {
	lower := strings.ToLower(text)
	for _, p := range statusPhrases {
		if p.re.MatchString(lower) {
			return p.status, true
		}
	}
	return "", false
}

// derivePriority takes the first numeric priority entity in range, then the worded
// ones, then urgency. The default is normal.
func derivePriority(entities []string, s analytics.Sentiment) task.Priority {
	for _, e := range entities {
		if n, err := strconv.Atoi(e); err == nil && task.Priority(n).Valid() {
			return task.Priority(n)
		}
	}
	switch {
	case slices.Contains(entities, "urgent"), slices.Contains(entities, "high priority"):
		return task.PriorityHigh
	case slices.Contains(entities, "low priority"):
		return task.PriorityLow
	case s.Urgency == "urgent":
		return task.PriorityHigh
	}
	return task.PriorityNormal
}

func has(intents []analytics.Intent, want analytics.Intent) bool {
	return slices.Contains(intents, want)
}
