package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/agency/task"
)

// ErrUnknownAgent is returned for agent ids that are not team members.
var ErrUnknownAgent = errors.New("unknown agent")

// Team groups agents under an optional lead and assigns work among them.
type Team struct {
	ID      string
	Name    string
	Lead    *Runtime
	Members []*Runtime

	tasks *task.Manager
	mu    sync.RWMutex
}

// NewTeam creates an empty team that records assignments in tasks.
func NewTeam(id, name string, tasks *task.Manager) *Team {
	return &Team{ID: id, Name: name, tasks: tasks}
}

// AddAgent adds an agent to the team's member list.
func (t *Team) AddAgent(r *Runtime) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.mu.Lock()
	r.cfg.TeamID = t.ID
	r.mu.Unlock()
	t.Members = append(t.Members, r)
}

// SetLead designates the given runtime as the team lead.
func (t *Team) SetLead(r *Runtime) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.mu.Lock()
	r.cfg.TeamID = t.ID
	r.cfg.IsLead = true
	r.mu.Unlock()
	t.Lead = r
}

// Get returns the member or lead with the given id.
func (t *Team) Get(id string) (*Runtime, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.all() {
		if r.cfg.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
}

// Infos returns the metadata of the lead (if any) followed by every member.
func (t *Team) Infos() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	all := t.all()
	infos := make([]Info, 0, len(all))
	for _, r := range all {
		infos = append(infos, r.Info())
	}
	return infos
}

func (t *Team) all() []*Runtime {
	var all []*Runtime
	if t.Lead != nil {
		all = append(all, t.Lead)
	}
	return append(all, t.Members...)
}

// Start launches all team members (and the lead, if set).
func (t *Team) Start(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.Lead != nil {
		if err := t.Lead.Start(ctx); err != nil {
			return fmt.Errorf("team %s: start lead %s: %w", t.ID, t.Lead.cfg.ID, err)
		}
	}
	for _, m := range t.Members {
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("team %s: start member %s: %w", t.ID, m.cfg.ID, err)
		}
	}
	return nil
}

// Stop gracefully shuts down all team members and the lead.
func (t *Team) Stop(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var errs []error
	for _, m := range t.Members {
		if err := m.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop member %s: %w", m.cfg.ID, err))
		}
	}
	if t.Lead != nil {
		if err := t.Lead.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop lead %s: %w", t.Lead.cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

// AssignTask records an assignment of the task to the best available member and
// queues it there. It returns the chosen agent id.
func (t *Team) AssignTask(ctx context.Context, taskID string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	target := t.pickMember()
	if target == nil {
		return "", fmt.Errorf("team %s: no available agent for task %s", t.ID, taskID)
	}
	if _, err := t.tasks.Assign(ctx, taskID, target.cfg.ID); err != nil {
		return "", fmt.Errorf("team %s: %w", t.ID, err)
	}
	if err := target.AssignTask(taskID); err != nil {
		// The assignment is durable; the agent's poll picks the task up later.
		target.cfg.Logger.Warn("queue assigned task", slog.String("task_id", taskID), slog.Any("err", err))
	}
	return target.cfg.ID, nil
}

// pickMember prefers idle members, then any non-stopped member, then the lead.
func (t *Team) pickMember() *Runtime {
	for _, m := range t.Members {
		if m.Info().Status == StatusIdle {
			return m
		}
	}
	for _, m := range t.Members {
		if m.Info().Status != StatusStopped {
			return m
		}
	}
	if t.Lead != nil && t.Lead.Info().Status != StatusStopped {
		return t.Lead
	}
	return nil
}
