package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/agency/agent"
)

// ErrNoTeam is returned when an assignment names a team that does not exist.
var ErrNoTeam = errors.New("team not found")

// HealthFunc receives agent health after every start, stop and listing.
type HealthFunc func(agentName string, healthy bool)

// Manager implements AgentManager over in-process agent teams.
type Manager struct {
	mu     sync.RWMutex
	teams  []*agent.Team
	health HealthFunc
	logger *slog.Logger
}

// NewAgentManager creates a Manager over teams. health may be nil.
func NewAgentManager(teams []*agent.Team, health HealthFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = func(string, bool) {}
	}
	return &Manager{teams: teams, health: health, logger: logger}
}

// Start launches every team.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.teams {
		if err := t.Start(ctx); err != nil {
			return err
		}
	}
	m.report()
	return nil
}

// Stop shuts every team down.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for _, t := range m.teams {
		errs = append(errs, t.Stop(ctx))
	}
	m.report()
	return errors.Join(errs...)
}

// ListAgents returns a snapshot of all agent infos, team by team.
func (m *Manager) ListAgents() []agent.Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := []agent.Info{}
	for _, t := range m.teams {
		infos = append(infos, t.Infos()...)
	}
	for _, info := range infos {
		m.health(info.Name, info.Healthy())
	}
	return infos
}

// GetAgent returns the agent info for the given ID.
func (m *Manager) GetAgent(id string) (*agent.Info, bool) {
	r, err := m.find(id)
	if err != nil {
		return nil, false
	}
	info := r.Info()
	return &info, true
}

// StartAgent starts the agent's loop. Starting a running agent is a no-op.
func (m *Manager) StartAgent(ctx context.Context, id string) error {
	r, err := m.find(id)
	if err != nil {
		return err
	}
	if r.Running() {
		return nil
	}
	if err := r.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	info := r.Info()
	m.health(info.Name, info.Healthy())
	m.logger.Info("agent started", slog.String("id", id))
	return nil
}

// StopAgent stops the agent and waits for its loop to exit.
func (m *Manager) StopAgent(ctx context.Context, id string) error {
	r, err := m.find(id)
	if err != nil {
		return err
	}
	if err := r.Stop(ctx); err != nil {
		return err
	}
	m.health(r.Info().Name, false)
	m.logger.Info("agent stopped", slog.String("id", id))
	return nil
}

// ListTeams describes every team.
func (m *Manager) ListTeams() []TeamInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]TeamInfo, 0, len(m.teams))
	for _, t := range m.teams {
		ti := TeamInfo{ID: t.ID, Name: t.Name, Members: t.Infos()}
		for _, info := range ti.Members {
			if info.IsLead {
				ti.LeadID = info.ID
			}
		}
		result = append(result, ti)
	}
	return result
}

// AssignTask hands taskID to the best available member of teamID.
func (m *Manager) AssignTask(ctx context.Context, teamID, taskID string) (string, error) {
	m.mu.RLock()
	var team *agent.Team
	for _, t := range m.teams {
		if teamID == "" || t.ID == teamID {
			team = t
			break
		}
	}
	m.mu.RUnlock()
	if team == nil {
		return "", fmt.Errorf("%w: %q", ErrNoTeam, teamID)
	}
	return team.AssignTask(ctx, taskID)
}

func (m *Manager) find(id string) (*agent.Runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.teams {
		if r, err := t.Get(id); err == nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", agent.ErrUnknownAgent, id)
}

// report publishes health for every agent; callers hold m.mu.
func (m *Manager) report() {
	for _, t := range m.teams {
		for _, info := range t.Infos() {
			m.health(info.Name, info.Healthy())
		}
	}
}
