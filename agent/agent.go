// Package agent runs autonomous agents. Each Runtime polls the tasks assigned to it,
// works them through its chat provider and the tool registry, and reports the outcome
// to the orchestrator.
package agent

import (
	"log/slog"
	"time"

	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/plugin"
	"github.com/GoCodeAlone/agency/provider"
	"github.com/GoCodeAlone/agency/task"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Personality defines the agent's behavior, tone, and role.
type Personality struct {
	Name         string `json:"name" yaml:"name"`
	Role         string `json:"role" yaml:"role"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// Info provides read-only metadata about an agent.
type Info struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Personality    *Personality `json:"personality,omitempty"`
	Status         Status       `json:"status"`
	CurrentTask    string       `json:"current_task,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	TeamID         string       `json:"team_id,omitempty"`
	IsLead         bool         `json:"is_lead"`
	TasksCompleted int          `json:"tasks_completed"`
	TasksFailed    int          `json:"tasks_failed"`
}

// Healthy reports whether the agent is able to take work.
func (i Info) Healthy() bool { return i.Status == StatusIdle || i.Status == StatusWorking }

// Config wires a Runtime. Provider and Tasks are required; the rest are optional.
type Config struct {
	ID          string
	Personality *Personality
	Provider    provider.Provider
	Tasks       *task.Manager
	Comms       *comms.Service
	Bus         comms.Bus
	Tools       *plugin.Registry
	Batcher     *batch.Batcher
	Logger      *slog.Logger

	// Orchestrator receives completion reports. Defaults to "TaskOrchestrator".
	Orchestrator string
	// PollInterval is the idle wait between task store polls. Defaults to 500ms.
	PollInterval time.Duration
	// MaxIterations bounds the chat/tool loop per task. Defaults to 10.
	MaxIterations int

	TeamID string
	IsLead bool
}

func (c *Config) setDefaults() {
	if c.Orchestrator == "" {
		c.Orchestrator = "TaskOrchestrator"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With(slog.String("agent", c.ID))
}
