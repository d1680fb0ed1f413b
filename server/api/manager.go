// Package api defines the REST API handlers and interfaces for the agency server.
package api

import (
	"context"

	"github.com/GoCodeAlone/agency/agent"
)

// AgentManager is the interface the API uses to control agents.
type AgentManager interface {
	ListAgents() []agent.Info
	GetAgent(id string) (*agent.Info, bool)
	StartAgent(ctx context.Context, id string) error
	StopAgent(ctx context.Context, id string) error
	ListTeams() []TeamInfo
	// AssignTask hands the task to a member of teamID (the first team when empty)
	// and returns the chosen agent id.
	AssignTask(ctx context.Context, teamID, taskID string) (string, error)
}

// Backuper writes a database backup and returns its path.
type Backuper interface {
	Run(ctx context.Context) (string, error)
}

// TeamInfo describes a group of agents working together.
type TeamInfo struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	LeadID  string       `json:"lead_id"`
	Members []agent.Info `json:"members"`
}
