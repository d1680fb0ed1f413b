package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/agency/agent"
	"github.com/GoCodeAlone/agency/analytics"
	"github.com/GoCodeAlone/agency/batch"
	"github.com/GoCodeAlone/agency/comms"
	"github.com/GoCodeAlone/agency/orchestrator"
	"github.com/GoCodeAlone/agency/plugin"
	"github.com/GoCodeAlone/agency/task"
)

// EventPublisher fans events out to live subscribers.
type EventPublisher interface {
	Publish(eventType string, payload any)
}

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Tasks        *task.Manager
	Comms        *comms.Service
	Batcher      *batch.Batcher
	Analytics    *analytics.Tasks
	Orchestrator *orchestrator.Orchestrator
	Tools        *plugin.Registry
	Agents       AgentManager
	Backup       Backuper
	Events       EventPublisher
	Logger       *slog.Logger
	Version      string
	StartAt      time.Time
}

// RegisterRoutes hands every protected API route to handle.
func (h *Handlers) RegisterRoutes(handle func(pattern string, fn http.HandlerFunc)) {
	handle("GET /api/agents", h.listAgents)
	handle("GET /api/agents/{id}", h.getAgent)
	handle("POST /api/agents/{id}/start", h.startAgent)
	handle("POST /api/agents/{id}/stop", h.stopAgent)
	handle("GET /api/agents/{id}/tasks", h.agentTasks)
	handle("GET /api/agents/{id}/context", h.agentContext)
	handle("GET /api/agents/{id}/messages", h.agentMessages)
	handle("GET /api/agents/{id}/unread", h.agentUnread)
	handle("GET /api/teams", h.listTeams)

	handle("GET /api/tasks", h.listTasks)
	handle("POST /api/tasks", h.createTask)
	handle("GET /api/tasks/{id}", h.getTask)
	handle("PATCH /api/tasks/{id}", h.updateTask)
	handle("POST /api/tasks/{id}/assign", h.assignTask)
	handle("GET /api/tasks/{id}/history", h.taskHistory)
	handle("GET /api/tasks/{id}/dependencies", h.taskDependencies)
	handle("POST /api/tasks/{id}/dependencies", h.addDependencies)

	handle("POST /api/messages", h.sendMessage)
	handle("POST /api/messages/broadcast", h.broadcast)
	handle("POST /api/messages/{id}/status", h.messageStatus)
	handle("POST /api/messages/{id}/read", h.markRead)
	handle("GET /api/threads/{id}", h.getThread)

	handle("POST /api/updates", h.addUpdate)
	handle("GET /api/updates/batch", h.currentBatch)
	handle("DELETE /api/updates/batch", h.clearBatch)
	handle("POST /api/updates/flush", h.flushBatch)
	handle("GET /api/updates/history", h.batchHistory)

	handle("GET /api/analytics/metrics", h.taskMetrics)
	handle("GET /api/analytics/workload", h.workload)
	handle("GET /api/analytics/trends", h.trends)
	handle("GET /api/analytics/errors", h.errorPatterns)
	handle("GET /api/analytics/agents/{id}", h.agentPerformance)

	handle("POST /api/chat", h.chat)
	handle("GET /api/tools", h.listTools)
	handle("POST /api/tools/{name}", h.executeTool)

	handle("POST /api/admin/backup", h.backup)
	handle("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps component sentinels onto HTTP status codes.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, comms.ErrNotFound),
		errors.Is(err, agent.ErrUnknownAgent), errors.Is(err, plugin.ErrUnknownTool),
		errors.Is(err, ErrNoTeam):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrInvalid), errors.Is(err, comms.ErrInvalid),
		errors.Is(err, batch.ErrInvalid), errors.Is(err, analytics.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("request failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) publish(eventType string, payload any) {
	if h.Events != nil {
		h.Events.Publish(eventType, payload)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// --- Agent handlers ---

func (h *Handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Agents.ListAgents())
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	info, ok := h.Agents.GetAgent(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) startAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Agents.StartAgent(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.publish("agent_status", map[string]string{"agent_id": id, "status": "started"})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) stopAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Agents.StopAgent(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.publish("agent_status", map[string]string{"agent_id": id, "status": "stopped"})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) listTeams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Agents.ListTeams())
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if !h.StartAt.IsZero() {
		body["uptime_seconds"] = int64(time.Since(h.StartAt).Seconds())
	}
	if h.Agents != nil {
		body["agents"] = len(h.Agents.ListAgents())
	}
	writeJSON(w, http.StatusOK, body)
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}

// --- Admin ---

func (h *Handlers) backup(w http.ResponseWriter, r *http.Request) {
	if p, _ := PrincipalFrom(r.Context()); p.IsAgent() {
		writeError(w, http.StatusForbidden, "backups require the admin user")
		return
	}
	if h.Backup == nil {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}
	path, err := h.Backup.Run(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"path":    path,
		"message": "Backup created successfully at " + path,
	})
}
