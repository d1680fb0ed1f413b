package api

import (
	"net/http"

	"github.com/GoCodeAlone/agency/task"
)

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{
		AgentID: q.Get("agent_id"),
		Limit:   queryInt(r, "limit", 0),
		Offset:  queryInt(r, "offset", 0),
	}
	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+s)
			return
		}
		filter.Status = &st
	}
	tasks, err := h.Tasks.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var in task.NewTask
	if !decode(w, r, &in) {
		return
	}
	if in.Source == "" {
		in.Source = actor(r.Context(), "")
	}
	t, err := h.Tasks.Create(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.publish("task_created", t)
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var p task.Patch
	if !decode(w, r, &p) {
		return
	}
	if p.ChangedBy == "" {
		p.ChangedBy = actor(r.Context(), "")
	}
	t, err := h.Tasks.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.publish("task_updated", t)
	writeJSON(w, http.StatusOK, t)
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
	TeamID  string `json:"team_id"`
}

// assignTask records an explicit assignment, or lets a team pick a member when no
// agent is named.
func (h *Handlers) assignTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		if h.Agents == nil {
			writeError(w, http.StatusBadRequest, "agent_id is required")
			return
		}
		if _, err := h.Tasks.Get(r.Context(), id); err != nil {
			h.writeDomainError(w, err)
			return
		}
		agentID, err := h.Agents.AssignTask(r.Context(), req.TeamID, id)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "agent_id": agentID, "assigned": true})
		return
	}
	created, err := h.Tasks.Assign(r.Context(), id, req.AgentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "agent_id": req.AgentID, "assigned": created})
}

func (h *Handlers) taskHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Tasks.History(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (h *Handlers) taskDependencies(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deps, err := h.Tasks.Dependencies(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "dependencies": deps})
}

func (h *Handlers) addDependencies(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		DependsOn []string `json:"depends_on"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Tasks.AddDependency(r.Context(), id, req.DependsOn); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.taskDependencies(w, r)
}

func (h *Handlers) agentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.AgentTasks(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}
