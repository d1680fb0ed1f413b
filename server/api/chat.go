package api

import (
	"net/http"

	"github.com/GoCodeAlone/agency/orchestrator"
)

func (h *Handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if !decode(w, r, &req) {
		return
	}
	if req.From == "" {
		req.From = actor(r.Context(), "user")
	}
	reply, err := h.Orchestrator.Handle(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handlers) listTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Tools.AllDefs())
}

// executeTool runs one tool call. Tool-level failures are reported in the result
// body with status 200; only unknown tools and malformed bodies are HTTP errors.
func (h *Handlers) executeTool(w http.ResponseWriter, r *http.Request) {
	var args map[string]any
	if r.ContentLength != 0 {
		if !decode(w, r, &args) {
			return
		}
	}
	out, err := h.Tools.Execute(r.Context(), r.PathValue("name"), args)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
