package api

import (
	"net/http"

	"github.com/GoCodeAlone/agency/comms"
)

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req comms.SendRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FromAgent == "" {
		req.FromAgent = actor(r.Context(), "")
	}
	msg, err := h.Comms.Send(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) broadcast(w http.ResponseWriter, r *http.Request) {
	var req comms.BroadcastRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FromAgent == "" {
		req.FromAgent = actor(r.Context(), "")
	}
	msgs, err := h.Comms.Broadcast(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msgs)
}

func (h *Handlers) messageStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status  comms.Status `json:"status"`
		Details string       `json:"details"`
	}
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.Comms.UpdateStatus(r.Context(), r.PathValue("id"), req.Status, req.Details)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handlers) markRead(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Comms.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handlers) getThread(w http.ResponseWriter, r *http.Request) {
	view, err := h.Comms.Thread(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if view.Context == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) agentContext(w http.ResponseWriter, r *http.Request) {
	ctx, err := h.Comms.Context(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (h *Handlers) agentMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Comms.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) agentUnread(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Comms.Unread(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
