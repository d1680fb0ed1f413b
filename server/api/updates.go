package api

import (
	"net/http"

	"github.com/GoCodeAlone/agency/batch"
)

func (h *Handlers) addUpdate(w http.ResponseWriter, r *http.Request) {
	var in batch.NewUpdate
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Batcher.Add(r.Context(), in, nil)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) currentBatch(w http.ResponseWriter, r *http.Request) {
	cur, err := h.Batcher.Current(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (h *Handlers) clearBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Batcher.Clear(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) flushBatch(w http.ResponseWriter, r *http.Request) {
	digest, err := h.Batcher.Flush(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"digest": digest, "flushed": digest != batch.NothingSent})
}

func (h *Handlers) batchHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Batcher.History(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
