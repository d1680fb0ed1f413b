package api

import (
	"net/http"
	"time"

	"github.com/GoCodeAlone/agency/analytics"
	"github.com/GoCodeAlone/agency/store"
)

// timeRange reads optional start and end query parameters.
func timeRange(w http.ResponseWriter, r *http.Request) (analytics.TimeRange, bool) {
	var tr analytics.TimeRange
	for key, dst := range map[string]**time.Time{"start": &tr.Start, "end": &tr.End} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		t, err := store.ParseInputTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, key+": "+err.Error())
			return tr, false
		}
		*dst = &t
	}
	return tr, true
}

func (h *Handlers) taskMetrics(w http.ResponseWriter, r *http.Request) {
	tr, ok := timeRange(w, r)
	if !ok {
		return
	}
	m, err := h.Analytics.TaskMetrics(r.Context(), tr)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) workload(w http.ResponseWriter, r *http.Request) {
	tr, ok := timeRange(w, r)
	if !ok {
		return
	}
	m, err := h.Analytics.Workload(r.Context(), tr)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) trends(w http.ResponseWriter, r *http.Request) {
	tr, ok := timeRange(w, r)
	if !ok {
		return
	}
	m, err := h.Analytics.CompletionTrends(r.Context(), tr)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) errorPatterns(w http.ResponseWriter, r *http.Request) {
	tr, ok := timeRange(w, r)
	if !ok {
		return
	}
	m, err := h.Analytics.ErrorAnalysis(r.Context(), tr)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) agentPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.Analytics.AgentPerformance(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}
