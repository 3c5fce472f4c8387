package api

import (
	"net/http"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler handles stats and status requests.
type StatsHandler struct {
	deps          Dependencies
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(deps Dependencies, statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{deps: deps, statsProvider: statsProvider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.statsProvider.GetStats())
}

// HandleStatus handles GET /v1/status: request counts per state.
func (h *StatsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
