package handlers

import (
	"net/http"

	"github.com/scrypster/petmind/internal/config"
)

// StatsHandler handles statistics and configuration requests.
type StatsHandler struct {
	engine Engine
	cfg    *config.Config
}

// NewStatsHandler creates a new StatsHandler instance. cfg may be nil,
// which disables GET /api/config.
func NewStatsHandler(eng Engine, cfg *config.Config) *StatsHandler {
	return &StatsHandler{
		engine: eng,
		cfg:    cfg,
	}
}

// GetStats handles GET /api/stats - returns ingestion pipeline statistics.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		respondError(w, statusForError(err), "failed to load stats", err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// GetConfig handles GET /api/config - returns the running configuration
// with API keys masked.
func (h *StatsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil {
		respondError(w, http.StatusNotFound, "configuration not available", nil)
		return
	}
	respondJSON(w, http.StatusOK, ToConfigResponse(h.cfg))
}
