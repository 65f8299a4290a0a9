package handlers

import (
	"net/http"

	"github.com/opina/server/internal/stats"
)

// StatsHandler serves the results of closed polls
type StatsHandler struct {
	stats *stats.Service
}

// NewStatsHandler creates a new statistics handler
func NewStatsHandler(statsService *stats.Service) *StatsHandler {
	return &StatsHandler{stats: statsService}
}

// Get handles GET /statistiques/{id_sondage}
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	pollID, err := pathID(r, "id_sondage")
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	res, err := h.stats.Get(r.Context(), pollID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}
