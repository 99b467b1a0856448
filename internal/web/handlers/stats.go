package handlers

import (
	"net/http"

	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/history"
	"github.com/kozaktomas/faceinbox/internal/settings"
)

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	gallery  *gallery.Service
	history  *history.Service
	settings *settings.Manager
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(g *gallery.Service, h *history.Service, s *settings.Manager) *StatsHandler {
	return &StatsHandler{gallery: g, history: h, settings: s}
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	Persons     int    `json:"persons"`
	Images      int    `json:"images"`
	Events      int    `json:"events"`
	Matched     int    `json:"matched"`
	Unknown     int    `json:"unknown"`
	AutoTrained int    `json:"auto_trained"`
	Tier        string `json:"tier"`
}

// Get returns gallery and history totals.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.gallery.Snapshot(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	events, err := h.history.List(r.Context(), h.history.Limit())
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := StatsResponse{
		Persons: len(snap.People),
		Images:  snap.ImageCount(),
		Events:  len(events),
		Tier:    h.settings.Get().Tier.String(),
	}
	for _, e := range events {
		if e.Matched {
			resp.Matched++
		} else {
			resp.Unknown++
		}
		if e.TrainedImageID != 0 {
			resp.AutoTrained++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
