package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/retrain"
	"github.com/kozaktomas/faceinbox/internal/settings"
)

// RetrainHandler starts and observes retrain runs.
type RetrainHandler struct {
	coord    *retrain.Coordinator
	settings *settings.Manager
}

// NewRetrainHandler creates a new retrain handler.
func NewRetrainHandler(coord *retrain.Coordinator, s *settings.Manager) *RetrainHandler {
	return &RetrainHandler{coord: coord, settings: s}
}

type retrainRequest struct {
	Tier string `json:"tier"`
}

// Start launches a retrain. Without a tier the active one is used; another
// tier becomes active once the run completes.
func (h *RetrainHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req retrainRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	tier := h.settings.Get().Tier
	if req.Tier != "" {
		parsed, err := embedding.ParseTier(req.Tier)
		if err != nil {
			respondErr(w, err)
			return
		}
		tier = parsed
	}

	runID, err := h.coord.Start(tier)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"tier":   tier.String(),
	})
}

// Progress returns the current or last run.
func (h *RetrainHandler) Progress(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.coord.Progress())
}

// Events streams progress via SSE.
func (h *RetrainHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamProgress(w, r, h.coord)
}

// Cancel stops the running retrain between images.
func (h *RetrainHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.coord.Cancel() {
		respondError(w, http.StatusNotFound, "no retrain in progress")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}
