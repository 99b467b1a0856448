package handlers

import (
	"net/http"
	"strconv"

	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/history"
	"github.com/kozaktomas/faceinbox/internal/recognition"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"go.uber.org/zap"
)

// EventsHandler exposes the recognition history.
type EventsHandler struct {
	history  *history.Service
	engine   *recognition.Engine
	settings *settings.Manager
	logger   *zap.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(h *history.Service, engine *recognition.Engine, s *settings.Manager, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{history: h, engine: engine, settings: s, logger: logger}
}

// List returns the newest events first. ?limit= caps the count.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultEventListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events, err := h.history.List(r.Context(), limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]EventView, len(events))
	for i, e := range events {
		out[i] = eventView(e)
	}
	respondJSON(w, http.StatusOK, out)
}

// Clear removes the whole history.
func (h *EventsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.history.Clear(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// Undo removes an event and reverts the enrollment it caused.
func (h *EventsHandler) Undo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.history.Undo(r.Context(), id, h.settings.Get().MaxImagesPerPerson); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"undone": true})
}

type assignRequest struct {
	PersonID int64 `json:"person_id"`
}

// Assign enrolls the event's image into a person.
func (h *EventsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil || req.PersonID <= 0 {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	res, err := h.engine.AssignEvent(r.Context(), id, req.PersonID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"image": imageView(res.Image)})
}

// Image serves the stored query image of an event.
func (h *EventsHandler) Image(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, false)
}

// Thumb serves the event thumbnail.
func (h *EventsHandler) Thumb(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, true)
}

func (h *EventsHandler) serveFile(w http.ResponseWriter, r *http.Request, thumb bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	e, err := h.history.Get(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	ref := e.ImagePath
	if thumb {
		ref = e.ThumbPath
	}
	data, err := h.history.ReadFile(ref)
	if err != nil {
		respondErr(w, err)
		return
	}
	serveJPEG(w, data)
}
