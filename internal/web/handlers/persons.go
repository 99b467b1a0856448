package handlers

import (
	"net/http"

	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/recognition"
	"go.uber.org/zap"
)

// PersonsHandler manages persons and their gallery images.
type PersonsHandler struct {
	gallery *gallery.Service
	engine  *recognition.Engine
	logger  *zap.Logger
}

// NewPersonsHandler creates a new persons handler.
func NewPersonsHandler(g *gallery.Service, engine *recognition.Engine, logger *zap.Logger) *PersonsHandler {
	return &PersonsHandler{gallery: g, engine: engine, logger: logger}
}

type personRequest struct {
	Nickname string `json:"nickname"`
}

// List returns every person with the number of active images.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	persons, err := h.gallery.ListPersons(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]PersonView, len(persons))
	for i, p := range persons {
		out[i] = personView(p.Person)
		count := p.ImageCount
		out[i].ImageCount = &count
	}
	respondJSON(w, http.StatusOK, out)
}

// Create adds a person named after the nickname.
func (h *PersonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	p, err := h.gallery.CreatePerson(r.Context(), req.Nickname)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.logger.Info("person created", zap.Int64("person_id", p.ID), zap.String("name", p.Name),
		zap.String("nickname", sanitizeForLog(p.Nickname)))
	respondJSON(w, http.StatusCreated, personView(*p))
}

// Update changes the nickname. The slug stays.
func (h *PersonsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req personRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	p, err := h.gallery.RenamePerson(r.Context(), id, req.Nickname)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, personView(*p))
}

// Delete removes a person with all images.
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.gallery.DeletePerson(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ListImages returns a person's active images in insertion order.
func (h *PersonsHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	images, err := h.gallery.ListImages(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, imageViews(images))
}

// AddImage enrolls an uploaded single-face image.
func (h *PersonsHandler) AddImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, err := readUpload(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}
	res, err := h.engine.Enroll(r.Context(), id, data)
	if err != nil {
		respondErr(w, err)
		return
	}
	evicted := make([]int64, len(res.Evicted))
	for i, img := range res.Evicted {
		evicted[i] = img.ID
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"image":   imageView(res.Image),
		"evicted": evicted,
	})
}

// DeleteImage removes one image.
func (h *PersonsHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	imageID, ok := pathID(w, r, "imageId")
	if !ok {
		return
	}
	if err := h.gallery.DeleteImage(r.Context(), id, imageID); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// FaceFile serves the cropped face of an image.
func (h *PersonsHandler) FaceFile(w http.ResponseWriter, r *http.Request) {
	h.serveImageFile(w, r, true)
}

// OriginalFile serves the stored original of an image.
func (h *PersonsHandler) OriginalFile(w http.ResponseWriter, r *http.Request) {
	h.serveImageFile(w, r, false)
}

func (h *PersonsHandler) serveImageFile(w http.ResponseWriter, r *http.Request, face bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	imageID, ok := pathID(w, r, "imageId")
	if !ok {
		return
	}
	img, err := h.gallery.GetImage(r.Context(), id, imageID)
	if err != nil {
		respondErr(w, err)
		return
	}
	ref := img.OriginalPath
	if face {
		ref = img.FacePath
	}
	data, err := h.gallery.ReadFile(ref)
	if err != nil {
		respondErr(w, err)
		return
	}
	serveJPEG(w, data)
}
