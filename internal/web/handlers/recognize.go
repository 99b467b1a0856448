package handlers

import (
	"net/http"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/recognition"
)

// RecognizeHandler runs manual test recognitions.
type RecognizeHandler struct {
	engine *recognition.Engine
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(engine *recognition.Engine) *RecognizeHandler {
	return &RecognizeHandler{engine: engine}
}

// RecognizeResponse is the outcome of a manual recognition.
type RecognizeResponse struct {
	Matched  bool       `json:"matched"`
	Name     string     `json:"name"`
	Nickname string     `json:"nickname"`
	Score    float64    `json:"score"`
	Votes    int        `json:"votes"`
	Age      int        `json:"age,omitempty"`
	Gender   string     `json:"gender,omitempty"`
	BBox     []float64  `json:"bbox"`
	Tier     string     `json:"tier"`
	Timing   TimingView `json:"timing"`
	Event    *EventView `json:"event,omitempty"`
}

// Recognize matches an uploaded image. The event is recorded with source
// manual unless ?dry_run=true; manual recognitions never train or publish.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}
	dryRun := r.URL.Query().Get("dry_run") == "true"

	res, err := h.engine.Recognize(r.Context(), recognition.Request{
		Image:  data,
		Source: database.SourceManual,
		Record: !dryRun,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := RecognizeResponse{
		Matched: res.Verdict.Matched,
		Name:    res.Label(),
		Score:   res.Verdict.Score,
		Votes:   res.Verdict.Votes,
		Age:     res.Face.Age,
		Gender:  res.Face.Gender,
		BBox:    res.Face.BBox.Slice(),
		Tier:    res.Tier.String(),
		Timing: TimingView{
			DetectMS: res.Timing.Detect.Milliseconds(),
			MatchMS:  res.Timing.Match.Milliseconds(),
			TotalMS:  res.Timing.Total.Milliseconds(),
		},
	}
	if res.Verdict.Matched {
		resp.Nickname = res.Person.DisplayName()
	}
	if res.Event.ID != 0 {
		ev := eventView(res.Event)
		resp.Event = &ev
	}
	respondJSON(w, http.StatusOK, resp)
}
