package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecognizeHandler_Matched(t *testing.T) {
	f := newFixture(t)
	h := NewRecognizeHandler(f.engine)
	alice := f.person(t, "Alice", 1, []float32{1, 0, 0}, []float32{0.9, 0.1, 0})

	recorder := httptest.NewRecorder()
	h.Recognize(recorder, uploadRequest(t, "/api/v1/recognize", f.image(t, 20, []float32{1, 0.05, 0})))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp RecognizeResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Matched || resp.Name != "alice" || resp.Nickname != "Alice" {
		t.Errorf("expected alice, got %+v", resp)
	}
	if resp.Votes < 1 || resp.Score <= 0 || resp.Tier != "buffalo_s" {
		t.Errorf("unexpected verdict details %+v", resp)
	}
	if resp.Event == nil || resp.Event.Source != "manual" {
		t.Fatalf("expected a manual event, got %+v", resp.Event)
	}

	// Manual recognitions never train.
	images, _ := f.store.ListImages(context.Background(), alice.ID)
	if len(images) != 2 {
		t.Errorf("expected 2 images, got %d", len(images))
	}
}

func TestRecognizeHandler_DryRun(t *testing.T) {
	f := newFixture(t)
	h := NewRecognizeHandler(f.engine)
	f.person(t, "Alice", 1, []float32{1, 0, 0})

	recorder := httptest.NewRecorder()
	h.Recognize(recorder, uploadRequest(t, "/api/v1/recognize?dry_run=true", f.image(t, 20, []float32{0, 0, 1})))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp RecognizeResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Matched || resp.Name != "unknown" || resp.Nickname != "" {
		t.Errorf("expected unknown, got %+v", resp)
	}
	if resp.Event != nil {
		t.Errorf("dry run must not record, got %+v", resp.Event)
	}
	events, _ := f.history.List(context.Background(), 0)
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestRecognizeHandler_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T, f *fixture) *http.Request
		want int
	}{
		{"NoUpload", func(t *testing.T, f *fixture) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/v1/recognize", nil)
		}, http.StatusBadRequest},
		{"NoFace", func(t *testing.T, f *fixture) *http.Request {
			return uploadRequest(t, "/api/v1/recognize", f.image(t, 20, nil))
		}, http.StatusBadRequest},
		{"NotAnImage", func(t *testing.T, f *fixture) *http.Request {
			return uploadRequest(t, "/api/v1/recognize", []byte("plain text"))
		}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			h := NewRecognizeHandler(f.engine)
			recorder := httptest.NewRecorder()
			h.Recognize(recorder, tc.req(t, f))
			assertStatusCode(t, recorder, tc.want)
		})
	}
}
