package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/faceinbox/internal/autotrain"
	"github.com/kozaktomas/faceinbox/internal/config"
	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/database/mock"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	embmock "github.com/kozaktomas/faceinbox/internal/embedding/mock"
	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/history"
	"github.com/kozaktomas/faceinbox/internal/imaging/imagingtest"
	"github.com/kozaktomas/faceinbox/internal/recognition"
	"github.com/kozaktomas/faceinbox/internal/retrain"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"github.com/kozaktomas/faceinbox/internal/storage"
	"go.uber.org/zap"
)

// fixture wires the services behind the handlers on the in-memory store.
type fixture struct {
	store    *mock.Store
	fast     *embmock.Provider
	balanced *embmock.Provider
	gallery  *gallery.Service
	history  *history.Service
	engine   *recognition.Engine
	settings *settings.Manager
	retrain  *retrain.Coordinator
	tiers    config.TiersConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	store := mock.NewStore()
	logger := zap.NewNop()
	fast := embmock.NewProvider(embedding.TierFast)
	balanced := embmock.NewProvider(embedding.TierBalanced)
	providers := embedding.NewSet(fast, balanced)

	g := gallery.New(store, files, logger, nil)
	h := history.New(store, g, files, 30, logger)
	s := settings.NewManager(settings.Settings{
		Tier:               embedding.TierFast,
		Threshold:          0.4,
		EnrollThreshold:    0.6,
		TopK:               3,
		MaxImagesPerPerson: 3,
		AutoTrain:          true,
	}, store, logger)

	return &fixture{
		store:    store,
		fast:     fast,
		balanced: balanced,
		gallery:  g,
		history:  h,
		engine:   recognition.New(providers, g, autotrain.New(g, logger), h, s, nil, logger),
		settings: s,
		retrain:  retrain.New(providers, g, s, nil, logger),
		tiers:    config.Load().Tiers,
	}
}

// person creates a person with one enrolled image per vector.
func (f *fixture) person(t *testing.T, nickname string, seed int, vectors ...[]float32) *database.Person {
	t.Helper()
	ctx := context.Background()
	p, err := f.gallery.CreatePerson(ctx, nickname)
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	for i, v := range vectors {
		img := f.image(t, seed+i, v)
		if _, err := f.engine.Enroll(ctx, p.ID, img); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
	}
	return p
}

// image returns a JPEG the fast provider embeds as v. A nil v means no face.
func (f *fixture) image(t *testing.T, seed int, v []float32) []byte {
	t.Helper()
	img := imagingtest.JPEG(t, seed)
	if v != nil {
		f.fast.SetEmbedding(img, v)
	}
	return img
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// uploadRequest builds a multipart request carrying data as the image field.
func uploadRequest(t *testing.T, path string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "face.jpg")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
