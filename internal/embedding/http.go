package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const defaultEmbeddingURL = "http://localhost:8000"

// HTTPProvider computes face embeddings using the embedding server.
type HTTPProvider struct {
	baseURL string
	tier    Tier
	client  *http.Client
}

// NewHTTPProvider creates a provider that asks the server for the given tier's model.
func NewHTTPProvider(baseURL string, tier Tier, timeout time.Duration) *HTTPProvider {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &HTTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tier:    tier,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewHTTPSet creates one HTTP provider per supported tier.
func NewHTTPSet(baseURL string, timeout time.Duration) *Set {
	providers := make([]Provider, 0, len(Tiers))
	for _, t := range Tiers {
		providers = append(providers, NewHTTPProvider(baseURL, t, timeout))
	}
	return NewSet(providers...)
}

// Tier returns the model preset this provider requests.
func (p *HTTPProvider) Tier() Tier {
	return p.tier
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Detect posts the image to /embed/face and returns every detected face.
func (p *HTTPProvider) Detect(ctx context.Context, imageData []byte) ([]Face, error) {
	endpoint := "/embed/face?model=" + url.QueryEscape(string(p.tier))
	body, err := p.postMultipartImage(ctx, endpoint, imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d: empty embedding returned", f.FaceIndex)
		}
		if f.Dim != 0 && f.Dim != len(f.Embedding) {
			return nil, fmt.Errorf("face %d: declared dim %d but got %d values", f.FaceIndex, f.Dim, len(f.Embedding))
		}
		faces = append(faces, Face{
			BBox:      BBoxFromSlice(f.BBox),
			Embedding: f.Embedding,
			DetScore:  f.DetScore,
			Age:       f.Age,
			Gender:    normalizeGender(f.Gender),
		})
	}
	return faces, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
// The part carries an explicit Content-Type header based on magic byte detection.
func (p *HTTPProvider) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}

func normalizeGender(g string) string {
	switch strings.ToUpper(strings.TrimSpace(g)) {
	case "M", "MALE", "1":
		return "M"
	case "F", "FEMALE", "0":
		return "F"
	default:
		return ""
	}
}
