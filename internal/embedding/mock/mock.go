// Package mock provides a scripted embedding provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/faceinbox/internal/embedding"
)

// Provider returns faces registered per image payload.
// Unregistered images yield no faces.
type Provider struct {
	tier embedding.Tier

	mu     sync.Mutex
	faces  map[string][]embedding.Face
	errs   map[string]error
	calls  int
	before func(image []byte)

	// DetectError is returned for every call when set.
	DetectError error
}

// NewProvider creates a mock provider for a tier.
func NewProvider(tier embedding.Tier) *Provider {
	return &Provider{
		tier:  tier,
		faces: make(map[string][]embedding.Face),
		errs:  make(map[string]error),
	}
}

// Tier returns the configured tier.
func (p *Provider) Tier() embedding.Tier {
	return p.tier
}

// SetFaces registers the faces returned for an image.
func (p *Provider) SetFaces(image []byte, faces ...embedding.Face) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faces[string(image)] = faces
}

// SetEmbedding registers a single face with the given embedding.
func (p *Provider) SetEmbedding(image []byte, vec []float32) {
	p.SetFaces(image, embedding.Face{
		BBox:      embedding.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1},
		Embedding: vec,
		DetScore:  0.99,
	})
}

// SetError makes Detect fail for an image.
func (p *Provider) SetError(image []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[string(image)] = err
}

// OnDetect installs a hook that runs at the start of every Detect call.
func (p *Provider) OnDetect(fn func(image []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = fn
}

// Calls returns the number of Detect invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Detect returns the registered faces for the image.
func (p *Provider) Detect(ctx context.Context, image []byte) ([]embedding.Face, error) {
	p.mu.Lock()
	p.calls++
	hook := p.before
	faces := p.faces[string(image)]
	err := p.errs[string(image)]
	if p.DetectError != nil {
		err = p.DetectError
	}
	p.mu.Unlock()

	if hook != nil {
		hook(image)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	out := make([]embedding.Face, len(faces))
	copy(out, faces)
	return out, nil
}
