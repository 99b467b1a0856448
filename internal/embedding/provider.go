// Package embedding wraps the face detection and embedding capability.
//
// A Provider turns an image into detected faces, each with a bounding box
// and a fixed-length embedding. Providers come in three tiers that trade
// speed for accuracy; embeddings from different tiers are never compared.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/kozaktomas/faceinbox/internal/faceerr"
)

// Tier identifies one of the model presets served by the embedding server.
type Tier string

// Tier constants form the closed set of supported presets.
const (
	TierFast     Tier = "buffalo_s"
	TierBalanced Tier = "buffalo_l"
	TierAccurate Tier = "antelopev2"
)

// Tiers lists every supported tier from fastest to most accurate.
var Tiers = []Tier{TierFast, TierBalanced, TierAccurate}

var (
	// ErrNoFace is returned when an image contains no detectable face.
	ErrNoFace = fmt.Errorf("%w: no face detected", faceerr.ErrInvalidInput)
	// ErrMultipleFaces is returned when an image contains more than one face.
	ErrMultipleFaces = fmt.Errorf("%w: more than one face detected", faceerr.ErrInvalidInput)
	// ErrUnknownTier is returned for tier names outside the closed set.
	ErrUnknownTier = fmt.Errorf("%w: unknown model tier", faceerr.ErrInvalidInput)
)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

func (t Tier) String() string {
	return string(t)
}

// BBox is a face bounding box in source image pixels.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Rect rounds the box to an integer rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
}

// Slice returns the box as [x1, y1, x2, y2].
func (b BBox) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

// BBoxFromSlice converts [x1, y1, x2, y2]; anything else yields a zero box.
func BBoxFromSlice(s []float64) BBox {
	if len(s) != 4 {
		return BBox{}
	}
	return BBox{X1: s[0], Y1: s[1], X2: s[2], Y2: s[3]}
}

// Face is a single detected face.
type Face struct {
	BBox      BBox
	Embedding []float32
	DetScore  float64
	Age       int    // 0 when the model does not estimate age
	Gender    string // "M", "F" or empty
}

// Provider detects faces and computes their embeddings.
type Provider interface {
	// Tier reports which preset produced the embeddings.
	Tier() Tier
	// Detect returns every face found in the image.
	Detect(ctx context.Context, image []byte) ([]Face, error)
}

// DetectSingle runs the provider and requires exactly one face.
func DetectSingle(ctx context.Context, p Provider, image []byte) (Face, error) {
	faces, err := p.Detect(ctx, image)
	if err != nil {
		return Face{}, err
	}
	switch len(faces) {
	case 0:
		return Face{}, ErrNoFace
	case 1:
		if len(faces[0].Embedding) == 0 {
			return Face{}, errors.New("provider returned an empty embedding")
		}
		return faces[0], nil
	default:
		return Face{}, fmt.Errorf("%w (%d)", ErrMultipleFaces, len(faces))
	}
}

// Set holds one provider per tier.
type Set struct {
	providers map[Tier]Provider
}

// NewSet indexes providers by their tier. A later provider for the same tier wins.
func NewSet(providers ...Provider) *Set {
	s := &Set{providers: make(map[Tier]Provider, len(providers))}
	for _, p := range providers {
		s.providers[p.Tier()] = p
	}
	return s
}

// Get returns the provider for a tier.
func (s *Set) Get(t Tier) (Provider, error) {
	p, ok := s.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no provider", ErrUnknownTier, t)
	}
	return p, nil
}

// GetByName parses the tier name and returns its provider.
func (s *Set) GetByName(name string) (Provider, error) {
	t, err := ParseTier(name)
	if err != nil {
		return nil, err
	}
	return s.Get(t)
}
