// Package autotrain enrolls confidently recognized query images into the
// matched person's gallery.
package autotrain

import (
	"context"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/facematch"
	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"go.uber.org/zap"
)

// Skip reasons reported in Outcome.
const (
	ReasonDisabled  = "disabled"
	ReasonUnmatched = "unmatched"
	ReasonLowScore  = "below_enroll_threshold"
)

// Enroller adds an image to a person's gallery.
type Enroller interface {
	Enroll(ctx context.Context, req gallery.EnrollRequest) (*gallery.EnrollResult, error)
}

// Outcome describes what Consider did.
type Outcome struct {
	Enrolled bool
	Image    database.FaceImage   // set when Enrolled
	Evicted  []database.FaceImage // images hidden by the enrollment
	Skipped  string               // reason when not enrolled
}

// Trainer applies the enrollment policy.
type Trainer struct {
	enroller Enroller
	logger   *zap.Logger
}

// New creates a trainer.
func New(enroller Enroller, logger *zap.Logger) *Trainer {
	return &Trainer{enroller: enroller, logger: logger.With(zap.String("component", "autotrain"))}
}

// Eligible reports whether a verdict may be enrolled under s.
func Eligible(v facematch.Verdict, s settings.Settings) (bool, string) {
	switch {
	case !s.AutoTrain:
		return false, ReasonDisabled
	case !v.Matched:
		return false, ReasonUnmatched
	case v.Score <= s.EnrollThreshold:
		return false, ReasonLowScore
	}
	return true, ""
}

// Consider enrolls the query image into the matched person when the verdict
// clears the enrollment bar. Evictions are reversible so the recognition
// event that caused them can be undone.
func (t *Trainer) Consider(
	ctx context.Context, v facematch.Verdict, image []byte, face embedding.Face, tier embedding.Tier, s settings.Settings,
) (Outcome, error) {
	if ok, reason := Eligible(v, s); !ok {
		t.logger.Debug("enrollment skipped",
			zap.String("reason", reason),
			zap.Float64("score", v.Score))
		return Outcome{Skipped: reason}, nil
	}

	res, err := t.enroller.Enroll(ctx, gallery.EnrollRequest{
		PersonID:   v.PersonID,
		Image:      image,
		Face:       face,
		Tier:       tier,
		MaxImages:  s.MaxImagesPerPerson,
		Reversible: true,
		Kind:       gallery.KindAuto,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Enrolled: true, Image: res.Image, Evicted: res.Evicted}, nil
}
