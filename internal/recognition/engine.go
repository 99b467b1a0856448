// Package recognition runs one image through detection, matching,
// auto-training and the history log.
package recognition

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/faceinbox/internal/autotrain"
	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/facematch"
	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/history"
	"github.com/kozaktomas/faceinbox/internal/metrics"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"go.uber.org/zap"
)

// Providers resolves the embedding provider for a tier.
type Providers interface {
	Get(t embedding.Tier) (embedding.Provider, error)
}

// Engine wires the recognition core together.
type Engine struct {
	providers Providers
	gallery   *gallery.Service
	trainer   *autotrain.Trainer
	history   *history.Service
	settings  *settings.Manager
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates an engine.
func New(
	providers Providers,
	g *gallery.Service,
	trainer *autotrain.Trainer,
	h *history.Service,
	s *settings.Manager,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		providers: providers,
		gallery:   g,
		trainer:   trainer,
		history:   h,
		settings:  s,
		metrics:   m,
		logger:    logger.With(zap.String("component", "recognition")),
	}
}

// Request is one image to recognize.
type Request struct {
	Image     []byte
	Source    database.EventSource
	AutoTrain bool // allow enrollment when settings permit it
	Record    bool // write a history event
}

// Timing is the processing-time breakdown.
type Timing struct {
	Detect time.Duration
	Match  time.Duration
	Total  time.Duration
}

// Result is the outcome of a recognition.
type Result struct {
	Verdict  facematch.Verdict
	Person   database.Person // zero when unknown
	Face     embedding.Face
	Tier     embedding.Tier
	Training autotrain.Outcome
	Event    database.Event // ID is zero when not recorded
	Timing   Timing
}

// Label returns the matched person's slug or "unknown".
func (r *Result) Label() string {
	if r.Verdict.Matched {
		return r.Person.Name
	}
	return database.UnknownName
}

// Recognize detects exactly one face, matches it against a consistent
// gallery snapshot, optionally auto-trains, and records the event.
// Detection and matching failures are returned; training and recording
// failures are logged so the verdict can still be delivered.
func (e *Engine) Recognize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	s := e.settings.Get()

	provider, err := e.providers.Get(s.Tier)
	if err != nil {
		return nil, err
	}

	face, err := embedding.DetectSingle(ctx, provider, req.Image)
	if err != nil {
		return nil, fmt.Errorf("detect face: %w", err)
	}
	detected := time.Now()

	snap, err := e.gallery.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if stale := snap.Stale(provider.Tier()); len(stale) > 0 {
		e.logger.Warn("ignoring images embedded by another tier",
			zap.String("tier", provider.Tier().String()), zap.Int("images", len(stale)))
	}
	verdict, err := facematch.Match(face.Embedding, snap.Matchable(provider.Tier()), s.TopK, s.Threshold)
	if err != nil {
		return nil, fmt.Errorf("match face: %w", err)
	}
	matched := time.Now()

	res := &Result{Verdict: verdict, Face: face, Tier: provider.Tier()}
	if verdict.Matched {
		res.Person, _ = snap.Person(verdict.PersonID)
	}

	if req.AutoTrain {
		outcome, err := e.trainer.Consider(ctx, verdict, req.Image, face, provider.Tier(), s)
		if err != nil {
			e.logger.Error("auto-train failed", zap.Int64("person_id", verdict.PersonID), zap.Error(err))
		}
		res.Training = outcome
	}

	res.Timing = Timing{
		Detect: detected.Sub(start),
		Match:  matched.Sub(detected),
		Total:  time.Since(start),
	}
	res.Event = database.Event{
		Source:     req.Source,
		BBox:       face.BBox.Slice(),
		Matched:    verdict.Matched,
		PersonID:   verdict.PersonID,
		PersonName: res.Person.Name,
		Nickname:   res.Person.Nickname,
		Score:      verdict.Score,
		Age:        face.Age,
		Gender:     face.Gender,
		Tier:       provider.Tier().String(),
		DetectMS:   res.Timing.Detect.Milliseconds(),
		MatchMS:    res.Timing.Match.Milliseconds(),
		TotalMS:    res.Timing.Total.Milliseconds(),
	}
	if res.Training.Enrolled {
		res.Event.TrainedImageID = res.Training.Image.ID
	}

	if req.Record {
		if err := e.history.Record(ctx, &res.Event, req.Image); err != nil {
			e.logger.Error("failed to record recognition event", zap.Error(err))
			if res.Training.Enrolled {
				// Nothing can undo this enrollment any more.
				if err := e.gallery.PurgeEvictions(ctx, []int64{res.Training.Image.ID}); err != nil {
					e.logger.Error("failed to purge evictions", zap.Error(err))
				}
			}
		}
	}

	e.metrics.RecordRecognition(verdict.Matched, string(req.Source))
	e.metrics.ObserveStage("detect", res.Timing.Detect)
	e.metrics.ObserveStage("match", res.Timing.Match)
	e.metrics.ObserveStage("total", res.Timing.Total)

	e.logger.Info("face recognized",
		zap.String("source", string(req.Source)),
		zap.String("name", res.Label()),
		zap.Float64("score", verdict.Score),
		zap.Int("votes", verdict.Votes),
		zap.Bool("trained", res.Training.Enrolled),
		zap.Int64("event_id", res.Event.ID),
		zap.Int64("total_ms", res.Event.TotalMS))
	return res, nil
}

// Enroll detects the single face in image and adds it to the person's
// gallery. Evictions are permanent.
func (e *Engine) Enroll(ctx context.Context, personID int64, image []byte) (*gallery.EnrollResult, error) {
	s := e.settings.Get()
	provider, err := e.providers.Get(s.Tier)
	if err != nil {
		return nil, err
	}
	face, err := embedding.DetectSingle(ctx, provider, image)
	if err != nil {
		return nil, fmt.Errorf("detect face: %w", err)
	}
	return e.gallery.Enroll(ctx, gallery.EnrollRequest{
		PersonID:  personID,
		Image:     image,
		Face:      face,
		Tier:      provider.Tier(),
		MaxImages: s.MaxImagesPerPerson,
		Kind:      gallery.KindManual,
	})
}

// AssignEvent enrolls a recorded event's image into a person, correcting
// a wrong or unknown verdict.
func (e *Engine) AssignEvent(ctx context.Context, eventID, personID int64) (*gallery.EnrollResult, error) {
	ev, err := e.history.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	image, err := e.history.ReadFile(ev.ImagePath)
	if err != nil {
		return nil, err
	}
	res, err := e.Enroll(ctx, personID, image)
	if err != nil {
		return nil, err
	}
	e.logger.Info("event assigned", zap.Int64("event_id", eventID), zap.Int64("person_id", personID),
		zap.Int64("image_id", res.Image.ID))
	return res, nil
}
