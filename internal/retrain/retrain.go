// Package retrain recomputes every gallery embedding with a new model tier.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/metrics"
	"go.uber.org/zap"
)

// Providers resolves the embedding provider for a tier.
type Providers interface {
	Get(t embedding.Tier) (embedding.Provider, error)
}

// Gallery is the part of the gallery service a retrain touches.
type Gallery interface {
	Snapshot(ctx context.Context) (*gallery.Snapshot, error)
	HiddenImages(ctx context.Context) ([]database.FaceImage, error)
	ReadFile(ref string) ([]byte, error)
	ReplaceEmbedding(ctx context.Context, personID, imageID int64, vector []float32, tier embedding.Tier) error
}

// TierSetter switches the active tier once a run completes.
type TierSetter interface {
	SetTier(ctx context.Context, tier embedding.Tier) error
}

// Coordinator runs at most one retrain at a time and tracks its progress.
type Coordinator struct {
	providers Providers
	gallery   Gallery
	tiers     TierSetter
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	progress Progress
	cancel   context.CancelFunc
	done     chan struct{}

	events broadcaster
}

// New creates an idle coordinator.
func New(providers Providers, g Gallery, tiers TierSetter, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		providers: providers,
		gallery:   g,
		tiers:     tiers,
		metrics:   m,
		logger:    logger.With(zap.String("component", "retrain")),
		progress:  Progress{Status: StatusIdle},
	}
}

// Run retrains synchronously.
func (c *Coordinator) Run(ctx context.Context, tier embedding.Tier) (Result, error) {
	runID, ctx, err := c.begin(ctx, tier)
	if err != nil {
		return Result{}, err
	}
	return c.run(ctx, runID, tier)
}

// Start retrains in the background and returns the run id.
func (c *Coordinator) Start(tier embedding.Tier) (string, error) {
	runID, ctx, err := c.begin(context.Background(), tier)
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = c.run(ctx, runID, tier)
	}()
	return runID, nil
}

// begin claims the coordinator or fails with ErrAlreadyRunning.
func (c *Coordinator) begin(parent context.Context, tier embedding.Tier) (string, context.Context, error) {
	if _, err := c.providers.Get(tier); err != nil {
		return "", nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress.IsRunning {
		return "", nil, fmt.Errorf("%w: retrain %s in progress", faceerr.ErrAlreadyRunning, c.progress.RunID)
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	runID := uuid.NewString()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.progress = Progress{
		RunID:      runID,
		IsRunning:  true,
		Status:     StatusCounting,
		Tier:       tier.String(),
		StartedAt:  &now,
		LastResult: c.progress.LastResult,
	}
	return runID, ctx, nil
}

// Cancel stops the running retrain between images. It reports whether a
// run was in progress.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.progress.IsRunning || c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Wait blocks until the current run, if any, finishes.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Progress returns a snapshot of the current or last run.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Subscribe streams progress snapshots until the returned func is called.
func (c *Coordinator) Subscribe() (<-chan Progress, func()) {
	ch := c.events.add()
	return ch, func() { c.events.remove(ch) }
}

func (c *Coordinator) update(fn func(p *Progress)) {
	c.mu.Lock()
	fn(&c.progress)
	snapshot := c.progress
	c.mu.Unlock()
	c.events.send(snapshot)
}

type item struct {
	person database.Person
	image  database.FaceImage
}

// run walks every image, hidden ones included, in a stable order: persons by
// id, images by sequence. Single image failures are counted and skipped.
// Images enrolled with another tier while the run was going are picked up by
// rescans before and once after the tier switch.
func (c *Coordinator) run(ctx context.Context, runID string, tier embedding.Tier) (Result, error) {
	start := time.Now()
	res := Result{RunID: runID, Tier: tier.String()}

	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	defer close(done)
	defer cancel()

	fail := func(err error) (Result, error) {
		res.Duration = time.Since(start)
		c.update(func(p *Progress) {
			p.IsRunning = false
			p.Status = StatusFailed
			p.Error = err.Error()
			p.CurrentPerson = ""
			p.LastResult = &res
		})
		c.logger.Error("retrain failed", zap.String("run_id", runID), zap.Error(err))
		return res, err
	}

	provider, err := c.providers.Get(tier)
	if err != nil {
		return fail(err)
	}
	items, err := c.pending(ctx, tier, nil)
	if err != nil {
		return fail(err)
	}

	c.update(func(p *Progress) { p.Status = StatusTraining })
	c.logger.Info("retrain started", zap.String("run_id", runID), zap.String("tier", tier.String()),
		zap.Int("images", len(items)))

	attempted := make(map[int64]bool, len(items))
	c.retrainItems(ctx, provider, items, attempted, &res)

	// The caller's ctx may already be done once the last image is in.
	detached := context.WithoutCancel(ctx)
	for pass := 0; pass < constants.RetrainCatchUpPasses && !res.Cancelled; pass++ {
		stale, err := c.pending(detached, tier, attempted)
		if err != nil {
			return fail(err)
		}
		if len(stale) == 0 {
			break
		}
		c.logger.Info("retraining images enrolled during the run", zap.String("run_id", runID),
			zap.Int("images", len(stale)))
		c.retrainItems(ctx, provider, stale, attempted, &res)
	}

	if !res.Cancelled {
		if err := c.tiers.SetTier(detached, tier); err != nil {
			return fail(fmt.Errorf("switch tier: %w", err))
		}
		stale, err := c.pending(detached, tier, attempted)
		if err != nil {
			c.logger.Error("rescan after tier switch failed", zap.String("run_id", runID), zap.Error(err))
		} else {
			c.retrainItems(detached, provider, stale, attempted, &res)
		}
	}

	res.Duration = time.Since(start)
	status := StatusCompleted
	if res.Cancelled {
		status = StatusCancelled
	}
	c.update(func(p *Progress) {
		p.IsRunning = false
		p.Status = status
		p.CurrentPerson = ""
		p.LastResult = &res
	})
	c.logger.Info("retrain finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// retrainItems re-embeds items and marks them attempted. It stops between
// images once ctx is cancelled.
func (c *Coordinator) retrainItems(
	ctx context.Context, provider embedding.Provider, items []item, attempted map[int64]bool, res *Result,
) {
	if len(items) == 0 {
		return
	}
	res.Total += len(items)
	total := res.Total
	c.update(func(p *Progress) { p.Total = total })

	for _, it := range items {
		if ctx.Err() != nil {
			res.Cancelled = true
			return
		}
		c.update(func(p *Progress) { p.CurrentPerson = it.person.Name })

		attempted[it.image.ID] = true
		if err := c.retrainImage(ctx, provider, it); err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				return
			}
			res.Failed++
			c.metrics.RecordRetrainImage(false)
			c.logger.Warn("retrain skipped image",
				zap.Int64("image_id", it.image.ID),
				zap.String("person", it.person.Name),
				zap.Error(err))
		} else {
			res.Succeeded++
			c.metrics.RecordRetrainImage(true)
		}

		succeeded, failed := res.Succeeded, res.Failed
		c.update(func(p *Progress) {
			p.Current = succeeded + failed
			p.Succeeded = succeeded
			p.Failed = failed
		})
	}
}

// pending lists the images to retrain. With attempted nil every image is
// returned; otherwise only images of another tier not yet attempted.
func (c *Coordinator) pending(ctx context.Context, tier embedding.Tier, attempted map[int64]bool) ([]item, error) {
	snap, err := c.gallery.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	hidden, err := c.gallery.HiddenImages(ctx)
	if err != nil {
		return nil, err
	}
	items := collect(snap, hidden)
	if attempted == nil {
		return items, nil
	}
	stale := items[:0]
	for _, it := range items {
		if it.image.Tier != tier.String() && !attempted[it.image.ID] {
			stale = append(stale, it)
		}
	}
	return stale, nil
}

func collect(snap *gallery.Snapshot, hidden []database.FaceImage) []item {
	people := append([]database.PersonImages(nil), snap.People...)
	sort.Slice(people, func(i, j int) bool { return people[i].Person.ID < people[j].Person.ID })

	// An image evicted between the two reads shows up in both.
	seen := make(map[int64]bool)
	for _, p := range people {
		for _, img := range p.Images {
			seen[img.ID] = true
		}
	}
	byPerson := make(map[int64][]database.FaceImage)
	for _, img := range hidden {
		if !seen[img.ID] {
			byPerson[img.PersonID] = append(byPerson[img.PersonID], img)
		}
	}

	var items []item
	for _, p := range people {
		images := append(append([]database.FaceImage(nil), p.Images...), byPerson[p.Person.ID]...)
		sort.Slice(images, func(i, j int) bool { return images[i].Seq < images[j].Seq })
		for _, img := range images {
			items = append(items, item{person: p.Person, image: img})
		}
	}
	return items
}

// retrainImage embeds the stored original, falling back to the face crop
// when the original yields no single face.
func (c *Coordinator) retrainImage(ctx context.Context, provider embedding.Provider, it item) error {
	var face embedding.Face
	var errs []error
	for _, ref := range it.image.Files() {
		data, err := c.gallery.ReadFile(ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		face, err = embedding.DetectSingle(ctx, provider, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return c.gallery.ReplaceEmbedding(ctx, it.person.ID, it.image.ID, face.Embedding, provider.Tier())
	}
	return errors.Join(errs...)
}
