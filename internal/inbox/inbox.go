// Package inbox watches a directory for face photos, recognizes each one
// and deletes it afterwards.
//
// A single fsnotify loop feeds a per-path debouncer. Files that stay quiet
// for the stabilize delay are claimed and queued for a fixed pool of
// workers, so a slow recognition never holds up detection.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kozaktomas/faceinbox/internal/constants"
	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/metrics"
	"github.com/kozaktomas/faceinbox/internal/mqtt"
	"github.com/kozaktomas/faceinbox/internal/recognition"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recognizer runs one image through the recognition pipeline.
type Recognizer interface {
	Recognize(ctx context.Context, req recognition.Request) (*recognition.Result, error)
}

// Publisher hands detections to the message bus without blocking.
type Publisher interface {
	Publish(d mqtt.Detection)
}

// Config controls the watcher.
type Config struct {
	Dir            string
	Workers        int
	QueueSize      int
	StabilizeDelay time.Duration
	MaxFileBytes   int64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = constants.DefaultInboxWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = constants.DefaultInboxQueueSize
	}
	if c.StabilizeDelay <= 0 {
		c.StabilizeDelay = constants.DefaultStabilizeDelay
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = constants.DefaultMaxFileBytes
	}
	return c
}

// Service is the inbox pipeline.
type Service struct {
	cfg        Config
	recognizer Recognizer
	publisher  Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger

	queue    chan string
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates the pipeline. Run starts it.
func New(cfg Config, r Recognizer, p Publisher, m *metrics.Metrics, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:        cfg,
		recognizer: r,
		publisher:  p,
		metrics:    m,
		logger:     logger.With(zap.String("component", "inbox")),
		queue:      make(chan string, cfg.QueueSize),
		inFlight:   make(map[string]struct{}),
	}
}

// Run watches the inbox until ctx is cancelled. Files already present are
// processed first. The watch handle and every worker are released before
// Run returns.
func (s *Service) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create inbox %s: %w", s.cfg.Dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.cfg.Dir, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	deb := newDebouncer(s.cfg.StabilizeDelay, func(path string) { s.claim(gctx, path) })
	defer deb.stop()

	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			s.work(gctx)
			return nil
		})
	}

	if err := s.sweep(deb); err != nil {
		s.logger.Error("initial inbox sweep failed", zap.Error(err))
	}

	g.Go(func() error {
		return s.watch(gctx, watcher, deb)
	})

	s.logger.Info("watching inbox",
		zap.String("dir", s.cfg.Dir),
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("stabilize_delay", s.cfg.StabilizeDelay))

	err = g.Wait()
	s.logger.Info("inbox watcher stopped")
	return err
}

// sweep schedules files that arrived while nothing was watching.
func (s *Service) sweep(deb *debouncer) error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || classify(e.Name()) == kindIgnore {
			continue
		}
		path := filepath.Join(s.cfg.Dir, e.Name())
		s.transition(path, StateDetected)
		deb.touch(path)
	}
	return nil
}

func (s *Service) watch(ctx context.Context, watcher *fsnotify.Watcher, deb *debouncer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			s.handleEvent(event, deb)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			s.logger.Error("inbox watcher error", zap.Error(err))
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event, deb *debouncer) {
	if classify(event.Name) == kindIgnore {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		deb.cancel(event.Name)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if deb.touch(event.Name) {
			s.logger.Debug("file changed while stabilizing, restarting timer", zap.String("path", event.Name))
			return
		}
		s.transition(event.Name, StateDetected)
		s.transition(event.Name, StateStabilizing)
	}
}

// claim queues a stable file unless it is already being processed.
func (s *Service) claim(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	if info.Size() == 0 {
		s.logger.Debug("ignoring empty file", zap.String("path", path))
		return
	}

	s.mu.Lock()
	if _, busy := s.inFlight[path]; busy {
		s.mu.Unlock()
		return
	}
	s.inFlight[path] = struct{}{}
	s.mu.Unlock()

	select {
	case s.queue <- path:
		s.metrics.SetInboxQueueLength(len(s.queue))
	case <-ctx.Done():
		s.release(path)
	}
}

func (s *Service) release(path string) {
	s.mu.Lock()
	delete(s.inFlight, path)
	s.mu.Unlock()
}

func (s *Service) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-s.queue:
			s.metrics.SetInboxQueueLength(len(s.queue))
			s.process(ctx, path)
		}
	}
}

// process runs one file from Processing to Cleaned.
func (s *Service) process(ctx context.Context, path string) {
	defer s.release(path)
	s.transition(path, StateProcessing)

	outcome, err := s.handle(ctx, path)
	if ctx.Err() != nil {
		// Shutting down mid-flow; the next start sweeps the file again.
		s.logger.Debug("inbox flow interrupted", zap.String("path", path))
		return
	}
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("inbox file vanished", zap.String("path", path))
		return
	}

	if err != nil {
		s.transition(path, StateRejected)
		s.logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
	} else {
		s.transition(path, StatePublished)
	}
	s.metrics.RecordInboxFile(outcome)

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Error("failed to delete inbox file", zap.String("path", path), zap.Error(err))
		return
	}
	s.transition(path, StateCleaned)
}

var errUnsupported = errors.New("unsupported image type")

// handle returns the outcome label and the rejection reason, if any.
func (s *Service) handle(ctx context.Context, path string) (string, error) {
	const rejected = "rejected"

	if classify(path) != kindProcess {
		return rejected, fmt.Errorf("%w: %s", errUnsupported, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return rejected, err
	}
	if info.Size() > s.cfg.MaxFileBytes {
		return rejected, fmt.Errorf("file too large: %d bytes", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rejected, err
	}

	res, err := s.recognizer.Recognize(ctx, recognition.Request{
		Image:     data,
		Source:    database.SourceInbox,
		AutoTrain: true,
		Record:    true,
	})
	if err != nil {
		return rejected, err
	}

	ts := res.Event.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	s.publisher.Publish(mqtt.Detection{
		Name:      res.Label(),
		Nickname:  res.Person.Nickname,
		Score:     res.Verdict.Score,
		Age:       res.Face.Age,
		Gender:    res.Face.Gender,
		Timestamp: ts,
	})
	return "published", nil
}

func (s *Service) transition(path string, st State) {
	s.logger.Debug("inbox file state", zap.String("path", path), zap.Stringer("state", st))
}
