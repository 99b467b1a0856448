package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/facematch"
	"github.com/kozaktomas/faceinbox/internal/mqtt"
	"github.com/kozaktomas/faceinbox/internal/recognition"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// fakeRecognizer matches images by their content: "alice" and "bob" are
// known, "noface" fails, anything else is unknown.
type fakeRecognizer struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
}

func (r *fakeRecognizer) Recognize(ctx context.Context, req recognition.Request) (*recognition.Result, error) {
	content := string(req.Image)
	r.mu.Lock()
	r.calls = append(r.calls, content)
	r.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !req.AutoTrain || !req.Record || req.Source != database.SourceInbox {
		return nil, errors.New("inbox must record and allow auto-train")
	}

	switch content {
	case "noface":
		return nil, embedding.ErrNoFace
	case "alice", "bob":
		return &recognition.Result{
			Verdict: facematch.Verdict{Matched: true, PersonID: 1, Score: 0.91},
			Person:  database.Person{ID: 1, Name: content, Nickname: "Nick " + content},
			Face:    embedding.Face{Age: 30, Gender: "F"},
			Event:   database.Event{ID: 1, CreatedAt: time.Now()},
		}, nil
	default:
		return &recognition.Result{Verdict: facematch.Verdict{Score: 0.1}}, nil
	}
}

func (r *fakeRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakePublisher struct {
	mu         sync.Mutex
	detections []mqtt.Detection
}

func (p *fakePublisher) Publish(d mqtt.Detection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detections = append(p.detections, d)
}

func (p *fakePublisher) published() []mqtt.Detection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mqtt.Detection(nil), p.detections...)
}

type harness struct {
	dir        string
	recognizer *fakeRecognizer
	publisher  *fakePublisher
	service    *Service
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		dir:        t.TempDir(),
		recognizer: &fakeRecognizer{},
		publisher:  &fakePublisher{},
	}
	cfg.Dir = h.dir
	if cfg.StabilizeDelay == 0 {
		cfg.StabilizeDelay = 30 * time.Millisecond
	}
	h.service = New(cfg, h.recognizer, h.publisher, nil, zap.NewNop())
	return h
}

// start runs the service and stops it at test cleanup.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.service.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	// Give the watcher time to register before files are written.
	time.Sleep(50 * time.Millisecond)
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want fileKind
	}{
		{"a.jpg", kindProcess},
		{"b.JPEG", kindProcess},
		{"c.Png", kindProcess},
		{"d.gif", kindReject},
		{"e.heic", kindReject},
		{"f.TIFF", kindReject},
		{"g.webp", kindReject},
		{"notes.txt", kindIgnore},
		{"noext", kindIgnore},
		{".hidden.jpg", kindIgnore},
		{"/inbox/sub/h.jpg", kindProcess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.name); got != tt.want {
				t.Errorf("classify(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDebouncer_RestartsOnTouch(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(60*time.Millisecond, func(string) { fired.Add(1) })
	defer d.stop()

	d.touch("a")
	time.Sleep(35 * time.Millisecond)
	if !d.touch("a") {
		t.Error("second touch should report a pending path")
	}
	time.Sleep(35 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("timer should have been restarted")
	}
	waitFor(t, "debounced callback", func() bool { return fired.Load() == 1 })
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("expected exactly one callback, got %d", fired.Load())
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	var fired atomic.Int32
	d := newDebouncer(20*time.Millisecond, func(string) { fired.Add(1) })

	d.touch("a")
	d.cancel("a")
	d.touch("b")
	d.stop()
	time.Sleep(50 * time.Millisecond)

	if fired.Load() != 0 {
		t.Errorf("cancelled and stopped timers must not fire, got %d", fired.Load())
	}
	if d.touch("c") || d.pending() != 0 {
		t.Error("a stopped debouncer must ignore touches")
	}
}

func TestService_ProcessesAndDeletes(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	path := h.write(t, "front-door.jpg", "alice")
	waitFor(t, "file cleaned", func() bool { return !exists(path) && len(h.publisher.published()) == 1 })

	d := h.publisher.published()[0]
	if d.Name != "alice" || d.Nickname != "Nick alice" || d.Score != 0.91 || d.Gender != "F" || d.Age != 30 {
		t.Errorf("unexpected detection %+v", d)
	}
	if h.recognizer.callCount() != 1 {
		t.Errorf("expected one recognition, got %d", h.recognizer.callCount())
	}
}

func TestService_UnknownIsPublished(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	path := h.write(t, "x.png", "stranger")
	waitFor(t, "file cleaned", func() bool { return !exists(path) && len(h.publisher.published()) == 1 })
	if got := h.publisher.published()[0].Name; got != database.UnknownName {
		t.Errorf("expected unknown, got %s", got)
	}
}

// Unsupported images are deleted without recognition.
func TestService_RejectsGIF(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	path := h.write(t, "anim.gif", "GIF89a")
	waitFor(t, "gif deleted", func() bool { return !exists(path) })
	if h.recognizer.callCount() != 0 {
		t.Error("gif must not reach the recognizer")
	}
	if len(h.publisher.published()) != 0 {
		t.Error("gif must not be published")
	}
}

func TestService_RejectsFailedRecognition(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	path := h.write(t, "empty-hall.jpg", "noface")
	waitFor(t, "file deleted", func() bool { return !exists(path) })
	if len(h.publisher.published()) != 0 {
		t.Error("rejected file must not be published")
	}

	// The watcher keeps going after a rejection.
	next := h.write(t, "next.jpg", "bob")
	waitFor(t, "next file", func() bool { return !exists(next) && len(h.publisher.published()) == 1 })
}

func TestService_RejectsLargeFiles(t *testing.T) {
	h := newHarness(t, Config{MaxFileBytes: 4})
	h.start(t)

	path := h.write(t, "big.jpg", "alice")
	waitFor(t, "file deleted", func() bool { return !exists(path) })
	if h.recognizer.callCount() != 0 {
		t.Error("oversized file must not be recognized")
	}
}

func TestService_IgnoresOtherFiles(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	txt := h.write(t, "readme.txt", "hello")
	if err := os.Mkdir(filepath.Join(h.dir, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}
	jpg := h.write(t, "a.jpg", "bob")
	waitFor(t, "jpg processed", func() bool { return !exists(jpg) })

	if !exists(txt) {
		t.Error("non-image files must be left alone")
	}
	if !exists(filepath.Join(h.dir, "sub.jpg")) {
		t.Error("directories must be left alone")
	}
}

func TestService_SweepsExistingFiles(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.write(t, "before-1.jpg", "alice")
	b := h.write(t, "before-2.jpg", "bob")
	h.start(t)

	waitFor(t, "existing files processed", func() bool {
		return !exists(a) && !exists(b) && len(h.publisher.published()) == 2
	})
}

// Simultaneous files are processed independently and once each.
func TestService_ConcurrentFiles(t *testing.T) {
	h := newHarness(t, Config{Workers: 3})
	h.recognizer.delay = 20 * time.Millisecond
	h.start(t)

	names := []string{"alice", "bob", "carol", "dave", "erin", "frank"}
	for _, n := range names {
		h.write(t, n+".jpg", n)
	}
	waitFor(t, "all files", func() bool { return len(h.publisher.published()) == len(names) })

	seen := make(map[string]int)
	h.recognizer.mu.Lock()
	for _, c := range h.recognizer.calls {
		seen[c]++
	}
	h.recognizer.mu.Unlock()
	for _, n := range names {
		if seen[n] != 1 {
			t.Errorf("%s recognized %d times", n, seen[n])
		}
	}
}

func TestService_ShutdownReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	rec := &fakeRecognizer{delay: time.Second}
	svc := New(Config{Dir: dir, StabilizeDelay: 10 * time.Millisecond, QueueSize: 1, Workers: 1},
		rec, &fakePublisher{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	// One file in a worker, one queued and one blocked on the full queue.
	for _, n := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(dir, n+".jpg"), []byte(n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "worker busy", func() bool { return rec.callCount() == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// An interrupted flow leaves its file for the next start.
	if !exists(filepath.Join(dir, "a.jpg")) {
		t.Error("interrupted file should stay in the inbox")
	}
}

func TestService_MissingDirIsCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "inbox")
	svc := New(Config{Dir: dir}, &fakeRecognizer{}, &fakePublisher{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !exists(dir) {
		t.Error("inbox dir should be created")
	}
}

func TestStateString(t *testing.T) {
	if StateStabilizing.String() != "stabilizing" || StateCleaned.String() != "cleaned" {
		t.Error("unexpected state names")
	}
	if State(42).String() != "unknown" {
		t.Error("out of range state should be unknown")
	}
}
