package retrain

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/database/mock"
	"github.com/kozaktomas/faceinbox/internal/embedding"
	embmock "github.com/kozaktomas/faceinbox/internal/embedding/mock"
	"github.com/kozaktomas/faceinbox/internal/faceerr"
	"github.com/kozaktomas/faceinbox/internal/gallery"
	"github.com/kozaktomas/faceinbox/internal/imaging/imagingtest"
	"github.com/kozaktomas/faceinbox/internal/settings"
	"github.com/kozaktomas/faceinbox/internal/storage"
	"go.uber.org/zap"
)

type fixture struct {
	coord    *Coordinator
	gallery  *gallery.Service
	store    *mock.Store
	files    *storage.FileStore
	settings *settings.Manager
	next     *embmock.Provider
	// originals maps image id to the stored original bytes.
	originals map[int64][]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	store := mock.NewStore()
	logger := zap.NewNop()
	g := gallery.New(store, files, logger, nil)
	s := settings.NewManager(settings.Settings{
		Tier:               embedding.TierFast,
		Threshold:          0.4,
		EnrollThreshold:    0.6,
		TopK:               3,
		MaxImagesPerPerson: 10,
		AutoTrain:          true,
	}, store, logger)
	next := embmock.NewProvider(embedding.TierBalanced)
	current := embmock.NewProvider(embedding.TierFast)

	return &fixture{
		coord:     New(embedding.NewSet(current, next), g, s, nil, logger),
		gallery:   g,
		store:     store,
		files:     files,
		settings:  s,
		next:      next,
		originals: make(map[int64][]byte),
	}
}

// enroll adds n images for a new person with 2-dim embeddings and
// registers 3-dim embeddings for the new tier.
func (f *fixture) enroll(t *testing.T, name string, seed, n int) *database.Person {
	t.Helper()
	ctx := context.Background()
	p, err := f.gallery.CreatePerson(ctx, name)
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	for i := 0; i < n; i++ {
		img := imagingtest.JPEG(t, seed+i)
		res, err := f.gallery.Enroll(ctx, gallery.EnrollRequest{
			PersonID:  p.ID,
			Image:     img,
			Face:      embedding.Face{BBox: embedding.BBox{X2: 10, Y2: 10}, Embedding: []float32{1, 0}},
			Tier:      embedding.TierFast,
			MaxImages: 10,
			Kind:      gallery.KindManual,
		})
		if err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		f.originals[res.Image.ID] = img
		f.next.SetEmbedding(img, []float32{0, 0, float32(res.Image.ID)})
	}
	return p
}

// add enrolls one old-tier image for an existing person and registers its
// new-tier embedding.
func (f *fixture) add(t *testing.T, personID int64, seed, max int, reversible bool) *gallery.EnrollResult {
	t.Helper()
	img := imagingtest.JPEG(t, seed)
	f.next.SetEmbedding(img, []float32{0, 0, float32(seed)})
	res, err := f.gallery.Enroll(context.Background(), gallery.EnrollRequest{
		PersonID:   personID,
		Image:      img,
		Face:       embedding.Face{BBox: embedding.BBox{X2: 10, Y2: 10}, Embedding: []float32{1, 0}},
		Tier:       embedding.TierFast,
		MaxImages:  max,
		Reversible: reversible,
		Kind:       gallery.KindAuto,
	})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	return res
}

func (f *fixture) images(t *testing.T) []database.FaceImage {
	t.Helper()
	snap, err := f.gallery.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var out []database.FaceImage
	for _, p := range snap.People {
		out = append(out, p.Images...)
	}
	return out
}

func TestRun_ReplacesEveryEmbedding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "alice", 1, 3)
	f.enroll(t, "bob", 10, 2)
	before := f.images(t)

	updates, stop := f.coord.Subscribe()
	var seen []Progress
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range updates {
			seen = append(seen, p)
		}
	}()

	res, err := f.coord.Run(ctx, embedding.TierBalanced)
	stop()
	wg.Wait()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 5 || res.Succeeded != 5 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}

	after := f.images(t)
	if len(after) != len(before) {
		t.Fatalf("retrain must not evict, had %d now %d", len(before), len(after))
	}
	for i, img := range after {
		if img.ID != before[i].ID || img.Seq != before[i].Seq {
			t.Errorf("image order changed at %d", i)
		}
		if img.Tier != embedding.TierBalanced.String() || len(img.Embedding) != 3 || img.Embedding[2] != float32(img.ID) {
			t.Errorf("image %d not re-embedded: %+v", img.ID, img)
		}
	}
	if got := f.settings.Get().Tier; got != embedding.TierBalanced {
		t.Errorf("expected active tier buffalo_l, got %s", got)
	}

	last := 0
	var people []string
	for _, p := range seen {
		if p.Current < last {
			t.Errorf("progress went backwards: %d after %d", p.Current, last)
		}
		last = p.Current
		if p.CurrentPerson != "" && (len(people) == 0 || people[len(people)-1] != p.CurrentPerson) {
			people = append(people, p.CurrentPerson)
		}
	}
	if !slices.Equal(people, []string{"alice", "bob"}) {
		t.Errorf("expected persons in id order, got %v", people)
	}

	final := f.coord.Progress()
	if final.IsRunning || final.Status != StatusCompleted || final.Current != 5 || final.Total != 5 {
		t.Errorf("unexpected final progress %+v", final)
	}
	if final.LastResult == nil || final.LastResult.Succeeded != 5 {
		t.Errorf("expected last result, got %+v", final.LastResult)
	}
}

func TestRun_RetrainsImagesEnrolledDuringRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.enroll(t, "alice", 1, 2)

	var once sync.Once
	f.next.OnDetect(func([]byte) {
		once.Do(func() { f.add(t, alice.ID, 50, 10, true) })
	})

	res, err := f.coord.Run(ctx, embedding.TierBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 3 || res.Succeeded != 3 || res.Failed != 0 {
		t.Errorf("unexpected result %+v", res)
	}

	images := f.images(t)
	if len(images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(images))
	}
	for _, img := range images {
		if img.Tier != embedding.TierBalanced.String() || len(img.Embedding) != 3 {
			t.Errorf("image %d left on tier %s with %d dims", img.ID, img.Tier, len(img.Embedding))
		}
	}

	snap, err := f.gallery.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if stale := snap.Stale(embedding.TierBalanced); len(stale) != 0 {
		t.Errorf("expected no stale images, got %d", len(stale))
	}
	if p := f.coord.Progress(); p.Current != 3 || p.Total != 3 {
		t.Errorf("progress should count the late image, got %d/%d", p.Current, p.Total)
	}
}

func TestRun_CoversHiddenImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.gallery.CreatePerson(ctx, "alice")
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	a1 := f.add(t, p.ID, 1, 2, false)
	f.add(t, p.ID, 2, 2, false)
	a3 := f.add(t, p.ID, 3, 2, true)
	if len(a3.Evicted) != 1 || a3.Evicted[0].ID != a1.Image.ID {
		t.Fatalf("expected A1 hidden by A3, got %+v", a3.Evicted)
	}

	res, err := f.coord.Run(ctx, embedding.TierBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 3 || res.Succeeded != 3 {
		t.Errorf("hidden images must be retrained too, got %+v", res)
	}

	if err := f.gallery.UndoEnrollment(ctx, a3.Image.ID, 2); err != nil {
		t.Fatalf("UndoEnrollment: %v", err)
	}
	images := f.images(t)
	if len(images) != 2 || images[0].ID != a1.Image.ID {
		t.Fatalf("expected A1 restored, got %v", images)
	}
	for _, img := range images {
		if img.Tier != embedding.TierBalanced.String() || len(img.Embedding) != 3 {
			t.Errorf("undo restored image %d with tier %s", img.ID, img.Tier)
		}
	}
}

func TestRun_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "alice", 1, 3)
	imgs := f.images(t)
	broken := imgs[1]
	if err := f.files.Remove(broken.OriginalPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	res, err := f.coord.Run(ctx, embedding.TierBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 3 || res.Succeeded != 2 || res.Failed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	for _, img := range f.images(t) {
		want := embedding.TierBalanced.String()
		if img.ID == broken.ID {
			want = embedding.TierFast.String()
		}
		if img.Tier != want {
			t.Errorf("image %d has tier %s, want %s", img.ID, img.Tier, want)
		}
	}
	if f.settings.Get().Tier != embedding.TierBalanced {
		t.Error("a partial retrain still switches the tier")
	}
}

func TestRun_FallsBackToFaceCrop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "alice", 1, 1)
	img := f.images(t)[0]

	f.next.SetError(f.originals[img.ID], embedding.ErrMultipleFaces)
	crop, err := f.gallery.ReadFile(img.FacePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	f.next.SetEmbedding(crop, []float32{7, 7, 7})

	res, err := f.coord.Run(ctx, embedding.TierBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected crop fallback to succeed, got %+v", res)
	}
	if got := f.images(t)[0].Embedding; !slices.Equal(got, []float32{7, 7, 7}) {
		t.Errorf("expected crop embedding, got %v", got)
	}
}

func TestRun_EmptyGallery(t *testing.T) {
	f := newFixture(t)
	res, err := f.coord.Run(context.Background(), embedding.TierBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 0 || f.settings.Get().Tier != embedding.TierBalanced {
		t.Errorf("empty gallery should complete and switch tier, got %+v", res)
	}
}

func TestRun_UnknownTier(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Run(context.Background(), embedding.TierAccurate); err == nil {
		t.Error("expected error for a tier without provider")
	}
	if f.coord.Progress().IsRunning {
		t.Error("a rejected run must not hold the coordinator")
	}
}

func TestRun_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "alice", 1, 1)
	f.store.GetGalleryError = errors.New("db down")

	_, err := f.coord.Run(context.Background(), embedding.TierBalanced)
	if !errors.Is(err, faceerr.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	p := f.coord.Progress()
	if p.Status != StatusFailed || p.IsRunning || p.Error == "" {
		t.Errorf("unexpected progress %+v", p)
	}
	if f.settings.Get().Tier != embedding.TierFast {
		t.Error("failed run must not switch the tier")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "alice", 1, 2)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.next.OnDetect(func([]byte) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	runID, err := f.coord.Start(embedding.TierBalanced)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-entered

	if _, err := f.coord.Start(embedding.TierBalanced); !errors.Is(err, faceerr.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning from Start, got %v", err)
	}
	if _, err := f.coord.Run(context.Background(), embedding.TierBalanced); !errors.Is(err, faceerr.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning from Run, got %v", err)
	}
	p := f.coord.Progress()
	if !p.IsRunning || p.RunID != runID || p.Status != StatusTraining {
		t.Errorf("unexpected progress while running %+v", p)
	}

	close(release)
	f.coord.Wait()
	if p := f.coord.Progress(); p.Status != StatusCompleted || p.LastResult.RunID != runID {
		t.Errorf("unexpected final progress %+v", p)
	}

	// Idle again.
	if _, err := f.coord.Run(context.Background(), embedding.TierFast); err != nil {
		t.Errorf("expected a new run to start, got %v", err)
	}
}

func TestCancel_StopsBetweenImages(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "alice", 1, 4)

	var once sync.Once
	f.next.OnDetect(func([]byte) {
		once.Do(func() { f.coord.Cancel() })
	})

	if _, err := f.coord.Start(embedding.TierBalanced); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		f.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled run did not finish")
	}

	p := f.coord.Progress()
	if p.Status != StatusCancelled || p.IsRunning {
		t.Errorf("expected cancelled, got %+v", p)
	}
	if p.LastResult == nil || !p.LastResult.Cancelled || p.LastResult.Succeeded == 4 {
		t.Errorf("expected an incomplete cancelled result, got %+v", p.LastResult)
	}
	if f.settings.Get().Tier != embedding.TierFast {
		t.Error("a cancelled run must not switch the tier")
	}
	if f.coord.Cancel() {
		t.Error("nothing left to cancel")
	}
}
